package slot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	kotoriErrors "github.com/harunnryd/kotori/internal/errors"
	"github.com/harunnryd/kotori/internal/intent"
	"github.com/harunnryd/kotori/internal/model"
	"github.com/harunnryd/kotori/internal/model/contract"
)

// FuzzyValue is one model-extracted slot value with the model's self-reported
// confidence.
type FuzzyValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// FuzzyExtractor is the optional model-backed extraction layer. When it is
// absent or fails, slots simply stay missing and the validator asks the user.
type FuzzyExtractor interface {
	ExtractSlots(ctx context.Context, it intent.Intent, text string, slots []string) (map[string]FuzzyValue, error)
}

const fuzzySystemPrompt = `You extract action parameters from user messages.
Respond with a single JSON object mapping each requested parameter name to
{"value": string, "confidence": number between 0 and 1}. Omit parameters the
message does not specify. No prose, no code fences.`

// ModelFuzzyExtractor implements FuzzyExtractor over the model router.
type ModelFuzzyExtractor struct {
	router model.ModelRouter
	model  string
}

func NewModelFuzzyExtractor(router model.ModelRouter, modelName string) *ModelFuzzyExtractor {
	return &ModelFuzzyExtractor{router: router, model: modelName}
}

func (f *ModelFuzzyExtractor) ExtractSlots(ctx context.Context, it intent.Intent, text string, slots []string) (map[string]FuzzyValue, error) {
	if f.router == nil {
		return nil, kotoriErrors.Unavailable("no model router configured")
	}

	prompt := fmt.Sprintf("Intent: %s (%s)\nParameters to extract: %s\nMessage: %q",
		it.Name, it.Description, strings.Join(slots, ", "), text)

	resp, err := f.router.Route(ctx, f.model, contract.CompletionRequest{
		Model:     f.model,
		System:    fuzzySystemPrompt,
		Messages:  []contract.Message{{Role: "user", Content: prompt}},
		MaxTokens: 512,
	})
	if err != nil {
		return nil, kotoriErrors.Wrap(err, "fuzzy extraction request failed")
	}

	values, err := parseFuzzyResponse(resp.Content)
	if err != nil {
		return nil, err
	}

	// Keep only the slots we asked about.
	requested := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		requested[s] = struct{}{}
	}
	for name := range values {
		if _, ok := requested[name]; !ok {
			delete(values, name)
		}
	}

	return values, nil
}

// parseFuzzyResponse decodes the model's JSON object, tolerating code fences
// around it. Anything else is invalid model output.
func parseFuzzyResponse(content string) (map[string]FuzzyValue, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var values map[string]FuzzyValue
	if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
		return nil, kotoriErrors.InvalidModelOutput(fmt.Sprintf("malformed extraction response: %v", err))
	}

	for name, fv := range values {
		if fv.Confidence < 0 || fv.Confidence > 1 {
			return nil, kotoriErrors.InvalidModelOutput(fmt.Sprintf("confidence out of range for %q", name))
		}
	}

	return values, nil
}
