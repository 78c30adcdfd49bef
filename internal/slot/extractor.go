package slot

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/kotori/internal/dialog"
	"github.com/harunnryd/kotori/internal/intent"
	"github.com/harunnryd/kotori/internal/topic"
)

// ordinalReference matches positional references like "#2" into the topic
// stack (1-based, most recent first).
var ordinalReference = regexp.MustCompile(`^#(\d+)$`)

// Extractor fills an intent's required slots from user text. Extraction is a
// pure function of (intent, text, captures, stack) except for the optional
// fuzzy pass, which is itself deterministic per model response.
type Extractor struct {
	rules              []Rule
	fuzzy              FuzzyExtractor
	ruleConfidence     float64
	fragmentConfidence float64
	fuzzyTimeout       time.Duration
}

type Option func(*Extractor)

func WithRules(rules []Rule) Option {
	return func(e *Extractor) { e.rules = rules }
}

func WithFuzzy(f FuzzyExtractor, timeout time.Duration) Option {
	return func(e *Extractor) {
		e.fuzzy = f
		e.fuzzyTimeout = timeout
	}
}

func NewExtractor(ruleConfidence, fragmentConfidence float64, opts ...Option) *Extractor {
	e := &Extractor{
		rules:              defaultRules,
		ruleConfidence:     ruleConfidence,
		fragmentConfidence: fragmentConfidence,
		fuzzyTimeout:       3 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract fills the intent's required slots from text. Captures from the classifier
// seed the result; deterministic rules fill the rest; values that look like
// references resolve against the topic stack. Slots still missing afterwards
// go to the fuzzy pass when one is configured. Missing slots are absent from
// the result, never present with an empty value.
func (e *Extractor) Extract(ctx context.Context, it intent.Intent, text string, captures map[string]string, stack []dialog.TopicEntry) map[string]dialog.Slot {
	normalized := intent.Normalize(text)
	slots := make(map[string]dialog.Slot, len(it.RequiredSlots))

	for _, name := range it.RequiredSlots {
		if v, ok := captures[name]; ok && v != "" {
			slots[name] = e.finalize(name, v, stack)
			continue
		}
		if v := applyRules(e.rules, name, normalized); v != "" {
			slots[name] = e.finalize(name, v, stack)
		}
	}

	missing := missingSlots(it, slots)
	if len(missing) > 0 && e.fuzzy != nil {
		e.fuzzyFill(ctx, it, text, missing, stack, slots)
	}

	return slots
}

// ExtractFragment handles a clarification reply: extraction scoped to the
// slots still missing. A reply that matches no rule is accepted verbatim as
// the value when exactly one slot is missing, at reduced confidence.
func (e *Extractor) ExtractFragment(ctx context.Context, it intent.Intent, text string, missing []string, stack []dialog.TopicEntry) map[string]dialog.Slot {
	normalized := intent.Normalize(text)
	slots := make(map[string]dialog.Slot, len(missing))

	for _, name := range missing {
		if v := applyRules(e.rules, name, normalized); v != "" {
			slots[name] = e.finalize(name, v, stack)
		}
	}

	if len(slots) == 0 && len(missing) == 1 && normalized != "" {
		name := missing[0]
		resolved := e.finalize(name, normalized, stack)
		if resolved.Source != dialog.SourceResolvedReference {
			resolved.Confidence = e.fragmentConfidence
		}
		slots[name] = resolved
		return slots
	}

	stillMissing := make([]string, 0, len(missing))
	for _, name := range missing {
		if _, ok := slots[name]; !ok {
			stillMissing = append(stillMissing, name)
		}
	}
	if len(stillMissing) > 0 && e.fuzzy != nil {
		e.fuzzyFill(ctx, it, text, stillMissing, stack, slots)
	}

	return slots
}

// finalize routes reference-shaped values through the topic stack. A resolved
// reference carries the entity ID and full confidence; anything else stays a
// deterministic text value.
func (e *Extractor) finalize(name, value string, stack []dialog.TopicEntry) dialog.Slot {
	if m := ordinalReference.FindStringSubmatch(strings.TrimSpace(value)); m != nil {
		if idx, err := strconv.Atoi(m[1]); err == nil && idx >= 1 && idx <= len(stack) {
			entry := stack[idx-1]
			return dialog.Slot{Name: name, Value: entry.EntityID, Source: dialog.SourceResolvedReference, Confidence: 1.0}
		}
	}

	if entry := topic.Resolve(stack, value); entry != nil {
		return dialog.Slot{Name: name, Value: entry.EntityID, Source: dialog.SourceResolvedReference, Confidence: 1.0}
	}

	return dialog.Slot{Name: name, Value: value, Source: dialog.SourceDeterministic, Confidence: e.ruleConfidence}
}

func (e *Extractor) fuzzyFill(ctx context.Context, it intent.Intent, text string, missing []string, stack []dialog.TopicEntry, slots map[string]dialog.Slot) {
	fuzzyCtx, cancel := context.WithTimeout(ctx, e.fuzzyTimeout)
	defer cancel()

	values, err := e.fuzzy.ExtractSlots(fuzzyCtx, it, text, missing)
	if err != nil {
		slog.Warn("Fuzzy extraction unavailable, leaving slots unresolved", "intent", it.Name, "missing", missing, "error", err)
		return
	}

	for _, name := range missing {
		fv, ok := values[name]
		if !ok || strings.TrimSpace(fv.Value) == "" {
			continue
		}
		if entry := topic.Resolve(stack, fv.Value); entry != nil {
			slots[name] = dialog.Slot{Name: name, Value: entry.EntityID, Source: dialog.SourceResolvedReference, Confidence: 1.0}
			continue
		}
		slots[name] = dialog.Slot{Name: name, Value: strings.TrimSpace(fv.Value), Source: dialog.SourceFuzzy, Confidence: fv.Confidence}
	}
}

// missingSlots lists required slots absent from slots, in catalog order.
func missingSlots(it intent.Intent, slots map[string]dialog.Slot) []string {
	var missing []string
	for _, name := range it.RequiredSlots {
		if _, ok := slots[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Missing is the exported form used by the validator.
func Missing(it intent.Intent, slots map[string]dialog.Slot) []string {
	return missingSlots(it, slots)
}
