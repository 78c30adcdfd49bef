package orchestrator

import (
	"fmt"
	"strings"

	"github.com/harunnryd/kotori/internal/intent"
)

// Reply vocabularies for the awaiting states. Matching is done on normalized
// text, whole message only, so "no rush, send it" is not a denial.
var (
	affirmations = map[string]struct{}{
		"yes": {}, "y": {}, "yep": {}, "yeah": {}, "confirm": {}, "do it": {},
		"go": {}, "go ahead": {}, "ok": {}, "okay": {}, "sure": {},
	}
	denials = map[string]struct{}{
		"no": {}, "n": {}, "nope": {}, "don't": {}, "dont": {}, "stop": {},
	}
	cancellations = map[string]struct{}{
		"cancel": {}, "stop": {}, "abort": {}, "never mind": {}, "nevermind": {}, "forget it": {},
	}
)

func isAffirmation(text string) bool {
	_, ok := affirmations[intent.Normalize(text)]
	return ok
}

func isDenial(text string) bool {
	_, ok := denials[intent.Normalize(text)]
	return ok
}

func isCancellation(text string) bool {
	_, ok := cancellations[intent.Normalize(text)]
	return ok
}

// clarificationPrompt phrases the question for missing slots.
func clarificationPrompt(intentName string, missing []string) string {
	if len(missing) == 1 {
		return fmt.Sprintf("What should I use for %s?", missing[0])
	}
	return fmt.Sprintf("I still need %s for %s.", strings.Join(missing, " and "), intentName)
}

// confirmationPrompt phrases the yes/no gate.
func confirmationPrompt(intentName, reason string) string {
	return fmt.Sprintf("%s. Should I go ahead with %s? (yes/no)", reason, intentName)
}
