// Package slot fills action parameters from user text. Extraction is layered:
// deterministic regex rules run first, anaphoric values resolve against the
// topic stack, and a model-backed fuzzy pass covers whatever the rules missed.
package slot

import (
	"regexp"
	"strings"
)

// Rule binds one slot name to a pattern. Group 1 carries the value. Rules for
// the same slot are tried in order; the first hit wins.
type Rule struct {
	Slot    string
	Pattern *regexp.Regexp
}

// stopwords are never accepted as a slot value on their own.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "my": {}, "me": {}, "our": {}, "your": {},
}

// defaultRules cover the built-in intents. Patterns run against normalized
// (lowercased, whitespace-collapsed) text.
var defaultRules = []Rule{
	{Slot: "recipient", Pattern: regexp.MustCompile(`"([^"]+)"`)},
	{Slot: "recipient", Pattern: regexp.MustCompile(`\bto ([a-z][\w'.-]*(?: [a-z][\w'.-]*)?)\b`)},
	{Slot: "recipient", Pattern: regexp.MustCompile(`\b(?:email|mail|message) ([a-z][\w'.-]*)\b`)},
	{Slot: "task", Pattern: regexp.MustCompile(`\badd (.+?) to\b`)},
	{Slot: "task", Pattern: regexp.MustCompile(`\b(?:remind me to|remember to|task:?) (.+?)(?: (?:at|on|in) .+)?$`)},
	{Slot: "when", Pattern: regexp.MustCompile(`\b(?:at|on|in) ([\w: ]+?)$`)},
	{Slot: "subject", Pattern: regexp.MustCompile(`\babout (.+)$`)},
	{Slot: "subject", Pattern: regexp.MustCompile(`\b(?:the|this|that) (.+?) (?:thread|email|doc|document)\b`)},
	{Slot: "query", Pattern: regexp.MustCompile(`\b(?:who is|look up|find|search for) (.+)$`)},
}

// applyRules runs the rule set for one slot against text and returns the first
// acceptable value, or "".
func applyRules(rules []Rule, slotName, text string) string {
	for _, rule := range rules {
		if rule.Slot != slotName {
			continue
		}
		m := rule.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[1])
		if value == "" {
			continue
		}
		if _, stop := stopwords[value]; stop {
			continue
		}
		return value
	}
	return ""
}
