// Package topic maintains the per-session stack of recently mentioned entities
// and resolves anaphoric references ("it", "that email", a bare name) against
// it. The stack is bounded and recency-ordered: index 0 is the most recent
// mention.
package topic

import (
	"time"

	"github.com/harunnryd/kotori/internal/dialog"
)

// Push inserts entry at the front of the stack. Re-mentioning an entity already
// on the stack moves it to the front instead of duplicating it. When the stack
// exceeds max, the oldest entries fall off and are returned as evicted.
func Push(stack []dialog.TopicEntry, entry dialog.TopicEntry, max int) (kept, evicted []dialog.TopicEntry) {
	if entry.InsertedAt.IsZero() {
		entry.InsertedAt = time.Now().UTC()
	}

	next := make([]dialog.TopicEntry, 0, len(stack)+1)
	next = append(next, entry)
	for _, existing := range stack {
		if existing.EntityID == entry.EntityID {
			continue
		}
		next = append(next, existing)
	}

	if max > 0 && len(next) > max {
		evicted = next[max:]
		next = next[:max]
	}
	return next, evicted
}

// PruneAged drops entries older than maxAge relative to now. A zero maxAge
// disables age pruning.
func PruneAged(stack []dialog.TopicEntry, now time.Time, maxAge time.Duration) (kept, evicted []dialog.TopicEntry) {
	if maxAge <= 0 {
		return stack, nil
	}
	cutoff := now.Add(-maxAge)
	for _, entry := range stack {
		if entry.InsertedAt.Before(cutoff) {
			evicted = append(evicted, entry)
			continue
		}
		kept = append(kept, entry)
	}
	return kept, evicted
}
