package topic

import (
	"strings"

	"github.com/harunnryd/kotori/internal/dialog"
)

// pronouns resolve to the most recent entry regardless of kind.
var pronouns = map[string]struct{}{
	"it": {}, "that": {}, "this": {}, "them": {},
	"him": {}, "her": {}, "the last one": {}, "the same": {},
}

// kindAliases map surface nouns in kind-qualified references ("that email",
// "the document") to entity kinds.
var kindAliases = map[string]dialog.EntityKind{
	"email":    dialog.KindEmail,
	"mail":     dialog.KindEmail,
	"thread":   dialog.KindEmail,
	"message":  dialog.KindEmail,
	"contact":  dialog.KindContact,
	"person":   dialog.KindContact,
	"document": dialog.KindDocument,
	"doc":      dialog.KindDocument,
	"file":     dialog.KindDocument,
	"task":     dialog.KindTask,
	"todo":     dialog.KindTask,
	"item":     dialog.KindTask,
}

// Resolve maps a mention to a stack entry, or nil when the reference cannot be
// grounded. Resolution order: exact label match in recency order, bare pronoun
// to the most recent entry, kind-qualified phrase to the most recent entry of
// that kind, then partial label match in recency order. An entry whose label
// collides with a pronoun or kind noun wins by the exact match.
func Resolve(stack []dialog.TopicEntry, mention string) *dialog.TopicEntry {
	mention = strings.ToLower(strings.TrimSpace(mention))
	if mention == "" || len(stack) == 0 {
		return nil
	}

	for _, entry := range stack {
		if strings.ToLower(entry.Label) == mention {
			e := entry
			return &e
		}
	}

	if _, ok := pronouns[mention]; ok {
		entry := stack[0]
		return &entry
	}

	if kind, ok := qualifiedKind(mention); ok {
		for _, entry := range stack {
			if entry.Kind == kind {
				e := entry
				return &e
			}
		}
		return nil
	}

	for _, entry := range stack {
		label := strings.ToLower(entry.Label)
		if strings.Contains(label, mention) || strings.Contains(mention, label) {
			e := entry
			return &e
		}
	}

	return nil
}

// qualifiedKind recognizes phrases like "that email" or "the document" whose
// final word names an entity kind.
func qualifiedKind(mention string) (dialog.EntityKind, bool) {
	fields := strings.Fields(mention)
	if len(fields) == 0 {
		return "", false
	}
	last := fields[0]
	if len(fields) > 1 {
		switch fields[0] {
		case "that", "this", "the", "my", "last":
		default:
			return "", false
		}
		last = fields[len(fields)-1]
	}
	kind, ok := kindAliases[last]
	return kind, ok
}
