package topic

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/kotori/internal/dialog"
)

func entry(id, label string, kind dialog.EntityKind) dialog.TopicEntry {
	return dialog.TopicEntry{EntityID: id, Kind: kind, Label: label, InsertedAt: time.Now().UTC()}
}

func TestPush_BoundedEviction(t *testing.T) {
	var stack []dialog.TopicEntry
	var evicted []dialog.TopicEntry

	for i := 0; i < 5; i++ {
		var out []dialog.TopicEntry
		stack, out = Push(stack, entry(fmt.Sprintf("e%d", i), fmt.Sprintf("label %d", i), dialog.KindEmail), 3)
		evicted = append(evicted, out...)
	}

	require.Len(t, stack, 3)
	assert.Equal(t, "e4", stack[0].EntityID)
	assert.Equal(t, "e2", stack[2].EntityID)

	require.Len(t, evicted, 2)
	assert.Equal(t, "e0", evicted[0].EntityID)
	assert.Equal(t, "e1", evicted[1].EntityID)
}

func TestPush_MoveToFrontOnRemention(t *testing.T) {
	var stack []dialog.TopicEntry
	stack, _ = Push(stack, entry("a", "q4 report", dialog.KindEmail), 8)
	stack, _ = Push(stack, entry("b", "jason", dialog.KindContact), 8)
	stack, evicted := Push(stack, entry("a", "q4 report", dialog.KindEmail), 8)

	require.Len(t, stack, 2)
	assert.Empty(t, evicted)
	assert.Equal(t, "a", stack[0].EntityID)
	assert.Equal(t, "b", stack[1].EntityID)
}

func TestPruneAged(t *testing.T) {
	now := time.Now().UTC()
	stack := []dialog.TopicEntry{
		{EntityID: "fresh", InsertedAt: now.Add(-time.Minute)},
		{EntityID: "stale", InsertedAt: now.Add(-2 * time.Hour)},
	}

	kept, evicted := PruneAged(stack, now, time.Hour)
	require.Len(t, kept, 1)
	assert.Equal(t, "fresh", kept[0].EntityID)
	require.Len(t, evicted, 1)
	assert.Equal(t, "stale", evicted[0].EntityID)

	kept, evicted = PruneAged(stack, now, 0)
	assert.Len(t, kept, 2)
	assert.Empty(t, evicted)
}

func TestResolve(t *testing.T) {
	// Most recent first: the email was mentioned after the contact.
	stack := []dialog.TopicEntry{
		entry("A", "Q4 Report", dialog.KindEmail),
		entry("B", "Jason", dialog.KindContact),
	}

	cases := []struct {
		mention string
		wantID  string
	}{
		{"it", "A"},
		{"that", "A"},
		{"Jason", "B"},
		{"jason", "B"},
		{"q4 report", "A"},
		{"q4", "A"},
		{"that email", "A"},
		{"that contact", "B"},
		{"the person", "B"},
	}
	for _, tc := range cases {
		t.Run(tc.mention, func(t *testing.T) {
			got := Resolve(stack, tc.mention)
			require.NotNil(t, got, "mention %q did not resolve", tc.mention)
			assert.Equal(t, tc.wantID, got.EntityID)
		})
	}
}

func TestResolve_ExactLabelBeatsPronoun(t *testing.T) {
	// An older entry literally labeled "it" wins over pronoun-to-most-recent.
	stack := []dialog.TopicEntry{
		entry("A", "Q4 Report", dialog.KindEmail),
		entry("B", "it", dialog.KindTask),
	}

	got := Resolve(stack, "it")
	require.NotNil(t, got)
	assert.Equal(t, "B", got.EntityID)
}

func TestResolve_ExactLabelBeatsKindAlias(t *testing.T) {
	stack := []dialog.TopicEntry{
		entry("A", "Q4 Report", dialog.KindEmail),
		entry("B", "email", dialog.KindTask),
	}

	got := Resolve(stack, "email")
	require.NotNil(t, got)
	assert.Equal(t, "B", got.EntityID)
}

func TestResolve_Unresolvable(t *testing.T) {
	stack := []dialog.TopicEntry{entry("A", "Q4 Report", dialog.KindEmail)}

	assert.Nil(t, Resolve(stack, "marguerite"))
	assert.Nil(t, Resolve(stack, "that document"))
	assert.Nil(t, Resolve(stack, ""))
	assert.Nil(t, Resolve(nil, "it"))
}
