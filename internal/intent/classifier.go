package intent

import (
	"strings"
)

// Classifier evaluates the decision tree. It is a pure function over
// (text, tree) and it never fails; unmatched input classifies as Unknown.
type Classifier struct {
	tree *Tree
}

func NewClassifier(tree *Tree) *Classifier {
	return &Classifier{tree: tree}
}

// Classify walks the tree against the normalized input and returns the winning
// intent plus any named captures collected along the matched path.
func (c *Classifier) Classify(text string) (Intent, map[string]string) {
	normalized := Normalize(text)
	if normalized == "" {
		return c.tree.catalog.MustGet(Unknown), nil
	}

	for _, node := range c.tree.Nodes {
		if name, captures := c.walk(node, normalized, nil); name != "" {
			return c.tree.catalog.MustGet(name), captures
		}
	}

	return c.tree.catalog.MustGet(Unknown), nil
}

// walk descends into the first matching child; a node's own intent acts as the
// fallback leaf when no child matches.
func (c *Classifier) walk(n *Node, text string, inherited map[string]string) (string, map[string]string) {
	matched, captures := n.match(text)
	if !matched {
		return "", nil
	}

	merged := mergeCaptures(inherited, captures)

	for _, child := range n.Children {
		if name, childCaptures := c.walk(child, text, merged); name != "" {
			return name, childCaptures
		}
	}

	if n.Intent != "" {
		return n.Intent, merged
	}
	return "", nil
}

func mergeCaptures(base, extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return base
	}
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// Normalize lowercases, trims, and collapses internal whitespace so tree cues
// match predictably.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(text))), " ")
}
