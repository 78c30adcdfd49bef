package intent

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed intents.yaml
var embeddedTree []byte

// Node is one decision point in the tree. A node matches when any of its
// configured cues (keyword containment, prefix, regex) hits the normalized
// input; a node with no cues matches unconditionally. Sibling order is
// significant: the first matching sibling wins. Named regex captures along the
// matched path seed initial slots.
type Node struct {
	Keywords []string `yaml:"keywords,omitempty"`
	Prefix   string   `yaml:"prefix,omitempty"`
	Pattern  string   `yaml:"pattern,omitempty"`
	Intent   string   `yaml:"intent,omitempty"`
	Children []*Node  `yaml:"children,omitempty"`

	re *regexp.Regexp
}

// Tree couples the intent catalog with the decision nodes interpreting it.
type Tree struct {
	Intents []Intent `yaml:"intents"`
	Nodes   []*Node  `yaml:"tree"`

	catalog *Catalog
}

// Parse builds a Tree from YAML, compiles patterns, and verifies every leaf
// names a cataloged intent.
func Parse(data []byte) (*Tree, error) {
	var t Tree
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse intent tree: %w", err)
	}

	catalog, err := NewCatalog(t.Intents)
	if err != nil {
		return nil, err
	}
	t.catalog = catalog

	var compile func(n *Node) error
	compile = func(n *Node) error {
		if n.Pattern != "" {
			re, err := regexp.Compile("(?i)" + n.Pattern)
			if err != nil {
				return fmt.Errorf("node pattern %q: %w", n.Pattern, err)
			}
			n.re = re
		}
		if n.Intent != "" {
			if _, ok := catalog.Get(n.Intent); !ok {
				return fmt.Errorf("node references unknown intent %q", n.Intent)
			}
		}
		if n.Intent == "" && len(n.Children) == 0 {
			return fmt.Errorf("node without intent or children")
		}
		for _, child := range n.Children {
			if err := compile(child); err != nil {
				return err
			}
		}
		return nil
	}
	for _, n := range t.Nodes {
		if err := compile(n); err != nil {
			return nil, err
		}
	}

	return &t, nil
}

// LoadFile reads a tree from an external YAML file.
func LoadFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent tree %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the tree built from the embedded catalog.
func Default() (*Tree, error) {
	return Parse(embeddedTree)
}

// Load returns the tree at path, or the embedded default when path is empty.
func Load(path string) (*Tree, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	return LoadFile(path)
}

func (t *Tree) Catalog() *Catalog {
	return t.catalog
}

func (n *Node) match(text string) (bool, map[string]string) {
	matched := len(n.Keywords) == 0 && n.Prefix == "" && n.re == nil

	for _, kw := range n.Keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			matched = true
			break
		}
	}
	if !matched && n.Prefix != "" && strings.HasPrefix(text, strings.ToLower(n.Prefix)) {
		matched = true
	}

	var captures map[string]string
	if n.re != nil {
		m := n.re.FindStringSubmatch(text)
		if m != nil {
			matched = true
			for i, name := range n.re.SubexpNames() {
				if name != "" && m[i] != "" {
					if captures == nil {
						captures = make(map[string]string)
					}
					captures[name] = strings.TrimSpace(m[i])
				}
			}
		} else if len(n.Keywords) == 0 && n.Prefix == "" {
			// Pattern was the only cue and it missed.
			matched = false
		}
	}

	return matched, captures
}
