// Package intent classifies normalized user text against a configuration-driven
// decision tree. The tree and the intent catalog are data (YAML), not code, so
// new skills are additive configuration.
package intent

import (
	"fmt"
	"strings"
)

// Unknown is the designated fallback intent. It is always present in the
// catalog, carries no required slots, and is returned whenever no tree path
// matches.
const Unknown = "unknown"

type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Intent describes one supported skill.
type Intent struct {
	Name          string   `yaml:"name" json:"name"`
	Description   string   `yaml:"description,omitempty" json:"description,omitempty"`
	RequiredSlots []string `yaml:"required_slots" json:"required_slots"`
	RiskTier      RiskTier `yaml:"risk_tier" json:"risk_tier"`
}

// Catalog is the closed set of supported intents.
type Catalog struct {
	intents map[string]Intent
	order   []string
}

func NewCatalog(intents []Intent) (*Catalog, error) {
	c := &Catalog{intents: make(map[string]Intent, len(intents)+1)}
	for _, it := range intents {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			return nil, fmt.Errorf("intent with empty name")
		}
		if _, exists := c.intents[name]; exists {
			return nil, fmt.Errorf("duplicate intent %q", name)
		}
		switch it.RiskTier {
		case RiskLow, RiskMedium, RiskHigh:
		case "":
			it.RiskTier = RiskLow
		default:
			return nil, fmt.Errorf("intent %q has invalid risk tier %q", name, it.RiskTier)
		}
		it.Name = name
		c.intents[name] = it
		c.order = append(c.order, name)
	}

	if _, exists := c.intents[Unknown]; !exists {
		c.intents[Unknown] = Intent{Name: Unknown, RiskTier: RiskLow}
		c.order = append(c.order, Unknown)
	}

	return c, nil
}

func (c *Catalog) Get(name string) (Intent, bool) {
	it, ok := c.intents[name]
	return it, ok
}

// MustGet falls back to the Unknown intent for unregistered names.
func (c *Catalog) MustGet(name string) Intent {
	if it, ok := c.intents[name]; ok {
		return it
	}
	return c.intents[Unknown]
}

func (c *Catalog) Names() []string {
	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}
