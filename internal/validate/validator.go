// Package validate is the gate between a filled action request and execution.
// It decides whether an action runs, needs a clarifying question, or needs an
// explicit confirmation, based on slot completeness, extraction confidence,
// and the intent's risk tier.
package validate

import (
	"fmt"
	"strings"

	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/dialog"
	"github.com/harunnryd/kotori/internal/intent"
	"github.com/harunnryd/kotori/internal/slot"
)

type DecisionKind string

const (
	Approved           DecisionKind = "approved"
	NeedsClarification DecisionKind = "needs_clarification"
	NeedsConfirmation  DecisionKind = "needs_confirmation"
)

// Decision is the validator's verdict. Missing is set for clarification,
// Reason for confirmation.
type Decision struct {
	Kind    DecisionKind
	Missing []string
	Reason  string
}

type Validator struct {
	confidenceFloor   float64
	confirmationFloor float64
	riskOverrides     map[string]intent.RiskTier
}

func NewValidator(cfg config.GovernanceConfig) *Validator {
	overrides := make(map[string]intent.RiskTier, len(cfg.RiskOverrides))
	for name, tier := range cfg.RiskOverrides {
		overrides[name] = intent.RiskTier(strings.ToLower(strings.TrimSpace(tier)))
	}
	return &Validator{
		confidenceFloor:   cfg.ConfidenceFloor,
		confirmationFloor: cfg.ConfirmationFloor,
		riskOverrides:     overrides,
	}
}

// Validate inspects a filled action request. Order matters: completeness
// first, then the confidence floor, then risk tier and the confirmation floor.
func (v *Validator) Validate(it intent.Intent, action *dialog.ActionRequest) Decision {
	if missing := slot.Missing(it, action.Slots); len(missing) > 0 {
		return Decision{Kind: NeedsClarification, Missing: missing}
	}

	lowest := lowestConfidence(it, action.Slots)

	if lowest.name != "" && lowest.value < v.confidenceFloor {
		return Decision{Kind: NeedsClarification, Missing: []string{lowest.name}}
	}

	tier := v.riskTier(it)

	if tier == intent.RiskHigh {
		return Decision{
			Kind:   NeedsConfirmation,
			Reason: fmt.Sprintf("%s is a high-risk action", it.Name),
		}
	}

	if lowest.name != "" && lowest.value < v.confirmationFloor {
		return Decision{
			Kind:   NeedsConfirmation,
			Reason: fmt.Sprintf("low confidence in %s (%q)", lowest.name, action.Slots[lowest.name].Value),
		}
	}

	return Decision{Kind: Approved}
}

// riskTier applies operator overrides on top of the catalog tier.
func (v *Validator) riskTier(it intent.Intent) intent.RiskTier {
	if override, ok := v.riskOverrides[it.Name]; ok {
		switch override {
		case intent.RiskLow, intent.RiskMedium, intent.RiskHigh:
			return override
		}
	}
	return it.RiskTier
}

type slotConfidence struct {
	name  string
	value float64
}

func lowestConfidence(it intent.Intent, slots map[string]dialog.Slot) slotConfidence {
	lowest := slotConfidence{value: 2}
	for _, name := range it.RequiredSlots {
		s, ok := slots[name]
		if !ok {
			continue
		}
		if s.Confidence < lowest.value {
			lowest = slotConfidence{name: name, value: s.Confidence}
		}
	}
	if lowest.name == "" {
		return slotConfidence{}
	}
	return lowest
}
