package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/dialog"
	"github.com/harunnryd/kotori/internal/intent"
)

func governance() config.GovernanceConfig {
	return config.GovernanceConfig{
		ConfidenceFloor:   0.5,
		ConfirmationFloor: 0.75,
	}
}

func action(intentName string, slots ...dialog.Slot) *dialog.ActionRequest {
	a := dialog.NewActionRequest(intentName, "msg-1", time.Now().UTC())
	for _, s := range slots {
		a.Slots[s.Name] = s
	}
	return a
}

func TestValidate_MissingSlotNeedsClarification(t *testing.T) {
	v := NewValidator(governance())
	it := intent.Intent{Name: "email_draft", RequiredSlots: []string{"recipient"}, RiskTier: intent.RiskLow}

	d := v.Validate(it, action("email_draft"))
	assert.Equal(t, NeedsClarification, d.Kind)
	assert.Equal(t, []string{"recipient"}, d.Missing)
}

func TestValidate_Approved(t *testing.T) {
	v := NewValidator(governance())
	it := intent.Intent{Name: "email_draft", RequiredSlots: []string{"recipient"}, RiskTier: intent.RiskLow}

	d := v.Validate(it, action("email_draft",
		dialog.Slot{Name: "recipient", Value: "jason", Source: dialog.SourceDeterministic, Confidence: 0.95}))
	assert.Equal(t, Approved, d.Kind)
}

func TestValidate_HighRiskNeedsConfirmation(t *testing.T) {
	v := NewValidator(governance())
	it := intent.Intent{Name: "email_send", RequiredSlots: []string{"recipient"}, RiskTier: intent.RiskHigh}

	d := v.Validate(it, action("email_send",
		dialog.Slot{Name: "recipient", Value: "jason", Source: dialog.SourceDeterministic, Confidence: 0.95}))
	assert.Equal(t, NeedsConfirmation, d.Kind)
	assert.NotEmpty(t, d.Reason)
}

func TestValidate_LowConfidenceNeedsConfirmation(t *testing.T) {
	v := NewValidator(governance())
	it := intent.Intent{Name: "todo_add", RequiredSlots: []string{"task"}, RiskTier: intent.RiskLow}

	d := v.Validate(it, action("todo_add",
		dialog.Slot{Name: "task", Value: "buy milk", Source: dialog.SourceFuzzy, Confidence: 0.6}))
	assert.Equal(t, NeedsConfirmation, d.Kind)
}

func TestValidate_VeryLowConfidenceNeedsClarification(t *testing.T) {
	v := NewValidator(governance())
	it := intent.Intent{Name: "todo_add", RequiredSlots: []string{"task"}, RiskTier: intent.RiskLow}

	d := v.Validate(it, action("todo_add",
		dialog.Slot{Name: "task", Value: "hm", Source: dialog.SourceFuzzy, Confidence: 0.3}))
	assert.Equal(t, NeedsClarification, d.Kind)
	assert.Equal(t, []string{"task"}, d.Missing)
}

func TestValidate_RiskOverridePromotes(t *testing.T) {
	cfg := governance()
	cfg.RiskOverrides = map[string]string{"todo_add": "high"}
	v := NewValidator(cfg)
	it := intent.Intent{Name: "todo_add", RequiredSlots: []string{"task"}, RiskTier: intent.RiskLow}

	d := v.Validate(it, action("todo_add",
		dialog.Slot{Name: "task", Value: "buy milk", Source: dialog.SourceDeterministic, Confidence: 0.95}))
	assert.Equal(t, NeedsConfirmation, d.Kind)
}

func TestValidate_RiskOverrideDemotes(t *testing.T) {
	cfg := governance()
	cfg.RiskOverrides = map[string]string{"email_send": "low"}
	v := NewValidator(cfg)
	it := intent.Intent{Name: "email_send", RequiredSlots: []string{"recipient"}, RiskTier: intent.RiskHigh}

	d := v.Validate(it, action("email_send",
		dialog.Slot{Name: "recipient", Value: "jason", Source: dialog.SourceDeterministic, Confidence: 0.95}))
	assert.Equal(t, Approved, d.Kind)
}

func TestValidate_NoRequiredSlots(t *testing.T) {
	v := NewValidator(governance())
	it := intent.Intent{Name: "todo_list", RiskTier: intent.RiskLow}

	d := v.Validate(it, action("todo_list"))
	assert.Equal(t, Approved, d.Kind)
}
