// Package dialog holds the shared conversation data model: the per-user
// Session aggregate, topic entries, slots, and action requests. Every field is
// JSON-tagged so a Session round-trips losslessly through the store.
package dialog

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingClarification State = "awaiting_clarification"
	StateAwaitingConfirmation  State = "awaiting_confirmation"
	StateExecuting             State = "executing"
	StateCompleted             State = "completed"
	StateFailed                State = "failed"
)

// Awaiting reports whether the state expects the next user message to resolve
// a pending action.
func (s State) Awaiting() bool {
	return s == StateAwaitingClarification || s == StateAwaitingConfirmation
}

type EntityKind string

const (
	KindEmail    EntityKind = "email"
	KindContact  EntityKind = "contact"
	KindDocument EntityKind = "document"
	KindTask     EntityKind = "task"
)

// TopicEntry is one recently-surfaced entity on a session's topic stack.
type TopicEntry struct {
	EntityID   string     `json:"entity_id"`
	Kind       EntityKind `json:"kind"`
	Label      string     `json:"label"`
	InsertedAt time.Time  `json:"inserted_at"`
}

type SlotSource string

const (
	SourceDeterministic     SlotSource = "deterministic"
	SourceFuzzy             SlotSource = "fuzzy"
	SourceResolvedReference SlotSource = "resolved_reference"
)

// Slot is a named parameter of an action, with the provenance and confidence
// of its value.
type Slot struct {
	Name       string     `json:"name"`
	Value      string     `json:"value"`
	Source     SlotSource `json:"source"`
	Confidence float64    `json:"confidence"`
}

// ActionRequest is the unit handed to the executor once validated. Immutable
// after validation; during clarification rounds it is the mutable draft held
// as the session's pending action.
type ActionRequest struct {
	ID              string          `json:"id"`
	Intent          string          `json:"intent"`
	Slots           map[string]Slot `json:"slots"`
	OriginMessageID string          `json:"origin_message_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

func NewActionRequest(intent, originMessageID string, now time.Time) *ActionRequest {
	return &ActionRequest{
		ID:              ulid.Make().String(),
		Intent:          intent,
		Slots:           make(map[string]Slot),
		OriginMessageID: originMessageID,
		CreatedAt:       now,
	}
}

func (a *ActionRequest) Clone() *ActionRequest {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Slots = make(map[string]Slot, len(a.Slots))
	for k, v := range a.Slots {
		cp.Slots[k] = v
	}
	return &cp
}

// Outcome records how the last action ended, kept for status surfaces after
// the session resets to idle.
type Outcome struct {
	State  State     `json:"state"` // completed or failed
	Intent string    `json:"intent"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Session is the per-user aggregate. It is owned by the state machine and
// mutated only through transitions; the store persists it as a single record.
type Session struct {
	UserID        string         `json:"user_id"`
	Source        string         `json:"source,omitempty"` // adapter that owns this user ("telegram", "slack", "cli")
	State         State          `json:"state"`
	PendingAction *ActionRequest `json:"pending_action,omitempty"`
	TopicStack    []TopicEntry   `json:"topic_stack,omitempty"`
	LastOutcome   *Outcome       `json:"last_outcome,omitempty"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
}

func NewSession(userID string) *Session {
	return &Session{
		UserID: userID,
		State:  StateIdle,
	}
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.PendingAction = s.PendingAction.Clone()
	if s.TopicStack != nil {
		cp.TopicStack = make([]TopicEntry, len(s.TopicStack))
		copy(cp.TopicStack, s.TopicStack)
	}
	if s.LastOutcome != nil {
		outcome := *s.LastOutcome
		cp.LastOutcome = &outcome
	}
	return &cp
}

// CheckInvariant verifies the aggregate-level invariant: a pending action
// exists iff the session awaits clarification or confirmation.
func (s *Session) CheckInvariant() error {
	if s.State.Awaiting() && s.PendingAction == nil {
		return fmt.Errorf("session %s in state %s without pending action", s.UserID, s.State)
	}
	if !s.State.Awaiting() && s.PendingAction != nil {
		return fmt.Errorf("session %s in state %s with dangling pending action", s.UserID, s.State)
	}
	return nil
}

type OutboundKind string

const (
	OutboundPrompt   OutboundKind = "prompt"
	OutboundDispatch OutboundKind = "dispatch"
	OutboundNone     OutboundKind = "none"
)

// OutboundEvent is what HandleMessage hands back: either a prompt for the user
// or a dispatched action request.
type OutboundEvent struct {
	Kind   OutboundKind   `json:"kind"`
	Prompt string         `json:"prompt,omitempty"`
	Action *ActionRequest `json:"action,omitempty"`
}

func PromptEvent(text string) OutboundEvent {
	return OutboundEvent{Kind: OutboundPrompt, Prompt: text}
}

func DispatchEvent(action *ActionRequest) OutboundEvent {
	return OutboundEvent{Kind: OutboundDispatch, Action: action}
}
