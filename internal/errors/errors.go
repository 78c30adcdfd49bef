package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrDuplicateEvent - duplicate inbound event detected (drop silently)
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrConfirmationRequired - action needs an explicit yes/no from the user
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrInvalidInput - invalid input (surface a validation message to the user)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrConflict - conflict (retry deterministically)
	ErrConflict = errors.New("conflict")

	// ErrTransient - transient error (retry with backoff)
	ErrTransient = errors.New("transient error")

	// ErrUnavailable - an optional capability (fuzzy extractor, embedder) is not configured or unreachable
	ErrUnavailable = errors.New("capability unavailable")

	// ErrInvalidModelOutput - model returned malformed structured output
	ErrInvalidModelOutput = errors.New("invalid model output")

	// ErrInternal - internal error (generic message + trace id to the user)
	ErrInternal = errors.New("internal error")
)
