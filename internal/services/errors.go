package services

import (
	"errors"
	"fmt"
)

var (
	// ErrTurnInFlight rejects a send while the session is still waiting on
	// the previous turn.
	ErrTurnInFlight = errors.New("a message is already being processed")
	// ErrNoSession is returned when a user has no live session state.
	ErrNoSession = errors.New("no active session")
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

type RateLimitError struct{ Message string }

func (e *RateLimitError) Error() string { return e.Message }

// AuthError means the identity service rejected the credentials or token.
type AuthError struct{ Message string }

func (e *AuthError) Error() string { return e.Message }

// StoreError wraps a failed read or write against the durable store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// CompletionError is the single error shape for every upstream failure:
// transport, non-2xx status, or an unusable payload.
type CompletionError struct {
	StatusCode int
	Err        error
}

func (e *CompletionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion failed: %v", e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// IngestionError carries a user-facing message about an upload that could
// not be turned into text.
type IngestionError struct {
	Message string
	Err     error
}

func (e *IngestionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *IngestionError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing secret. It fails every completion
// request until the process is restarted with the setting present.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }
