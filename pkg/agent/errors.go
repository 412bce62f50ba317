package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for the agent package.
var (
	// ErrNotInitialized indicates a method was called before Init.
	ErrNotInitialized = errors.New("agent: adapter not initialized")

	// ErrNotConnected indicates the adapter has no open session.
	ErrNotConnected = errors.New("agent: not connected")

	// ErrAlreadyConnected indicates Connect was called on an open session.
	ErrAlreadyConnected = errors.New("agent: already connected")

	// ErrMissingAPIKey indicates no credential could be resolved.
	ErrMissingAPIKey = errors.New("agent: API key is required")

	// ErrUnknownProvider indicates the registry has no factory for the name.
	ErrUnknownProvider = errors.New("agent: unknown provider")

	// ErrReconnectExhausted indicates the automatic retry ceiling was reached.
	ErrReconnectExhausted = errors.New("agent: reconnect attempts exhausted")
)

// Error is the generic voice agent error, tagged with the originating
// provider and an optional context payload.
type Error struct {
	Provider Provider
	Message  string
	Context  map[string]any
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agent[%s]: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("agent[%s]: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a generic agent error.
func NewError(provider Provider, message string, cause error) *Error {
	return &Error{Provider: provider, Message: message, Cause: cause}
}

// ConnectionError covers session open/close/transport failures.
type ConnectionError struct {
	Provider  Provider
	Reason    string
	Cause     error
	Retryable bool
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agent[%s]: connection error: %s: %v", e.Provider, e.Reason, e.Cause)
	}
	return fmt.Sprintf("agent[%s]: connection error: %s", e.Provider, e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// IsRetryable returns true if reconnection should be attempted.
func (e *ConnectionError) IsRetryable() bool { return e.Retryable }

// NewConnectionError creates a ConnectionError.
func NewConnectionError(provider Provider, reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{Provider: provider, Reason: reason, Cause: cause, Retryable: retryable}
}

// AudioError covers microphone, permission and codec failures.
type AudioError struct {
	Provider Provider
	Reason   string
	Cause    error
}

func (e *AudioError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agent[%s]: audio error: %s: %v", e.Provider, e.Reason, e.Cause)
	}
	return fmt.Sprintf("agent[%s]: audio error: %s", e.Provider, e.Reason)
}

func (e *AudioError) Unwrap() error { return e.Cause }

// ToolError covers tool handler failures and server tool call failures.
type ToolError struct {
	Provider Provider
	Tool     string
	CallID   string
	Cause    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("agent[%s]: tool %q (call %s) failed: %v", e.Provider, e.Tool, e.CallID, e.Cause)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// IsRetryable reports whether the error is worth retrying.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}
	return false
}

// IsNotConnected reports whether the error indicates no open session.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
