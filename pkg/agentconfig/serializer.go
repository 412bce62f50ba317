// Package agentconfig manages named, provider-scoped voice agent
// configurations: per-provider serializers that validate and round-trip
// configuration records, and a cache-backed Manager over a persisted store.
package agentconfig

import (
	"errors"
	"fmt"
)

// Header is the set of fields both provider configuration shapes share.
// The shapes repeat these fields structurally rather than embedding a
// common struct.
type Header struct {
	Provider    string `json:"provider"`
	Enabled     bool   `json:"enabled"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Config is a provider configuration value. Concrete shapes are
// *OpenAIConfig and *ElevenLabsConfig.
type Config interface {
	// ProviderName returns the provider tag ("openai", "elevenlabs").
	ProviderName() string

	// Head returns a copy of the shared header fields.
	Head() Header

	// SecretEnvVars returns the names of environment variables expected to
	// hold secrets. Values are never stored or returned.
	SecretEnvVars() []string
}

// FieldError is a field-scoped validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Warning is a non-fatal validation concern with a suggested remedy.
type Warning struct {
	Field      string `json:"field"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// Result is the structured outcome of Validate. Validate never fails; it
// always returns a Result.
type Result struct {
	Valid    bool         `json:"valid"`
	Errors   []FieldError `json:"errors"`
	Warnings []Warning    `json:"warnings"`
}

// Serializer validates, defaults and (de)serializes one provider's
// configuration shape. Implementations are pure and perform no I/O.
//
// Round-trip law: for any config c that validates,
// Deserialize(Serialize(c)) is deep-equal to c.
type Serializer interface {
	// Provider returns the provider tag this serializer handles.
	Provider() string

	// Serialize validates cfg and renders it as JSON text.
	Serialize(cfg Config) (string, error)

	// Deserialize parses JSON text and validates the result.
	Deserialize(text string) (Config, error)

	// Validate checks cfg and always returns a structured Result.
	Validate(cfg Config) Result

	// DefaultConfig returns the provider's default configuration.
	DefaultConfig() Config

	// Schema describes the configuration shape for form generation.
	Schema() map[string]any
}

// ErrNotFound indicates the requested configuration record does not exist.
var ErrNotFound = errors.New("agentconfig: config not found")

// ValidationError is raised when a configuration fails schema validation.
// It carries the field-scoped failures.
type ValidationError struct {
	Provider string
	Fields   []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("agentconfig[%s]: validation failed: %s: %s", e.Provider, e.Fields[0].Field, e.Fields[0].Message)
	}
	return fmt.Sprintf("agentconfig[%s]: validation failed with %d errors", e.Provider, len(e.Fields))
}

// SerializationError is raised on malformed JSON or a round-trip failure.
// It is distinct from ValidationError so callers can tell schema violations
// from transport corruption.
type SerializationError struct {
	Provider string
	Op       string // "serialize" or "deserialize"
	Cause    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("agentconfig[%s]: %s failed: %v", e.Provider, e.Op, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// validationErr builds a ValidationError from a failed Result.
func validationErr(provider string, res Result) error {
	return &ValidationError{Provider: provider, Fields: res.Errors}
}
