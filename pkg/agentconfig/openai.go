package agentconfig

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefixPaddingMs"`
	SilenceDurationMs int     `json:"silenceDurationMs"`
}

// OpenAIConfig is the configuration shape for the OpenAI Realtime provider.
type OpenAIConfig struct {
	Provider    string `json:"provider"`
	Enabled     bool   `json:"enabled"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Version     string `json:"version"`

	Model             string        `json:"model"`
	Voice             string        `json:"voice"`
	Instructions      string        `json:"instructions"`
	Temperature       float64       `json:"temperature"`
	MaxResponseTokens int           `json:"maxResponseTokens"`
	Language          string        `json:"language"`
	TurnDetection     TurnDetection `json:"turnDetection"`

	// APIKeyEnvVar names the environment variable holding the API key.
	// The key itself is never stored.
	APIKeyEnvVar string `json:"apiKeyEnvVar"`

	// TokenURL, when set, is fetched for an ephemeral session credential
	// instead of reading APIKeyEnvVar directly.
	TokenURL string `json:"tokenUrl,omitempty"`
}

// ProviderName implements Config.
func (c *OpenAIConfig) ProviderName() string { return "openai" }

// Head implements Config.
func (c *OpenAIConfig) Head() Header {
	return Header{
		Provider:    c.Provider,
		Enabled:     c.Enabled,
		DisplayName: c.DisplayName,
		Description: c.Description,
		Version:     c.Version,
	}
}

// SecretEnvVars implements Config.
func (c *OpenAIConfig) SecretEnvVars() []string {
	if c.APIKeyEnvVar == "" {
		return nil
	}
	return []string{c.APIKeyEnvVar}
}

var openAIVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// OpenAISerializer handles the OpenAI configuration shape.
type OpenAISerializer struct{}

// NewOpenAISerializer creates the OpenAI serializer.
func NewOpenAISerializer() *OpenAISerializer { return &OpenAISerializer{} }

// Provider implements Serializer.
func (s *OpenAISerializer) Provider() string { return "openai" }

// DefaultConfig implements Serializer.
func (s *OpenAISerializer) DefaultConfig() Config {
	return &OpenAIConfig{
		Provider:          "openai",
		Enabled:           true,
		DisplayName:       "OpenAI Realtime",
		Description:       "GPT realtime speech-to-speech with built-in VAD and TTS",
		Version:           "1.0.0",
		Model:             "gpt-4o-realtime-preview-2024-12-17",
		Voice:             "alloy",
		Temperature:       0.8,
		MaxResponseTokens: 4096,
		Language:          "en",
		TurnDetection: TurnDetection{
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
		APIKeyEnvVar: "OPENAI_API_KEY",
	}
}

// Serialize implements Serializer.
func (s *OpenAISerializer) Serialize(cfg Config) (string, error) {
	c, ok := cfg.(*OpenAIConfig)
	if !ok {
		return "", &SerializationError{Provider: "openai", Op: "serialize",
			Cause: fmt.Errorf("unexpected config type %T", cfg)}
	}
	if res := s.Validate(c); !res.Valid {
		return "", validationErr("openai", res)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", &SerializationError{Provider: "openai", Op: "serialize", Cause: err}
	}
	return string(data), nil
}

// Deserialize implements Serializer.
func (s *OpenAISerializer) Deserialize(text string) (Config, error) {
	var c OpenAIConfig
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return nil, &SerializationError{Provider: "openai", Op: "deserialize", Cause: err}
	}
	if res := s.Validate(&c); !res.Valid {
		return nil, validationErr("openai", res)
	}
	return &c, nil
}

// Validate implements Serializer. It never fails; all findings are returned
// in the Result.
func (s *OpenAISerializer) Validate(cfg Config) Result {
	res := Result{Valid: true, Errors: []FieldError{}, Warnings: []Warning{}}

	c, ok := cfg.(*OpenAIConfig)
	if !ok {
		res.Valid = false
		res.Errors = append(res.Errors, FieldError{
			Field:   "provider",
			Message: fmt.Sprintf("expected OpenAI config, got %T", cfg),
			Code:    "wrong_type",
		})
		return res
	}

	if c.Provider != "openai" {
		res.Errors = append(res.Errors, FieldError{
			Field: "provider", Message: `provider must be "openai"`, Code: "invalid_provider",
		})
	}
	if strings.TrimSpace(c.DisplayName) == "" {
		res.Errors = append(res.Errors, FieldError{
			Field: "displayName", Message: "display name must not be empty", Code: "required",
		})
	}
	if strings.TrimSpace(c.Version) == "" {
		res.Errors = append(res.Errors, FieldError{
			Field: "version", Message: "version must not be empty", Code: "required",
		})
	}
	if strings.TrimSpace(c.Model) == "" {
		res.Errors = append(res.Errors, FieldError{
			Field: "model", Message: "model must not be empty", Code: "required",
		})
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		res.Errors = append(res.Errors, FieldError{
			Field: "temperature", Message: "temperature must be between 0 and 2", Code: "out_of_range",
		})
	} else if c.Temperature > 1.5 {
		res.Warnings = append(res.Warnings, Warning{
			Field:      "temperature",
			Message:    "temperature above 1.5 may reduce consistency",
			Suggestion: "use 0.6-1.0 for a portfolio assistant",
		})
	}
	if c.MaxResponseTokens <= 0 {
		res.Errors = append(res.Errors, FieldError{
			Field: "maxResponseTokens", Message: "max response tokens must be positive", Code: "out_of_range",
		})
	}
	if c.TurnDetection.Threshold < 0 || c.TurnDetection.Threshold > 1 {
		res.Errors = append(res.Errors, FieldError{
			Field: "turnDetection.threshold", Message: "threshold must be between 0 and 1", Code: "out_of_range",
		})
	}
	if c.Voice != "" && !contains(openAIVoices, c.Voice) {
		res.Warnings = append(res.Warnings, Warning{
			Field:      "voice",
			Message:    fmt.Sprintf("voice %q is not a known OpenAI voice", c.Voice),
			Suggestion: "known voices: " + strings.Join(openAIVoices, ", "),
		})
	}
	if c.APIKeyEnvVar == "" && c.TokenURL == "" {
		res.Warnings = append(res.Warnings, Warning{
			Field:      "apiKeyEnvVar",
			Message:    "no credential source configured",
			Suggestion: "set apiKeyEnvVar or tokenUrl",
		})
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// Schema implements Serializer.
func (s *OpenAISerializer) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"provider":          map[string]any{"type": "string", "const": "openai"},
			"enabled":           map[string]any{"type": "boolean"},
			"displayName":       map[string]any{"type": "string", "minLength": 1},
			"description":       map[string]any{"type": "string"},
			"version":           map[string]any{"type": "string"},
			"model":             map[string]any{"type": "string", "minLength": 1},
			"voice":             map[string]any{"type": "string", "enum": openAIVoices},
			"instructions":      map[string]any{"type": "string"},
			"temperature":       map[string]any{"type": "number", "minimum": 0, "maximum": 2},
			"maxResponseTokens": map[string]any{"type": "integer", "minimum": 1},
			"language":          map[string]any{"type": "string"},
			"turnDetection": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"threshold":         map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"prefixPaddingMs":   map[string]any{"type": "integer", "minimum": 0},
					"silenceDurationMs": map[string]any{"type": "integer", "minimum": 0},
				},
			},
			"apiKeyEnvVar": map[string]any{"type": "string"},
			"tokenUrl":     map[string]any{"type": "string"},
		},
		"required": []string{"provider", "displayName", "version", "model"},
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

var _ Serializer = (*OpenAISerializer)(nil)
