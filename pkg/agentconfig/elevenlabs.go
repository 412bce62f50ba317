package agentconfig

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Placeholder values that ship in dashboards and templates. Health checks
// flag configs still carrying one of these.
var elevenLabsPlaceholders = []string{"your-agent-id", "agent-id-here", "changeme"}

// ElevenLabsConfig is the configuration shape for the ElevenLabs Agents
// Platform provider.
type ElevenLabsConfig struct {
	Provider    string `json:"provider"`
	Enabled     bool   `json:"enabled"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// AgentID is a dashboard-configured agent. When empty, an agent is
	// created programmatically from VoiceID and the prompt fields.
	AgentID string `json:"agentId"`

	VoiceID      string  `json:"voiceId"`
	LLM          string  `json:"llm"`
	Instructions string  `json:"instructions"`
	FirstMessage string  `json:"firstMessage"`
	Language     string  `json:"language"`
	Stability    float64 `json:"stability"`
	Similarity   float64 `json:"similarity"`

	// APIKeyEnvVar names the environment variable holding the API key.
	APIKeyEnvVar string `json:"apiKeyEnvVar"`

	// TokenURL, when set, is fetched for an ephemeral session credential.
	TokenURL string `json:"tokenUrl,omitempty"`
}

// ProviderName implements Config.
func (c *ElevenLabsConfig) ProviderName() string { return "elevenlabs" }

// Head implements Config.
func (c *ElevenLabsConfig) Head() Header {
	return Header{
		Provider:    c.Provider,
		Enabled:     c.Enabled,
		DisplayName: c.DisplayName,
		Description: c.Description,
		Version:     c.Version,
	}
}

// SecretEnvVars implements Config.
func (c *ElevenLabsConfig) SecretEnvVars() []string {
	if c.APIKeyEnvVar == "" {
		return nil
	}
	return []string{c.APIKeyEnvVar}
}

// ElevenLabsSerializer handles the ElevenLabs configuration shape.
type ElevenLabsSerializer struct{}

// NewElevenLabsSerializer creates the ElevenLabs serializer.
func NewElevenLabsSerializer() *ElevenLabsSerializer { return &ElevenLabsSerializer{} }

// Provider implements Serializer.
func (s *ElevenLabsSerializer) Provider() string { return "elevenlabs" }

// DefaultConfig implements Serializer.
func (s *ElevenLabsSerializer) DefaultConfig() Config {
	return &ElevenLabsConfig{
		Provider:     "elevenlabs",
		Enabled:      true,
		DisplayName:  "ElevenLabs Conversational",
		Description:  "Custom cloned voice with choice of LLM",
		Version:      "1.0.0",
		AgentID:      "your-agent-id", // template placeholder, flagged by health checks

		LLM:          "gemini-2.0-flash",
		Language:     "en",
		Stability:    0.5,
		Similarity:   0.75,
		APIKeyEnvVar: "ELEVENLABS_API_KEY",
	}
}

// Serialize implements Serializer.
func (s *ElevenLabsSerializer) Serialize(cfg Config) (string, error) {
	c, ok := cfg.(*ElevenLabsConfig)
	if !ok {
		return "", &SerializationError{Provider: "elevenlabs", Op: "serialize",
			Cause: fmt.Errorf("unexpected config type %T", cfg)}
	}
	if res := s.Validate(c); !res.Valid {
		return "", validationErr("elevenlabs", res)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", &SerializationError{Provider: "elevenlabs", Op: "serialize", Cause: err}
	}
	return string(data), nil
}

// Deserialize implements Serializer.
func (s *ElevenLabsSerializer) Deserialize(text string) (Config, error) {
	var c ElevenLabsConfig
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return nil, &SerializationError{Provider: "elevenlabs", Op: "deserialize", Cause: err}
	}
	if res := s.Validate(&c); !res.Valid {
		return nil, validationErr("elevenlabs", res)
	}
	return &c, nil
}

// Validate implements Serializer.
func (s *ElevenLabsSerializer) Validate(cfg Config) Result {
	res := Result{Valid: true, Errors: []FieldError{}, Warnings: []Warning{}}

	c, ok := cfg.(*ElevenLabsConfig)
	if !ok {
		res.Valid = false
		res.Errors = append(res.Errors, FieldError{
			Field:   "provider",
			Message: fmt.Sprintf("expected ElevenLabs config, got %T", cfg),
			Code:    "wrong_type",
		})
		return res
	}

	if c.Provider != "elevenlabs" {
		res.Errors = append(res.Errors, FieldError{
			Field: "provider", Message: `provider must be "elevenlabs"`, Code: "invalid_provider",
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
	if c.AgentID == "" && c.VoiceID == "" {
		res.Errors = append(res.Errors, FieldError{
			Field:   "voiceId",
			Message: "either agentId or voiceId is required",
			Code:    "required",
		})
	}
	if c.AgentID == "" && c.VoiceID != "" {
		res.Warnings = append(res.Warnings, Warning{
			Field:      "agentId",
			Message:    "agent id is empty",
			Suggestion: "an agent will be created programmatically on first connect",
		})
	}
	if c.Stability < 0 || c.Stability > 1 {
		res.Errors = append(res.Errors, FieldError{
			Field: "stability", Message: "stability must be between 0 and 1", Code: "out_of_range",
		})
	}
	if c.Similarity < 0 || c.Similarity > 1 {
		res.Errors = append(res.Errors, FieldError{
			Field: "similarity", Message: "similarity must be between 0 and 1", Code: "out_of_range",
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
func (s *ElevenLabsSerializer) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"provider":     map[string]any{"type": "string", "const": "elevenlabs"},
			"enabled":      map[string]any{"type": "boolean"},
			"displayName":  map[string]any{"type": "string", "minLength": 1},
			"description":  map[string]any{"type": "string"},
			"version":      map[string]any{"type": "string"},
			"agentId":      map[string]any{"type": "string"},
			"voiceId":      map[string]any{"type": "string"},
			"llm":          map[string]any{"type": "string"},
			"instructions": map[string]any{"type": "string"},
			"firstMessage": map[string]any{"type": "string"},
			"language":     map[string]any{"type": "string"},
			"stability":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"similarity":   map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"apiKeyEnvVar": map[string]any{"type": "string"},
			"tokenUrl":     map[string]any{"type": "string"},
		},
		"required": []string{"provider", "displayName", "version"},
	}
}

// IsPlaceholderAgentID reports whether id is one of the known template
// placeholder values.
func IsPlaceholderAgentID(id string) bool {
	return contains(elevenLabsPlaceholders, strings.ToLower(strings.TrimSpace(id)))
}

var _ Serializer = (*ElevenLabsSerializer)(nil)
