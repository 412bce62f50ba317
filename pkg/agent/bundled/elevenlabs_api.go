package bundled

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/teslashibe/go-voicekit/internal/httpc"
	"github.com/teslashibe/go-voicekit/pkg/agent"
	"github.com/teslashibe/go-voicekit/pkg/agentconfig"
)

const elevenLabsAPIBaseURL = "https://api.elevenlabs.io/v1"

// Wire types for the ElevenLabs agent REST API. These never leave this
// package.

type elAgentConfig struct {
	Name               string                `json:"name,omitempty"`
	ConversationConfig *elConversationConfig `json:"conversation_config"`
	PlatformSettings   *elPlatformSettings   `json:"platform_settings,omitempty"`
}

type elConversationConfig struct {
	Agent *elAgentSettings `json:"agent,omitempty"`
	TTS   *elTTSConfig     `json:"tts,omitempty"`
	ASR   *elASRConfig     `json:"asr,omitempty"`
}

type elAgentSettings struct {
	Prompt       *elPromptConfig `json:"prompt,omitempty"`
	LLM          *elLLMConfig    `json:"llm,omitempty"`
	FirstMessage string          `json:"first_message,omitempty"`
	Language     string          `json:"language,omitempty"`
}

type elPromptConfig struct {
	Prompt string `json:"prompt"`
}

type elLLMConfig struct {
	Model string `json:"model"`
}

type elTTSConfig struct {
	VoiceID    string  `json:"voice_id"`
	Stability  float64 `json:"stability,omitempty"`
	Similarity float64 `json:"similarity_boost,omitempty"`
}

type elASRConfig struct {
	Language string `json:"language,omitempty"`
}

type elPlatformSettings struct {
	Tools []elAgentTool `json:"tools,omitempty"`
}

type elAgentTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type elCreateAgentResponse struct {
	AgentID string `json:"agent_id"`
}

// elAPIClient handles REST calls to the ElevenLabs platform, used to create
// an agent programmatically when the configuration carries no agent id.
type elAPIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func newELAPIClient(apiKey string) *elAPIClient {
	return &elAPIClient{
		apiKey:     apiKey,
		baseURL:    elevenLabsAPIBaseURL,
		httpClient: httpc.Client,
	}
}

// CreateAgent provisions an agent and returns its id.
func (c *elAPIClient) CreateAgent(ctx context.Context, cfg elAgentConfig) (string, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal agent config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convai/agents/create", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create agent failed (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result elCreateAgentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.AgentID == "" {
		return "", fmt.Errorf("create agent returned no agent_id")
	}
	return result.AgentID, nil
}

// DeleteAgent removes a programmatically created agent.
func (c *elAPIClient) DeleteAgent(ctx context.Context, agentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/convai/agents/"+agentID, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete agent failed (status %d): %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// buildELAgentConfig maps the stored provider configuration and the
// registered tools onto the vendor's agent creation payload.
func buildELAgentConfig(cfg *agentconfig.ElevenLabsConfig, tools []agent.Tool) elAgentConfig {
	name := cfg.DisplayName
	if name == "" {
		name = "voicekit-agent"
	}

	out := elAgentConfig{
		Name: name,
		ConversationConfig: &elConversationConfig{
			Agent: &elAgentSettings{
				Prompt:       &elPromptConfig{Prompt: cfg.Instructions},
				FirstMessage: cfg.FirstMessage,
				Language:     cfg.Language,
			},
		},
	}

	if cfg.LLM != "" {
		out.ConversationConfig.Agent.LLM = &elLLMConfig{Model: cfg.LLM}
	}
	if cfg.VoiceID != "" {
		out.ConversationConfig.TTS = &elTTSConfig{
			VoiceID:    cfg.VoiceID,
			Stability:  cfg.Stability,
			Similarity: cfg.Similarity,
		}
	}
	if cfg.Language != "" {
		out.ConversationConfig.ASR = &elASRConfig{Language: cfg.Language}
	}

	if len(tools) > 0 {
		settings := &elPlatformSettings{Tools: make([]elAgentTool, len(tools))}
		for i, t := range tools {
			settings.Tools[i] = elAgentTool{
				Type:        "client",
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		out.PlatformSettings = settings
	}
	return out
}
