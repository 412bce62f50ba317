package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-voicekit/internal/httpc"
	"github.com/teslashibe/go-voicekit/pkg/agent"
	"github.com/teslashibe/go-voicekit/pkg/agentconfig"
)

const (
	openAISessionsURL      = "https://api.openai.com/v1/realtime/sessions"
	elevenLabsSignedURLFmt = "https://api.elevenlabs.io/v1/convai/conversation/get_signed_url?agent_id=%s"
)

// handleMintToken mints an ephemeral vendor credential for browser clients
// on the connect critical path. The raw API key is read from its environment
// variable and sent only to the vendor; the response carries the
// vendor-issued session token or signed URL, never the key.
func (s *Server) handleMintToken(c *fiber.Ctx) error {
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}

	resolved, err := s.configs.GetProviderConfig(c.Context(), string(provider), c.Query("config"))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	switch cfg := resolved.Config.(type) {
	case *agentconfig.OpenAIConfig:
		return s.mintOpenAIToken(c, cfg)
	case *agentconfig.ElevenLabsConfig:
		return s.mintElevenLabsURL(c, cfg)
	default:
		return fiber.NewError(fiber.StatusInternalServerError,
			fmt.Sprintf("unexpected configuration type %T", resolved.Config))
	}
}

func (s *Server) mintOpenAIToken(c *fiber.Ctx, cfg *agentconfig.OpenAIConfig) error {
	key := os.Getenv(cfg.APIKeyEnvVar)
	if key == "" {
		return fiber.NewError(fiber.StatusServiceUnavailable,
			"credential environment variable is not set")
	}

	body, err := json.Marshal(map[string]any{
		"model": cfg.Model,
		"voice": cfg.Voice,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	req, err := http.NewRequestWithContext(c.Context(), http.MethodPost, openAISessionsURL, bytes.NewReader(body))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpc.Client.Do(req)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "session mint failed: "+err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fiber.NewError(fiber.StatusBadGateway,
			fmt.Sprintf("session mint failed with status %d", resp.StatusCode))
	}

	var out struct {
		ClientSecret struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "decode session response: "+err.Error())
	}

	return c.JSON(fiber.Map{
		"provider":  agent.ProviderOpenAI,
		"token":     out.ClientSecret.Value,
		"expiresAt": out.ClientSecret.ExpiresAt,
	})
}

func (s *Server) mintElevenLabsURL(c *fiber.Ctx, cfg *agentconfig.ElevenLabsConfig) error {
	key := os.Getenv(cfg.APIKeyEnvVar)
	if key == "" {
		return fiber.NewError(fiber.StatusServiceUnavailable,
			"credential environment variable is not set")
	}
	agentID := cfg.AgentID
	if agentconfig.IsPlaceholderAgentID(agentID) {
		agentID = ""
	}
	if agentID == "" {
		return fiber.NewError(fiber.StatusConflict,
			"no agent id configured; signed URLs need a dashboard agent")
	}

	req, err := http.NewRequestWithContext(c.Context(), http.MethodGet,
		fmt.Sprintf(elevenLabsSignedURLFmt, agentID), nil)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	req.Header.Set("xi-api-key", key)

	resp, err := httpc.Client.Do(req)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "signed URL fetch failed: "+err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fiber.NewError(fiber.StatusBadGateway,
			fmt.Sprintf("signed URL fetch failed with status %d", resp.StatusCode))
	}

	var out struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "decode signed URL response: "+err.Error())
	}

	return c.JSON(fiber.Map{
		"provider":  agent.ProviderElevenLabs,
		"signedUrl": out.SignedURL,
	})
}
