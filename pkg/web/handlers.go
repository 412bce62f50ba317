package web

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-voicekit/pkg/agent"
	"github.com/teslashibe/go-voicekit/pkg/agentconfig"
	"github.com/teslashibe/go-voicekit/pkg/tools"
)

func parseProvider(c *fiber.Ctx) (agent.Provider, error) {
	p := agent.Provider(c.Params("provider"))
	switch p {
	case agent.ProviderOpenAI, agent.ProviderElevenLabs:
		return p, nil
	default:
		return "", fiber.NewError(fiber.StatusBadRequest, "unknown provider: "+string(p))
	}
}

// startSessionRequest is the body for POST /api/voice/:provider/session.
type startSessionRequest struct {
	ConfigName string  `json:"configName"`
	ContextID  string  `json:"contextId"`
	ReflinkID  string  `json:"reflinkId"`
	Muted      bool    `json:"muted"`
	Volume     float64 `json:"volume"`
}

// handleStartSession creates, initializes and connects an adapter for the
// provider. One live session per provider; starting again replaces it.
func (s *Server) handleStartSession(c *fiber.Ctx) error {
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}

	var req startSessionRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}

	if old := s.session(provider); old != nil {
		if err := old.Cleanup(); err != nil {
			s.logger.Warn("cleanup of previous session failed", "error", err)
		}
	}

	a, err := agent.New(provider, s.deps)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	toolOpts := s.toolOptions
	toolOpts.SessionID = req.ContextID

	initOpts := agent.InitOptions{
		ConfigName: req.ConfigName,
		ContextID:  req.ContextID,
		ReflinkID:  req.ReflinkID,
		Muted:      req.Muted,
		Volume:     req.Volume,
		Tools:      tools.Standard(toolOpts),
		Callbacks: agent.Callbacks{
			OnTranscript: s.transcriptHub.BroadcastTranscript,
			OnConnection: func(status agent.ConnectionStatus, err error) {
				s.transcriptHub.BroadcastConnection(provider, status)
			},
			OnSession: func(status agent.SessionStatus) {
				s.transcriptHub.BroadcastSession(provider, status)
			},
			OnAudio: s.transcriptHub.BroadcastAudio,
		},
	}

	if err := a.Init(c.Context(), initOpts); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if err := a.Connect(c.Context()); err != nil {
		// The adapter may still be retrying in the background; report the
		// state as-is.
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"provider": provider,
			"status":   a.Status().String(),
			"error":    err.Error(),
		})
	}

	s.mu.Lock()
	s.sessions[provider] = a
	s.mu.Unlock()

	return c.JSON(fiber.Map{
		"provider": provider,
		"status":   a.Status().String(),
		"metadata": a.Metadata(),
	})
}

// handleSessionStatus reports the live session state for the provider.
func (s *Server) handleSessionStatus(c *fiber.Ctx) error {
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}

	a := s.session(provider)
	if a == nil {
		return c.JSON(fiber.Map{
			"provider": provider,
			"status":   agent.StatusDisconnected.String(),
		})
	}

	resp := fiber.Map{
		"provider":        provider,
		"status":          a.Status().String(),
		"sessionStatus":   a.SessionStatus().String(),
		"muted":           a.Muted(),
		"volume":          a.Volume(),
		"transcriptItems": len(a.Transcript()),
		"metadata":        a.Metadata(),
	}
	if err := a.LastError(); err != nil {
		resp["lastError"] = err.Error()
	}
	return c.JSON(resp)
}

// handleEndSession disconnects and removes the provider's session.
func (s *Server) handleEndSession(c *fiber.Ctx) error {
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	a := s.sessions[provider]
	delete(s.sessions, provider)
	s.mu.Unlock()

	if a == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err := a.Cleanup(); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleSendMessage injects a typed user message into the session.
func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "text is required")
	}

	a := s.session(provider)
	if a == nil {
		return fiber.NewError(fiber.StatusConflict, "no live session")
	}
	if err := a.SendMessage(req.Text); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// handleInterrupt stops the current agent response.
func (s *Server) handleInterrupt(c *fiber.Ctx) error {
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}
	a := s.session(provider)
	if a == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err := a.Interrupt(); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Server-side tool execution.

// executeToolRequest mirrors the envelope the client tool set POSTs.
type executeToolRequest struct {
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`
	SessionID  string         `json:"sessionId"`
	ToolCallID string         `json:"toolCallId"`
}

// handleExecuteTool runs a server-side tool and answers with the
// success/data/error envelope. Client-side tools are rejected here.
func (s *Server) handleExecuteTool(c *fiber.Ctx) error {
	var req executeToolRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	if req.Parameters == nil {
		req.Parameters = make(map[string]any)
	}

	s.logger.Info("tool execution requested",
		"tool", req.ToolName,
		"session_id", req.SessionID,
	)

	switch req.ToolName {
	case "load_context":
		return s.execLoadContext(c, req)
	case "analyze_job_spec":
		return s.execAnalyzeJob(c, req)
	case "submit_contact_form":
		return s.execContactForm(c, req)
	case "navigate_to_page", "highlight_element":
		return c.JSON(fiber.Map{
			"success": false,
			"error":   req.ToolName + " executes on the client, not the backend",
		})
	default:
		return c.JSON(fiber.Map{
			"success": false,
			"error":   "unknown tool: " + req.ToolName,
		})
	}
}

// Visitor context and contact storage. These are process-local; a real
// deployment swaps in its own persistence behind the same endpoints.
var (
	contextMu    sync.RWMutex
	contextStore = map[string]map[string]any{}

	contactMu  sync.Mutex
	contactLog []contactSubmission
)

type contactSubmission struct {
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Message    string    `json:"message"`
	SessionID  string    `json:"sessionId,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// StoreContext makes a visitor context available to load_context.
func StoreContext(id string, data map[string]any) {
	contextMu.Lock()
	defer contextMu.Unlock()
	contextStore[id] = data
}

func (s *Server) execLoadContext(c *fiber.Ctx, req executeToolRequest) error {
	id, _ := req.Parameters["contextId"].(string)
	if id == "" {
		return c.JSON(fiber.Map{"success": false, "error": "contextId is required"})
	}

	contextMu.RLock()
	data, ok := contextStore[id]
	contextMu.RUnlock()
	if !ok {
		return c.JSON(fiber.Map{"success": false, "error": "context not found: " + id})
	}
	return c.JSON(fiber.Map{"success": true, "data": data})
}

func (s *Server) execAnalyzeJob(c *fiber.Ctx, req executeToolRequest) error {
	spec, _ := req.Parameters["jobSpec"].(string)
	if spec == "" {
		spec, _ = req.Parameters["jobDescription"].(string)
	}
	if spec == "" {
		return c.JSON(fiber.Map{"success": false, "error": "jobSpec is required"})
	}
	return c.JSON(fiber.Map{"success": true, "data": analyzeJobSpec(spec)})
}

func (s *Server) execContactForm(c *fiber.Ctx, req executeToolRequest) error {
	email, _ := req.Parameters["email"].(string)
	message, _ := req.Parameters["message"].(string)
	name, _ := req.Parameters["name"].(string)
	if email == "" || message == "" {
		return c.JSON(fiber.Map{"success": false, "error": "email and message are required"})
	}

	sub := contactSubmission{
		Name:       name,
		Email:      email,
		Message:    message,
		SessionID:  req.SessionID,
		ReceivedAt: time.Now().UTC(),
	}
	contactMu.Lock()
	contactLog = append(contactLog, sub)
	contactMu.Unlock()

	s.logger.Info("contact form received", "email", email)
	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"received": true}})
}

// handleContact accepts a direct (non-tool) contact form submission.
func (s *Server) handleContact(c *fiber.Ctx) error {
	var sub contactSubmission
	if err := c.BodyParser(&sub); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	if sub.Email == "" || sub.Message == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email and message are required")
	}
	sub.ReceivedAt = time.Now().UTC()

	contactMu.Lock()
	contactLog = append(contactLog, sub)
	contactMu.Unlock()

	s.logger.Info("contact form received", "email", sub.Email)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"received": true})
}

// handleAnalyzeJob analyzes a job specification outside the tool envelope.
func (s *Server) handleAnalyzeJob(c *fiber.Ctx) error {
	var req struct {
		JobSpec string `json:"jobSpec"`
	}
	if err := c.BodyParser(&req); err != nil || req.JobSpec == "" {
		return fiber.NewError(fiber.StatusBadRequest, "jobSpec is required")
	}
	return c.JSON(analyzeJobSpec(req.JobSpec))
}

// knownSkills is the keyword profile the match score is computed against.
var knownSkills = []string{
	"go", "golang", "python", "typescript", "react",
	"websocket", "grpc", "rest", "sql", "sqlite", "postgres",
	"docker", "kubernetes", "aws", "gcp",
	"llm", "openai", "realtime", "voice", "audio",
}

// analyzeJobSpec scores a job spec against the skill profile.
func analyzeJobSpec(spec string) fiber.Map {
	lower := strings.ToLower(spec)

	var matched []string
	for _, skill := range knownSkills {
		if strings.Contains(lower, skill) {
			matched = append(matched, skill)
		}
	}

	score := 0
	if len(knownSkills) > 0 {
		score = len(matched) * 100 / len(knownSkills)
	}

	summary := "limited overlap with this role"
	switch {
	case score >= 40:
		summary = "strong overlap with this role"
	case score >= 15:
		summary = "moderate overlap with this role"
	}

	return fiber.Map{
		"matchedSkills": matched,
		"matchScore":    score,
		"summary":       summary,
	}
}

// handleConversationLog exports the transcript of a live session.
func (s *Server) handleConversationLog(c *fiber.Ctx) error {
	provider := agent.Provider(c.Query("provider", string(agent.ProviderOpenAI)))
	a := s.session(provider)
	if a == nil {
		return c.JSON([]agent.TranscriptItem{})
	}
	return c.JSON(a.Transcript())
}

// handleLogConversation accepts transcript items or aggregate usage payloads
// from clients and the reporter. Intake is fire-and-forget: malformed JSON
// is the only rejection.
func (s *Server) handleLogConversation(c *fiber.Ctx) error {
	var payload map[string]any
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	s.logger.Info("conversation log received",
		"session_id", payload["sessionId"],
		"provider", payload["provider"],
	)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleProviders lists the known providers and which of them have at least
// one persisted configuration.
func (s *Server) handleProviders(c *fiber.Ctx) error {
	stored, err := s.configs.StoredProviders(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"providers":  s.configs.Providers(),
		"configured": stored,
	})
}

// Configuration management.

func (s *Server) handleListConfig(c *fiber.Ctx) error {
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}
	name := c.Query("name")
	resolved, err := s.configs.GetProviderConfig(c.Context(), string(provider), name)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"id":          resolved.ID,
		"provider":    resolved.Provider,
		"name":        resolved.Name,
		"isDefault":   resolved.IsDefault,
		"synthesized": resolved.Synthesized(),
		"config":      resolved.Config,
	})
}

func (s *Server) handleConfigSchema(c *fiber.Ctx) error {
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}
	ser, ok := s.configs.Serializer(string(provider))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no serializer for "+string(provider))
	}
	return c.JSON(ser.Schema())
}

func (s *Server) handleSaveConfig(c *fiber.Ctx) error {
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}
	name := c.Params("name")

	ser, ok := s.configs.Serializer(string(provider))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no serializer for "+string(provider))
	}
	cfg, err := ser.Deserialize(string(c.Body()))
	if err != nil {
		if vErr, ok := err.(*agentconfig.ValidationError); ok {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":  "validation failed",
				"fields": vErr.Fields,
			})
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	isDefault := c.QueryBool("default", false)
	resolved, err := s.configs.SaveProviderConfig(c.Context(), string(provider), name, cfg, isDefault)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"id":        resolved.ID,
		"name":      resolved.Name,
		"isDefault": resolved.IsDefault,
	})
}

func (s *Server) handleDeleteConfig(c *fiber.Ctx) error {
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}
	deleted, err := s.configs.DeleteProviderConfig(c.Context(), string(provider), c.Params("name"))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if !deleted {
		return c.SendStatus(fiber.StatusNotFound)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleSetDefault(c *fiber.Ctx) error {
	provider, err := parseProvider(c)
	if err != nil {
		return err
	}
	if err := s.configs.SetDefaultProvider(c.Context(), string(provider), c.Params("name")); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleHealth runs the configuration health check across all providers.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	report := s.configs.PerformHealthCheck(c.Context())
	status := fiber.StatusOK
	if report.Status == agentconfig.HealthError {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(report)
}
