package bundled

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicekit/pkg/agent"
	"github.com/teslashibe/go-voicekit/pkg/agentconfig"
	"github.com/teslashibe/go-voicekit/pkg/reporting"
)

const (
	elevenLabsConvAIURL = "wss://api.elevenlabs.io/v1/convai/conversation"

	elevenLabsHandshakeTimeout = 10 * time.Second
	elevenLabsReadTimeout      = 60 * time.Second

	elevenLabsSampleRate = 16000
)

func init() {
	agent.Register(agent.ProviderElevenLabs, func(deps agent.Deps) (agent.Adapter, error) {
		return NewElevenLabs(deps)
	})
}

// ElevenLabs implements agent.Adapter over the ElevenLabs Agents Platform
// (ConvAI WebSocket). When the configuration carries no usable agent id, one
// is created programmatically from the voice and prompt settings before
// dialing.
type ElevenLabs struct {
	*agent.Base

	configs  *agentconfig.Manager
	reporter *reporting.Reporter

	mu         sync.Mutex
	conn       *websocket.Conn
	cancelRead context.CancelFunc
	closing    bool
	cfg        *agentconfig.ElevenLabsConfig
	api        *elAPIClient

	// agentID is the resolved agent, configured or auto-created.
	agentID      string
	agentCreated bool

	sessionID string
	startedAt time.Time
	messages  atomic.Int64
	toolCalls atomic.Int64
	chars     atomic.Int64
}

// NewElevenLabs creates the ElevenLabs adapter from shared dependencies.
func NewElevenLabs(deps agent.Deps) (*ElevenLabs, error) {
	if deps.Config == nil {
		return nil, agent.NewError(agent.ProviderElevenLabs, "config manager is required", nil)
	}
	return &ElevenLabs{
		Base:     agent.NewBase(agent.ProviderElevenLabs, deps.Logger),
		configs:  deps.Config,
		reporter: deps.Reporter,
	}, nil
}

// Init implements Adapter.
func (e *ElevenLabs) Init(ctx context.Context, opts agent.InitOptions) error {
	resolved, err := e.configs.GetProviderConfig(ctx, "elevenlabs", opts.ConfigName)
	if err != nil {
		return agent.NewError(agent.ProviderElevenLabs, "load configuration", err)
	}
	cfg, ok := resolved.Config.(*agentconfig.ElevenLabsConfig)
	if !ok {
		return agent.NewError(agent.ProviderElevenLabs,
			fmt.Sprintf("unexpected configuration type %T", resolved.Config), nil)
	}

	e.mu.Lock()
	e.cfg = cfg
	if !agentconfig.IsPlaceholderAgentID(cfg.AgentID) {
		e.agentID = cfg.AgentID
	}
	e.mu.Unlock()

	e.InitBase(opts)
	e.SetMetadata(agent.Metadata{
		Provider:             agent.ProviderElevenLabs,
		Model:                cfg.LLM,
		SupportsToolCalls:    true,
		SupportsInterruption: true,
		SupportsCustomVoice:  true,
		InputSampleRate:      elevenLabsSampleRate,
		OutputSampleRate:     elevenLabsSampleRate,
		TypicalLatency:       500 * time.Millisecond,
	})
	return nil
}

// Connect implements Adapter.
func (e *ElevenLabs) Connect(ctx context.Context) error {
	if !e.Initialized() {
		return agent.ErrNotInitialized
	}
	if e.Status() == agent.StatusConnected {
		return agent.ErrAlreadyConnected
	}

	e.mu.Lock()
	e.closing = false
	cfg := e.cfg
	agentID := e.agentID
	e.mu.Unlock()

	e.SetStatus(agent.StatusConnecting, nil)

	key := os.Getenv(cfg.APIKeyEnvVar)
	if key == "" && cfg.TokenURL == "" {
		err := agent.NewError(agent.ProviderElevenLabs,
			fmt.Sprintf("environment variable %s is not set", cfg.APIKeyEnvVar),
			agent.ErrMissingAPIKey)
		e.RecordError(err)
		e.SetStatus(agent.StatusError, err)
		return err
	}
	if cfg.TokenURL != "" {
		token, err := fetchEphemeralToken(ctx, cfg.TokenURL)
		if err != nil {
			connErr := agent.NewConnectionError(agent.ProviderElevenLabs, "fetch ephemeral token", err, true)
			e.RecordError(connErr)
			e.scheduleReconnect()
			return connErr
		}
		key = token
	}

	e.mu.Lock()
	if e.api == nil {
		e.api = newELAPIClient(key)
	}
	e.mu.Unlock()

	if agentID == "" {
		created, err := e.createAgent(ctx, cfg)
		if err != nil {
			e.RecordError(err)
			e.SetStatus(agent.StatusError, err)
			return err
		}
		agentID = created
	}

	wsURL, err := url.Parse(elevenLabsConvAIURL)
	if err != nil {
		return agent.NewError(agent.ProviderElevenLabs, "invalid url", err)
	}
	q := wsURL.Query()
	q.Set("agent_id", agentID)
	wsURL.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", key)

	dialer := websocket.Dialer{HandshakeTimeout: elevenLabsHandshakeTimeout}

	e.Logger().Info("connecting to ElevenLabs Agents Platform", "agent_id", agentID)

	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		retryable := true
		reason := "dial failed"
		if resp != nil {
			reason = fmt.Sprintf("dial failed with status %d", resp.StatusCode)
			retryable = resp.StatusCode >= 500
		}
		connErr := agent.NewConnectionError(agent.ProviderElevenLabs, reason, err, retryable)
		e.RecordError(connErr)
		if retryable {
			e.scheduleReconnect()
		} else {
			e.SetStatus(agent.StatusError, connErr)
		}
		return connErr
	}

	readCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.conn = conn
	e.cancelRead = cancel
	e.sessionID = uuid.NewString()
	e.startedAt = time.Now().UTC()
	e.mu.Unlock()

	e.messages.Store(0)
	e.toolCalls.Store(0)
	e.chars.Store(0)

	e.SetStatus(agent.StatusConnected, nil)
	e.ResetReconnect()

	go e.readLoop(readCtx)
	if e.reporter != nil {
		go e.usageLoop(readCtx)
	}

	e.Logger().Info("connected to ElevenLabs Agents Platform", "session_id", e.sessionID)
	return nil
}

// createAgent provisions an agent from the stored voice and prompt settings.
func (e *ElevenLabs) createAgent(ctx context.Context, cfg *agentconfig.ElevenLabsConfig) (string, error) {
	if cfg.VoiceID == "" {
		return "", agent.NewError(agent.ProviderElevenLabs,
			"configuration has neither agent id nor voice id", nil)
	}

	e.Logger().Info("creating agent programmatically",
		"voice_id", cfg.VoiceID,
		"llm", cfg.LLM,
	)

	agentID, err := e.api.CreateAgent(ctx, buildELAgentConfig(cfg, e.Tools()))
	if err != nil {
		return "", agent.NewError(agent.ProviderElevenLabs, "create agent failed", err)
	}

	e.mu.Lock()
	e.agentID = agentID
	e.agentCreated = true
	e.mu.Unlock()

	e.Logger().Info("agent created", "agent_id", agentID)
	return agentID, nil
}

// AgentID returns the resolved agent id, configured or auto-created.
func (e *ElevenLabs) AgentID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agentID
}

// Disconnect implements Adapter.
func (e *ElevenLabs) Disconnect() error {
	e.CancelReconnect()

	e.mu.Lock()
	e.closing = true
	conn := e.conn
	cancel := e.cancelRead
	e.conn = nil
	e.cancelRead = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		_ = conn.Close()
		e.report(true)
		e.Logger().Info("disconnected from ElevenLabs Agents Platform")
	}

	e.SetSessionStatus(agent.SessionIdle)
	e.SetStatus(agent.StatusDisconnected, nil)
	return nil
}

// Cleanup implements Adapter. A programmatically created agent is removed so
// agents do not accumulate on the platform.
func (e *ElevenLabs) Cleanup() error {
	err := e.Disconnect()

	e.mu.Lock()
	api := e.api
	agentID := e.agentID
	created := e.agentCreated
	e.agentID = ""
	e.agentCreated = false
	e.mu.Unlock()

	if created && api != nil && agentID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if delErr := api.DeleteAgent(ctx, agentID); delErr != nil {
			e.Logger().Warn("failed to delete auto-created agent",
				"agent_id", agentID,
				"error", delErr,
			)
		}
	}

	e.CleanupBase()
	return err
}

// IsConnected implements Adapter.
func (e *ElevenLabs) IsConnected() bool {
	return e.Status() == agent.StatusConnected
}

// SendMessage implements Adapter.
func (e *ElevenLabs) SendMessage(text string) error {
	if err := e.sendJSON(map[string]string{
		"type": "user_message",
		"text": text,
	}); err != nil {
		return err
	}
	e.messages.Add(1)
	e.chars.Add(int64(len(text)))
	e.AppendTranscript(agent.ItemUserSpeech, text, map[string]any{"final": true, "typed": true})
	return nil
}

// SendAudio implements Adapter. The platform expects a flat message carrying
// the base64 chunk, not a typed envelope.
func (e *ElevenLabs) SendAudio(pcm16 []byte) error {
	return e.sendJSON(map[string]string{
		"user_audio_chunk": base64.StdEncoding.EncodeToString(pcm16),
	})
}

// Interrupt implements Adapter. With no open session it is a no-op.
func (e *ElevenLabs) Interrupt() error {
	if !e.IsConnected() {
		return nil
	}
	if err := e.sendJSON(map[string]string{"type": "interrupt"}); err != nil {
		return err
	}
	e.SetSessionStatus(agent.SessionInterrupted)
	return nil
}

func (e *ElevenLabs) sendJSON(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return agent.ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return agent.NewError(agent.ProviderElevenLabs, "marshal failed", err)
	}
	if err := e.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return agent.NewConnectionError(agent.ProviderElevenLabs, "write failed", err, true)
	}
	return nil
}

// dropConnection releases a dead session before a reconnect attempt: the
// read context is cancelled so the usage loop stops, and the socket is
// closed. Without this every reconnect cycle would leak the previous loop.
func (e *ElevenLabs) dropConnection() {
	e.mu.Lock()
	conn := e.conn
	cancel := e.cancelRead
	e.conn = nil
	e.cancelRead = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (e *ElevenLabs) scheduleReconnect() {
	e.ScheduleReconnect(func() {
		if err := e.Connect(context.Background()); err != nil {
			e.Logger().Warn("reconnect attempt failed", "error", err)
		}
	})
}

func (e *ElevenLabs) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e.mu.Lock()
		conn := e.conn
		e.mu.Unlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(elevenLabsReadTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			e.mu.Lock()
			closing := e.closing
			e.mu.Unlock()
			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			e.RecordError(agent.NewConnectionError(agent.ProviderElevenLabs, "read failed", err, true))
			e.dropConnection()
			e.scheduleReconnect()
			return
		}

		var msg elIncoming
		if err := json.Unmarshal(data, &msg); err != nil {
			e.Logger().Warn("failed to parse message", "error", err)
			continue
		}
		e.handleEvent(msg)
	}
}

// handleEvent maps one ConvAI event onto the provider-agnostic surface.
func (e *ElevenLabs) handleEvent(msg elIncoming) {
	switch msg.Type {
	case "conversation_initiation_metadata":
		e.Logger().Debug("conversation initiated")

	case "audio":
		e.SetSessionStatus(agent.SessionSpeaking)
		audioData := msg.Audio
		if msg.AudioEvent != nil && msg.AudioEvent.AudioBase64 != "" {
			audioData = msg.AudioEvent.AudioBase64
		}
		if audioData == "" || e.Muted() {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(audioData)
		if err != nil {
			e.Logger().Warn("failed to decode audio", "error", err)
			return
		}
		if fn := e.Options().Callbacks.OnAudio; fn != nil {
			fn(audio)
		}

	case "user_transcript":
		text := msg.Text
		if msg.UserTranscriptionEvent != nil && msg.UserTranscriptionEvent.UserTranscript != "" {
			text = msg.UserTranscriptionEvent.UserTranscript
		}
		if text == "" {
			return
		}
		e.SetSessionStatus(agent.SessionListening)
		e.messages.Add(1)
		e.chars.Add(int64(len(text)))
		e.AppendTranscript(agent.ItemUserSpeech, text, map[string]any{"final": true})

	case "agent_response":
		text := msg.Text
		if msg.AgentResponseEvent != nil && msg.AgentResponseEvent.AgentResponse != "" {
			text = msg.AgentResponseEvent.AgentResponse
		}
		if text == "" {
			return
		}
		e.messages.Add(1)
		e.chars.Add(int64(len(text)))
		e.AppendTranscript(agent.ItemAIResponse, text, map[string]any{"final": true})
		e.SetSessionStatus(agent.SessionIdle)

	case "client_tool_call", "tool_call":
		e.handleToolCall(msg)

	case "interruption":
		e.SetSessionStatus(agent.SessionInterrupted)
		if fn := e.Options().Callbacks.OnAudio; fn != nil {
			fn(nil) // flush playback
		}

	case "ping":
		eventID := 0
		if msg.PingEvent != nil {
			eventID = msg.PingEvent.EventID
		}
		e.sendPong(eventID)

	case "error":
		e.RecordError(agent.NewError(agent.ProviderElevenLabs,
			fmt.Sprintf("api error %s: %s", msg.Code, msg.Message), nil))

	default:
		e.Logger().Debug("unhandled message type", "type", msg.Type)
	}
}

// handleToolCall dispatches a client tool invocation and writes the result
// back as client_tool_result.
func (e *ElevenLabs) handleToolCall(msg elIncoming) {
	name := msg.ToolName
	callID := msg.ToolCallID
	params := msg.Parameters
	if msg.ClientToolCall != nil {
		name = msg.ClientToolCall.ToolName
		callID = msg.ClientToolCall.ToolCallID
		params = msg.ClientToolCall.Parameters
	}
	if params == nil {
		params = make(map[string]any)
	}

	e.Logger().Info("tool call received", "name", name, "call_id", callID)
	e.toolCalls.Add(1)

	call := agent.ToolCall{
		ID:        callID,
		Name:      name,
		Arguments: params,
		Timestamp: time.Now().UTC(),
	}
	e.AppendTranscript(agent.ItemToolCall, name, map[string]any{"call_id": callID, "arguments": params})

	result := e.ExecuteTool(call)

	content := result.Result
	if result.Error != "" {
		content = result.Error
	}
	e.AppendTranscript(agent.ItemToolResult, content, map[string]any{
		"call_id": callID,
		"error":   result.Error != "",
	})

	out := result.Result
	if result.Error != "" {
		out = result.Error
	}
	if err := e.sendJSON(map[string]any{
		"type":         "client_tool_result",
		"tool_call_id": callID,
		"result":       out,
		"is_error":     result.Error != "",
	}); err != nil {
		e.RecordError(err)
	}
}

func (e *ElevenLabs) sendPong(eventID int) {
	_ = e.sendJSON(map[string]any{
		"type":     "pong",
		"event_id": eventID,
	})
}

func (e *ElevenLabs) usageLoop(ctx context.Context) {
	ticker := time.NewTicker(usageReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.report(false)
		}
	}
}

func (e *ElevenLabs) report(final bool) {
	if e.reporter == nil {
		return
	}
	e.mu.Lock()
	sessionID := e.sessionID
	startedAt := e.startedAt
	e.mu.Unlock()
	if sessionID == "" {
		return
	}

	tokens := int(e.chars.Load() / 4)

	e.reporter.Report(reporting.Snapshot{
		SessionID:        sessionID,
		Provider:         string(agent.ProviderElevenLabs),
		StartedAt:        startedAt,
		DurationMs:       time.Since(startedAt).Milliseconds(),
		Messages:         int(e.messages.Load()),
		ToolCalls:        int(e.toolCalls.Load()),
		EstimatedTokens:  tokens,
		EstimatedCostUSD: float64(tokens) * 0.00003,
		Final:            final,
	})
}

// Wire types for the ConvAI WebSocket.

type elIncoming struct {
	Type       string         `json:"type"`
	Audio      string         `json:"audio,omitempty"`
	Text       string         `json:"text,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message,omitempty"`

	// Nested event structures.
	AudioEvent             *elAudioEvent        `json:"audio_event,omitempty"`
	PingEvent              *elPingEvent         `json:"ping_event,omitempty"`
	ClientToolCall         *elClientToolCall    `json:"client_tool_call,omitempty"`
	UserTranscriptionEvent *elUserTranscription `json:"user_transcription_event,omitempty"`
	AgentResponseEvent     *elAgentResponse     `json:"agent_response_event,omitempty"`
}

type elAudioEvent struct {
	EventID     int    `json:"event_id"`
	AudioBase64 string `json:"audio_base_64"`
}

type elPingEvent struct {
	EventID int `json:"event_id"`
	PingMs  int `json:"ping_ms,omitempty"`
}

type elClientToolCall struct {
	ToolName   string         `json:"tool_name"`
	ToolCallID string         `json:"tool_call_id"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type elUserTranscription struct {
	UserTranscript string `json:"user_transcript"`
}

type elAgentResponse struct {
	AgentResponse string `json:"agent_response"`
}

// Ensure ElevenLabs implements Adapter.
var _ agent.Adapter = (*ElevenLabs)(nil)
