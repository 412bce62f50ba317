// Package bundled contains the vendor adapters shipped with the module: one
// for the OpenAI Realtime API and one for the ElevenLabs Agents Platform.
// Both register themselves with the agent registry on import. Vendor wire
// formats never leak out of this package.
package bundled

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicekit/internal/httpc"
	"github.com/teslashibe/go-voicekit/pkg/agent"
	"github.com/teslashibe/go-voicekit/pkg/agentconfig"
	"github.com/teslashibe/go-voicekit/pkg/reporting"
)

const (
	openAIRealtimeURL = "wss://api.openai.com/v1/realtime"

	openAIHandshakeTimeout = 10 * time.Second
	openAIReadTimeout      = 60 * time.Second

	openAISampleRate = 24000 // OpenAI Realtime uses 24kHz PCM16

	usageReportInterval = time.Minute
)

func init() {
	agent.Register(agent.ProviderOpenAI, func(deps agent.Deps) (agent.Adapter, error) {
		return NewOpenAI(deps)
	})
}

// pendingCall assembles a streamed function call: the name arrives on
// response.output_item.added, the arguments in fragments keyed by call_id.
type pendingCall struct {
	name string
	args strings.Builder
}

// OpenAI implements agent.Adapter over the OpenAI Realtime API
// (speech-to-speech WebSocket).
type OpenAI struct {
	*agent.Base

	configs  *agentconfig.Manager
	reporter *reporting.Reporter

	mu         sync.Mutex
	conn       *websocket.Conn
	cancelRead context.CancelFunc
	closing    bool
	cfg        *agentconfig.OpenAIConfig
	pending    map[string]*pendingCall
	agentText  strings.Builder

	// Usage accounting for best-effort reporting.
	sessionID string
	startedAt time.Time
	messages  atomic.Int64
	toolCalls atomic.Int64
	chars     atomic.Int64
}

// NewOpenAI creates the OpenAI adapter from shared dependencies.
func NewOpenAI(deps agent.Deps) (*OpenAI, error) {
	if deps.Config == nil {
		return nil, agent.NewError(agent.ProviderOpenAI, "config manager is required", nil)
	}
	return &OpenAI{
		Base:     agent.NewBase(agent.ProviderOpenAI, deps.Logger),
		configs:  deps.Config,
		reporter: deps.Reporter,
		pending:  make(map[string]*pendingCall),
	}, nil
}

// Init implements Adapter. It resolves the named provider configuration and
// registers the initial tool list; no network session is opened.
func (o *OpenAI) Init(ctx context.Context, opts agent.InitOptions) error {
	resolved, err := o.configs.GetProviderConfig(ctx, "openai", opts.ConfigName)
	if err != nil {
		return agent.NewError(agent.ProviderOpenAI, "load configuration", err)
	}
	cfg, ok := resolved.Config.(*agentconfig.OpenAIConfig)
	if !ok {
		return agent.NewError(agent.ProviderOpenAI,
			fmt.Sprintf("unexpected configuration type %T", resolved.Config), nil)
	}

	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()

	o.InitBase(opts)
	o.SetMetadata(agent.Metadata{
		Provider:             agent.ProviderOpenAI,
		Model:                cfg.Model,
		SupportsToolCalls:    true,
		SupportsInterruption: true,
		SupportsCustomVoice:  false, // fixed voice list only
		InputSampleRate:      openAISampleRate,
		OutputSampleRate:     openAISampleRate,
		TypicalLatency:       300 * time.Millisecond,
	})
	return nil
}

// Connect implements Adapter.
func (o *OpenAI) Connect(ctx context.Context) error {
	if !o.Initialized() {
		return agent.ErrNotInitialized
	}
	if o.Status() == agent.StatusConnected {
		return agent.ErrAlreadyConnected
	}

	o.mu.Lock()
	o.closing = false
	cfg := o.cfg
	o.mu.Unlock()

	o.SetStatus(agent.StatusConnecting, nil)

	key, err := o.resolveCredential(ctx, cfg)
	if err != nil {
		o.RecordError(err)
		// A failed token-endpoint fetch is transient; a missing environment
		// variable is not.
		if agent.IsRetryable(err) {
			o.scheduleReconnect()
		} else {
			o.SetStatus(agent.StatusError, err)
		}
		return err
	}

	url := fmt.Sprintf("%s?model=%s", openAIRealtimeURL, cfg.Model)
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+key)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: openAIHandshakeTimeout}

	o.Logger().Info("connecting to OpenAI Realtime API", "model", cfg.Model)

	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		retryable := true
		reason := "dial failed"
		if resp != nil {
			reason = fmt.Sprintf("dial failed with status %d", resp.StatusCode)
			retryable = resp.StatusCode >= 500
		}
		connErr := agent.NewConnectionError(agent.ProviderOpenAI, reason, err, retryable)
		o.RecordError(connErr)
		if retryable {
			o.scheduleReconnect()
		} else {
			o.SetStatus(agent.StatusError, connErr)
		}
		return connErr
	}

	readCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.conn = conn
	o.cancelRead = cancel
	o.sessionID = uuid.NewString()
	o.startedAt = time.Now().UTC()
	o.agentText.Reset()
	o.pending = make(map[string]*pendingCall)
	o.mu.Unlock()

	o.messages.Store(0)
	o.toolCalls.Store(0)
	o.chars.Store(0)

	if err := o.configureSession(cfg); err != nil {
		_ = o.Disconnect()
		o.RecordError(err)
		return err
	}

	o.SetStatus(agent.StatusConnected, nil)
	o.ResetReconnect()

	go o.readLoop(readCtx)
	if o.reporter != nil {
		go o.usageLoop(readCtx)
	}

	o.Logger().Info("connected to OpenAI Realtime API", "session_id", o.sessionID)
	return nil
}

// Disconnect implements Adapter.
func (o *OpenAI) Disconnect() error {
	o.CancelReconnect()

	o.mu.Lock()
	o.closing = true
	conn := o.conn
	cancel := o.cancelRead
	o.conn = nil
	o.cancelRead = nil
	o.mu.Unlock()

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
		o.report(true)
		o.Logger().Info("disconnected from OpenAI Realtime API")
	}

	o.SetSessionStatus(agent.SessionIdle)
	o.SetStatus(agent.StatusDisconnected, nil)
	return nil
}

// Cleanup implements Adapter.
func (o *OpenAI) Cleanup() error {
	err := o.Disconnect()
	o.CleanupBase()
	return err
}

// IsConnected implements Adapter.
func (o *OpenAI) IsConnected() bool {
	return o.Status() == agent.StatusConnected
}

// SendMessage implements Adapter. The typed message is injected as a
// conversation item and a response is requested immediately.
func (o *OpenAI) SendMessage(text string) error {
	if err := o.sendJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}); err != nil {
		return err
	}
	if err := o.sendJSON(map[string]string{"type": "response.create"}); err != nil {
		return err
	}

	o.messages.Add(1)
	o.chars.Add(int64(len(text)))
	o.AppendTranscript(agent.ItemUserSpeech, text, map[string]any{"final": true, "typed": true})
	return nil
}

// SendAudio implements Adapter.
func (o *OpenAI) SendAudio(pcm16 []byte) error {
	return o.sendJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm16),
	})
}

// Interrupt implements Adapter. With no open session it is a no-op.
func (o *OpenAI) Interrupt() error {
	if !o.IsConnected() {
		return nil
	}
	if err := o.sendJSON(map[string]string{"type": "response.cancel"}); err != nil {
		return err
	}
	o.SetSessionStatus(agent.SessionInterrupted)
	return nil
}

// resolveCredential prefers the ephemeral token endpoint over a raw API key
// from the environment. Only the variable name is ever configured.
func (o *OpenAI) resolveCredential(ctx context.Context, cfg *agentconfig.OpenAIConfig) (string, error) {
	if cfg.TokenURL != "" {
		token, err := fetchEphemeralToken(ctx, cfg.TokenURL)
		if err != nil {
			return "", agent.NewConnectionError(agent.ProviderOpenAI, "fetch ephemeral token", err, true)
		}
		return token, nil
	}
	key := os.Getenv(cfg.APIKeyEnvVar)
	if key == "" {
		return "", agent.NewError(agent.ProviderOpenAI,
			fmt.Sprintf("environment variable %s is not set", cfg.APIKeyEnvVar),
			agent.ErrMissingAPIKey)
	}
	return key, nil
}

// configureSession sends session.update built from the provider configuration
// and the registered tools.
func (o *OpenAI) configureSession(cfg *agentconfig.OpenAIConfig) error {
	tools := o.Tools()
	apiTools := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		apiTools = append(apiTools, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  params,
		})
	}

	session := map[string]any{
		"modalities":          []string{"text", "audio"},
		"instructions":        cfg.Instructions,
		"voice":               cfg.Voice,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"temperature":         cfg.Temperature,
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           cfg.TurnDetection.Threshold,
			"prefix_padding_ms":   cfg.TurnDetection.PrefixPaddingMs,
			"silence_duration_ms": cfg.TurnDetection.SilenceDurationMs,
		},
		"tools":       apiTools,
		"tool_choice": "auto",
	}
	if cfg.MaxResponseTokens > 0 {
		session["max_response_output_tokens"] = cfg.MaxResponseTokens
	}

	return o.sendJSON(map[string]any{
		"type":    "session.update",
		"session": session,
	})
}

func (o *OpenAI) sendJSON(v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn == nil {
		return agent.ErrNotConnected
	}
	if err := o.conn.WriteJSON(v); err != nil {
		return agent.NewConnectionError(agent.ProviderOpenAI, "write failed", err, true)
	}
	return nil
}

// dropConnection releases a dead session before a reconnect attempt: the
// read context is cancelled so the usage loop stops, and the socket is
// closed. Without this every reconnect cycle would leak the previous loop.
func (o *OpenAI) dropConnection() {
	o.mu.Lock()
	conn := o.conn
	cancel := o.cancelRead
	o.conn = nil
	o.cancelRead = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// scheduleReconnect arms the shared backoff timer toward a fresh Connect.
func (o *OpenAI) scheduleReconnect() {
	o.ScheduleReconnect(func() {
		if err := o.Connect(context.Background()); err != nil {
			o.Logger().Warn("reconnect attempt failed", "error", err)
		}
	})
}

// readLoop pumps vendor events until the connection drops or Disconnect runs.
func (o *OpenAI) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		o.mu.Lock()
		conn := o.conn
		o.mu.Unlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(openAIReadTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			o.mu.Lock()
			closing := o.closing
			o.mu.Unlock()
			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			o.RecordError(agent.NewConnectionError(agent.ProviderOpenAI, "read failed", err, true))
			o.dropConnection()
			o.scheduleReconnect()
			return
		}

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			o.Logger().Warn("failed to parse message", "error", err)
			continue
		}
		o.handleEvent(msg)
	}
}

// handleEvent maps one Realtime event onto the provider-agnostic surface.
func (o *OpenAI) handleEvent(msg map[string]any) {
	msgType, _ := msg["type"].(string)

	switch msgType {
	case "session.created":
		o.Logger().Info("session created")

	case "session.updated":
		o.Logger().Debug("session updated")

	case "input_audio_buffer.speech_started":
		// User barge-in: a speaking agent is interrupted before listening.
		if o.SessionStatus() == agent.SessionSpeaking {
			o.SetSessionStatus(agent.SessionInterrupted)
			o.emitAudioStop()
		}
		o.SetSessionStatus(agent.SessionListening)

	case "input_audio_buffer.speech_stopped":
		o.SetSessionStatus(agent.SessionIdle)

	case "conversation.item.input_audio_transcription.completed":
		if transcript, ok := msg["transcript"].(string); ok && transcript != "" {
			o.messages.Add(1)
			o.chars.Add(int64(len(transcript)))
			o.AppendTranscript(agent.ItemUserSpeech, transcript, map[string]any{"final": true})
		}

	case "response.audio.delta":
		o.SetSessionStatus(agent.SessionSpeaking)
		if delta, ok := msg["delta"].(string); ok && !o.Muted() {
			if audio, err := base64.StdEncoding.DecodeString(delta); err == nil {
				if fn := o.Options().Callbacks.OnAudio; fn != nil {
					fn(audio)
				}
			}
		}

	case "response.audio.done":
		o.SetSessionStatus(agent.SessionIdle)

	case "response.audio_transcript.delta":
		if delta, ok := msg["delta"].(string); ok {
			o.mu.Lock()
			o.agentText.WriteString(delta)
			o.mu.Unlock()
			o.AppendTranscript(agent.ItemAIResponse, delta, map[string]any{"final": false})
		}

	case "response.audio_transcript.done":
		o.mu.Lock()
		text := o.agentText.String()
		o.agentText.Reset()
		o.mu.Unlock()
		if text != "" {
			o.messages.Add(1)
			o.chars.Add(int64(len(text)))
			o.AppendTranscript(agent.ItemAIResponse, text, map[string]any{"final": true})
		}

	case "response.output_item.added":
		o.trackFunctionCallItem(msg)

	case "response.function_call_arguments.delta":
		o.appendCallArguments(msg)

	case "response.function_call_arguments.done":
		o.finishFunctionCall(msg)

	case "error":
		if errData, ok := msg["error"].(map[string]any); ok {
			errMsg, _ := errData["message"].(string)
			errCode, _ := errData["code"].(string)
			o.RecordError(agent.NewError(agent.ProviderOpenAI,
				fmt.Sprintf("api error %s: %s", errCode, errMsg), nil))
		}

	default:
		// Ignore other event types.
	}
}

// trackFunctionCallItem captures the tool name announced ahead of the
// streamed arguments.
func (o *OpenAI) trackFunctionCallItem(msg map[string]any) {
	item, ok := msg["item"].(map[string]any)
	if !ok {
		return
	}
	if itemType, _ := item["type"].(string); itemType != "function_call" {
		return
	}
	callID, _ := item["call_id"].(string)
	name, _ := item["name"].(string)
	if callID == "" {
		return
	}

	o.mu.Lock()
	pc := o.pending[callID]
	if pc == nil {
		pc = &pendingCall{}
		o.pending[callID] = pc
	}
	pc.name = name
	o.mu.Unlock()
}

func (o *OpenAI) appendCallArguments(msg map[string]any) {
	callID, _ := msg["call_id"].(string)
	delta, _ := msg["delta"].(string)
	if callID == "" || delta == "" {
		return
	}

	o.mu.Lock()
	pc := o.pending[callID]
	if pc == nil {
		pc = &pendingCall{}
		o.pending[callID] = pc
	}
	pc.args.WriteString(delta)
	o.mu.Unlock()
}

// finishFunctionCall assembles a completed tool invocation, dispatches it
// through the shared executor, and submits the result back to the model.
func (o *OpenAI) finishFunctionCall(msg map[string]any) {
	callID, _ := msg["call_id"].(string)
	name, _ := msg["name"].(string)
	argsStr, _ := msg["arguments"].(string)

	o.mu.Lock()
	if pc := o.pending[callID]; pc != nil {
		if name == "" {
			name = pc.name
		}
		if argsStr == "" {
			argsStr = pc.args.String()
		}
		delete(o.pending, callID)
	}
	o.mu.Unlock()

	var args map[string]any
	if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
		args = make(map[string]any)
	}

	// Some event streams omit the name on the done event; fall back to the
	// argument shape.
	if name == "" {
		name = inferToolName(args)
	}

	o.Logger().Info("tool call received", "name", name, "call_id", callID)
	o.toolCalls.Add(1)

	call := agent.ToolCall{
		ID:        callID,
		Name:      name,
		Arguments: args,
		Timestamp: time.Now().UTC(),
	}
	o.AppendTranscript(agent.ItemToolCall, name, map[string]any{"call_id": callID, "arguments": args})

	result := o.ExecuteTool(call)

	content := result.Result
	if result.Error != "" {
		content = result.Error
	}
	o.AppendTranscript(agent.ItemToolResult, content, map[string]any{
		"call_id": callID,
		"error":   result.Error != "",
	})

	output := result.Result
	if result.Error != "" {
		output = fmt.Sprintf(`{"error":%q}`, result.Error)
	}
	if err := o.sendJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}); err != nil {
		o.RecordError(err)
		return
	}
	if err := o.sendJSON(map[string]string{"type": "response.create"}); err != nil {
		o.RecordError(err)
	}
}

// inferToolName guesses the standard tool from the shape of its arguments.
func inferToolName(args map[string]any) string {
	switch {
	case hasKey(args, "page"):
		return "navigate_to_page"
	case hasKey(args, "selector") || hasKey(args, "elementId"):
		return "highlight_element"
	case hasKey(args, "jobSpec") || hasKey(args, "jobDescription"):
		return "analyze_job_spec"
	case hasKey(args, "email") || hasKey(args, "message"):
		return "submit_contact_form"
	case hasKey(args, "contextId"):
		return "load_context"
	default:
		return ""
	}
}

func hasKey(m map[string]any, k string) bool {
	_, ok := m[k]
	return ok
}

// emitAudioStop tells the audio consumer to flush its playback buffer.
func (o *OpenAI) emitAudioStop() {
	if fn := o.Options().Callbacks.OnAudio; fn != nil {
		fn(nil)
	}
}

// usageLoop posts periodic usage snapshots while the session is open.
func (o *OpenAI) usageLoop(ctx context.Context) {
	ticker := time.NewTicker(usageReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.report(false)
		}
	}
}

// report posts a usage snapshot. Reporting is best effort and never blocks.
func (o *OpenAI) report(final bool) {
	if o.reporter == nil {
		return
	}
	o.mu.Lock()
	sessionID := o.sessionID
	startedAt := o.startedAt
	o.mu.Unlock()
	if sessionID == "" {
		return
	}

	tokens := int(o.chars.Load() / 4) // rough chars-per-token estimate

	o.reporter.Report(reporting.Snapshot{
		SessionID:        sessionID,
		Provider:         string(agent.ProviderOpenAI),
		StartedAt:        startedAt,
		DurationMs:       time.Since(startedAt).Milliseconds(),
		Messages:         int(o.messages.Load()),
		ToolCalls:        int(o.toolCalls.Load()),
		EstimatedTokens:  tokens,
		EstimatedCostUSD: float64(tokens) * 0.00002,
		Final:            final,
	})
}

// fetchEphemeralToken asks the token endpoint for a short-lived session
// credential so the long-lived key never reaches this process.
func fetchEphemeralToken(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Token        string `json:"token"`
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	switch {
	case payload.ClientSecret.Value != "":
		return payload.ClientSecret.Value, nil
	case payload.Token != "":
		return payload.Token, nil
	default:
		return "", fmt.Errorf("token endpoint returned no credential")
	}
}

// Ensure OpenAI implements Adapter.
var _ agent.Adapter = (*OpenAI)(nil)
