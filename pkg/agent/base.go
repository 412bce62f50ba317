package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reconnect policy shared by all adapters.
const (
	// DefaultMaxReconnectAttempts is the automatic retry ceiling. Once
	// reached, the adapter settles into StatusError and stops retrying on
	// its own.
	DefaultMaxReconnectAttempts = 5

	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// ReconnectDelay returns the backoff before the given attempt (1-based):
// min(1s * 2^(attempt-1), 30s).
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		return reconnectMaxDelay
	}
	d := reconnectBaseDelay << (attempt - 1)
	if d > reconnectMaxDelay {
		d = reconnectMaxDelay
	}
	return d
}

// Base supplies the bookkeeping shared by all adapters: transcript log, tool
// registry, audio output state, error recording, callback fan-out, and the
// reconnect timer. Concrete adapters embed a *Base and drive the vendor
// session themselves.
type Base struct {
	provider Provider
	logger   *slog.Logger

	mu            sync.RWMutex
	initialized   bool
	opts          InitOptions
	status        ConnectionStatus
	session       SessionStatus
	transcript    []TranscriptItem
	tools         map[string]Tool
	muted         bool
	volume        float64
	lastErr       error
	metadata      Metadata
	maxReconnects int

	reconnectMu      sync.Mutex
	reconnectTimer   *time.Timer
	reconnectAttempt int
}

// NewBase creates the shared adapter state for a provider.
func NewBase(provider Provider, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		provider:      provider,
		logger:        logger.With("component", "agent."+string(provider)),
		tools:         make(map[string]Tool),
		volume:        1.0,
		maxReconnects: DefaultMaxReconnectAttempts,
		metadata:      Metadata{Provider: provider},
	}
}

// Provider returns the provider this adapter serves.
func (b *Base) Provider() Provider { return b.provider }

// Logger returns the adapter's structured logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// InitBase stores a shallow copy of the options, registers the initial tool
// list, and primes the audio output state.
func (b *Base) InitBase(opts InitOptions) {
	b.mu.Lock()
	b.opts = opts
	b.initialized = true
	b.muted = opts.Muted
	if opts.Volume > 0 {
		b.volume = clampVolume(opts.Volume)
	}
	b.mu.Unlock()

	for _, t := range opts.Tools {
		b.RegisterTool(t)
	}
}

// Initialized reports whether Init has run.
func (b *Base) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// Options returns the stored init options.
func (b *Base) Options() InitOptions {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.opts
}

// Status returns the current connection status.
func (b *Base) Status() ConnectionStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// SetStatus transitions the connection status and fans the event out.
func (b *Base) SetStatus(status ConnectionStatus, err error) {
	b.mu.Lock()
	if b.status == status {
		b.mu.Unlock()
		return
	}
	b.status = status
	fn := b.opts.Callbacks.OnConnection
	b.mu.Unlock()

	b.logger.Debug("connection status", "status", status.String())
	if fn != nil {
		fn(status, err)
	}
}

// SessionStatus returns the current turn-taking status.
func (b *Base) SessionStatus() SessionStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// SetSessionStatus transitions the turn-taking status and fans the event out.
func (b *Base) SetSessionStatus(status SessionStatus) {
	b.mu.Lock()
	if b.session == status {
		b.mu.Unlock()
		return
	}
	b.session = status
	fn := b.opts.Callbacks.OnSession
	b.mu.Unlock()

	if fn != nil {
		fn(status)
	}
}

// Metadata returns the provider description.
func (b *Base) Metadata() Metadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metadata
}

// SetMetadata replaces the provider description, typically after
// configuration load.
func (b *Base) SetMetadata(m Metadata) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metadata = m
}

// AppendTranscript appends one item in insertion order and fans it out.
func (b *Base) AppendTranscript(itemType TranscriptItemType, content string, metadata map[string]any) TranscriptItem {
	item := TranscriptItem{
		ID:        uuid.NewString(),
		Type:      itemType,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Provider:  b.provider,
		Metadata:  metadata,
	}

	b.mu.Lock()
	b.transcript = append(b.transcript, item)
	fn := b.opts.Callbacks.OnTranscript
	b.mu.Unlock()

	if fn != nil {
		fn(item)
	}
	return item
}

// Transcript returns a copy of the conversation log.
func (b *Base) Transcript() []TranscriptItem {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]TranscriptItem(nil), b.transcript...)
}

// ClearTranscript empties the conversation log.
func (b *Base) ClearTranscript() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transcript = nil
}

// ExportTranscript serializes the conversation log as indented JSON.
func (b *Base) ExportTranscript() ([]byte, error) {
	items := b.Transcript()
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("agent: export transcript: %w", err)
	}
	return data, nil
}

// RegisterTool adds or overwrites a tool by name.
func (b *Base) RegisterTool(tool Tool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tools[tool.Name] = tool
}

// LookupTool returns the tool registered under name.
func (b *Base) LookupTool(name string) (Tool, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tools[name]
	return t, ok
}

// Tools returns the registered tools in unspecified order.
func (b *Base) Tools() []Tool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Tool, 0, len(b.tools))
	for _, t := range b.tools {
		out = append(out, t)
	}
	return out
}

// ExecuteTool looks up the named tool, runs its handler under a wall-clock
// timer, and always returns a ToolResult. Handler errors and panics become an
// error-carrying result; a single failing tool never aborts the calling
// adapter method.
func (b *Base) ExecuteTool(call ToolCall) ToolResult {
	b.mu.RLock()
	onCall := b.opts.Callbacks.OnToolCall
	onResult := b.opts.Callbacks.OnToolResult
	b.mu.RUnlock()

	if onCall != nil {
		onCall(call)
	}

	start := time.Now()
	result := ToolResult{CallID: call.ID}

	tool, ok := b.LookupTool(call.Name)
	switch {
	case !ok:
		result.Error = fmt.Sprintf("tool %q not found", call.Name)
	case tool.Handler == nil:
		result.Error = fmt.Sprintf("tool %q has no handler", call.Name)
	default:
		func() {
			defer func() {
				if r := recover(); r != nil {
					result.Error = fmt.Sprintf("tool panicked: %v", r)
				}
			}()
			out, err := tool.Handler(call.Arguments)
			if err != nil {
				result.Error = err.Error()
			} else {
				result.Result = out
			}
		}()
	}

	result.Duration = time.Since(start)

	if result.Error != "" {
		b.RecordError(&ToolError{
			Provider: b.provider,
			Tool:     call.Name,
			CallID:   call.ID,
			Cause:    fmt.Errorf("%s", result.Error),
		})
	}

	if onResult != nil {
		onResult(result)
	}
	return result
}

// RecordError retains err as the last error and fans it out. Only the most
// recent error is kept.
func (b *Base) RecordError(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	b.lastErr = err
	fn := b.opts.Callbacks.OnError
	b.mu.Unlock()

	b.logger.Error("adapter error", "error", err)
	if fn != nil {
		fn(err)
	}
}

// LastError returns the most recently recorded error, or nil.
func (b *Base) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

// ClearLastError resets the recorded error.
func (b *Base) ClearLastError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = nil
}

// SetMuted sets the audio output mute state.
func (b *Base) SetMuted(muted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.muted = muted
}

// Muted returns the audio output mute state.
func (b *Base) Muted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.muted
}

// SetVolume sets the audio output volume, clamped to [0, 1].
func (b *Base) SetVolume(volume float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volume = clampVolume(volume)
}

// Volume returns the audio output volume.
func (b *Base) Volume() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.volume
}

// SetMaxReconnectAttempts overrides the automatic retry ceiling.
func (b *Base) SetMaxReconnectAttempts(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxReconnects = n
}

// ReconnectAttempt returns the current attempt counter.
func (b *Base) ReconnectAttempt() int {
	b.reconnectMu.Lock()
	defer b.reconnectMu.Unlock()
	return b.reconnectAttempt
}

// ScheduleReconnect arms a single reconnect timer with exponential backoff.
// A new call replaces any pending timer, so attempts are strictly sequential.
// Returns false once the attempt ceiling is reached; the adapter is then in
// terminal StatusError and a caller must re-initiate.
func (b *Base) ScheduleReconnect(fn func()) bool {
	b.mu.RLock()
	ceiling := b.maxReconnects
	b.mu.RUnlock()

	b.reconnectMu.Lock()
	b.reconnectAttempt++
	attempt := b.reconnectAttempt
	if attempt > ceiling {
		b.reconnectMu.Unlock()
		b.RecordError(NewConnectionError(b.provider, "retry ceiling reached", ErrReconnectExhausted, false))
		b.SetStatus(StatusError, ErrReconnectExhausted)
		return false
	}
	if b.reconnectTimer != nil {
		b.reconnectTimer.Stop()
	}
	delay := ReconnectDelay(attempt)
	b.reconnectTimer = time.AfterFunc(delay, fn)
	b.reconnectMu.Unlock()

	b.logger.Info("reconnect scheduled",
		"attempt", attempt,
		"delay", delay,
	)
	b.SetStatus(StatusReconnecting, nil)
	return true
}

// CancelReconnect stops any pending reconnect timer.
func (b *Base) CancelReconnect() {
	b.reconnectMu.Lock()
	defer b.reconnectMu.Unlock()
	if b.reconnectTimer != nil {
		b.reconnectTimer.Stop()
		b.reconnectTimer = nil
	}
}

// ResetReconnect clears the attempt counter after a successful connect.
func (b *Base) ResetReconnect() {
	b.reconnectMu.Lock()
	defer b.reconnectMu.Unlock()
	b.reconnectAttempt = 0
	if b.reconnectTimer != nil {
		b.reconnectTimer.Stop()
		b.reconnectTimer = nil
	}
}

// CleanupBase cancels reconnection and clears transcript, tools and the last
// error. The init options are kept so the adapter can reconnect later.
func (b *Base) CleanupBase() {
	b.CancelReconnect()
	b.ResetReconnect()

	b.mu.Lock()
	b.transcript = nil
	b.tools = make(map[string]Tool)
	b.lastErr = nil
	b.session = SessionIdle
	b.mu.Unlock()
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
