package agent

import (
	"context"
	"sync"
)

// ProviderMock is the provider name the Mock adapter reports.
const ProviderMock Provider = "mock"

// Mock is an in-memory Adapter for testing. It keeps the full Base
// bookkeeping (transcript, tools, status fan-out) but opens no network
// session. Behavior can be overridden per method via the *Func fields, and
// vendor events are injected with the Simulate* helpers.
type Mock struct {
	*Base

	mu sync.Mutex

	// Configurable behavior
	InitFunc        func(ctx context.Context, opts InitOptions) error
	ConnectFunc     func(ctx context.Context) error
	DisconnectFunc  func() error
	SendMessageFunc func(text string) error
	SendAudioFunc   func(pcm16 []byte) error
	InterruptFunc   func() error

	// Captured calls for assertions
	MessagesSent    []string
	AudioSent       [][]byte
	InterruptCalled bool
}

// NewMock creates a Mock adapter.
func NewMock() *Mock {
	return &Mock{
		Base: NewBase(ProviderMock, nil),
	}
}

// Init implements Adapter.
func (m *Mock) Init(ctx context.Context, opts InitOptions) error {
	if m.InitFunc != nil {
		return m.InitFunc(ctx, opts)
	}
	m.InitBase(opts)
	m.SetMetadata(Metadata{
		Provider:             ProviderMock,
		Model:                "mock-model",
		SupportsToolCalls:    true,
		SupportsInterruption: true,
		SupportsCustomVoice:  true,
		InputSampleRate:      16000,
		OutputSampleRate:     16000,
	})
	return nil
}

// Connect implements Adapter.
func (m *Mock) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	if !m.Initialized() {
		return ErrNotInitialized
	}
	if m.Status() == StatusConnected {
		return ErrAlreadyConnected
	}
	m.SetStatus(StatusConnecting, nil)
	m.SetStatus(StatusConnected, nil)
	m.ResetReconnect()
	return nil
}

// Disconnect implements Adapter.
func (m *Mock) Disconnect() error {
	if m.DisconnectFunc != nil {
		return m.DisconnectFunc()
	}
	m.CancelReconnect()
	m.SetSessionStatus(SessionIdle)
	m.SetStatus(StatusDisconnected, nil)
	return nil
}

// Cleanup implements Adapter.
func (m *Mock) Cleanup() error {
	err := m.Disconnect()
	m.CleanupBase()
	return err
}

// IsConnected implements Adapter.
func (m *Mock) IsConnected() bool {
	return m.Status() == StatusConnected
}

// SendMessage implements Adapter.
func (m *Mock) SendMessage(text string) error {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(text)
	}
	if !m.IsConnected() {
		return ErrNotConnected
	}
	m.mu.Lock()
	m.MessagesSent = append(m.MessagesSent, text)
	m.mu.Unlock()
	m.AppendTranscript(ItemUserSpeech, text, map[string]any{"final": true})
	return nil
}

// SendAudio implements Adapter.
func (m *Mock) SendAudio(pcm16 []byte) error {
	if m.SendAudioFunc != nil {
		return m.SendAudioFunc(pcm16)
	}
	if !m.IsConnected() {
		return ErrNotConnected
	}
	m.mu.Lock()
	m.AudioSent = append(m.AudioSent, pcm16)
	m.mu.Unlock()
	return nil
}

// Interrupt implements Adapter. Like the real adapters it is a no-op when no
// session is open.
func (m *Mock) Interrupt() error {
	if m.InterruptFunc != nil {
		return m.InterruptFunc()
	}
	if !m.IsConnected() {
		return nil
	}
	m.mu.Lock()
	m.InterruptCalled = true
	m.mu.Unlock()
	m.SetSessionStatus(SessionInterrupted)
	return nil
}

// Test helpers

// SimulateUserSpeech injects a finalized user transcript.
func (m *Mock) SimulateUserSpeech(text string) TranscriptItem {
	return m.AppendTranscript(ItemUserSpeech, text, map[string]any{"final": true})
}

// SimulateAgentResponse injects an agent reply and walks the session through
// speaking back to idle.
func (m *Mock) SimulateAgentResponse(text string) TranscriptItem {
	m.SetSessionStatus(SessionSpeaking)
	item := m.AppendTranscript(ItemAIResponse, text, map[string]any{"final": true})
	m.SetSessionStatus(SessionIdle)
	return item
}

// SimulateAudio delivers agent audio to the OnAudio callback, honoring mute.
func (m *Mock) SimulateAudio(pcm16 []byte) {
	if m.Muted() {
		return
	}
	if fn := m.Options().Callbacks.OnAudio; fn != nil {
		fn(pcm16)
	}
}

// SimulateToolCall dispatches a tool invocation through the shared executor
// and returns its result.
func (m *Mock) SimulateToolCall(call ToolCall) ToolResult {
	return m.ExecuteTool(call)
}

// SimulateError records an error as if the vendor session reported it.
func (m *Mock) SimulateError(err error) {
	m.RecordError(err)
}

// SimulateDrop emulates an unexpected session loss: the connection enters the
// reconnecting state and fn runs after the backoff delay. Returns false when
// the retry ceiling is already spent.
func (m *Mock) SimulateDrop(fn func()) bool {
	m.SetStatus(StatusDisconnected, nil)
	return m.ScheduleReconnect(fn)
}

// Reset clears captured calls without touching Base state.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSent = nil
	m.AudioSent = nil
	m.InterruptCalled = false
}

// Ensure Mock implements Adapter.
var _ Adapter = (*Mock)(nil)
