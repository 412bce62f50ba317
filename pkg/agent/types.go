package agent

import (
	"time"
)

// Provider identifies a voice agent backend.
type Provider string

const (
	// ProviderOpenAI uses the OpenAI Realtime API (speech-to-speech over WebSocket).
	ProviderOpenAI Provider = "openai"

	// ProviderElevenLabs uses the ElevenLabs Agents Platform.
	ProviderElevenLabs Provider = "elevenlabs"
)

// ConnectionStatus is the authoritative connection state of an adapter instance.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// SessionStatus reflects audio turn-taking, independent of connection state.
type SessionStatus int

const (
	SessionIdle SessionStatus = iota
	SessionListening
	SessionSpeaking
	SessionInterrupted
)

func (s SessionStatus) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionListening:
		return "listening"
	case SessionSpeaking:
		return "speaking"
	case SessionInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// TranscriptItemType classifies one logged unit of conversation.
type TranscriptItemType string

const (
	ItemUserSpeech    TranscriptItemType = "user_speech"
	ItemAIResponse    TranscriptItemType = "ai_response"
	ItemSystemMessage TranscriptItemType = "system_message"
	ItemToolCall      TranscriptItemType = "tool_call"
	ItemToolResult    TranscriptItemType = "tool_result"
	ItemError         TranscriptItemType = "error"
)

// TranscriptItem is one entry in an adapter's append-only conversation log.
type TranscriptItem struct {
	ID        string             `json:"id"`
	Type      TranscriptItemType `json:"type"`
	Content   string             `json:"content"`
	Timestamp time.Time          `json:"timestamp"`
	Provider  Provider           `json:"provider"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

// Tool defines a function the agent may invoke during conversation.
// Registering a tool with an existing name overwrites the earlier definition.
type Tool struct {
	// Name is the unique identifier for the tool (e.g., "navigate_to_page").
	Name string `json:"name"`

	// Description explains what the tool does, helping the model decide when to use it.
	Description string `json:"description"`

	// Parameters is the JSON Schema for the tool's arguments.
	Parameters map[string]any `json:"parameters"`

	// Handler is called when the agent invokes this tool.
	// Errors and panics are captured into the ToolResult, never propagated.
	Handler func(args map[string]any) (string, error) `json:"-"`
}

// ToolCall is an invocation of a tool by the agent.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Timestamp time.Time      `json:"timestamp"`
}

// ToolResult pairs with a ToolCall by CallID.
type ToolResult struct {
	CallID   string        `json:"callId"`
	Result   string        `json:"result"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Metadata is the static description of a provider, refreshed after
// configuration load.
type Metadata struct {
	Provider             Provider `json:"provider"`
	Model                string   `json:"model"`
	SupportsToolCalls    bool     `json:"supportsToolCalls"`
	SupportsInterruption bool     `json:"supportsInterruption"`
	SupportsCustomVoice  bool     `json:"supportsCustomVoice"`
	InputSampleRate      int      `json:"inputSampleRate"`
	OutputSampleRate     int      `json:"outputSampleRate"`

	// TypicalLatency is a qualitative hint for UI display, not a guarantee.
	TypicalLatency time.Duration `json:"typicalLatency"`
}

// Callbacks groups the caller-supplied event hooks. Any nil hook is skipped.
type Callbacks struct {
	// OnConnection fires on every connection status transition.
	OnConnection func(status ConnectionStatus, err error)

	// OnSession fires on every session (turn-taking) status transition.
	OnSession func(status SessionStatus)

	// OnTranscript fires for every item appended to the transcript,
	// including streaming partials (Metadata["final"] == false).
	OnTranscript func(item TranscriptItem)

	// OnAudio receives PCM16 audio from the agent.
	OnAudio func(pcm16 []byte)

	// OnToolCall fires before a registered tool executes.
	OnToolCall func(call ToolCall)

	// OnToolResult fires after a tool finishes, success or not.
	OnToolResult func(result ToolResult)

	// OnError fires for errors recorded on the adapter.
	OnError func(err error)
}

// InitOptions is the configuration bundle a caller supplies to Init.
// The adapter keeps a shallow copy; the caller retains ownership.
type InitOptions struct {
	Callbacks Callbacks

	// ConfigName selects a named configuration; empty resolves the
	// provider's default record.
	ConfigName string

	// Tools is the initial tool list registered during Init.
	Tools []Tool

	// ContextID and ReflinkID correlate the session with the visit that
	// spawned it. Both are opaque to the adapter.
	ContextID string
	ReflinkID string

	// Muted and Volume prime the audio output state.
	Muted  bool
	Volume float64
}
