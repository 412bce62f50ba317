// Package agent provides a provider-agnostic interface for realtime voice
// conversation backends.
//
// The package abstracts vendor-specific realtime APIs behind a common Adapter
// interface: connection lifecycle with bounded automatic reconnection, audio
// and text I/O, tool registration and dispatch, and an append-only transcript
// log. Two bundled adapters are provided in pkg/agent/bundled, one per vendor.
//
// Example usage:
//
//	a, err := agent.New(agent.ProviderOpenAI, agent.Deps{
//	    Logger: slog.Default(),
//	    Config: configManager,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = a.Init(ctx, agent.InitOptions{
//	    Tools: tools.Standard(toolOpts),
//	    Callbacks: agent.Callbacks{
//	        OnTranscript: func(item agent.TranscriptItem) {
//	            fmt.Printf("[%s] %s\n", item.Type, item.Content)
//	        },
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := a.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Cleanup()
package agent

import (
	"context"
)

// Adapter is the per-provider object implementing the shared voice agent
// contract over a vendor realtime session.
type Adapter interface {
	// Lifecycle

	// Init stores options, loads the provider configuration, and registers
	// caller-supplied and built-in tools. It does not open a network session.
	Init(ctx context.Context, opts InitOptions) error

	// Connect opens the vendor session. On failure the adapter records the
	// error and, while under the retry ceiling, schedules an automatic
	// reconnect before returning the error to the caller.
	Connect(ctx context.Context) error

	// Disconnect stops audio, cancels any pending reconnect, and closes the
	// vendor session.
	Disconnect() error

	// Cleanup is Disconnect plus clearing transcript, tool registry and the
	// last error. The adapter can be re-initialized afterwards.
	Cleanup() error

	// IsConnected returns true if the session is open and ready.
	IsConnected() bool

	// Status returns the current connection status.
	Status() ConnectionStatus

	// SessionStatus returns the current audio turn-taking status.
	SessionStatus() SessionStatus

	// Conversation I/O

	// SendMessage injects a typed user message into the conversation.
	SendMessage(text string) error

	// SendAudio streams PCM16 audio to the session.
	SendAudio(pcm16 []byte) error

	// Interrupt stops the current agent response (barge-in). It is a
	// best-effort no-op when no session is open and never returns an error
	// for that case.
	Interrupt() error

	// Audio output state

	SetMuted(muted bool)
	Muted() bool
	SetVolume(volume float64)
	Volume() float64

	// Tools

	// RegisterTool adds or overwrites a tool by name.
	RegisterTool(tool Tool)

	// Transcript

	// Transcript returns a copy of the conversation log in insertion order.
	Transcript() []TranscriptItem

	// ClearTranscript empties the conversation log.
	ClearTranscript()

	// ExportTranscript serializes the conversation log as indented JSON.
	ExportTranscript() ([]byte, error)

	// Errors

	// LastError returns the most recently recorded error, or nil.
	LastError() error

	// ClearLastError resets the recorded error.
	ClearLastError()

	// Metadata returns the provider description, refreshed after Init.
	Metadata() Metadata
}
