package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestReconnectDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
		{100, 30 * time.Second},
		{0, time.Second},
		{-3, time.Second},
	}

	for _, tc := range cases {
		if got := ReconnectDelay(tc.attempt); got != tc.want {
			t.Errorf("ReconnectDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBaseTranscript(t *testing.T) {
	t.Run("insertion order", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)

		b.AppendTranscript(ItemUserSpeech, "first", nil)
		b.AppendTranscript(ItemAIResponse, "second", nil)
		b.AppendTranscript(ItemUserSpeech, "third", nil)

		items := b.Transcript()
		if len(items) != 3 {
			t.Fatalf("expected 3 items, got %d", len(items))
		}
		for i, want := range []string{"first", "second", "third"} {
			if items[i].Content != want {
				t.Errorf("item %d = %q, want %q", i, items[i].Content, want)
			}
		}
	})

	t.Run("items carry id provider and timestamp", func(t *testing.T) {
		b := NewBase(ProviderOpenAI, nil)
		item := b.AppendTranscript(ItemSystemMessage, "hello", nil)

		if item.ID == "" {
			t.Error("expected generated id")
		}
		if item.Provider != ProviderOpenAI {
			t.Errorf("provider = %q, want openai", item.Provider)
		}
		if item.Timestamp.IsZero() {
			t.Error("expected non-zero timestamp")
		}
	})

	t.Run("transcript returns a copy", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		b.AppendTranscript(ItemUserSpeech, "original", nil)

		items := b.Transcript()
		items[0].Content = "mutated"

		if got := b.Transcript()[0].Content; got != "original" {
			t.Errorf("internal transcript mutated: %q", got)
		}
	})

	t.Run("clear empties the log", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		b.AppendTranscript(ItemUserSpeech, "x", nil)
		b.ClearTranscript()
		if len(b.Transcript()) != 0 {
			t.Error("expected empty transcript after clear")
		}
	})

	t.Run("export is valid json", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		b.AppendTranscript(ItemUserSpeech, "hello", map[string]any{"final": true})

		data, err := b.ExportTranscript()
		if err != nil {
			t.Fatalf("export failed: %v", err)
		}
		var items []TranscriptItem
		if err := json.Unmarshal(data, &items); err != nil {
			t.Fatalf("export is not valid json: %v", err)
		}
		if len(items) != 1 || items[0].Content != "hello" {
			t.Errorf("unexpected export content: %+v", items)
		}
	})

	t.Run("fan-out to callback", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		var got []string
		b.InitBase(InitOptions{Callbacks: Callbacks{
			OnTranscript: func(item TranscriptItem) {
				got = append(got, item.Content)
			},
		}})

		b.AppendTranscript(ItemUserSpeech, "a", nil)
		b.AppendTranscript(ItemAIResponse, "b", nil)

		if len(got) != 2 || got[0] != "a" || got[1] != "b" {
			t.Errorf("callback saw %v", got)
		}
	})
}

func TestBaseTools(t *testing.T) {
	t.Run("register overwrites by name", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)

		b.RegisterTool(Tool{Name: "greet", Handler: func(map[string]any) (string, error) {
			return "old", nil
		}})
		b.RegisterTool(Tool{Name: "greet", Handler: func(map[string]any) (string, error) {
			return "new", nil
		}})

		if len(b.Tools()) != 1 {
			t.Fatalf("expected 1 tool, got %d", len(b.Tools()))
		}
		result := b.ExecuteTool(ToolCall{ID: "c1", Name: "greet"})
		if result.Result != "new" {
			t.Errorf("result = %q, want the overwriting handler", result.Result)
		}
	})

	t.Run("execute success", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		b.RegisterTool(Tool{Name: "echo", Handler: func(args map[string]any) (string, error) {
			return fmt.Sprintf("%v", args["msg"]), nil
		}})

		result := b.ExecuteTool(ToolCall{ID: "c1", Name: "echo", Arguments: map[string]any{"msg": "hi"}})
		if result.Error != "" {
			t.Fatalf("unexpected error: %s", result.Error)
		}
		if result.Result != "hi" {
			t.Errorf("result = %q, want %q", result.Result, "hi")
		}
		if result.CallID != "c1" {
			t.Errorf("call id = %q", result.CallID)
		}
	})

	t.Run("execute unknown tool", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		result := b.ExecuteTool(ToolCall{ID: "c1", Name: "missing"})
		if result.Error == "" {
			t.Error("expected error result for unknown tool")
		}
	})

	t.Run("handler error becomes result error", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		b.RegisterTool(Tool{Name: "fail", Handler: func(map[string]any) (string, error) {
			return "", errors.New("boom")
		}})

		result := b.ExecuteTool(ToolCall{ID: "c1", Name: "fail"})
		if result.Error != "boom" {
			t.Errorf("error = %q, want boom", result.Error)
		}
	})

	t.Run("handler panic is captured", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		b.RegisterTool(Tool{Name: "panic", Handler: func(map[string]any) (string, error) {
			panic("kaboom")
		}})

		result := b.ExecuteTool(ToolCall{ID: "c1", Name: "panic"})
		if result.Error == "" {
			t.Fatal("expected panic captured as result error")
		}
	})

	t.Run("failure records tool error", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		b.ExecuteTool(ToolCall{ID: "c1", Name: "missing"})

		var toolErr *ToolError
		if !errors.As(b.LastError(), &toolErr) {
			t.Fatalf("last error = %v, want *ToolError", b.LastError())
		}
	})

	t.Run("callbacks fire before and after", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		var order []string
		b.InitBase(InitOptions{Callbacks: Callbacks{
			OnToolCall:   func(ToolCall) { order = append(order, "call") },
			OnToolResult: func(ToolResult) { order = append(order, "result") },
		}})
		b.RegisterTool(Tool{Name: "ok", Handler: func(map[string]any) (string, error) {
			order = append(order, "run")
			return "", nil
		}})

		b.ExecuteTool(ToolCall{ID: "c1", Name: "ok"})

		want := []string{"call", "run", "result"}
		if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
			t.Errorf("order = %v, want %v", order, want)
		}
	})
}

func TestBaseStatus(t *testing.T) {
	t.Run("unchanged status does not fan out", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		var fired int
		b.InitBase(InitOptions{Callbacks: Callbacks{
			OnConnection: func(ConnectionStatus, error) { fired++ },
		}})

		b.SetStatus(StatusConnecting, nil)
		b.SetStatus(StatusConnecting, nil)
		b.SetStatus(StatusConnected, nil)

		if fired != 2 {
			t.Errorf("callback fired %d times, want 2", fired)
		}
	})

	t.Run("record error keeps only the last", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		b.RecordError(errors.New("first"))
		b.RecordError(errors.New("second"))

		if got := b.LastError().Error(); got != "second" {
			t.Errorf("last error = %q, want second", got)
		}
		b.ClearLastError()
		if b.LastError() != nil {
			t.Error("expected nil after clear")
		}
	})

	t.Run("volume clamps", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		b.SetVolume(2.5)
		if b.Volume() != 1 {
			t.Errorf("volume = %v, want 1", b.Volume())
		}
		b.SetVolume(-1)
		if b.Volume() != 0 {
			t.Errorf("volume = %v, want 0", b.Volume())
		}
	})
}

func TestScheduleReconnect(t *testing.T) {
	t.Run("stops at the attempt ceiling", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		b.SetMaxReconnectAttempts(2)
		defer b.CancelReconnect()

		if !b.ScheduleReconnect(func() {}) {
			t.Fatal("attempt 1 should schedule")
		}
		if !b.ScheduleReconnect(func() {}) {
			t.Fatal("attempt 2 should schedule")
		}
		if b.ScheduleReconnect(func() {}) {
			t.Fatal("attempt 3 should be refused")
		}

		if b.Status() != StatusError {
			t.Errorf("status = %v, want error after exhaustion", b.Status())
		}
		if !errors.Is(b.LastError(), ErrReconnectExhausted) {
			t.Errorf("last error = %v, want ErrReconnectExhausted", b.LastError())
		}
	})

	t.Run("reset clears the attempt counter", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		b.SetMaxReconnectAttempts(1)
		defer b.CancelReconnect()

		b.ScheduleReconnect(func() {})
		b.ResetReconnect()
		if b.ReconnectAttempt() != 0 {
			t.Errorf("attempt = %d after reset", b.ReconnectAttempt())
		}
		if !b.ScheduleReconnect(func() {}) {
			t.Error("should schedule again after reset")
		}
	})

	t.Run("scheduling sets reconnecting status", func(t *testing.T) {
		b := NewBase(ProviderMock, nil)
		defer b.CancelReconnect()

		b.ScheduleReconnect(func() {})
		if b.Status() != StatusReconnecting {
			t.Errorf("status = %v, want reconnecting", b.Status())
		}
	})
}

func TestCleanupBase(t *testing.T) {
	b := NewBase(ProviderMock, nil)
	b.InitBase(InitOptions{})
	b.AppendTranscript(ItemUserSpeech, "x", nil)
	b.RegisterTool(Tool{Name: "t"})
	b.RecordError(errors.New("e"))

	b.CleanupBase()

	if len(b.Transcript()) != 0 {
		t.Error("transcript not cleared")
	}
	if len(b.Tools()) != 0 {
		t.Error("tools not cleared")
	}
	if b.LastError() != nil {
		t.Error("last error not cleared")
	}
	if !b.Initialized() {
		t.Error("init options should survive cleanup")
	}
}
