package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/teslashibe/go-voicekit/pkg/agentconfig"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	m := agentconfig.NewManager(agentconfig.NewMemoryStore())
	t.Cleanup(func() { m.Close() })
	return NewServer(Options{Port: "0", Configs: m})
}

func postJSON(t *testing.T, s *Server, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

type toolEnvelope struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   string         `json:"error"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) toolEnvelope {
	t.Helper()
	defer resp.Body.Close()
	var env toolEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestAnalyzeJobSpec(t *testing.T) {
	t.Run("strong overlap", func(t *testing.T) {
		out := analyzeJobSpec("golang python typescript react websocket grpc rest sql docker")
		if out["summary"] != "strong overlap with this role" {
			t.Fatalf("summary = %v (score %v)", out["summary"], out["matchScore"])
		}
		if out["matchScore"].(int) < 40 {
			t.Fatalf("score = %v, want >= 40", out["matchScore"])
		}
	})

	t.Run("moderate overlap", func(t *testing.T) {
		out := analyzeJobSpec("Senior Go engineer building realtime voice agents over websocket")
		if out["summary"] != "moderate overlap with this role" {
			t.Fatalf("summary = %v (score %v)", out["summary"], out["matchScore"])
		}
		matched := out["matchedSkills"].([]string)
		found := map[string]bool{}
		for _, skill := range matched {
			found[skill] = true
		}
		for _, want := range []string{"go", "realtime", "voice", "websocket"} {
			if !found[want] {
				t.Fatalf("matched %v, missing %q", matched, want)
			}
		}
	})

	t.Run("no overlap", func(t *testing.T) {
		out := analyzeJobSpec("Regional marketing manager")
		if out["matchScore"].(int) != 0 {
			t.Fatalf("score = %v, want 0", out["matchScore"])
		}
		if out["summary"] != "limited overlap with this role" {
			t.Fatalf("summary = %v", out["summary"])
		}
	})
}

func TestHandleExecuteTool(t *testing.T) {
	s := newTestServer(t)

	t.Run("load_context hit", func(t *testing.T) {
		StoreContext("ctx-projects", map[string]any{"page": "projects"})
		env := decodeEnvelope(t, postJSON(t, s, "/api/tools/execute", map[string]any{
			"toolName":   "load_context",
			"parameters": map[string]any{"contextId": "ctx-projects"},
		}))
		if !env.Success {
			t.Fatalf("success=false: %s", env.Error)
		}
		if env.Data["page"] != "projects" {
			t.Fatalf("data = %v", env.Data)
		}
	})

	t.Run("load_context miss", func(t *testing.T) {
		env := decodeEnvelope(t, postJSON(t, s, "/api/tools/execute", map[string]any{
			"toolName":   "load_context",
			"parameters": map[string]any{"contextId": "ctx-missing"},
		}))
		if env.Success {
			t.Fatal("success=true for a missing context")
		}
	})

	t.Run("analyze_job_spec", func(t *testing.T) {
		env := decodeEnvelope(t, postJSON(t, s, "/api/tools/execute", map[string]any{
			"toolName":   "analyze_job_spec",
			"parameters": map[string]any{"jobSpec": "Go and websocket work"},
		}))
		if !env.Success {
			t.Fatalf("success=false: %s", env.Error)
		}
		if _, ok := env.Data["matchScore"]; !ok {
			t.Fatalf("data = %v, missing matchScore", env.Data)
		}
	})

	t.Run("submit_contact_form requires email and message", func(t *testing.T) {
		env := decodeEnvelope(t, postJSON(t, s, "/api/tools/execute", map[string]any{
			"toolName":   "submit_contact_form",
			"parameters": map[string]any{"name": "Ada"},
		}))
		if env.Success {
			t.Fatal("success=true without email/message")
		}
	})

	t.Run("client-side tool rejected", func(t *testing.T) {
		env := decodeEnvelope(t, postJSON(t, s, "/api/tools/execute", map[string]any{
			"toolName":   "navigate_to_page",
			"parameters": map[string]any{"page": "home"},
		}))
		if env.Success {
			t.Fatal("backend accepted a client-side tool")
		}
	})

	t.Run("unknown tool", func(t *testing.T) {
		env := decodeEnvelope(t, postJSON(t, s, "/api/tools/execute", map[string]any{
			"toolName": "reticulate_splines",
		}))
		if env.Success || env.Error == "" {
			t.Fatalf("got %+v, want failure naming the tool", env)
		}
	})
}

func TestHandleContact(t *testing.T) {
	s := newTestServer(t)

	resp := postJSON(t, s, "/api/contact", map[string]any{
		"email":   "visitor@example.com",
		"message": "Interested in collaborating.",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	resp = postJSON(t, s, "/api/contact", map[string]any{"name": "no address"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleLogConversation(t *testing.T) {
	s := newTestServer(t)

	resp := postJSON(t, s, "/api/conversation/log", map[string]any{
		"sessionId":  "sess-1",
		"provider":   "openai",
		"durationMs": 42000,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/conversation/log", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed JSON", resp.StatusCode)
	}
}

func TestHandleProviders(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Providers  []string `json:"providers"`
		Configured []string `json:"configured"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Providers) != 2 {
		t.Fatalf("providers = %v, want both known providers", out.Providers)
	}
	if len(out.Configured) != 0 {
		t.Fatalf("configured = %v, want none on an empty store", out.Configured)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var report agentconfig.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(report.Providers) != 2 {
		t.Fatalf("report covers %d providers, want 2", len(report.Providers))
	}
}

func TestSessionEndpointsRejectUnknownProvider(t *testing.T) {
	s := newTestServer(t)

	resp := postJSON(t, s, "/api/voice/cloudtalk/session", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
