// Package tools provides the standard tool set registered with every voice
// agent session: UI navigation and highlighting executed locally, and
// context, job analysis and contact-form tools forwarded to a backend
// endpoint.
package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/teslashibe/go-voicekit/internal/httpc"
	"github.com/teslashibe/go-voicekit/pkg/agent"
)

// UIActions is implemented by whatever drives the user-facing surface. The
// navigation and highlight tools delegate to it directly instead of making a
// network round trip.
type UIActions interface {
	// NavigateTo switches the surface to the named page.
	NavigateTo(page string) error

	// HighlightElement draws attention to the element matching selector.
	HighlightElement(selector string) error
}

// Options configures the standard tool set.
type Options struct {
	// UI executes the client-side tools. When nil, navigation and highlight
	// tools report an error result instead of acting.
	UI UIActions

	// Endpoint is the backend base URL that server-side tools POST to.
	Endpoint string

	// SessionID correlates server-side tool calls with the conversation.
	SessionID string

	// Client overrides the HTTP client for server-side tools.
	Client *http.Client

	Logger *slog.Logger
}

// serverToolRequest is the envelope POSTed to the backend for every
// server-side tool call.
type serverToolRequest struct {
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`
	SessionID  string         `json:"sessionId"`
	ToolCallID string         `json:"toolCallId,omitempty"`
}

type serverToolResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Standard returns the built-in tool set. Handlers return errors instead of
// panicking; the adapter's executor folds both into tool results.
func Standard(opts Options) []agent.Tool {
	if opts.Client == nil {
		opts.Client = httpc.Client
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "tools")
	}

	return []agent.Tool{
		navigateTool(opts),
		highlightTool(opts),
		serverTool(opts, "load_context",
			"Load stored visitor or page context into the conversation.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"contextId": map[string]any{
						"type":        "string",
						"description": "Identifier of the context record to load.",
					},
				},
				"required": []string{"contextId"},
			}),
		serverTool(opts, "analyze_job_spec",
			"Analyze a job specification and report how well the candidate matches it.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"jobSpec": map[string]any{
						"type":        "string",
						"description": "The job specification text to analyze.",
					},
				},
				"required": []string{"jobSpec"},
			}),
		serverTool(opts, "submit_contact_form",
			"Submit the visitor's contact details and message.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":    map[string]any{"type": "string"},
					"email":   map[string]any{"type": "string"},
					"message": map[string]any{"type": "string"},
				},
				"required": []string{"email", "message"},
			}),
	}
}

func navigateTool(opts Options) agent.Tool {
	return agent.Tool{
		Name:        "navigate_to_page",
		Description: "Navigate the visitor to a page of the site.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"page": map[string]any{
					"type":        "string",
					"description": "Page identifier or path, e.g. \"projects\" or \"/about\".",
				},
			},
			"required": []string{"page"},
		},
		Handler: func(args map[string]any) (string, error) {
			page, _ := args["page"].(string)
			if page == "" {
				return "", fmt.Errorf("page is required")
			}
			if opts.UI == nil {
				return "", fmt.Errorf("no UI surface attached")
			}
			if err := opts.UI.NavigateTo(page); err != nil {
				return "", fmt.Errorf("navigate to %q: %w", page, err)
			}
			return fmt.Sprintf("navigated to %s", page), nil
		},
	}
}

func highlightTool(opts Options) agent.Tool {
	return agent.Tool{
		Name:        "highlight_element",
		Description: "Visually highlight an element on the current page.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"selector": map[string]any{
					"type":        "string",
					"description": "CSS selector of the element to highlight.",
				},
			},
			"required": []string{"selector"},
		},
		Handler: func(args map[string]any) (string, error) {
			selector, _ := args["selector"].(string)
			if selector == "" {
				// Some models send elementId instead of selector.
				selector, _ = args["elementId"].(string)
			}
			if selector == "" {
				return "", fmt.Errorf("selector is required")
			}
			if opts.UI == nil {
				return "", fmt.Errorf("no UI surface attached")
			}
			if err := opts.UI.HighlightElement(selector); err != nil {
				return "", fmt.Errorf("highlight %q: %w", selector, err)
			}
			return fmt.Sprintf("highlighted %s", selector), nil
		},
	}
}

// serverTool builds a tool whose handler forwards the call to the backend
// endpoint and relays the response payload.
func serverTool(opts Options, name, description string, parameters map[string]any) agent.Tool {
	return agent.Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		Handler: func(args map[string]any) (string, error) {
			if opts.Endpoint == "" {
				return "", fmt.Errorf("no tool endpoint configured")
			}
			return callServerTool(opts, name, args)
		},
	}
}

func callServerTool(opts Options, name string, args map[string]any) (string, error) {
	body, err := json.Marshal(serverToolRequest{
		ToolName:   name,
		Parameters: args,
		SessionID:  opts.SessionID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal tool request: %w", err)
	}

	resp, err := opts.Client.Post(opts.Endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("call tool endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tool endpoint returned status %d", resp.StatusCode)
	}

	var out serverToolResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode tool response: %w", err)
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = "tool failed without detail"
		}
		return "", fmt.Errorf("%s", out.Error)
	}
	if len(out.Data) == 0 {
		return "{}", nil
	}
	return string(out.Data), nil
}
