// Package web exposes the voice sessions over HTTP: session lifecycle per
// provider, tool execution, configuration management, health, and a live
// transcript websocket.
package web

import (
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicekit/pkg/agent"
	"github.com/teslashibe/go-voicekit/pkg/agentconfig"
	"github.com/teslashibe/go-voicekit/pkg/hub"
	"github.com/teslashibe/go-voicekit/pkg/tools"
)

// Server hosts the HTTP API over one adapter per provider.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	configs *agentconfig.Manager
	deps    agent.Deps

	// ToolOptions seeds the standard tool set for every new session.
	toolOptions tools.Options

	mu       sync.Mutex
	sessions map[agent.Provider]agent.Adapter

	transcriptHub *hub.Hub
}

// Options configures the Server.
type Options struct {
	Port        string
	Logger      *slog.Logger
	Configs     *agentconfig.Manager
	Deps        agent.Deps
	ToolOptions tools.Options
}

// NewServer creates the HTTP server and wires its routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		port:          opts.Port,
		logger:        logger.With("component", "web"),
		configs:       opts.Configs,
		deps:          opts.Deps,
		toolOptions:   opts.ToolOptions,
		sessions:      make(map[agent.Provider]agent.Adapter),
		transcriptHub: hub.New("transcript", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicekit",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)

	api := app.Group("/api")

	voice := api.Group("/voice/:provider")
	voice.Post("/session", s.handleStartSession)
	voice.Get("/session", s.handleSessionStatus)
	voice.Delete("/session", s.handleEndSession)
	voice.Get("/token", s.handleMintToken)
	voice.Post("/message", s.handleSendMessage)
	voice.Post("/interrupt", s.handleInterrupt)

	api.Post("/tools/execute", s.handleExecuteTool)
	api.Get("/conversation/log", s.handleConversationLog)
	api.Post("/conversation/log", s.handleLogConversation)
	api.Post("/contact", s.handleContact)
	api.Post("/context/analyze-job", s.handleAnalyzeJob)

	api.Get("/providers", s.handleProviders)

	configs := api.Group("/configs/:provider")
	configs.Get("/", s.handleListConfig)
	configs.Get("/schema", s.handleConfigSchema)
	configs.Put("/:name", s.handleSaveConfig)
	configs.Delete("/:name", s.handleDeleteConfig)
	configs.Post("/:name/default", s.handleSetDefault)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/transcript", websocket.New(s.handleTranscriptWS))

	s.app = app
	return s
}

// Start runs the hub and serves until Shutdown.
func (s *Server) Start() error {
	go s.transcriptHub.Run()
	s.logger.Info("http server listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown stops the HTTP server and tears down live sessions.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	sessions := make([]agent.Adapter, 0, len(s.sessions))
	for _, a := range s.sessions {
		sessions = append(sessions, a)
	}
	s.sessions = make(map[agent.Provider]agent.Adapter)
	s.mu.Unlock()

	for _, a := range sessions {
		if err := a.Cleanup(); err != nil {
			s.logger.Warn("session cleanup failed", "error", err)
		}
	}
	return s.app.Shutdown()
}

// TranscriptHub exposes the broadcast hub, mainly for tests and embedding.
func (s *Server) TranscriptHub() *hub.Hub {
	return s.transcriptHub
}

// session returns the live adapter for provider, or nil.
func (s *Server) session(provider agent.Provider) agent.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[provider]
}

// handleTranscriptWS attaches a live viewer to the transcript hub. The
// handler blocks for the lifetime of the connection.
func (s *Server) handleTranscriptWS(c *websocket.Conn) {
	client := hub.NewClient(s.transcriptHub, c)
	client.Run()
}
