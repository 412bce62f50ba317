// Command voicekit runs the voice agent service: provider configurations in
// SQLite, one adapter per provider behind the HTTP API, and an optional
// console mode for quick end-to-end checks of a single provider.
//
// Usage:
//
//	go run ./cmd/voicekit -serve
//	go run ./cmd/voicekit -serve -port 9090
//	go run ./cmd/voicekit -provider openai -message "hello"
//	go run ./cmd/voicekit -provider elevenlabs -config production -message "hi"
//
// Environment variables:
//
//	OPENAI_API_KEY      - for the OpenAI Realtime adapter
//	ELEVENLABS_API_KEY  - for the ElevenLabs adapter
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-voicekit/internal/config"
	"github.com/teslashibe/go-voicekit/internal/configstore"
	"github.com/teslashibe/go-voicekit/internal/log"
	"github.com/teslashibe/go-voicekit/pkg/agent"
	_ "github.com/teslashibe/go-voicekit/pkg/agent/bundled" // register adapters
	"github.com/teslashibe/go-voicekit/pkg/agentconfig"
	"github.com/teslashibe/go-voicekit/pkg/reporting"
	"github.com/teslashibe/go-voicekit/pkg/tools"
	"github.com/teslashibe/go-voicekit/pkg/web"
)

func main() {
	provider := flag.String("provider", "openai", "Voice provider: openai, elevenlabs")
	configName := flag.String("config", "", "Named configuration (empty = provider default)")
	dbPath := flag.String("db", config.DBPath(), "Path to the configuration database")
	serve := flag.Bool("serve", false, "Serve the HTTP API instead of console mode")
	port := flag.String("port", config.Port(), "HTTP API port")
	message := flag.String("message", "", "Console mode: send this text message and print the reply")
	toolEndpoint := flag.String("tool-endpoint", config.ToolEndpoint(), "Backend URL for server-side tools")
	reportURL := flag.String("report-url", config.ReportURL(), "Usage reporting endpoint (empty disables reporting)")
	logLevel := flag.String("log-level", config.LogLevel(), "Log level: debug, info, warn, error")
	flag.Parse()

	log.Init(*logLevel)
	logger := log.L()

	store, err := configstore.Open(configstore.Options{DBPath: *dbPath})
	if err != nil {
		logger.Error("open config store", "error", err)
		os.Exit(1)
	}

	manager := agentconfig.NewManager(store, agentconfig.WithLogger(logger))
	defer manager.Close()

	var reporter *reporting.Reporter
	if *reportURL != "" {
		ropts := []reporting.Option{reporting.WithLogger(logger)}
		if clientID, secretEnv, tokenURL, ok := config.ReportOAuth(); ok {
			ropts = append(ropts, reporting.WithOAuth(clientID, secretEnv, tokenURL))
		}
		reporter = reporting.New(*reportURL, ropts...)
		defer reporter.Close()
	}

	deps := agent.Deps{
		Logger:   logger,
		Config:   manager,
		Reporter: reporter,
	}

	if *serve {
		runServer(deps, manager, *port, *toolEndpoint, logger)
		return
	}

	runConsole(deps, agent.Provider(*provider), *configName, *message, logger)
}

func runServer(deps agent.Deps, manager *agentconfig.Manager, port, toolEndpoint string, logger *slog.Logger) {
	server := web.NewServer(web.Options{
		Port:    port,
		Logger:  logger,
		Configs: manager,
		Deps:    deps,
		ToolOptions: tools.Options{
			Endpoint: toolEndpoint,
		},
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server stopped", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")
	if err := server.Shutdown(); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func runConsole(deps agent.Deps, provider agent.Provider, configName, message string, logger *slog.Logger) {
	if message == "" {
		fmt.Println("console mode needs -message (or use -serve to run the API)")
		os.Exit(2)
	}

	a, err := agent.New(provider, deps)
	if err != nil {
		logger.Error("create adapter", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	err = a.Init(ctx, agent.InitOptions{
		ConfigName: configName,
		Tools:      tools.Standard(tools.Options{}),
		Callbacks: agent.Callbacks{
			OnTranscript: func(item agent.TranscriptItem) {
				final, _ := item.Metadata["final"].(bool)
				if !final {
					return
				}
				fmt.Printf("[%s] %s\n", item.Type, item.Content)
				if item.Type == agent.ItemAIResponse {
					select {
					case done <- struct{}{}:
					default:
					}
				}
			},
			OnError: func(err error) {
				fmt.Printf("[error] %v\n", err)
			},
		},
	})
	if err != nil {
		logger.Error("init adapter", "error", err)
		os.Exit(1)
	}

	if err := a.Connect(ctx); err != nil {
		logger.Error("connect", "error", err)
		os.Exit(1)
	}
	defer a.Cleanup()

	if err := a.SendMessage(message); err != nil {
		logger.Error("send message", "error", err)
		os.Exit(1)
	}

	select {
	case <-done:
	case <-ctx.Done():
		fmt.Println("timed out waiting for a reply")
	}

	if data, err := a.ExportTranscript(); err == nil {
		fmt.Println(string(data))
	}
}
