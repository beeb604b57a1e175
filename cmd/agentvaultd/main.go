// Command agentvaultd runs the agentvault orchestration daemon: it serves
// a REST/SSE surface over a filesystem-rooted vault of agent and document
// definitions.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentvault/agentvaultd/internal/agent"
	"github.com/agentvault/agentvaultd/internal/config"
	"github.com/agentvault/agentvaultd/internal/docscan"
	"github.com/agentvault/agentvaultd/internal/event"
	"github.com/agentvault/agentvaultd/internal/llm"
	"github.com/agentvault/agentvaultd/internal/logging"
	"github.com/agentvault/agentvaultd/internal/orchestrator"
	"github.com/agentvault/agentvaultd/internal/permission"
	"github.com/agentvault/agentvaultd/internal/queue"
	"github.com/agentvault/agentvaultd/internal/server"
	"github.com/agentvault/agentvaultd/internal/session"
	"github.com/agentvault/agentvaultd/internal/vault"
)

// Version and BuildTime are overridden at release build time via -ldflags.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	port := flag.Int("port", 0, "bind port (overrides PORT)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("agentvaultd %s (%s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// A missing .env is not an error: env vars set directly still apply.
	_ = godotenv.Load()

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		fmt.Fprintf(os.Stderr, "agentvaultd: create data directories: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(*logLevel)
	logCfg.LogToFile = true
	logCfg.LogDir = paths.State
	logging.Init(logCfg)
	defer logging.Close()

	cfg := config.Load()
	if *port != 0 {
		cfg.Port = *port
	}

	logging.Info().Str("vault", cfg.VaultPath).Int("port", cfg.Port).Msg("agentvaultd starting")

	store, err := vault.NewStore(cfg.VaultPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("open vault")
	}

	sessions, err := session.NewStore(store.Root(), cfg.SessionIdleWindow)
	if err != nil {
		logging.Fatal().Err(err).Msg("open session store")
	}

	q := queue.New(cfg.QueueCapacity, cfg.QueueRetainCount, filepath.Join(store.Root(), ".queue", "queue.json"))
	scanner := docscan.New(store, "")
	bus := event.New()
	broker := permission.New(bus, store)
	agents := agent.NewRegistry(store, "")
	llms := registerDialers(llm.NewRegistry())

	orc := orchestrator.New(orchestrator.Config{
		Vault:         store,
		Agents:        agents,
		Queue:         q,
		Scanner:       scanner,
		Sessions:      sessions,
		Permissions:   broker,
		LLMs:          llms,
		Bus:           bus,
		MaxConcurrent: cfg.MaxConcurrent,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orc.Start(ctx)

	watcher, err := vault.NewWatcher(store, "", bus, onSaveHandler(ctx, scanner, orc))
	if err != nil {
		logging.Warn().Err(err).Msg("vault watcher disabled")
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	srv := server.New(server.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		APIKey:          cfg.APIKey,
		CORSOrigins:     cfg.CORSOrigins,
		MaxMessageBytes: cfg.MaxMessageBytes,
		Orchestrator:    orc,
		Agents:          agents,
		Vault:           store,
		Queue:           q,
		Sessions:        sessions,
		Permissions:     broker,
		Scanner:         scanner,
		Bus:             bus,
	})

	go func() {
		logging.Info().Int("port", cfg.Port).Msg("listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("server shutdown")
	}
	cancel()
	orc.Shutdown()

	logging.Info().Msg("stopped")
}

// onSaveHandler advances a document's on_save agent entries to needs_run
// and requests an immediate trigger pass whenever the vault watcher sees a
// direct write land on that document.
func onSaveHandler(ctx context.Context, scanner *docscan.Scanner, orc *orchestrator.Orchestrator) func(string) {
	return func(docPath string) {
		entries, err := scanner.GetDocumentAgents(docPath)
		if err != nil {
			return
		}
		var onSave []string
		for _, e := range entries {
			if e.Enabled && e.Trigger == "on_save" {
				onSave = append(onSave, e.AgentPath)
			}
		}
		if len(onSave) == 0 {
			return
		}
		if err := scanner.Trigger(docPath, onSave); err != nil {
			logging.Warn().Err(err).Str("document", docPath).Msg("vault watcher: advance on_save failed")
			return
		}
		orc.RunTriggerPass(ctx)
	}
}

// registerDialers wires every provider this build knows how to dial. A
// provider with no API key configured still registers: dialing fails at
// first use rather than at boot, so a vault with agents on other
// providers still serves.
func registerDialers(reg *llm.Registry) *llm.Registry {
	reg.RegisterDialer("anthropic", func(ctx context.Context, modelID string) (llm.Client, error) {
		return llm.NewAnthropicClient(ctx, "", "", modelID, 0)
	})
	reg.RegisterDialer("openai", func(ctx context.Context, modelID string) (llm.Client, error) {
		return llm.NewOpenAIClient(ctx, "", "", modelID, 0)
	})
	return reg
}
