package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

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

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentvaultd server in the foreground",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "bind port (overrides PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg := config.Load()
	if servePort != 0 {
		cfg.Port = servePort
	}

	logging.Info().Str("vault", cfg.VaultPath).Int("port", cfg.Port).Msg("agentvaultd starting")

	store, err := vault.NewStore(cfg.VaultPath)
	if err != nil {
		return err
	}
	sessions, err := session.NewStore(store.Root(), cfg.SessionIdleWindow)
	if err != nil {
		return err
	}

	q := queue.New(cfg.QueueCapacity, cfg.QueueRetainCount, filepath.Join(store.Root(), ".queue", "queue.json"))
	scanner := docscan.New(store, "")
	bus := event.New()
	broker := permission.New(bus, store)
	agents := agent.NewRegistry(store, "")

	llms := llm.NewRegistry()
	llms.RegisterDialer("anthropic", func(ctx context.Context, modelID string) (llm.Client, error) {
		return llm.NewAnthropicClient(ctx, "", "", modelID, 0)
	})
	llms.RegisterDialer("openai", func(ctx context.Context, modelID string) (llm.Client, error) {
		return llm.NewOpenAIClient(ctx, "", "", modelID, 0)
	})

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

	watcher, err := vault.NewWatcher(store, "", bus, func(docPath string) {
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
	})
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

	return nil
}
