// Package commands provides the agentvaultctl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentvault/agentvaultd/internal/logging"
)

// Version and BuildTime are overridden at release build time via -ldflags.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	serverURL string
	apiKey    string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "agentvaultctl",
	Short: "Client for the agentvaultd orchestration server",
	Long: `agentvaultctl talks to a running agentvaultd server over its REST/SSE
surface: spawning agents, holding chat sessions, inspecting the queue, and
resolving permission prompts.

Run 'agentvaultctl serve' to start the server itself instead.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.DefaultConfig()
		logCfg.Level = logging.ParseLevel(logLevel)
		if logLevel == "" {
			logCfg.Level = logging.FatalLevel
		}
		logging.Init(logCfg)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("AGENTVAULT_SERVER", "http://127.0.0.1:3333"), "agentvaultd base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("AGENTVAULT_API_KEY"), "X-API-Key header, if the server requires one")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agentvaultctl %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(permissionCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
