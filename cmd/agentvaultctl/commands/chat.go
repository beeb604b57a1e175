package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentvault/agentvaultd/pkg/types"
)

var (
	chatAgentPath    string
	chatDocumentPath string
	chatSessionID    string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Send one message to an agent and print its reply",
	Long: `Send a single message through POST /api/chat and print the response.

The agent is named with --agent, or inferred from the first agent bound
to --document if --agent is omitted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAgentPath, "agent", "", "vault-relative path to the agent definition")
	chatCmd.Flags().StringVar(&chatDocumentPath, "document", "", "vault-relative document path for document-bound chat")
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "existing session id to continue")
}

type chatRequest struct {
	Message      string `json:"message"`
	AgentPath    string `json:"agentPath,omitempty"`
	DocumentPath string `json:"documentPath,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
}

func runChat(cmd *cobra.Command, args []string) error {
	req := chatRequest{
		Message:      strings.Join(args, " "),
		AgentPath:    chatAgentPath,
		DocumentPath: chatDocumentPath,
		SessionID:    chatSessionID,
	}

	var result types.ChatResult
	if err := apiRequest("POST", "/api/chat", req, &result); err != nil {
		return err
	}

	fmt.Println(result.Response)
	if result.SessionID != "" {
		fmt.Printf("\n[session %s]\n", result.SessionID)
	}
	for _, denial := range result.PermissionDenials {
		fmt.Printf("[denied: %s (%s)]\n", denial.Path, denial.Reason)
	}
	return nil
}
