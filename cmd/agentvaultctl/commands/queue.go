package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentvault/agentvaultd/pkg/types"
)

type queueSnapshot struct {
	Pending   []*types.QueueItem `json:"pending"`
	Running   []*types.QueueItem `json:"running"`
	Completed []*types.QueueItem `json:"completed"`
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the agent execution queue",
}

var queueListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List queue items grouped by status",
	RunE:    runQueueList,
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Nudge the drain loop to claim pending items now",
	RunE:  runQueueProcess,
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueProcessCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	var snap queueSnapshot
	if err := apiRequest("GET", "/api/queue", nil, &snap); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tAGENT\tPRIORITY\t")
	for _, item := range snap.Pending {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t\n", item.ID, item.Status, item.AgentPath, item.Priority)
	}
	for _, item := range snap.Running {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t\n", item.ID, item.Status, item.AgentPath, item.Priority)
	}
	for _, item := range snap.Completed {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t\n", item.ID, item.Status, item.AgentPath, item.Priority)
	}
	return w.Flush()
}

func runQueueProcess(cmd *cobra.Command, args []string) error {
	if err := apiRequest("POST", "/api/queue/process", nil, nil); err != nil {
		return err
	}
	fmt.Println("drain requested")
	return nil
}
