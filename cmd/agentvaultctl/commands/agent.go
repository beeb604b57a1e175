package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentvault/agentvaultd/pkg/types"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect agent definitions",
}

var agentListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List every agent the server can resolve",
	RunE:    runAgentList,
}

func init() {
	agentCmd.AddCommand(agentListCmd)
}

func runAgentList(cmd *cobra.Command, args []string) error {
	var agents []*types.Agent
	if err := apiRequest("GET", "/api/agents", nil, &agents); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tNAME\tVARIANT\tMODEL\t")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", a.Path, a.Name, a.Variant, a.Model)
	}
	return w.Flush()
}
