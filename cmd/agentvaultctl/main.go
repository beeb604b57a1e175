// Command agentvaultctl is the CLI client for agentvaultd's REST surface.
package main

import (
	"fmt"
	"os"

	"github.com/agentvault/agentvaultd/cmd/agentvaultctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
