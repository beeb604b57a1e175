package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var permissionRemember bool

var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Resolve pending permission requests",
}

var permissionGrantCmd = &cobra.Command{
	Use:   "grant [id]",
	Short: "Grant a pending permission request",
	Args:  cobra.ExactArgs(1),
	RunE:  runPermissionGrant,
}

var permissionDenyCmd = &cobra.Command{
	Use:   "deny [id]",
	Short: "Deny a pending permission request",
	Args:  cobra.ExactArgs(1),
	RunE:  runPermissionDeny,
}

func init() {
	permissionGrantCmd.Flags().BoolVar(&permissionRemember, "remember", false, "also grant this subject for the rest of the session")
	permissionCmd.AddCommand(permissionGrantCmd)
	permissionCmd.AddCommand(permissionDenyCmd)
}

func runPermissionGrant(cmd *cobra.Command, args []string) error {
	body := map[string]bool{"remember": permissionRemember}
	if err := apiRequest("POST", "/api/permissions/"+args[0]+"/grant", body, nil); err != nil {
		return err
	}
	fmt.Println("granted")
	return nil
}

func runPermissionDeny(cmd *cobra.Command, args []string) error {
	if err := apiRequest("POST", "/api/permissions/"+args[0]+"/deny", nil, nil); err != nil {
		return err
	}
	fmt.Println("denied")
	return nil
}
