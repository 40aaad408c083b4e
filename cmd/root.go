package cmd

import (
	"fmt"

	logger "github.com/PolarWolf314/sharevault/internal/logging"
	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	debug   bool
	Logger  logger.Logger

	RootCmd = &cobra.Command{
		Use:   "sharevault",
		Short: "Sharevault - shared, end-to-end encrypted vaults stored with your project",
		Long: `Sharevault keeps encrypted vaults of logins and notes inside a project
directory and shares them between members without ever writing a key in
the clear.

Every vault has its own share key. Keys are wrapped for each member's
public key, rotated by the vault owner, and handed to new members through
signed invites.

Usage:
  sharevault <command> [flags]

Run 'sharevault help <command>' for more details on a specific command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			Logger = logger.Logger{
				Verbose: verbose,
				Debug:   debug,
			}
			Logger.Debugf("Initializing %s command with verbose=%t, debug=%t", cmd.Name(), verbose, debug)
		},
		Run: func(cmd *cobra.Command, args []string) {
			figure.NewColorFigure("Sharevault", "small", "green", true).Print()
			fmt.Println()
			fmt.Println("Welcome to Sharevault! Run 'sharevault --help' to see available commands.")
		},
	}
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")

	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(VaultCmd)
	RootCmd.AddCommand(ItemCmd)
	RootCmd.AddCommand(InviteCmd)
	RootCmd.AddCommand(logCmd)
}

// ResetGlobalState resets all global variables to their default values for testing.
func ResetGlobalState() {
	verbose = false
	debug = false
	Logger = logger.Logger{}
	resetInitCommandState()
	resetVaultCommandState()
	resetItemCommandState()
	resetInviteCommandState()
	resetLogCommandState()
}
