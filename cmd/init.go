package cmd

import (
	"context"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sharevault/internal/ui"
	"github.com/PolarWolf314/sharevault/internal/workflows"
)

var (
	initEmail   string
	initAddress string
	initName    string
)

func init() {
	initCmd.Flags().StringVarP(&initEmail, "email", "e", "", "your email address, used to find you for invites")
	initCmd.Flags().StringVar(&initAddress, "address", "", "sender address invites are signed with (defaults to --email)")
	initCmd.Flags().StringVarP(&initName, "name", "n", "", "project name (defaults to the directory name)")
}

func resetInitCommandState() {
	initEmail = ""
	initAddress = ""
	initName = ""
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or join a sharevault project",
	Long: `Creates a sharevault project in the current directory, or joins the
project this directory already belongs to.

The first run generates your identity: an encryption key pair that share
keys are wrapped for, and a signing key pair for vaults you own. Only the
public halves are published to the project.

Examples:
  # Start a new project
  sharevault init --email alice@example.com

  # Join a project someone else created
  sharevault init --email bob@example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting init command")
		opts, err := sessionOptions(false)
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Initializing sharevault...")
		defer cleanup()

		result, err := workflows.Init(context.Background(), workflows.InitOptions{
			ProjectName: initName,
			Email:       initEmail,
			Address:     initAddress,
			Passphrase:  opts.Passphrase,
		})
		if err != nil {
			return fail(spinner, err)
		}
		Logger.Infof("Initialized project %s (%s) as member %s", result.ProjectName, result.ProjectUUID, result.MemberID)

		finalMessage := ""
		if !result.Joined {
			finalMessage = figure.NewFigure("sharevault", "small", true).String() + "\n"
		}
		if result.Joined {
			finalMessage += ui.Success.Sprint("✓") + " Joined project " + ui.Highlight.Sprint(result.ProjectName) + "\n"
		} else {
			finalMessage += ui.Success.Sprint("✓") + " Created project " + ui.Highlight.Sprint(result.ProjectName) + "\n"
		}
		if result.IdentityCreated {
			finalMessage += ui.Success.Sprint("✓") + " Generated your identity on device " + ui.Highlight.Sprint(result.DeviceName) + "\n"
		}
		if result.Joined {
			finalMessage += ui.Info.Sprint("→") + " Ask a vault owner to run " + ui.Code.Sprint("sharevault invite confirm") + " or " +
				ui.Code.Sprint("sharevault vault add-member") + " for you"
		} else {
			finalMessage += ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("sharevault vault create <name>") + " to create your first vault"
		}
		spinner.FinalMSG = finalMessage
		return nil
	},
}
