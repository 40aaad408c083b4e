package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sharevault/internal/ui"
	"github.com/PolarWolf314/sharevault/internal/vault"
	"github.com/PolarWolf314/sharevault/internal/workflows"
)

var (
	inviteRole   string
	inviteReject bool

	InviteCmd = &cobra.Command{
		Use:   "invite",
		Short: "Share a vault with someone through a signed invite",
		Long: `Invites carry the vault's keys to a new member.

The vault owner signs every invite. If the invitee has not run
'sharevault init' yet, the invite waits until the owner confirms it;
the keys are wrapped for the invitee at that point. The invitee then
accepts it, which checks every signature before any key is used.`,
	}
)

func init() {
	inviteCreateCmd.Flags().StringVarP(&inviteRole, "role", "r", "read", "role to grant: admin, write or read")
	inviteAcceptCmd.Flags().BoolVar(&inviteReject, "reject", false, "decline the invite")

	InviteCmd.AddCommand(inviteCreateCmd)
	InviteCmd.AddCommand(inviteConfirmCmd)
	InviteCmd.AddCommand(inviteAcceptCmd)
	InviteCmd.AddCommand(inviteListCmd)
}

func resetInviteCommandState() {
	inviteRole = "read"
	inviteReject = false
}

var inviteCreateCmd = &cobra.Command{
	Use:   "create <share-id> <email>",
	Short: "Invite someone to a vault you own",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting invite create command")
		opts, err := sessionOptions(false)
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Creating invite...")
		defer cleanup()

		result, err := workflows.CreateInvite(context.Background(), workflows.CreateInviteOptions{
			SessionOptions: opts,
			ShareID:        args[0],
			Email:          args[1],
			Role:           vault.Role(inviteRole),
		})
		if err != nil {
			return fail(spinner, err)
		}

		finalMessage := ui.Success.Sprint("✓") + " Invited " + ui.Highlight.Sprint(args[1]) + " " + ui.Muted.Sprint(result.InviteID) + "\n"
		if result.State == vault.InvitePendingAccountCreation {
			finalMessage += ui.Info.Sprint("→") + " They need to run " + ui.Code.Sprint("sharevault init --email "+args[1]) +
				", then you run " + ui.Code.Sprint("sharevault invite confirm "+result.InviteID)
		} else {
			finalMessage += ui.Info.Sprint("→") + " They can now run " + ui.Code.Sprint("sharevault invite accept "+result.InviteID)
		}
		spinner.FinalMSG = finalMessage
		return nil
	},
}

var inviteConfirmCmd = &cobra.Command{
	Use:   "confirm <invite-id>",
	Short: "Wrap the vault keys for an invitee who has joined the project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting invite confirm command")
		opts, err := sessionOptions(false)
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Confirming invite...")
		defer cleanup()

		result, err := workflows.ConfirmInvite(context.Background(), workflows.ConfirmInviteOptions{
			SessionOptions: opts,
			InviteID:       args[0],
		})
		if err != nil {
			return fail(spinner, err)
		}

		spinner.FinalMSG = ui.Success.Sprint("✓") + " Confirmed invite " + ui.Highlight.Sprint(result.InviteID) + "\n" +
			fmt.Sprintf("Wrapped %d key rotation(s) for the invitee", result.BlobsCount)
		return nil
	},
}

var inviteAcceptCmd = &cobra.Command{
	Use:   "accept <invite-id>",
	Short: "Accept (or with --reject, decline) an invite addressed to you",
	Long: `Verifies the invite and every key it carries against the vault owner's
signing key, then adds you to the vault.

If any signature fails to verify, the invite is rejected for good and
none of its keys are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting invite accept command")
		opts, err := sessionOptions(false)
		if err != nil {
			return err
		}

		message := "Accepting invite..."
		if inviteReject {
			message = "Declining invite..."
		}
		spinner, cleanup := startSpinner(message)
		defer cleanup()

		result, err := workflows.AcceptInvite(context.Background(), workflows.AcceptInviteOptions{
			SessionOptions: opts,
			InviteID:       args[0],
			Reject:         inviteReject,
		})
		if err != nil {
			return fail(spinner, err)
		}

		if inviteReject {
			spinner.FinalMSG = ui.Success.Sprint("✓") + " Declined invite " + ui.Highlight.Sprint(result.InviteID)
			return nil
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " Joined vault " + ui.Highlight.Sprint(result.VaultName) + " as " + string(result.Role) + "\n" +
			ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("sharevault vault list") + " to see it"
		return nil
	},
}

var inviteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List invites addressed to you",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting invite list command")
		opts, err := sessionOptions(false)
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Loading invites...")
		defer cleanup()

		invites, err := workflows.ListInvites(context.Background(), workflows.ListInvitesOptions{SessionOptions: opts})
		if err != nil {
			return fail(spinner, err)
		}
		if len(invites) == 0 {
			spinner.FinalMSG = ui.Info.Sprint("ℹ") + " No invites addressed to you"
			return nil
		}

		var b strings.Builder
		for _, inv := range invites {
			fmt.Fprintf(&b, "%s  %-24s  from %s  %s  %s\n",
				inv.ID, inv.State, inv.InviterAddress, string(inv.Role), inv.CreatedAt.Local().Format("2006-01-02"))
		}
		spinner.FinalMSG = b.String()
		return nil
	},
}
