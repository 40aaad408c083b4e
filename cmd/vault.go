package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sharevault/internal/items"
	"github.com/PolarWolf314/sharevault/internal/ui"
	"github.com/PolarWolf314/sharevault/internal/vault"
	"github.com/PolarWolf314/sharevault/internal/workflows"
)

var (
	vaultDescription string
	vaultColor       string
	vaultIcon        string
	vaultRole        string

	VaultCmd = &cobra.Command{
		Use:   "vault",
		Short: "Create, list and share vaults",
		Long:  `Manages vaults: named collections of items that share one key hierarchy.`,
	}
)

func init() {
	vaultCreateCmd.Flags().StringVar(&vaultDescription, "description", "", "vault description")
	vaultCreateCmd.Flags().StringVar(&vaultColor, "color", "", "vault color")
	vaultCreateCmd.Flags().StringVar(&vaultIcon, "icon", "", "vault icon")
	vaultAddMemberCmd.Flags().StringVarP(&vaultRole, "role", "r", "read", "role to grant: admin, write or read")

	VaultCmd.AddCommand(vaultCreateCmd)
	VaultCmd.AddCommand(vaultListCmd)
	VaultCmd.AddCommand(vaultRotateCmd)
	VaultCmd.AddCommand(vaultAddMemberCmd)
}

func resetVaultCommandState() {
	vaultDescription = ""
	vaultColor = ""
	vaultIcon = ""
	vaultRole = "read"
}

var vaultCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a vault you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting vault create command")
		opts, err := sessionOptions(false)
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Creating vault...")
		defer cleanup()

		result, err := workflows.CreateVault(context.Background(), workflows.CreateVaultOptions{
			SessionOptions: opts,
			Content: items.VaultContent{
				Name:        args[0],
				Description: vaultDescription,
				Color:       vaultColor,
				Icon:        vaultIcon,
			},
		})
		if err != nil {
			return fail(spinner, err)
		}

		spinner.FinalMSG = ui.Success.Sprint("✓") + " Created vault " + ui.Highlight.Sprint(args[0]) + " " + ui.Muted.Sprint(result.ShareID) + "\n" +
			ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("sharevault item seal --share "+result.ShareID) + " to add items"
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the vaults you belong to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting vault list command")
		opts, err := sessionOptions(false)
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Loading vaults...")
		defer cleanup()

		vaults, err := workflows.ListVaults(context.Background(), workflows.ListVaultsOptions{SessionOptions: opts})
		if err != nil {
			return fail(spinner, err)
		}
		if len(vaults) == 0 {
			spinner.FinalMSG = ui.Info.Sprint("ℹ") + " You are not a member of any vault yet"
			return nil
		}

		var b strings.Builder
		for _, v := range vaults {
			if v.Err != nil {
				fmt.Fprintf(&b, "%s %s %s\n", ui.Error.Sprint("✗"), v.ShareID, ui.Muted.Sprint(v.Err.Error()))
				continue
			}
			fmt.Fprintf(&b, "%s %s  %s  %s  %s\n",
				ui.Success.Sprint("✓"), ui.Highlight.Sprint(v.Name), v.ShareID, ui.Rotation(v.Rotation), ui.Muted.Sprint(string(v.Role)))
			if v.Description != "" {
				fmt.Fprintf(&b, "    %s\n", v.Description)
			}
			if v.Shared {
				emails := make([]string, 0, len(v.Members))
				for _, m := range v.Members {
					emails = append(emails, fmt.Sprintf("%s (%s)", m.Email, m.Role))
				}
				fmt.Fprintf(&b, "    shared with %s\n", strings.Join(emails, ", "))
			}
		}
		spinner.FinalMSG = b.String()
		return nil
	},
}

var vaultRotateCmd = &cobra.Command{
	Use:   "rotate <share-id>",
	Short: "Issue a new share key to every member",
	Long: `Generates the next rotation of the vault's share key, wraps it for every
current member and re-encrypts the vault details under it.

Older rotations stay available so existing items remain readable. Items
move to the new rotation the next time they are updated.

Only the vault owner can rotate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting vault rotate command")
		opts, err := sessionOptions(false)
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Rotating share key...")
		defer cleanup()

		result, err := workflows.RotateVault(context.Background(), workflows.RotateVaultOptions{SessionOptions: opts, ShareID: args[0]})
		if err != nil {
			return fail(spinner, err)
		}

		spinner.FinalMSG = ui.Success.Sprint("✓") + " Rotated " + ui.Highlight.Sprint(result.ShareID) + " to " + ui.Rotation(result.Rotation) + "\n" +
			fmt.Sprintf("Wrapped the new key for %d member(s)", result.RecipientsCount)
		return nil
	},
}

var vaultAddMemberCmd = &cobra.Command{
	Use:   "add-member <share-id> <email>",
	Short: "Give an existing project member access to a vault",
	Long: `Wraps every rotation of the vault's share key for a member who has
already run 'sharevault init' in this project.

To share with someone who has not joined yet, use 'sharevault invite create'.

Examples:
  sharevault vault add-member 0b6c... bob@example.com --role write`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting vault add-member command")
		opts, err := sessionOptions(false)
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Adding member...")
		defer cleanup()

		result, err := workflows.AddMember(context.Background(), workflows.AddMemberOptions{
			SessionOptions: opts,
			ShareID:        args[0],
			Email:          args[1],
			Role:           vault.Role(vaultRole),
		})
		if err != nil {
			return fail(spinner, err)
		}

		spinner.FinalMSG = ui.Success.Sprint("✓") + " Added " + ui.Highlight.Sprint(args[1]) + " as " + vaultRole + "\n" +
			fmt.Sprintf("Wrapped %d key rotation(s) for them", result.BlobsCount)
		return nil
	},
}
