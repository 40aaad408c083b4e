package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sharevault/internal/items"
	"github.com/PolarWolf314/sharevault/internal/matching"
	"github.com/PolarWolf314/sharevault/internal/ui"
	"github.com/PolarWolf314/sharevault/internal/utils"
	"github.com/PolarWolf314/sharevault/internal/workflows"
)

var (
	itemShareID       string
	itemID            string
	itemTitle         string
	itemType          string
	itemNote          string
	itemUsername      string
	itemURLs          []string
	itemPackages      []string
	itemTOTP          string
	itemFields        []string
	itemPasswordStdin bool
	itemReveal        bool
	itemSuggestURL    string
	itemSuggestPkg    string

	ItemCmd = &cobra.Command{
		Use:   "item",
		Short: "Seal, open, import and find vault items",
		Long:  `Manages the logins and notes stored in a vault. Every item is sealed under its own key.`,
	}
)

func init() {
	itemSealCmd.Flags().StringVarP(&itemShareID, "share", "s", "", "vault share ID")
	itemSealCmd.Flags().StringVar(&itemID, "id", "", "update the item with this ID instead of creating one")
	itemSealCmd.Flags().StringVarP(&itemTitle, "title", "t", "", "item title")
	itemSealCmd.Flags().StringVar(&itemType, "type", "", "item type: login or note (default login when login fields are given)")
	itemSealCmd.Flags().StringVar(&itemNote, "note", "", "free text note")
	itemSealCmd.Flags().StringVarP(&itemUsername, "username", "u", "", "login username")
	itemSealCmd.Flags().StringSliceVar(&itemURLs, "url", nil, "login URL (repeatable)")
	itemSealCmd.Flags().StringSliceVar(&itemPackages, "package", nil, "app package name (repeatable)")
	itemSealCmd.Flags().StringVar(&itemTOTP, "totp", "", "otpauth:// URI")
	itemSealCmd.Flags().StringArrayVar(&itemFields, "field", nil, "extra field as name=value, prefix the name with ! to hide it")
	itemSealCmd.Flags().BoolVar(&itemPasswordStdin, "password-stdin", false, "read the login password from stdin")
	_ = itemSealCmd.MarkFlagRequired("share")
	_ = itemSealCmd.MarkFlagRequired("title")

	itemOpenCmd.Flags().BoolVar(&itemReveal, "reveal", false, "show passwords and hidden fields")

	itemImportCmd.Flags().StringVarP(&itemShareID, "share", "s", "", "vault share ID")
	_ = itemImportCmd.MarkFlagRequired("share")

	itemSuggestCmd.Flags().StringVar(&itemSuggestURL, "url", "", "web page URL to match")
	itemSuggestCmd.Flags().StringVar(&itemSuggestPkg, "package", "", "app package name to match")

	ItemCmd.AddCommand(itemSealCmd)
	ItemCmd.AddCommand(itemOpenCmd)
	ItemCmd.AddCommand(itemImportCmd)
	ItemCmd.AddCommand(itemSuggestCmd)
}

func resetItemCommandState() {
	itemShareID = ""
	itemID = ""
	itemTitle = ""
	itemType = ""
	itemNote = ""
	itemUsername = ""
	itemURLs = nil
	itemPackages = nil
	itemTOTP = ""
	itemFields = nil
	itemPasswordStdin = false
	itemReveal = false
	itemSuggestURL = ""
	itemSuggestPkg = ""
}

// buildItemContents assembles item contents from the seal flags.
func buildItemContents(password string) (items.ItemContents, error) {
	contents := items.ItemContents{Title: itemTitle, Note: itemNote}

	hasLogin := itemUsername != "" || password != "" || len(itemURLs) > 0 || len(itemPackages) > 0 || itemTOTP != ""
	switch {
	case itemType != "":
		t, ok := items.ParseItemType(itemType)
		if !ok {
			return contents, fmt.Errorf("unknown item type %q, expected login or note", itemType)
		}
		contents.Type = t
	case hasLogin:
		contents.Type = items.ItemTypeLogin
	default:
		contents.Type = items.ItemTypeNote
	}

	if contents.Type == items.ItemTypeLogin {
		contents.Login = &items.Login{
			Username:     itemUsername,
			Password:     password,
			URLs:         itemURLs,
			PackageNames: itemPackages,
			TOTPURI:      itemTOTP,
		}
	} else if hasLogin {
		return contents, fmt.Errorf("login fields given for a %s item", contents.Type)
	}

	for _, raw := range itemFields {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || name == "" || name == "!" {
			return contents, fmt.Errorf("invalid field %q, expected name=value", raw)
		}
		field := items.Field{Name: name, Value: value}
		if strings.HasPrefix(name, "!") {
			field.Name = name[1:]
			field.Hidden = true
		}
		contents.ExtraFields = append(contents.ExtraFields, field)
	}
	return contents, nil
}

var itemSealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Encrypt a new item or update an existing one",
	Long: `Seals an item into a vault under a fresh item key, which is wrapped by
the latest rotation of the vault's share key.

Passwords are never taken as flags. Pipe them in with --password-stdin.

Examples:
  # Store a login
  printf '%s' "$PASSWORD" | sharevault item seal -s <share-id> -t Bank \
    -u alice --url https://bank.example.com --password-stdin

  # Store a note with a hidden extra field
  sharevault item seal -s <share-id> -t "Wifi" --note "guest network" --field '!key=hunter2'

  # Update an item
  sharevault item seal -s <share-id> --id <item-id> -t Bank --note "new branch"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting item seal command")

		password := ""
		if itemPasswordStdin {
			data, err := utils.ReadStdin()
			if err != nil {
				return err
			}
			password = strings.TrimRight(string(data), "\r\n")
		}
		contents, err := buildItemContents(password)
		if err != nil {
			return err
		}

		opts, err := sessionOptions(itemPasswordStdin)
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Sealing item...")
		defer cleanup()

		result, err := workflows.SealItem(context.Background(), workflows.SealItemOptions{
			SessionOptions: opts,
			ShareID:        itemShareID,
			ItemID:         itemID,
			Contents:       contents,
		})
		if err != nil {
			return fail(spinner, err)
		}

		verb := "Sealed"
		if itemID != "" {
			verb = "Updated"
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " " + verb + " " + ui.Highlight.Sprint(itemTitle) + " " + ui.Muted.Sprint(result.ItemID) + "\n" +
			fmt.Sprintf("Revision %d under %s", result.Revision, ui.Rotation(result.Rotation))
		return nil
	},
}

var itemOpenCmd = &cobra.Command{
	Use:   "open <share-id> <item-id>",
	Short: "Decrypt and show an item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting item open command")
		opts, err := sessionOptions(false)
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Opening item...")
		defer cleanup()

		result, err := workflows.OpenItem(context.Background(), workflows.OpenItemOptions{
			SessionOptions: opts,
			ShareID:        args[0],
			ItemID:         args[1],
		})
		if err != nil {
			return fail(spinner, err)
		}

		spinner.FinalMSG = formatItem(result, itemReveal)
		return nil
	},
}

func formatItem(result *workflows.OpenItemResult, reveal bool) string {
	c := result.Contents
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", ui.Highlight.Sprint(c.Title), ui.Muted.Sprintf("%s, revision %d, %s", c.Type, result.Item.Revision, ui.Rotation(result.Item.Content.KeyRotation)))

	secret := func(value string) string {
		if reveal {
			return ui.Secret.Sprint(value)
		}
		return "********"
	}

	if login := c.Login; login != nil {
		if login.Username != "" {
			fmt.Fprintf(&b, "  username  %s\n", login.Username)
		}
		if login.Password != "" {
			fmt.Fprintf(&b, "  password  %s\n", secret(login.Password))
		}
		for _, u := range login.URLs {
			fmt.Fprintf(&b, "  url       %s\n", u)
		}
		for _, p := range login.PackageNames {
			fmt.Fprintf(&b, "  package   %s\n", p)
		}
		if login.TOTPURI != "" {
			fmt.Fprintf(&b, "  totp      %s\n", secret(login.TOTPURI))
		}
	}
	for _, f := range c.ExtraFields {
		value := f.Value
		if f.Hidden {
			value = secret(value)
		}
		fmt.Fprintf(&b, "  %s: %s\n", f.Name, value)
	}
	if c.Note != "" {
		fmt.Fprintf(&b, "\n%s\n", c.Note)
	}
	return b.String()
}

var itemImportCmd = &cobra.Command{
	Use:   "import <path|glob>...",
	Short: "Import text files as note items",
	Long: `Seals each matched file as a note item titled by its relative path.

Arguments can be files, directories or glob patterns. Globs support **
to match across directories. Files inside .sharevault are never read.

Every file is read and sealed before anything is written, so one bad
file leaves the vault unchanged.

Examples:
  sharevault item import -s <share-id> recovery-codes.txt
  sharevault item import -s <share-id> "notes/**/*.md"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting item import command")
		workingDir, err := os.Getwd()
		if err != nil {
			return Logger.ErrorfAndReturn("failed to get working directory: %v", err)
		}

		opts, err := sessionOptions(false)
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Importing files...")
		defer cleanup()

		result, err := workflows.ImportNotes(context.Background(), workflows.ImportNotesOptions{
			SessionOptions: opts,
			ShareID:        itemShareID,
			Patterns:       args,
			BaseDir:        workingDir,
		})
		if err != nil {
			return fail(spinner, err)
		}

		files := make([]string, 0, len(result.Items))
		for file := range result.Items {
			files = append(files, file)
		}
		sort.Strings(files)
		spinner.FinalMSG = ui.Success.Sprint("✓") + fmt.Sprintf(" Imported %d file(s):", len(files)) + utils.FormatPaths(files)
		return nil
	},
}

var itemSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Find logins for a web page or app",
	Long: `Decrypts the logins in every vault you belong to and lists the ones that
match a URL or app package name, closest match first.

A package name match ranks above an exact host match, which ranks above
a match on the same registrable domain (e.g. login.example.co.uk for an
item saved on www.example.co.uk).

Examples:
  sharevault item suggest --url https://login.example.co.uk/signin
  sharevault item suggest --package com.example.bank`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting item suggest command")
		if itemSuggestURL == "" && itemSuggestPkg == "" {
			return fmt.Errorf("provide --url or --package")
		}

		opts, err := sessionOptions(false)
		if err != nil {
			return err
		}

		spinner, cleanup := startSpinner("Searching vaults...")
		defer cleanup()

		result, err := workflows.SuggestItems(context.Background(), workflows.SuggestItemsOptions{
			SessionOptions: opts,
			Request:        matching.Request{URL: itemSuggestURL, PackageName: itemSuggestPkg},
		})
		if err != nil {
			return fail(spinner, err)
		}

		var b strings.Builder
		if len(result.Suggestions) == 0 {
			b.WriteString(ui.Info.Sprint("ℹ") + " No matching logins found\n")
		}
		for _, s := range result.Suggestions {
			fmt.Fprintf(&b, "%s  %s  %s %s\n", ui.Highlight.Sprint(s.Candidate.Title), describeSource(s.Source),
				s.Candidate.ShareID, s.Candidate.ItemID)
		}
		for _, skipped := range result.Skipped {
			fmt.Fprintf(&b, "%s Skipped %s %s: %v\n", ui.Warning.Sprint("⚠"), skipped.ShareID, skipped.ItemID, skipped.Err)
		}
		spinner.FinalMSG = b.String()
		return nil
	},
}

func describeSource(source matching.SuggestionSource) string {
	switch s := source.(type) {
	case matching.PackageMatch:
		return ui.Muted.Sprint("app " + s.PackageName)
	case matching.ExactHostMatch:
		return ui.Muted.Sprint("host " + s.Host)
	case matching.DomainMatch:
		return ui.Muted.Sprint("domain " + s.Domain)
	default:
		return ""
	}
}
