// Package workflows provides high-level orchestration for sharevault commands.
//
// Workflows coordinate the configs, key store, share key manager, item crypto,
// re-encryption service and audit packages to implement complete user-facing
// features. Each workflow handles a single command's business logic,
// independent of CLI concerns like flag parsing, spinners, and output
// formatting.
//
// # Design Philosophy
//
// The cmd/ package should be a thin layer that:
//   - Parses command-line flags and arguments
//   - Reads the passphrase
//   - Calls the appropriate workflow function
//   - Formats the result for display
//
// Workflows handle everything else:
//   - Loading configuration, identity and the local key store
//   - Checking the member's role on the share
//   - Resolving share keys and performing the crypto
//   - Recording audit trail entries
//
// # Available Workflows
//
//   - Init: Creates or joins a project and publishes the member's public keys
//   - CreateVault, ListVaults, RotateVault: Manage shares and their key rotations
//   - AddMember: Wraps every share key rotation for an existing member
//   - SealItem, OpenItem, ImportNotes, SuggestItems: Encrypt, decrypt and match items
//   - CreateInvite, ConfirmInvite, AcceptInvite, ListInvites: Invite lifecycle
//   - Log: Reads and filters the audit trail
//
// # Error Handling
//
// Workflows return typed errors from the internal/errors package, allowing
// the CLI layer to provide appropriate user-facing messages without string
// matching:
//
//	result, err := workflows.OpenItem(ctx, opts)
//	if kerrors.IsTampered(err) {
//	    // "couldn't decrypt this item"
//	}
//
// # Context Usage
//
// All workflow functions accept a context.Context as their first parameter.
// It is passed to the remote and to the share key manager so a cancelled
// command stops waiting on key fetches.
package workflows
