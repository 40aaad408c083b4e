package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/PolarWolf314/sharevault/internal/audit"
	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/invites"
	"github.com/PolarWolf314/sharevault/internal/items"
	"github.com/PolarWolf314/sharevault/internal/reencrypt"
	"github.com/PolarWolf314/sharevault/internal/utils"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

// CreateInviteOptions configures the invite create workflow.
type CreateInviteOptions struct {
	SessionOptions

	ShareID string
	Email   string
	Role    vault.Role
}

// InviteResult describes an invite after a workflow changed it.
type InviteResult struct {
	InviteID   string
	ShareID    string
	State      vault.InviteState
	Rotation   int64
	BlobsCount int
}

// CreateInvite signs an invite for email to the share. If the invitee has
// already run init, every share key rotation is wrapped for them and the
// invite waits for acceptance; otherwise it waits for ConfirmInvite.
func CreateInvite(ctx context.Context, opts CreateInviteOptions) (*InviteResult, error) {
	s, err := openSession(ctx, opts.SessionOptions)
	if err != nil {
		return nil, err
	}
	defer s.close()

	share, err := s.ownedShare(ctx, opts.ShareID)
	if err != nil {
		return nil, err
	}
	role, err := parseRole(opts.Role)
	if err != nil {
		return nil, err
	}
	if !utils.IsValidEmail(opts.Email) {
		return nil, fmt.Errorf("invalid email address %q", opts.Email)
	}

	member, err := s.directory.FindMemberByEmail(ctx, opts.Email)
	hasAccount := err == nil
	if err != nil && !errors.Is(err, kerrors.ErrMemberNotFound) {
		return nil, err
	}
	if _, ok := share.Members[member.ID]; hasAccount && ok {
		return nil, fmt.Errorf("%s is already a member of share %s", opts.Email, share.ID)
	}

	latest, err := s.keys.GetLatestKey(ctx, share.ID, true)
	if err != nil {
		return nil, err
	}
	vc, err := s.vaultContent(ctx, share)
	if err != nil {
		return nil, err
	}
	content, err := items.EncodeVaultContent(vc, latest)
	if err != nil {
		return nil, err
	}

	invite, err := invites.New(s.identity, s.user.User.SenderAddress(), opts.Email, role, latest, hasAccount)
	if err != nil {
		return nil, err
	}
	invite.VaultContent = content

	if hasAccount {
		invite.InviteeID = member.ID
		if err := s.attachInviteKeys(ctx, invite, member); err != nil {
			return nil, err
		}
	}

	if err := s.directory.PutInvite(ctx, *invite); err != nil {
		return nil, err
	}

	entry := s.auditEntry(audit.OpInviteCreate)
	entry.ShareID = share.ID
	entry.VaultName = vc.Name
	entry.InviteID = invite.ID
	entry.TargetUser = invite.InviteeEmail
	entry.TargetUUID = invite.InviteeID
	entry.Rotation = invite.KeyRotation
	entry.BlobsCount = len(invite.Keys)
	audit.Log(entry)

	return inviteResult(invite), nil
}

// ConfirmInviteOptions configures the invite confirm workflow.
type ConfirmInviteOptions struct {
	SessionOptions

	InviteID string
}

// ConfirmInvite moves an invite out of PendingAccountCreation once the
// invitee has run init, wrapping the share keys for their published key.
func ConfirmInvite(ctx context.Context, opts ConfirmInviteOptions) (*InviteResult, error) {
	s, err := openSession(ctx, opts.SessionOptions)
	if err != nil {
		return nil, err
	}
	defer s.close()

	invite, err := s.directory.GetInvite(ctx, opts.InviteID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedShare(ctx, invite.ShareID); err != nil {
		return nil, err
	}

	member, err := s.directory.FindMemberByEmail(ctx, invite.InviteeEmail)
	if err != nil {
		return nil, err
	}
	if err := invites.AccountCreated(&invite, member.ID); err != nil {
		return nil, err
	}
	if err := s.attachInviteKeys(ctx, &invite, member); err != nil {
		return nil, err
	}
	if err := s.directory.PutInvite(ctx, invite); err != nil {
		return nil, err
	}

	entry := s.auditEntry(audit.OpInviteConfirm)
	entry.ShareID = invite.ShareID
	entry.InviteID = invite.ID
	entry.TargetUser = invite.InviteeEmail
	entry.TargetUUID = member.ID
	entry.BlobsCount = len(invite.Keys)
	audit.Log(entry)

	return inviteResult(&invite), nil
}

func (s *session) attachInviteKeys(ctx context.Context, invite *vault.Invite, member vault.Member) error {
	keys, err := s.keys.Keys(ctx, invite.ShareID)
	if err != nil {
		return err
	}
	batch, err := s.service.EncryptInviteKeys(ctx, keys, reencrypt.RecipientFromMember(member))
	if err != nil {
		return err
	}
	invite.Keys = batch.Blobs()
	return nil
}

// AcceptInviteOptions configures the invite accept workflow.
type AcceptInviteOptions struct {
	SessionOptions

	InviteID string

	// Reject declines the invite instead of accepting it.
	Reject bool
}

// AcceptInviteResult contains the outcome of answering an invite.
type AcceptInviteResult struct {
	InviteResult
	VaultName string
	Role      vault.Role
}

// AcceptInvite answers an invite addressed to the current user.
//
// Accepting verifies the key blobs and the invite signature against the
// share signing key. Any verification failure rejects the invite for good
// and drops the keys it carried. On success the vault content is resealed
// under the local storage key and the user becomes a member of the share.
func AcceptInvite(ctx context.Context, opts AcceptInviteOptions) (*AcceptInviteResult, error) {
	s, err := openSession(ctx, opts.SessionOptions)
	if err != nil {
		return nil, err
	}
	defer s.close()

	invite, err := s.directory.GetInvite(ctx, opts.InviteID)
	if err != nil {
		return nil, err
	}
	if utils.NormalizeEmail(invite.InviteeEmail) != utils.NormalizeEmail(s.user.User.Email) {
		return nil, fmt.Errorf("invite %s: %w: addressed to another user", invite.ID, kerrors.ErrNoAccess)
	}

	if opts.Reject {
		if err := invites.Reject(&invite); err != nil {
			return nil, err
		}
		if err := s.recordRejection(ctx, &invite, "declined by invitee"); err != nil {
			return nil, err
		}
		return &AcceptInviteResult{InviteResult: *inviteResult(&invite)}, nil
	}

	if invite.State == vault.InviteRejected {
		return nil, fmt.Errorf("invite %s: %w", invite.ID, kerrors.ErrInviteRejected)
	}
	if !invite.State.CanTransition(vault.InviteAccepted) {
		return nil, fmt.Errorf("invite %s: %w: still %s", invite.ID, kerrors.ErrInvalidInviteTransition, invite.State)
	}

	share, err := s.directory.GetShare(ctx, invite.ShareID)
	if err != nil {
		return nil, err
	}

	keys, err := s.keys.Import(ctx, share.ID, invite.Keys)
	if err != nil {
		if errors.Is(err, kerrors.ErrInvalidSignature) || kerrors.IsTampered(err) {
			return nil, s.rejectInvite(ctx, &invite, err)
		}
		return nil, err
	}

	var vaultKey vault.ShareKey
	for _, key := range keys {
		if key.Rotation == invite.KeyRotation {
			vaultKey = key
		}
	}

	if err := invites.Accept(&invite, share.SigningKey, vaultKey); err != nil {
		if invite.State == vault.InviteRejected {
			return nil, s.rejectInvite(ctx, &invite, err)
		}
		return nil, err
	}

	vc, sealed, err := s.service.ReencryptInviteContents(invite, vaultKey, s.sealer)
	if err != nil {
		return nil, err
	}

	if err := s.directory.PutShareKeys(ctx, invite.Keys); err != nil {
		return nil, err
	}
	if err := s.directory.AddShareMember(ctx, share.ID, s.memberID(), invite.Role); err != nil {
		return nil, err
	}

	// Nothing from the invite is cached until the membership is committed.
	for _, key := range keys {
		if err := s.keys.Remember(key); err != nil {
			s.log.Warnf("Could not cache key for share %s rotation %d: %v", key.ShareID, key.Rotation, err)
		}
	}
	if err := s.saveSealedVault(share.ID, sealed); err != nil {
		s.log.Warnf("Could not cache vault %s locally: %v", share.ID, err)
	}

	if err := s.directory.PutInvite(ctx, invite); err != nil {
		return nil, err
	}

	entry := s.auditEntry(audit.OpInviteAccept)
	entry.ShareID = share.ID
	entry.VaultName = vc.Name
	entry.InviteID = invite.ID
	entry.Rotation = invite.KeyRotation
	audit.Log(entry)

	return &AcceptInviteResult{
		InviteResult: *inviteResult(&invite),
		VaultName:    vc.Name,
		Role:         invite.Role,
	}, nil
}

// rejectInvite persists a rejection caused by a failed verification and
// returns the cause.
func (s *session) rejectInvite(ctx context.Context, invite *vault.Invite, cause error) error {
	if invite.State != vault.InviteRejected {
		if err := invites.Reject(invite); err != nil {
			return err
		}
	}
	if err := s.keys.Forget(invite.ShareID); err != nil {
		s.log.Warnf("Could not drop keys of share %s: %v", invite.ShareID, err)
	}
	s.log.WarnfAlways("Invite %s rejected: %v", invite.ID, cause)
	if err := s.recordRejection(ctx, invite, cause.Error()); err != nil {
		return err
	}
	return cause
}

func (s *session) recordRejection(ctx context.Context, invite *vault.Invite, reason string) error {
	if err := s.directory.PutInvite(ctx, *invite); err != nil {
		return err
	}
	entry := s.auditEntry(audit.OpInviteReject)
	entry.ShareID = invite.ShareID
	entry.InviteID = invite.ID
	entry.Reason = reason
	audit.Log(entry)
	return nil
}

// ListInvitesOptions configures the invite list workflow.
type ListInvitesOptions struct {
	SessionOptions
}

// ListInvites returns the invites addressed to the current user.
func ListInvites(ctx context.Context, opts ListInvitesOptions) ([]vault.Invite, error) {
	s, err := openSession(ctx, opts.SessionOptions)
	if err != nil {
		return nil, err
	}
	defer s.close()
	return s.directory.Invites(ctx, s.user.User.Email)
}

func inviteResult(invite *vault.Invite) *InviteResult {
	return &InviteResult{
		InviteID:   invite.ID,
		ShareID:    invite.ShareID,
		State:      invite.State,
		Rotation:   invite.KeyRotation,
		BlobsCount: len(invite.Keys),
	}
}

func (s *session) sealedVaultPath(shareID string) string {
	return filepath.Join(keyStoreDir(s.project.Project.UUID), shareID, "vault.sealed")
}

// saveSealedVault keeps the vault content readable offline, sealed under
// the local storage key.
func (s *session) saveSealedVault(shareID string, sealed []byte) error {
	path := s.sealedVaultPath(shareID)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, sealed, 0600)
}

func (s *session) loadSealedVault(shareID string) (items.VaultContent, error) {
	sealed, err := os.ReadFile(s.sealedVaultPath(shareID))
	if err != nil {
		return items.VaultContent{}, err
	}
	plaintext, err := s.sealer.Open(sealed)
	if err != nil {
		return items.VaultContent{}, err
	}
	return items.UnmarshalVaultContent(plaintext)
}
