package workflows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/PolarWolf314/sharevault/internal/audit"
	"github.com/PolarWolf314/sharevault/internal/items"
	"github.com/PolarWolf314/sharevault/internal/reencrypt"
	"github.com/PolarWolf314/sharevault/internal/remote"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

// firstRotation is the rotation of a share's initial key.
const firstRotation int64 = 1

// CreateVaultOptions configures the vault create workflow.
type CreateVaultOptions struct {
	SessionOptions

	Content items.VaultContent
}

// CreateVaultResult contains the outcome of creating a vault.
type CreateVaultResult struct {
	ShareID  string
	Rotation int64
}

// CreateVault creates a share owned by the current member. The member's
// signing key becomes the share signing key.
func CreateVault(ctx context.Context, opts CreateVaultOptions) (*CreateVaultResult, error) {
	s, err := openSession(ctx, opts.SessionOptions)
	if err != nil {
		return nil, err
	}
	defer s.close()
	if opts.Content.Name == "" {
		return nil, fmt.Errorf("vault name is required")
	}

	shareID := uuid.New().String()
	key, err := vault.GenerateShareKey(shareID, firstRotation)
	if err != nil {
		return nil, err
	}

	content, err := items.EncodeVaultContent(opts.Content, key)
	if err != nil {
		return nil, err
	}

	me, err := s.directory.GetMember(ctx, s.memberID())
	if err != nil {
		return nil, err
	}
	batch, err := s.service.ReencryptShareKeys(ctx, []vault.ShareKey{key}, []reencrypt.Recipient{reencrypt.RecipientFromMember(me)})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := publishShare(ctx, s.directory, remote.Share{
		ID:         shareID,
		OwnerID:    s.memberID(),
		SigningKey: s.identity.SigningPublicKey(),
		Members:    map[string]vault.Role{s.memberID(): vault.RoleAdmin},
		Content:    content,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, batch); err != nil {
		return nil, err
	}
	if err := s.keys.Remember(key); err != nil {
		s.log.Warnf("Could not cache key for share %s: %v", shareID, err)
	}

	entry := s.auditEntry(audit.OpVaultCreate)
	entry.ShareID = shareID
	entry.VaultName = opts.Content.Name
	entry.Rotation = key.Rotation
	audit.Log(entry)

	return &CreateVaultResult{ShareID: shareID, Rotation: key.Rotation}, nil
}

// shareStore is the part of the project store a new share is written to.
type shareStore interface {
	reencrypt.BlobSink
	CreateShare(ctx context.Context, share remote.Share) error
	DeleteShare(ctx context.Context, shareID string) error
}

// publishShare creates the share and commits its first key blobs. If the
// blobs cannot be committed the share is removed again.
func publishShare(ctx context.Context, store shareStore, share remote.Share, batch *reencrypt.Batch) error {
	if err := store.CreateShare(ctx, share); err != nil {
		return err
	}
	if err := batch.Commit(ctx, store); err != nil {
		if deleteErr := store.DeleteShare(context.WithoutCancel(ctx), share.ID); deleteErr != nil {
			return errors.Join(err, deleteErr)
		}
		return err
	}
	return nil
}

// ListVaultsOptions configures the vault list workflow.
type ListVaultsOptions struct {
	SessionOptions
}

// VaultSummary is a vault the member belongs to. Err is set when the vault
// content could not be decrypted; the other vaults are still listed.
type VaultSummary struct {
	vault.Vault
	Rotation int64
	Err      error
}

// ListVaults lists and decrypts every vault the current member belongs to.
func ListVaults(ctx context.Context, opts ListVaultsOptions) ([]VaultSummary, error) {
	s, err := openSession(ctx, opts.SessionOptions)
	if err != nil {
		return nil, err
	}
	defer s.close()

	shares, err := s.directory.Shares(ctx, s.memberID())
	if err != nil {
		return nil, err
	}

	summaries := make([]VaultSummary, 0, len(shares))
	for _, share := range shares {
		summary := VaultSummary{
			Vault: vault.Vault{
				ShareID: share.ID,
				Role:    share.Members[s.memberID()],
				Shared:  len(share.Members) > 1,
			},
			Rotation: share.LatestRotation(),
		}

		for memberID, role := range share.Members {
			member, err := s.directory.GetMember(ctx, memberID)
			if err != nil {
				member = vault.Member{ID: memberID}
			}
			member.Role = role
			summary.Members = append(summary.Members, member)
		}
		sort.Slice(summary.Members, func(i, j int) bool { return summary.Members[i].Email < summary.Members[j].Email })

		vc, err := s.vaultContent(ctx, share)
		if err != nil {
			cached, cacheErr := s.loadSealedVault(share.ID)
			if cacheErr == nil {
				s.log.Warnf("Vault %s: using locally cached content: %v", share.ID, err)
				vc, err = cached, nil
			}
		}
		if err != nil {
			s.log.Warnf("Could not decrypt vault %s: %v", share.ID, err)
			summary.Err = err
		} else {
			summary.Name = vc.Name
			summary.Description = vc.Description
			summary.Color = vc.Color
			summary.Icon = vc.Icon
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *session) vaultContent(ctx context.Context, share remote.Share) (items.VaultContent, error) {
	key, err := s.shareKey(ctx, share.ID, share.Content.KeyRotation)
	if err != nil {
		return items.VaultContent{}, err
	}
	return items.DecodeVaultContent(share.Content, key)
}

// RotateVaultOptions configures the vault rotate workflow.
type RotateVaultOptions struct {
	SessionOptions

	ShareID string
}

// RotateVaultResult contains the outcome of a rotation.
type RotateVaultResult struct {
	ShareID         string
	Rotation        int64
	RecipientsCount int
	BlobsCount      int
}

// RotateVault issues rotation latest+1 of the share key to every member and
// re-encrypts the vault content under it. Older rotations stay published so
// existing items remain readable.
//
// Returns ErrPermissionDenied unless the current member owns the share.
func RotateVault(ctx context.Context, opts RotateVaultOptions) (*RotateVaultResult, error) {
	s, err := openSession(ctx, opts.SessionOptions)
	if err != nil {
		return nil, err
	}
	defer s.close()

	share, err := s.ownedShare(ctx, opts.ShareID)
	if err != nil {
		return nil, err
	}

	current, err := s.keys.GetLatestKey(ctx, share.ID, true)
	if err != nil {
		return nil, err
	}
	vc, err := s.vaultContent(ctx, share)
	if err != nil {
		return nil, err
	}

	recipients, err := s.recipients(ctx, share)
	if err != nil {
		return nil, err
	}
	next, batch, err := s.service.RotateShareKey(ctx, current, recipients)
	if err != nil {
		return nil, err
	}
	update, err := s.service.ReencryptShareContents(vc, next)
	if err != nil {
		return nil, err
	}

	if err := batch.Commit(ctx, s.directory); err != nil {
		return nil, err
	}
	if err := s.directory.UpdateShareContent(ctx, share.ID, update); err != nil {
		return nil, err
	}
	if err := s.keys.Remember(next); err != nil {
		s.log.Warnf("Could not cache key for share %s rotation %d: %v", share.ID, next.Rotation, err)
	}
	s.log.Infof("Share %s rotated to %d for %d member(s)", share.ID, next.Rotation, len(recipients))

	entry := s.auditEntry(audit.OpVaultRotate)
	entry.ShareID = share.ID
	entry.VaultName = vc.Name
	entry.Rotation = next.Rotation
	entry.RecipientsCount = len(recipients)
	entry.BlobsCount = batch.Len()
	audit.Log(entry)

	return &RotateVaultResult{
		ShareID:         share.ID,
		Rotation:        next.Rotation,
		RecipientsCount: len(recipients),
		BlobsCount:      batch.Len(),
	}, nil
}

// AddMemberOptions configures the vault add-member workflow.
type AddMemberOptions struct {
	SessionOptions

	ShareID string
	Email   string
	Role    vault.Role
}

// AddMemberResult contains the outcome of adding a member.
type AddMemberResult struct {
	MemberID   string
	BlobsCount int
}

// AddMember wraps every rotation of the share key for a member who has
// already run init in this project, then records their role.
func AddMember(ctx context.Context, opts AddMemberOptions) (*AddMemberResult, error) {
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

	member, err := s.directory.FindMemberByEmail(ctx, opts.Email)
	if err != nil {
		return nil, err
	}

	keys, err := s.keys.Keys(ctx, share.ID)
	if err != nil {
		return nil, err
	}
	batch, err := s.service.ReencryptShareKeys(ctx, keys, []reencrypt.Recipient{reencrypt.RecipientFromMember(member)})
	if err != nil {
		return nil, err
	}
	if err := batch.Commit(ctx, s.directory); err != nil {
		return nil, err
	}
	if err := s.directory.AddShareMember(ctx, share.ID, member.ID, role); err != nil {
		return nil, err
	}

	entry := s.auditEntry(audit.OpMemberAdd)
	entry.ShareID = share.ID
	entry.TargetUser = member.Email
	entry.TargetUUID = member.ID
	entry.RecipientsCount = 1
	entry.BlobsCount = batch.Len()
	audit.Log(entry)

	return &AddMemberResult{MemberID: member.ID, BlobsCount: batch.Len()}, nil
}

func parseRole(role vault.Role) (vault.Role, error) {
	switch role {
	case "":
		return vault.RoleRead, nil
	case vault.RoleAdmin, vault.RoleWrite, vault.RoleRead:
		return role, nil
	default:
		return "", fmt.Errorf("unknown role %q, expected admin, write or read", role)
	}
}
