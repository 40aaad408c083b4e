package reencrypt

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/items"
	"github.com/PolarWolf314/sharevault/internal/keystore"
	logger "github.com/PolarWolf314/sharevault/internal/logging"
	"github.com/PolarWolf314/sharevault/internal/secrets"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

// Recipient is a member or invitee that receives wrapped share keys.
type Recipient struct {
	ID                  string
	EncryptionPublicKey []byte
}

// RecipientFromMember builds a Recipient from a share member.
func RecipientFromMember(m vault.Member) Recipient {
	return Recipient{ID: m.ID, EncryptionPublicKey: m.EncryptionPublicKey}
}

// Service signs every blob it produces with the signer identity.
type Service struct {
	signer *secrets.Identity
	log    logger.Logger
	now    func() time.Time
}

func NewService(signer *secrets.Identity, log logger.Logger) *Service {
	return &Service{
		signer: signer,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ReencryptShareKey wraps key for recipient and signs the result.
func (s *Service) ReencryptShareKey(key vault.ShareKey, recipient Recipient) (vault.EncryptedKeyBlob, error) {
	if recipient.ID == "" {
		return vault.EncryptedKeyBlob{}, fmt.Errorf("recipient has no id")
	}

	aad := vault.ShareKeyWrapAAD(key.ShareID, key.Rotation, recipient.ID)
	wrapped, err := secrets.WrapKey(key, recipient.EncryptionPublicKey, aad)
	if err != nil {
		return vault.EncryptedKeyBlob{}, fmt.Errorf("failed to wrap share %s rotation %d for %s: %w", key.ShareID, key.Rotation, recipient.ID, err)
	}

	blob := vault.EncryptedKeyBlob{
		ShareID:     key.ShareID,
		Rotation:    key.Rotation,
		RecipientID: recipient.ID,
		WrappedKey:  wrapped,
		CreatedAt:   s.now(),
	}
	blob.Signature = s.signer.Sign(blob.SignedMessage())
	return blob, nil
}

// ReencryptShareKeys wraps every key for every recipient. Any failure
// discards the whole batch.
func (s *Service) ReencryptShareKeys(ctx context.Context, keys []vault.ShareKey, recipients []Recipient) (*Batch, error) {
	if len(keys) == 0 {
		return nil, kerrors.ErrKeyNotFound
	}

	blobs := make([]vault.EncryptedKeyBlob, 0, len(keys)*len(recipients))
	for _, recipient := range recipients {
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			blob, err := s.ReencryptShareKey(key, recipient)
			if err != nil {
				s.log.Debugf("Discarding batch of %d blob(s): %v", len(blobs), err)
				return nil, err
			}
			blobs = append(blobs, blob)
		}
	}

	s.log.Debugf("Prepared %d blob(s) for %d recipient(s)", len(blobs), len(recipients))
	return &Batch{blobs: blobs}, nil
}

// EncryptInviteKeys wraps every retained rotation for an invitee so that
// content encrypted under older rotations stays readable after acceptance.
func (s *Service) EncryptInviteKeys(ctx context.Context, keys []vault.ShareKey, invitee Recipient) (*Batch, error) {
	return s.ReencryptShareKeys(ctx, keys, []Recipient{invitee})
}

// ReencryptShareContents encrypts vault content under shareKey into the
// update request sent to the server.
func (s *Service) ReencryptShareContents(vc items.VaultContent, shareKey vault.ShareKey) (vault.EncryptedUpdateVaultRequest, error) {
	content, err := items.EncodeVaultContent(vc, shareKey)
	if err != nil {
		return vault.EncryptedUpdateVaultRequest{}, err
	}

	return vault.EncryptedUpdateVaultRequest{
		Content:              base64.StdEncoding.EncodeToString(content.Ciphertext),
		ContentFormatVersion: content.ContentFormatVersion,
		KeyRotation:          content.KeyRotation,
	}, nil
}

// ReencryptInviteContents decrypts the vault content carried by an invite
// and reseals it under the local storage key. The invite must already be
// accepted, which is the state invites.Accept leaves it in once the signature
// has verified.
func (s *Service) ReencryptInviteContents(invite vault.Invite, inviteKey vault.ShareKey, sealer *keystore.Sealer) (items.VaultContent, []byte, error) {
	switch invite.State {
	case vault.InviteAccepted:
	case vault.InviteRejected:
		return items.VaultContent{}, nil, fmt.Errorf("invite %s: %w", invite.ID, kerrors.ErrInviteRejected)
	default:
		return items.VaultContent{}, nil, fmt.Errorf("invite %s: %w: %s invite has not been verified", invite.ID, kerrors.ErrInvalidInviteTransition, invite.State)
	}
	if inviteKey.ShareID != invite.ShareID {
		return items.VaultContent{}, nil, &kerrors.KeyError{ShareID: invite.ShareID, Rotation: invite.VaultContent.KeyRotation, Err: kerrors.ErrKeyNotFound}
	}

	vc, err := items.DecodeVaultContent(invite.VaultContent, inviteKey)
	if err != nil {
		return items.VaultContent{}, nil, fmt.Errorf("invite %s: %w", invite.ID, err)
	}

	sealed, err := sealer.Seal(items.MarshalVaultContent(vc))
	if err != nil {
		return items.VaultContent{}, nil, err
	}
	return vc, sealed, nil
}

// RotateShareKey creates rotation current+1 and wraps it for every member.
// Older rotations are kept so existing content stays readable.
func (s *Service) RotateShareKey(ctx context.Context, current vault.ShareKey, members []Recipient) (vault.ShareKey, *Batch, error) {
	if current.IsZero() {
		return vault.ShareKey{}, nil, kerrors.ErrKeyNotFound
	}

	next, err := vault.GenerateShareKey(current.ShareID, current.Rotation+1)
	if err != nil {
		return vault.ShareKey{}, nil, err
	}

	batch, err := s.ReencryptShareKeys(ctx, []vault.ShareKey{next}, members)
	if err != nil {
		return vault.ShareKey{}, nil, err
	}
	return next, batch, nil
}
