// Package invites signs and verifies vault invites.
//
// An inviter signs the invitee's email, the inviter's own address and the
// fingerprint of the vault key being shared. The invitee verifies the
// signature before accepting; an invite whose signature does not verify is
// moved to the rejected state and can never be accepted afterwards.
package invites

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/secrets"
	"github.com/PolarWolf314/sharevault/internal/utils"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

const newUserInviteDomain = "sharevault.invite.newuser.v1"

// Signature is an Ed25519 signature over the invite digest.
type Signature []byte

// digest is BLAKE3 over the length prefixed invite fields.
func digest(inviterAddress, email string, vaultKey vault.ShareKey) [32]byte {
	fingerprint := vaultKey.Fingerprint()

	var msg []byte
	for _, field := range [][]byte{
		[]byte(newUserInviteDomain),
		[]byte(vaultKey.ShareID),
		[]byte(inviterAddress),
		[]byte(utils.NormalizeEmail(email)),
	} {
		msg = binary.BigEndian.AppendUint32(msg, uint32(len(field)))
		msg = append(msg, field...)
	}
	msg = binary.BigEndian.AppendUint64(msg, uint64(vaultKey.Rotation))
	msg = append(msg, fingerprint[:]...)

	return blake3.Sum256(msg)
}

// CreateNewUserInviteSignature signs an invite for email on behalf of inviterAddress.
func CreateNewUserInviteSignature(signer *secrets.Identity, inviterAddress, email string, vaultKey vault.ShareKey) (Signature, error) {
	if signer == nil {
		return nil, kerrors.ErrInvalidPrivateKey
	}
	if vaultKey.IsZero() {
		return nil, kerrors.ErrKeyNotFound
	}
	if inviterAddress == "" || utils.NormalizeEmail(email) == "" {
		return nil, fmt.Errorf("invite requires an inviter address and an invitee email")
	}

	sum := digest(inviterAddress, email, vaultKey)
	return signer.Sign(sum[:]), nil
}

// VerifyNewUserInviteSignature fails with ErrInvalidSignature when any of
// the signed fields differs.
func VerifyNewUserInviteSignature(inviterKey ed25519.PublicKey, inviterAddress, email string, vaultKey vault.ShareKey, sig Signature) error {
	if vaultKey.IsZero() {
		return kerrors.ErrKeyNotFound
	}
	sum := digest(inviterAddress, email, vaultKey)
	return secrets.Verify(inviterKey, sum[:], sig)
}

// New prepares a signed invite for email. Invitees without an account start
// in PendingAccountCreation.
func New(signer *secrets.Identity, inviterAddress, email string, role vault.Role, vaultKey vault.ShareKey, hasAccount bool) (*vault.Invite, error) {
	sig, err := CreateNewUserInviteSignature(signer, inviterAddress, email, vaultKey)
	if err != nil {
		return nil, err
	}

	state := vault.InvitePendingAccountCreation
	if hasAccount {
		state = vault.InvitePendingAcceptance
	}

	now := time.Now().UTC()
	return &vault.Invite{
		ID:             uuid.New().String(),
		ShareID:        vaultKey.ShareID,
		InviterAddress: inviterAddress,
		InviteeEmail:   utils.NormalizeEmail(email),
		Role:           role,
		State:          state,
		Signature:      sig,
		KeyRotation:    vaultKey.Rotation,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// AccountCreated records that the invitee now has an account.
func AccountCreated(invite *vault.Invite, inviteeID string) error {
	if err := invite.Transition(vault.InvitePendingAcceptance); err != nil {
		return err
	}
	invite.InviteeID = inviteeID
	return nil
}

// Accept verifies the invite signature with the inviter's key and the
// vault key the invite carries. A failed verification rejects the invite.
func Accept(invite *vault.Invite, inviterKey ed25519.PublicKey, vaultKey vault.ShareKey) error {
	if invite.State == vault.InviteRejected {
		return fmt.Errorf("invite %s: %w", invite.ID, kerrors.ErrInviteRejected)
	}
	if !invite.State.CanTransition(vault.InviteAccepted) {
		return fmt.Errorf("invite %s: %w: %s -> %s", invite.ID, kerrors.ErrInvalidInviteTransition, invite.State, vault.InviteAccepted)
	}

	var err error
	switch {
	case vaultKey.ShareID != invite.ShareID || vaultKey.Rotation != invite.KeyRotation:
		err = kerrors.ErrInvalidSignature
	default:
		err = VerifyNewUserInviteSignature(inviterKey, invite.InviterAddress, invite.InviteeEmail, vaultKey, invite.Signature)
	}
	if err != nil {
		if rejectErr := invite.Transition(vault.InviteRejected); rejectErr != nil {
			return rejectErr
		}
		return fmt.Errorf("invite %s rejected: %w", invite.ID, err)
	}

	return invite.Transition(vault.InviteAccepted)
}

// Reject declines the invite.
func Reject(invite *vault.Invite) error {
	return invite.Transition(vault.InviteRejected)
}
