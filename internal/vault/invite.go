package vault

import (
	"fmt"
	"time"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
)

// InviteState is the lifecycle position of an invite.
type InviteState string

const (
	InvitePendingAccountCreation InviteState = "pending_account_creation"
	InvitePendingAcceptance      InviteState = "pending_acceptance"
	InviteAccepted               InviteState = "accepted"
	InviteRejected               InviteState = "rejected"
)

var inviteTransitions = map[InviteState][]InviteState{
	InvitePendingAccountCreation: {InvitePendingAcceptance, InviteRejected},
	InvitePendingAcceptance:      {InviteAccepted, InviteRejected},
}

// Terminal reports whether no further transition is possible.
func (s InviteState) Terminal() bool {
	return s == InviteAccepted || s == InviteRejected
}

// CanTransition reports whether s may move to next.
func (s InviteState) CanTransition(next InviteState) bool {
	for _, allowed := range inviteTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Invite is a pending membership request.
type Invite struct {
	ID             string           `json:"id"`
	ShareID        string           `json:"share_id"`
	InviterAddress string           `json:"inviter_address"`
	InviteeEmail   string           `json:"invitee_email"`
	InviteeID      string           `json:"invitee_id,omitempty"`
	Role           Role             `json:"role"`
	State          InviteState      `json:"state"`
	Signature      []byte           `json:"signature"`
	KeyRotation    int64            `json:"key_rotation"`
	Keys           []ShareKeyBlob   `json:"keys,omitempty"`
	VaultContent   EncryptedContent `json:"vault_content"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Transition moves the invite to next, enforcing the state machine.
func (i *Invite) Transition(next InviteState) error {
	if i.State == InviteRejected {
		return fmt.Errorf("invite %s: %w", i.ID, kerrors.ErrInviteRejected)
	}
	if !i.State.CanTransition(next) {
		return fmt.Errorf("invite %s: %w: %s -> %s", i.ID, kerrors.ErrInvalidInviteTransition, i.State, next)
	}
	i.State = next
	i.UpdatedAt = time.Now().UTC()
	return nil
}
