package vault

import (
	"encoding/binary"
	"fmt"
	"time"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
)

// envelopeHeaderSize is u32 format version + i64 key rotation.
const envelopeHeaderSize = 4 + 8

// EncryptedContent is the envelope binding ciphertext to the key rotation
// and content format version needed to decrypt it.
type EncryptedContent struct {
	Ciphertext           []byte `json:"ciphertext"`
	KeyRotation          int64  `json:"key_rotation"`
	ContentFormatVersion int    `json:"content_format_version"`
}

// MarshalBinary encodes the envelope as version || rotation || ciphertext, big endian.
func (c EncryptedContent) MarshalBinary() ([]byte, error) {
	if c.ContentFormatVersion < 0 || int64(c.ContentFormatVersion) > int64(^uint32(0)) {
		return nil, fmt.Errorf("content format version %d out of range", c.ContentFormatVersion)
	}
	out := make([]byte, envelopeHeaderSize, envelopeHeaderSize+len(c.Ciphertext))
	binary.BigEndian.PutUint32(out[0:4], uint32(c.ContentFormatVersion))
	binary.BigEndian.PutUint64(out[4:12], uint64(c.KeyRotation))
	return append(out, c.Ciphertext...), nil
}

// UnmarshalBinary parses an envelope produced by MarshalBinary.
func (c *EncryptedContent) UnmarshalBinary(data []byte) error {
	if len(data) < envelopeHeaderSize {
		return fmt.Errorf("%w: envelope is %d bytes, need at least %d", kerrors.ErrDecoding, len(data), envelopeHeaderSize)
	}
	c.ContentFormatVersion = int(binary.BigEndian.Uint32(data[0:4]))
	c.KeyRotation = int64(binary.BigEndian.Uint64(data[4:12]))
	c.Ciphertext = append([]byte(nil), data[envelopeHeaderSize:]...)
	return nil
}

// ShareKeyBlob is a share key wrapped for one member and signed by the
// share signing key.
type ShareKeyBlob struct {
	ShareID     string    `json:"share_id"`
	Rotation    int64     `json:"rotation"`
	RecipientID string    `json:"recipient_id"`
	WrappedKey  []byte    `json:"wrapped_key"`
	Signature   []byte    `json:"signature"`
	CreatedAt   time.Time `json:"created_at"`
}

// EncryptedKeyBlob is the outbound form of a re-encrypted share key.
type EncryptedKeyBlob = ShareKeyBlob

// EncryptedItemKey is an item key wrapped under a share key.
type EncryptedItemKey struct {
	Key         []byte `json:"key"`
	KeyRotation int64  `json:"key_rotation"`
}

// EncryptedUpdateVaultRequest is the wire shape the server accepts for a vault update.
type EncryptedUpdateVaultRequest struct {
	Content              string `json:"content"`
	ContentFormatVersion int    `json:"contentFormatVersion"`
	KeyRotation          int64  `json:"keyRotation"`
}

// Role is a member's permission level on a share.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleWrite Role = "write"
	RoleRead  Role = "read"
)

// CanManageMembers reports whether the role may invite or rotate.
func (r Role) CanManageMembers() bool {
	return r == RoleAdmin
}

// Member is a party holding a wrapped copy of the share keys.
type Member struct {
	ID                  string `json:"id"`
	Address             string `json:"address"`
	Email               string `json:"email"`
	Role                Role   `json:"role"`
	EncryptionPublicKey []byte `json:"encryption_public_key"`
	SigningPublicKey    []byte `json:"signing_public_key"`
}

// Vault holds no secret material; it references share keys through ShareID.
type Vault struct {
	ShareID     string   `json:"share_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Color       string   `json:"color,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Role        Role     `json:"role"`
	Members     []Member `json:"members"`
	Shared      bool     `json:"shared"`
}

// Item is the stored form of a vault item: contents sealed under a per-item
// key, which is itself wrapped under a share key.
type Item struct {
	ID         string           `json:"id"`
	ShareID    string           `json:"share_id"`
	Revision   int64            `json:"revision"`
	ItemKey    EncryptedItemKey `json:"item_key"`
	Content    EncryptedContent `json:"content"`
	CreatedAt  time.Time        `json:"created_at"`
	ModifiedAt time.Time        `json:"modified_at"`
}
