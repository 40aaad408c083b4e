package vault

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"lukechampine.com/blake3"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
)

// KeySize is the size of every symmetric key in the hierarchy.
const KeySize = 32

// Key is implemented by every rotated symmetric key.
type Key interface {
	KeyRotation() int64
	Enclave() *memguard.Enclave
	Fingerprint() [32]byte
}

// SymmetricKey is a rotated 256-bit key sealed in a memguard enclave.
type SymmetricKey struct {
	Rotation    int64
	enclave     *memguard.Enclave
	fingerprint [32]byte
}

// ShareKey is the vault-level key for one rotation of a share.
type ShareKey struct {
	ShareID string
	SymmetricKey
}

// ItemKey is the per-item key, wrapped under the share key of the same rotation.
type ItemKey struct {
	ShareID string
	ItemID  string
	SymmetricKey
}

func newSymmetricKey(rotation int64, raw []byte) (SymmetricKey, error) {
	if len(raw) != KeySize {
		return SymmetricKey{}, fmt.Errorf("%w: expected %d bytes, got %d", kerrors.ErrInvalidKeyLength, KeySize, len(raw))
	}
	if rotation < 1 {
		return SymmetricKey{}, fmt.Errorf("invalid key rotation %d", rotation)
	}

	fingerprint := blake3.Sum256(raw)

	// NewEnclave wipes raw.
	return SymmetricKey{
		Rotation:    rotation,
		enclave:     memguard.NewEnclave(raw),
		fingerprint: fingerprint,
	}, nil
}

// NewShareKey seals raw into a ShareKey. raw is wiped.
func NewShareKey(shareID string, rotation int64, raw []byte) (ShareKey, error) {
	sk, err := newSymmetricKey(rotation, raw)
	if err != nil {
		memguard.WipeBytes(raw)
		return ShareKey{}, err
	}
	return ShareKey{ShareID: shareID, SymmetricKey: sk}, nil
}

// NewItemKey seals raw into an ItemKey. raw is wiped.
func NewItemKey(shareID, itemID string, rotation int64, raw []byte) (ItemKey, error) {
	sk, err := newSymmetricKey(rotation, raw)
	if err != nil {
		memguard.WipeBytes(raw)
		return ItemKey{}, err
	}
	return ItemKey{ShareID: shareID, ItemID: itemID, SymmetricKey: sk}, nil
}

// GenerateShareKey creates a fresh random ShareKey.
func GenerateShareKey(shareID string, rotation int64) (ShareKey, error) {
	raw, err := randomKey()
	if err != nil {
		return ShareKey{}, err
	}
	return NewShareKey(shareID, rotation, raw)
}

// GenerateItemKey creates a fresh random ItemKey.
func GenerateItemKey(shareID, itemID string, rotation int64) (ItemKey, error) {
	raw, err := randomKey()
	if err != nil {
		return ItemKey{}, err
	}
	return NewItemKey(shareID, itemID, rotation, raw)
}

func randomKey() ([]byte, error) {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("failed to generate symmetric key: %w", err)
	}
	return raw, nil
}

func (k SymmetricKey) KeyRotation() int64 {
	return k.Rotation
}

func (k SymmetricKey) Enclave() *memguard.Enclave {
	return k.enclave
}

// Fingerprint is the BLAKE3-256 digest of the raw key.
func (k SymmetricKey) Fingerprint() [32]byte {
	return k.fingerprint
}

// IsZero reports whether the key was never initialized.
func (k SymmetricKey) IsZero() bool {
	return k.enclave == nil
}

// SameMaterial reports whether both keys hold identical key bytes.
func (k SymmetricKey) SameMaterial(other SymmetricKey) bool {
	return k.fingerprint == other.fingerprint
}
