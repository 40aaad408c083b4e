package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

const wrapInfo = "sharevault/keywrap/v1"

// wrappedKeyMinSize is ephemeral public key + nonce + tag.
const wrappedKeyMinSize = curve25519.PointSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// ValidatePublicKey checks that pub is a usable X25519 public key.
func ValidatePublicKey(pub []byte) error {
	if len(pub) != curve25519.PointSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", kerrors.ErrInvalidPublicKey, curve25519.PointSize, len(pub))
	}
	probe := make([]byte, curve25519.ScalarSize)
	probe[0] = 9
	if _, err := curve25519.X25519(probe, pub); err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrInvalidPublicKey, err)
	}
	return nil
}

// WrapKey seals key for the holder of recipient's X25519 private key.
func WrapKey(key vault.Key, recipient []byte, aad []byte) ([]byte, error) {
	if key == nil || key.Enclave() == nil {
		return nil, kerrors.ErrKeyNotFound
	}
	if err := ValidatePublicKey(recipient); err != nil {
		return nil, err
	}

	ephemeral := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, ephemeral); err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	defer memguard.WipeBytes(ephemeral)

	ephemeralPub, err := curve25519.X25519(ephemeral, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive ephemeral public key: %w", err)
	}

	shared, err := curve25519.X25519(ephemeral, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPublicKey, err)
	}
	defer memguard.WipeBytes(shared)

	aead, err := wrapAEAD(shared, ephemeralPub, recipient)
	if err != nil {
		return nil, err
	}

	buf, err := key.Enclave().Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()

	out := make([]byte, 0, wrappedKeyMinSize+buf.Size())
	out = append(out, ephemeralPub...)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	out = append(out, nonce...)
	return aead.Seal(out, nonce, buf.Bytes(), aad), nil
}

// UnwrapKey opens a blob produced by WrapKey. The returned raw key must be
// handed to vault.NewShareKey or vault.NewItemKey, which wipe it.
func UnwrapKey(blob []byte, id *Identity, aad []byte) ([]byte, error) {
	if len(blob) < wrappedKeyMinSize {
		return nil, fmt.Errorf("%w: wrapped key too short", kerrors.ErrAuthentication)
	}
	ephemeralPub := blob[:curve25519.PointSize]
	nonce := blob[curve25519.PointSize:wrappedKeyMinSize-chacha20poly1305.Overhead]
	sealed := blob[wrappedKeyMinSize-chacha20poly1305.Overhead:]

	priv, err := id.encryption.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open identity enclave: %w", err)
	}
	defer priv.Destroy()

	shared, err := curve25519.X25519(priv.Bytes(), ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrAuthentication, err)
	}
	defer memguard.WipeBytes(shared)

	aead, err := wrapAEAD(shared, ephemeralPub, id.EncryptionPublicKey)
	if err != nil {
		return nil, err
	}

	raw, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, kerrors.ErrAuthentication
	}
	return raw, nil
}

func wrapAEAD(shared, ephemeralPub, recipient []byte) (cipher.AEAD, error) {
	salt := make([]byte, 0, len(ephemeralPub)+len(recipient))
	salt = append(salt, ephemeralPub...)
	salt = append(salt, recipient...)

	kek := make([]byte, chacha20poly1305.KeySize)
	defer memguard.WipeBytes(kek)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(wrapInfo)), kek); err != nil {
		return nil, fmt.Errorf("failed to derive wrapping key: %w", err)
	}

	return chacha20poly1305.NewX(kek)
}
