package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

// Tag names the purpose of a ciphertext and is bound into its associated data.
type Tag string

const (
	TagItemContent  Tag = "itemcontent"
	TagItemKey      Tag = "itemkey"
	TagVaultContent Tag = "vaultcontent"
)

// AssociatedData describes what a ciphertext is for.
type AssociatedData struct {
	Tag           Tag
	FormatVersion int
}

// EncryptionContext encrypts and decrypts under a single rotated key.
// It is not safe for concurrent use; open one context per goroutine.
type EncryptionContext struct {
	buf      *memguard.LockedBuffer
	aead     cipher.AEAD
	rotation int64
}

// OpenContext opens key into a locked buffer and prepares the AEAD.
func OpenContext(key vault.Key) (*EncryptionContext, error) {
	if key == nil || key.Enclave() == nil {
		return nil, kerrors.ErrKeyNotFound
	}

	buf, err := key.Enclave().Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open key enclave: %w", err)
	}

	aead, err := chacha20poly1305.NewX(buf.Bytes())
	if err != nil {
		buf.Destroy()
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidKeyLength, err)
	}

	return &EncryptionContext{buf: buf, aead: aead, rotation: key.KeyRotation()}, nil
}

// WithKey runs fn with a context for key and closes it afterwards.
func WithKey(key vault.Key, fn func(*EncryptionContext) error) error {
	c, err := OpenContext(key)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// Close wipes the raw key. The context cannot be used afterwards.
func (c *EncryptionContext) Close() {
	if c.buf != nil {
		c.buf.Destroy()
		c.buf = nil
	}
	c.aead = nil
}

// Rotation returns the rotation of the key this context was opened with.
func (c *EncryptionContext) Rotation() int64 {
	return c.rotation
}

// Encrypt seals plaintext and stamps the envelope with the key rotation.
func (c *EncryptionContext) Encrypt(plaintext []byte, ad AssociatedData) (vault.EncryptedContent, error) {
	if c.aead == nil {
		return vault.EncryptedContent{}, kerrors.ErrContextClosed
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return vault.EncryptedContent{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aad := associatedData(ad.Tag, ad.FormatVersion, c.rotation)
	ciphertext := c.aead.Seal(nonce, nonce, plaintext, aad)

	return vault.EncryptedContent{
		Ciphertext:           ciphertext,
		KeyRotation:          c.rotation,
		ContentFormatVersion: ad.FormatVersion,
	}, nil
}

// Decrypt opens content. A rotation other than the context's fails with
// ErrKeyRotationMismatch; any tampering fails with ErrAuthentication.
func (c *EncryptionContext) Decrypt(content vault.EncryptedContent, tag Tag) ([]byte, error) {
	if c.aead == nil {
		return nil, kerrors.ErrContextClosed
	}
	if content.KeyRotation != c.rotation {
		return nil, fmt.Errorf("%w: content rotation %d, key rotation %d", kerrors.ErrKeyRotationMismatch, content.KeyRotation, c.rotation)
	}
	if len(content.Ciphertext) < chacha20poly1305.NonceSizeX+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", kerrors.ErrAuthentication)
	}

	nonce := content.Ciphertext[:chacha20poly1305.NonceSizeX]
	sealed := content.Ciphertext[chacha20poly1305.NonceSizeX:]
	aad := associatedData(tag, content.ContentFormatVersion, content.KeyRotation)

	plaintext, err := c.aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, kerrors.ErrAuthentication
	}
	return plaintext, nil
}

func associatedData(tag Tag, version int, rotation int64) []byte {
	out := make([]byte, 0, len(tag)+1+4+8)
	out = append(out, tag...)
	out = append(out, 0)
	out = binary.BigEndian.AppendUint32(out, uint32(version))
	return binary.BigEndian.AppendUint64(out, uint64(rotation))
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	memguard.WipeBytes(b)
}
