package keystore

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

const (
	// SaltSize is the size of the Argon2id salt kept in the user config.
	SaltSize = 16

	storageKeySize = 32
	nonceSize      = 24

	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Sealer seals and opens records under the local storage key.
type Sealer struct {
	key *memguard.Enclave
}

// GenerateSalt returns a fresh random salt for NewSealer.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// NewSealer derives the storage key from passphrase and salt with Argon2id.
func NewSealer(passphrase, salt []byte) (*Sealer, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("invalid storage salt: expected %d bytes, got %d", SaltSize, len(salt))
	}
	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, storageKeySize)
	return &Sealer{key: memguard.NewEnclave(key)}, nil
}

// NewSealerFromKey wraps an existing 32-byte storage key. raw is wiped.
func NewSealerFromKey(raw []byte) (*Sealer, error) {
	if len(raw) != storageKeySize {
		memguard.WipeBytes(raw)
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", kerrors.ErrInvalidKeyLength, storageKeySize, len(raw))
	}
	return &Sealer{key: memguard.NewEnclave(raw)}, nil
}

// Seal returns nonce || secretbox(plaintext).
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open storage key: %w", err)
	}
	defer buf.Destroy()

	return secretbox.Seal(nonce[:], plaintext, &nonce, buf.ByteArray32()), nil
}

// Open reverses Seal. Any modification fails with ErrAuthentication.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: sealed record too short", kerrors.ErrAuthentication)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open storage key: %w", err)
	}
	defer buf.Destroy()

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, buf.ByteArray32())
	if !ok {
		return nil, kerrors.ErrAuthentication
	}
	return plaintext, nil
}

// SealShareKey seals key together with its share ID and rotation.
func (s *Sealer) SealShareKey(key vault.ShareKey) ([]byte, error) {
	if key.IsZero() {
		return nil, kerrors.ErrKeyNotFound
	}

	raw, err := key.Enclave().Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer raw.Destroy()

	record := recordHeader(key.ShareID, key.Rotation)
	record = append(record, raw.Bytes()...)
	defer memguard.WipeBytes(record)

	return s.Seal(record)
}

// OpenShareKey opens a record produced by SealShareKey and checks that it
// belongs to shareID at rotation.
func (s *Sealer) OpenShareKey(shareID string, rotation int64, sealed []byte) (vault.ShareKey, error) {
	record, err := s.Open(sealed)
	if err != nil {
		return vault.ShareKey{}, &kerrors.KeyError{ShareID: shareID, Rotation: rotation, Err: err}
	}
	defer memguard.WipeBytes(record)

	header := recordHeader(shareID, rotation)
	if len(record) != len(header)+vault.KeySize || string(record[:len(header)]) != string(header) {
		return vault.ShareKey{}, &kerrors.KeyError{ShareID: shareID, Rotation: rotation, Err: kerrors.ErrAuthentication}
	}

	raw := make([]byte, vault.KeySize)
	copy(raw, record[len(header):])
	return vault.NewShareKey(shareID, rotation, raw)
}

func recordHeader(shareID string, rotation int64) []byte {
	out := make([]byte, 0, 4+len(shareID)+8+vault.KeySize)
	out = binary.BigEndian.AppendUint32(out, uint32(len(shareID)))
	out = append(out, shareID...)
	return binary.BigEndian.AppendUint64(out, uint64(rotation))
}
