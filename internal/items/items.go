// Package items encrypts item and vault contents.
//
// Contents are serialized into a canonical protobuf wire encoding and sealed
// under a rotated key. Every envelope records the key rotation and the
// content format version, and both are bound into the associated data, so
// an envelope cannot be replayed under another rotation or version.
package items

import (
	"fmt"
	"time"

	"github.com/awnumar/memguard"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/secrets"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

// CurrentFormatVersion is the content format written by this build.
const CurrentFormatVersion = 1

// Encode serializes contents and encrypts them under key. Contents that
// Decode could not read back fail with ErrInvalidContents.
func Encode(contents ItemContents, key vault.Key) (vault.EncryptedContent, error) {
	if err := contents.Validate(); err != nil {
		return vault.EncryptedContent{}, err
	}
	return seal(MarshalItemContents(contents), key, secrets.TagItemContent)
}

// Decode decrypts and parses an item envelope. Nothing is returned unless
// the whole payload parses.
func Decode(content vault.EncryptedContent, key vault.Key) (ItemContents, error) {
	plaintext, err := open(content, key, secrets.TagItemContent)
	if err != nil {
		return ItemContents{}, err
	}
	defer memguard.WipeBytes(plaintext)

	return UnmarshalItemContents(plaintext)
}

// EncodeVaultContent encrypts vault content under a share key.
func EncodeVaultContent(vc VaultContent, key vault.Key) (vault.EncryptedContent, error) {
	if err := vc.Validate(); err != nil {
		return vault.EncryptedContent{}, err
	}
	return seal(MarshalVaultContent(vc), key, secrets.TagVaultContent)
}

// DecodeVaultContent decrypts and parses vault content.
func DecodeVaultContent(content vault.EncryptedContent, key vault.Key) (VaultContent, error) {
	plaintext, err := open(content, key, secrets.TagVaultContent)
	if err != nil {
		return VaultContent{}, err
	}
	defer memguard.WipeBytes(plaintext)

	return UnmarshalVaultContent(plaintext)
}

func seal(plaintext []byte, key vault.Key, tag secrets.Tag) (vault.EncryptedContent, error) {
	defer memguard.WipeBytes(plaintext)

	var content vault.EncryptedContent
	err := secrets.WithKey(key, func(c *secrets.EncryptionContext) error {
		var err error
		content, err = c.Encrypt(plaintext, secrets.AssociatedData{Tag: tag, FormatVersion: CurrentFormatVersion})
		return err
	})
	return content, err
}

// open checks rotation before version so a stale key is reported as
// recoverable even for newer formats.
func open(content vault.EncryptedContent, key vault.Key, tag secrets.Tag) ([]byte, error) {
	if key == nil || key.Enclave() == nil {
		return nil, kerrors.ErrKeyNotFound
	}
	if content.KeyRotation != key.KeyRotation() {
		return nil, fmt.Errorf("%w: content rotation %d, key rotation %d", kerrors.ErrKeyRotationMismatch, content.KeyRotation, key.KeyRotation())
	}
	if content.ContentFormatVersion != CurrentFormatVersion {
		return nil, fmt.Errorf("%w %d", kerrors.ErrUnsupportedFormatVersion, content.ContentFormatVersion)
	}

	var plaintext []byte
	err := secrets.WithKey(key, func(c *secrets.EncryptionContext) error {
		var err error
		plaintext, err = c.Decrypt(content, tag)
		return err
	})
	return plaintext, err
}

// NewItemKey generates a fresh item key at the share key's rotation.
func NewItemKey(itemID string, shareKey vault.ShareKey) (vault.ItemKey, error) {
	return vault.GenerateItemKey(shareKey.ShareID, itemID, shareKey.Rotation)
}

// WrapItemKey encrypts an item key under the share key of the same rotation.
func WrapItemKey(itemKey vault.ItemKey, shareKey vault.ShareKey) (vault.EncryptedItemKey, error) {
	if itemKey.Rotation != shareKey.Rotation {
		return vault.EncryptedItemKey{}, fmt.Errorf("%w: item key rotation %d, share key rotation %d", kerrors.ErrKeyRotationMismatch, itemKey.Rotation, shareKey.Rotation)
	}
	if itemKey.IsZero() {
		return vault.EncryptedItemKey{}, kerrors.ErrKeyNotFound
	}

	raw, err := itemKey.Enclave().Open()
	if err != nil {
		return vault.EncryptedItemKey{}, fmt.Errorf("failed to open item key: %w", err)
	}
	defer raw.Destroy()

	plaintext := make([]byte, raw.Size())
	copy(plaintext, raw.Bytes())

	content, err := seal(plaintext, shareKey, secrets.TagItemKey)
	if err != nil {
		return vault.EncryptedItemKey{}, err
	}
	return vault.EncryptedItemKey{Key: content.Ciphertext, KeyRotation: content.KeyRotation}, nil
}

// UnwrapItemKey decrypts an item key with the share key of its rotation.
func UnwrapItemKey(encrypted vault.EncryptedItemKey, shareKey vault.ShareKey, itemID string) (vault.ItemKey, error) {
	content := vault.EncryptedContent{
		Ciphertext:           encrypted.Key,
		KeyRotation:          encrypted.KeyRotation,
		ContentFormatVersion: CurrentFormatVersion,
	}
	raw, err := open(content, shareKey, secrets.TagItemKey)
	if err != nil {
		return vault.ItemKey{}, err
	}
	return vault.NewItemKey(shareKey.ShareID, itemID, encrypted.KeyRotation, raw)
}

// Seal creates a new stored item under the given share key.
func Seal(itemID string, contents ItemContents, shareKey vault.ShareKey) (vault.Item, error) {
	itemKey, err := NewItemKey(itemID, shareKey)
	if err != nil {
		return vault.Item{}, err
	}

	wrapped, err := WrapItemKey(itemKey, shareKey)
	if err != nil {
		return vault.Item{}, err
	}

	content, err := Encode(contents, itemKey)
	if err != nil {
		return vault.Item{}, err
	}

	now := time.Now().UTC()
	return vault.Item{
		ID:         itemID,
		ShareID:    shareKey.ShareID,
		Revision:   1,
		ItemKey:    wrapped,
		Content:    content,
		CreatedAt:  now,
		ModifiedAt: now,
	}, nil
}

// Update re-encrypts an existing item with new contents under its existing
// item key, which the caller has unwrapped with UnwrapItemKey.
func Update(item vault.Item, contents ItemContents, itemKey vault.ItemKey) (vault.Item, error) {
	if itemKey.ItemID != item.ID || itemKey.Rotation != item.ItemKey.KeyRotation {
		return vault.Item{}, fmt.Errorf("%w: key of item %s rotation %d used for item %s rotation %d",
			kerrors.ErrKeyRotationMismatch, itemKey.ItemID, itemKey.Rotation, item.ID, item.ItemKey.KeyRotation)
	}

	content, err := Encode(contents, itemKey)
	if err != nil {
		return vault.Item{}, err
	}

	item.Content = content
	item.Revision++
	item.ModifiedAt = time.Now().UTC()
	return item, nil
}
