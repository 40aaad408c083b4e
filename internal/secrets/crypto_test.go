package secrets

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

func testShareKey(t *testing.T, rotation int64) vault.ShareKey {
	t.Helper()
	key, err := vault.GenerateShareKey("share-test", rotation)
	require.NoError(t, err)
	return key
}

func TestEncryptionContext_RoundTrip(t *testing.T) {
	key := testShareKey(t, 2)
	plaintext := []byte("correct horse battery staple")
	ad := AssociatedData{Tag: TagVaultContent, FormatVersion: 1}

	var content vault.EncryptedContent
	err := WithKey(key, func(c *EncryptionContext) error {
		var err error
		content, err = c.Encrypt(plaintext, ad)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), content.KeyRotation)
	require.Equal(t, 1, content.ContentFormatVersion)
	require.False(t, bytes.Contains(content.Ciphertext, plaintext))

	var decrypted []byte
	err = WithKey(key, func(c *EncryptionContext) error {
		var err error
		decrypted, err = c.Decrypt(content, TagVaultContent)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestEncryptionContext_NonDeterministic(t *testing.T) {
	key := testShareKey(t, 1)
	c, err := OpenContext(key)
	require.NoError(t, err)
	defer c.Close()

	a, err := c.Encrypt([]byte("same"), AssociatedData{Tag: TagItemContent, FormatVersion: 1})
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same"), AssociatedData{Tag: TagItemContent, FormatVersion: 1})
	require.NoError(t, err)
	require.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestEncryptionContext_EveryBitFlipFailsAuthentication(t *testing.T) {
	key := testShareKey(t, 1)
	c, err := OpenContext(key)
	require.NoError(t, err)
	defer c.Close()

	content, err := c.Encrypt([]byte("secret note"), AssociatedData{Tag: TagItemContent, FormatVersion: 1})
	require.NoError(t, err)

	for i := 0; i < len(content.Ciphertext)*8; i++ {
		tampered := content
		tampered.Ciphertext = append([]byte(nil), content.Ciphertext...)
		tampered.Ciphertext[i/8] ^= 1 << (i % 8)

		_, err := c.Decrypt(tampered, TagItemContent)
		require.ErrorIs(t, err, kerrors.ErrAuthentication, "bit %d", i)
	}
}

func TestEncryptionContext_AssociatedDataBinding(t *testing.T) {
	key := testShareKey(t, 1)
	c, err := OpenContext(key)
	require.NoError(t, err)
	defer c.Close()

	content, err := c.Encrypt([]byte("payload"), AssociatedData{Tag: TagItemContent, FormatVersion: 1})
	require.NoError(t, err)

	_, err = c.Decrypt(content, TagVaultContent)
	require.ErrorIs(t, err, kerrors.ErrAuthentication)

	relabelled := content
	relabelled.ContentFormatVersion = 2
	_, err = c.Decrypt(relabelled, TagItemContent)
	require.ErrorIs(t, err, kerrors.ErrAuthentication)

	truncated := content
	truncated.Ciphertext = content.Ciphertext[:10]
	_, err = c.Decrypt(truncated, TagItemContent)
	require.ErrorIs(t, err, kerrors.ErrAuthentication)
}

func TestEncryptionContext_RotationMismatch(t *testing.T) {
	newer := testShareKey(t, 2)
	older := testShareKey(t, 1)

	var content vault.EncryptedContent
	require.NoError(t, WithKey(newer, func(c *EncryptionContext) error {
		var err error
		content, err = c.Encrypt([]byte("x"), AssociatedData{Tag: TagItemContent, FormatVersion: 1})
		return err
	}))

	err := WithKey(older, func(c *EncryptionContext) error {
		_, err := c.Decrypt(content, TagItemContent)
		return err
	})
	require.ErrorIs(t, err, kerrors.ErrKeyRotationMismatch)
	require.True(t, kerrors.IsRecoverable(err))
}

func TestEncryptionContext_ClosedContext(t *testing.T) {
	key := testShareKey(t, 1)
	c, err := OpenContext(key)
	require.NoError(t, err)
	c.Close()
	c.Close()

	_, err = c.Encrypt([]byte("x"), AssociatedData{Tag: TagItemContent})
	require.ErrorIs(t, err, kerrors.ErrContextClosed)
	_, err = c.Decrypt(vault.EncryptedContent{KeyRotation: 1}, TagItemContent)
	require.ErrorIs(t, err, kerrors.ErrContextClosed)
}

func TestOpenContext_MissingKey(t *testing.T) {
	_, err := OpenContext(vault.ShareKey{})
	require.ErrorIs(t, err, kerrors.ErrKeyNotFound)
}
