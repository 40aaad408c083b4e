package secrets

import (
	"testing"

	"github.com/stretchr/testify/require"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

func TestWrapKey_RoundTrip(t *testing.T) {
	recipient, err := GenerateIdentity()
	require.NoError(t, err)
	key := testShareKey(t, 3)
	aad := vault.ShareKeyWrapAAD(key.ShareID, key.Rotation, "member-1")

	wrapped, err := WrapKey(key, recipient.EncryptionPublicKey, aad)
	require.NoError(t, err)

	raw, err := UnwrapKey(wrapped, recipient, aad)
	require.NoError(t, err)

	unwrapped, err := vault.NewShareKey(key.ShareID, key.Rotation, raw)
	require.NoError(t, err)
	require.True(t, unwrapped.SameMaterial(key.SymmetricKey))
}

func TestUnwrapKey_WrongRecipientOrContext(t *testing.T) {
	recipient, err := GenerateIdentity()
	require.NoError(t, err)
	other, err := GenerateIdentity()
	require.NoError(t, err)
	key := testShareKey(t, 1)
	aad := vault.ShareKeyWrapAAD(key.ShareID, 1, "member-1")

	wrapped, err := WrapKey(key, recipient.EncryptionPublicKey, aad)
	require.NoError(t, err)

	_, err = UnwrapKey(wrapped, other, aad)
	require.ErrorIs(t, err, kerrors.ErrAuthentication)

	_, err = UnwrapKey(wrapped, recipient, vault.ShareKeyWrapAAD(key.ShareID, 2, "member-1"))
	require.ErrorIs(t, err, kerrors.ErrAuthentication)

	_, err = UnwrapKey(wrapped[:20], recipient, aad)
	require.ErrorIs(t, err, kerrors.ErrAuthentication)
}

func TestWrapKey_MalformedRecipient(t *testing.T) {
	key := testShareKey(t, 1)

	_, err := WrapKey(key, []byte("short"), nil)
	require.ErrorIs(t, err, kerrors.ErrInvalidPublicKey)

	_, err = WrapKey(key, make([]byte, 32), nil)
	require.ErrorIs(t, err, kerrors.ErrInvalidPublicKey)
}
