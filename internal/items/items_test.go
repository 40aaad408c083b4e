package items

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

func shareKey(t *testing.T, rotation int64) vault.ShareKey {
	t.Helper()
	key, err := vault.GenerateShareKey("share-1", rotation)
	require.NoError(t, err)
	return key
}

func TestEncodeDecode_BankExample(t *testing.T) {
	rotation2 := shareKey(t, 2)
	rotation1 := shareKey(t, 1)
	contents := ItemContents{Title: "Bank", Note: "secret"}

	content, err := Encode(contents, rotation2)
	require.NoError(t, err)
	require.Equal(t, int64(2), content.KeyRotation)
	require.Equal(t, CurrentFormatVersion, content.ContentFormatVersion)

	decoded, err := Decode(content, rotation2)
	require.NoError(t, err)
	require.Equal(t, contents, decoded)

	_, err = Decode(content, rotation1)
	require.ErrorIs(t, err, kerrors.ErrKeyRotationMismatch)
	require.True(t, kerrors.IsRecoverable(err))
}

func TestEncodeDecode_FullLogin(t *testing.T) {
	key := shareKey(t, 1)
	contents := ItemContents{
		Title: "Mail",
		Type:  ItemTypeLogin,
		Login: &Login{
			Username:     "alice",
			Password:     "hunter2",
			URLs:         []string{"https://mail.example.com", ""},
			PackageNames: []string{"com.example.mail"},
			TOTPURI:      "otpauth://totp/Example:alice?secret=JBSWY3DPEHPK3PXP",
		},
		ExtraFields: []Field{
			{Name: "PIN", Value: "1234", Hidden: true},
			{Name: "Recovery", Value: "ask bob"},
		},
	}

	content, err := Encode(contents, key)
	require.NoError(t, err)

	decoded, err := Decode(content, key)
	require.NoError(t, err)
	require.Equal(t, contents, decoded)
}

func TestDecode_UnsupportedFormatVersionFailsClosed(t *testing.T) {
	key := shareKey(t, 1)
	content, err := Encode(ItemContents{Title: "x"}, key)
	require.NoError(t, err)

	content.ContentFormatVersion = 2
	_, err = Decode(content, key)
	require.ErrorIs(t, err, kerrors.ErrUnsupportedFormatVersion)
	require.ErrorIs(t, err, kerrors.ErrDecoding)
}

func TestDecode_TamperedCiphertext(t *testing.T) {
	key := shareKey(t, 1)
	content, err := Encode(ItemContents{Title: "x", Note: "y"}, key)
	require.NoError(t, err)

	content.Ciphertext[len(content.Ciphertext)/2] ^= 0x80
	_, err = Decode(content, key)
	require.ErrorIs(t, err, kerrors.ErrAuthentication)
}

func TestDecode_ItemContentIsNotVaultContent(t *testing.T) {
	key := shareKey(t, 1)
	content, err := EncodeVaultContent(VaultContent{Name: "Family"}, key)
	require.NoError(t, err)

	_, err = Decode(content, key)
	require.ErrorIs(t, err, kerrors.ErrAuthentication)

	vc, err := DecodeVaultContent(content, key)
	require.NoError(t, err)
	require.Equal(t, "Family", vc.Name)
}

func TestMarshalItemContents_Canonical(t *testing.T) {
	contents := ItemContents{Title: "a", Type: ItemTypeNote}
	require.Equal(t, MarshalItemContents(contents), MarshalItemContents(contents))

	// title(1, bytes) "a", type(3, varint) 1
	require.Equal(t, []byte{0x0a, 0x01, 'a', 0x18, 0x01}, MarshalItemContents(contents))
	require.Empty(t, MarshalItemContents(ItemContents{}))
}

func TestUnmarshalItemContents_Strict(t *testing.T) {
	valid := MarshalItemContents(ItemContents{Title: "Bank", Note: "secret"})

	unknown := protowire.AppendTag(append([]byte(nil), valid...), 99, protowire.BytesType)
	unknown = protowire.AppendString(unknown, "x")

	duplicate := protowire.AppendTag(append([]byte(nil), valid...), itemTitleField, protowire.BytesType)
	duplicate = protowire.AppendString(duplicate, "other")

	wrongType := protowire.AppendTag(nil, itemTitleField, protowire.VarintType)
	wrongType = protowire.AppendVarint(wrongType, 5)

	badUTF8 := protowire.AppendTag(nil, itemNoteField, protowire.BytesType)
	badUTF8 = protowire.AppendBytes(badUTF8, []byte{0xff, 0xfe})

	badType := protowire.AppendTag(nil, itemTypeField, protowire.VarintType)
	badType = protowire.AppendVarint(badType, 42)

	badLogin := protowire.AppendTag(nil, itemLoginField, protowire.BytesType)
	badLogin = protowire.AppendBytes(badLogin, []byte{0x0a, 0x10, 'x'})

	tests := map[string][]byte{
		"truncated":        valid[:len(valid)-2],
		"unknown field":    unknown,
		"duplicate title":  duplicate,
		"wrong wire type":  wrongType,
		"invalid utf8":     badUTF8,
		"unknown type":     badType,
		"truncated login":  badLogin,
		"fixed64 wire":     protowire.AppendFixed64(protowire.AppendTag(nil, itemTitleField, protowire.Fixed64Type), 1),
		"garbage tag byte": {0xff},
	}

	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := UnmarshalItemContents(payload)
			require.ErrorIs(t, err, kerrors.ErrDecoding)
			require.Equal(t, ItemContents{}, got)
		})
	}
}

func TestItemKeyWrapping(t *testing.T) {
	key := shareKey(t, 3)
	itemKey, err := NewItemKey("item-1", key)
	require.NoError(t, err)
	require.Equal(t, int64(3), itemKey.Rotation)

	wrapped, err := WrapItemKey(itemKey, key)
	require.NoError(t, err)
	require.Equal(t, int64(3), wrapped.KeyRotation)

	unwrapped, err := UnwrapItemKey(wrapped, key, "item-1")
	require.NoError(t, err)
	require.True(t, unwrapped.SameMaterial(itemKey.SymmetricKey))

	otherRotation := shareKey(t, 4)
	_, err = WrapItemKey(itemKey, otherRotation)
	require.ErrorIs(t, err, kerrors.ErrKeyRotationMismatch)
	_, err = UnwrapItemKey(wrapped, otherRotation, "item-1")
	require.ErrorIs(t, err, kerrors.ErrKeyRotationMismatch)

	sameRotationOtherKey := shareKey(t, 3)
	_, err = UnwrapItemKey(wrapped, sameRotationOtherKey, "item-1")
	require.ErrorIs(t, err, kerrors.ErrAuthentication)
}

func TestSealOpenUpdate(t *testing.T) {
	key := shareKey(t, 1)

	item, err := Seal("item-1", ItemContents{Title: "Bank", Note: "secret"}, key)
	require.NoError(t, err)
	require.Equal(t, "share-1", item.ShareID)
	require.Equal(t, int64(1), item.Revision)
	require.False(t, bytes.Contains(item.Content.Ciphertext, []byte("secret")))

	itemKey, err := UnwrapItemKey(item.ItemKey, key, item.ID)
	require.NoError(t, err)
	opened, err := Decode(item.Content, itemKey)
	require.NoError(t, err)
	require.Equal(t, "secret", opened.Note)

	updated, err := Update(item, ItemContents{Title: "Bank", Note: "new secret"}, itemKey)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Revision)
	require.Equal(t, item.ItemKey, updated.ItemKey)

	opened, err = Decode(updated.Content, itemKey)
	require.NoError(t, err)
	require.Equal(t, "new secret", opened.Note)

	other, err := Seal("item-2", ItemContents{Title: "Other"}, key)
	require.NoError(t, err)
	_, err = Update(other, ItemContents{Title: "Other"}, itemKey)
	require.ErrorIs(t, err, kerrors.ErrKeyRotationMismatch)
}

func TestVaultContent_Strict(t *testing.T) {
	encoded := MarshalVaultContent(VaultContent{Name: "Family", Color: "#aabbcc", Icon: "house"})
	vc, err := UnmarshalVaultContent(encoded)
	require.NoError(t, err)
	require.Equal(t, VaultContent{Name: "Family", Color: "#aabbcc", Icon: "house"}, vc)

	extra := protowire.AppendTag(append([]byte(nil), encoded...), 9, protowire.VarintType)
	extra = protowire.AppendVarint(extra, 1)
	_, err = UnmarshalVaultContent(extra)
	require.ErrorIs(t, err, kerrors.ErrDecoding)
}

func TestParseItemType(t *testing.T) {
	for _, typ := range []ItemType{ItemTypeNote, ItemTypeLogin} {
		parsed, ok := ParseItemType(typ.String())
		require.True(t, ok)
		require.Equal(t, typ, parsed)
	}
	_, ok := ParseItemType("card")
	require.False(t, ok)
}

func TestEncode_RejectsContentsThatCannotDecode(t *testing.T) {
	key := shareKey(t, 1)

	tests := map[string]ItemContents{
		"invalid utf8 title":   {Title: "Bank\xff"},
		"invalid utf8 note":    {Title: "Bank", Note: "\xc3\x28"},
		"invalid utf8 url":     {Title: "Bank", Type: ItemTypeLogin, Login: &Login{URLs: []string{"https://ok.example", "https://\xffbad"}}},
		"invalid utf8 field":   {Title: "Bank", ExtraFields: []Field{{Name: "pin", Value: "\xfe"}}},
		"item type out of set": {Title: "Bank", Type: 7},
		"negative item type":   {Title: "Bank", Type: -1},
	}

	for name, contents := range tests {
		t.Run(name, func(t *testing.T) {
			content, err := Encode(contents, key)
			require.ErrorIs(t, err, kerrors.ErrInvalidContents)
			require.Empty(t, content.Ciphertext)
		})
	}

	_, err := EncodeVaultContent(VaultContent{Name: "Fam\xffily"}, key)
	require.ErrorIs(t, err, kerrors.ErrInvalidContents)
}

func TestEncode_EveryValidTypeRoundTrips(t *testing.T) {
	key := shareKey(t, 1)
	for _, typ := range []ItemType{ItemTypeUnknown, ItemTypeNote, ItemTypeLogin} {
		contents := ItemContents{Title: "Bank", Type: typ}
		content, err := Encode(contents, key)
		require.NoError(t, err)
		decoded, err := Decode(content, key)
		require.NoError(t, err)
		require.Equal(t, contents, decoded)
	}
}
