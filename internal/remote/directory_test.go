package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

func newShare(t *testing.T, d *Directory, id string) Share {
	t.Helper()
	share := Share{
		ID:         id,
		OwnerID:    "alice",
		SigningKey: make([]byte, 32),
		Members:    map[string]vault.Role{"alice": vault.RoleAdmin},
		Content:    vault.EncryptedContent{Ciphertext: []byte("c1"), KeyRotation: 1, ContentFormatVersion: 1},
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.CreateShare(context.Background(), share); err != nil {
		t.Fatalf("CreateShare failed: %v", err)
	}
	return share
}

func TestDirectory_Members(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(t.TempDir())

	alice := vault.Member{ID: "alice", Email: "Alice@example.com", EncryptionPublicKey: []byte{1, 2, 3}}
	if err := d.PutMember(ctx, alice); err != nil {
		t.Fatalf("PutMember failed: %v", err)
	}

	got, err := d.GetMember(ctx, "alice")
	if err != nil {
		t.Fatalf("GetMember failed: %v", err)
	}
	if got.Email != alice.Email || len(got.EncryptionPublicKey) != 3 {
		t.Errorf("Unexpected member %+v", got)
	}

	found, err := d.FindMemberByEmail(ctx, "alice@example.com")
	if err != nil || found.ID != "alice" {
		t.Errorf("FindMemberByEmail returned %+v (%v)", found, err)
	}

	if _, err := d.GetMember(ctx, "bob"); !errors.Is(err, kerrors.ErrMemberNotFound) {
		t.Errorf("Expected ErrMemberNotFound, got %v", err)
	}
	if err := d.PutMember(ctx, vault.Member{ID: "../escape"}); err == nil {
		t.Error("Expected invalid member id to be rejected")
	}
}

func TestDirectory_Shares(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(t.TempDir())
	newShare(t, d, "share-1")

	if err := d.CreateShare(ctx, Share{ID: "share-1"}); err == nil {
		t.Error("Expected duplicate share to be rejected")
	}

	if err := d.AddShareMember(ctx, "share-1", "bob", vault.RoleRead); err != nil {
		t.Fatalf("AddShareMember failed: %v", err)
	}

	shares, err := d.Shares(ctx, "bob")
	if err != nil {
		t.Fatalf("Shares failed: %v", err)
	}
	if len(shares) != 1 || shares[0].Members["bob"] != vault.RoleRead {
		t.Errorf("Unexpected shares for bob: %+v", shares)
	}
	if shares, _ := d.Shares(ctx, "carol"); len(shares) != 0 {
		t.Errorf("Expected no shares for carol, got %d", len(shares))
	}

	if _, err := d.GetShare(ctx, "missing"); !errors.Is(err, kerrors.ErrShareNotFound) {
		t.Errorf("Expected ErrShareNotFound, got %v", err)
	}
}

func TestDirectory_DeleteShare(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(t.TempDir())
	newShare(t, d, "share-1")
	newShare(t, d, "share-2")

	blob := vault.EncryptedKeyBlob{ShareID: "share-1", Rotation: 1, RecipientID: "alice", WrappedKey: []byte("w1")}
	if err := d.PutShareKeys(ctx, []vault.EncryptedKeyBlob{blob}); err != nil {
		t.Fatalf("PutShareKeys failed: %v", err)
	}

	if err := d.DeleteShare(ctx, "share-1"); err != nil {
		t.Fatalf("DeleteShare failed: %v", err)
	}
	if _, err := d.GetShare(ctx, "share-1"); !errors.Is(err, kerrors.ErrShareNotFound) {
		t.Errorf("Expected ErrShareNotFound, got %v", err)
	}
	if blobs, err := d.GetShareKeys(ctx, "share-1", "alice"); err != nil || len(blobs) != 0 {
		t.Errorf("Expected the share's key blobs to be removed, got %d (%v)", len(blobs), err)
	}
	if _, err := d.GetShare(ctx, "share-2"); err != nil {
		t.Errorf("Other shares must survive, got %v", err)
	}

	if err := d.DeleteShare(ctx, "share-1"); err != nil {
		t.Errorf("Deleting a missing share should succeed, got %v", err)
	}
	if err := d.DeleteShare(ctx, "../share-2"); err == nil {
		t.Error("Expected an invalid share ID to be rejected")
	}
}

func TestDirectory_UpdateShareContent(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(t.TempDir())
	newShare(t, d, "share-1")

	req := vault.EncryptedUpdateVaultRequest{
		Content:              base64.StdEncoding.EncodeToString([]byte("c2")),
		ContentFormatVersion: 1,
		KeyRotation:          2,
	}
	if err := d.UpdateShareContent(ctx, "share-1", req); err != nil {
		t.Fatalf("UpdateShareContent failed: %v", err)
	}

	share, err := d.GetShare(ctx, "share-1")
	if err != nil {
		t.Fatalf("GetShare failed: %v", err)
	}
	if share.LatestRotation() != 2 || string(share.Content.Ciphertext) != "c2" {
		t.Errorf("Unexpected content %+v", share.Content)
	}

	req.KeyRotation = 1
	if err := d.UpdateShareContent(ctx, "share-1", req); !errors.Is(err, kerrors.ErrKeyRotationMismatch) {
		t.Errorf("Expected stale update to fail, got %v", err)
	}

	req.Content = "%%%"
	req.KeyRotation = 3
	if err := d.UpdateShareContent(ctx, "share-1", req); !errors.Is(err, kerrors.ErrDecoding) {
		t.Errorf("Expected ErrDecoding for bad base64, got %v", err)
	}
}

func TestDirectory_SigningKey(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(t.TempDir())
	newShare(t, d, "share-1")

	key, err := d.GetSigningKey(ctx, "share-1")
	if err != nil || len(key) != 32 {
		t.Errorf("GetSigningKey returned %d bytes (%v)", len(key), err)
	}

	if err := d.CreateShare(ctx, Share{ID: "share-2"}); err != nil {
		t.Fatalf("CreateShare failed: %v", err)
	}
	if _, err := d.GetSigningKey(ctx, "share-2"); !errors.Is(err, kerrors.ErrSigningKeyNotFound) {
		t.Errorf("Expected ErrSigningKeyNotFound, got %v", err)
	}
}

func TestDirectory_PutShareKeys(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(t.TempDir())

	blobs := []vault.EncryptedKeyBlob{
		{ShareID: "share-1", Rotation: 2, RecipientID: "bob", WrappedKey: []byte("w2")},
		{ShareID: "share-1", Rotation: 1, RecipientID: "bob", WrappedKey: []byte("w1")},
		{ShareID: "share-1", Rotation: 1, RecipientID: "carol", WrappedKey: []byte("c1")},
	}
	if err := d.PutShareKeys(ctx, blobs); err != nil {
		t.Fatalf("PutShareKeys failed: %v", err)
	}

	got, err := d.GetShareKeys(ctx, "share-1", "bob")
	if err != nil {
		t.Fatalf("GetShareKeys failed: %v", err)
	}
	if len(got) != 2 || got[0].Rotation != 1 || got[1].Rotation != 2 {
		t.Errorf("Unexpected blobs for bob: %+v", got)
	}

	none, err := d.GetShareKeys(ctx, "share-1", "dave")
	if err != nil || len(none) != 0 {
		t.Errorf("Expected no blobs for dave, got %d (%v)", len(none), err)
	}
}

func TestDirectory_PutShareKeysIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	d := NewDirectory(root)

	blobs := []vault.EncryptedKeyBlob{
		{ShareID: "share-1", Rotation: 1, RecipientID: "bob"},
		{ShareID: "share-1", Rotation: 1, RecipientID: "carol"},
		{ShareID: "share-1", Rotation: 1, RecipientID: "../mallory"},
	}
	if err := d.PutShareKeys(ctx, blobs); err == nil {
		t.Fatal("Expected invalid recipient to fail the batch")
	}

	for _, member := range []string{"bob", "carol"} {
		got, err := d.GetShareKeys(ctx, "share-1", member)
		if err != nil {
			t.Fatalf("GetShareKeys failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Expected no blob for %s after failed batch, got %d", member, len(got))
		}
		entries, _ := os.ReadDir(filepath.Join(root, "shares", "share-1", "keys", member))
		if len(entries) != 0 {
			t.Errorf("Expected no staged files for %s, found %d", member, len(entries))
		}
	}
}

func TestDirectory_PutShareKeysRollsBackOnPublishFailure(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	d := NewDirectory(root)

	original := vault.EncryptedKeyBlob{ShareID: "share-1", Rotation: 1, RecipientID: "bob", WrappedKey: []byte("original")}
	if err := d.PutShareKeys(ctx, []vault.EncryptedKeyBlob{original}); err != nil {
		t.Fatalf("PutShareKeys failed: %v", err)
	}

	renames := 0
	rename = func(oldpath, newpath string) error {
		renames++
		if renames == 3 {
			return errors.New("disk full")
		}
		return os.Rename(oldpath, newpath)
	}
	t.Cleanup(func() { rename = os.Rename })

	blobs := []vault.EncryptedKeyBlob{
		{ShareID: "share-1", Rotation: 1, RecipientID: "bob", WrappedKey: []byte("replacement")},
		{ShareID: "share-1", Rotation: 2, RecipientID: "bob", WrappedKey: []byte("w2")},
		{ShareID: "share-1", Rotation: 1, RecipientID: "carol", WrappedKey: []byte("c1")},
	}
	if err := d.PutShareKeys(ctx, blobs); err == nil {
		t.Fatal("Expected the failed rename to fail the batch")
	}

	got, err := d.GetShareKeys(ctx, "share-1", "bob")
	if err != nil {
		t.Fatalf("GetShareKeys failed: %v", err)
	}
	if len(got) != 1 || string(got[0].WrappedKey) != "original" {
		t.Errorf("Expected bob's original blob only, got %+v", got)
	}
	if carol, err := d.GetShareKeys(ctx, "share-1", "carol"); err != nil || len(carol) != 0 {
		t.Errorf("Expected no blob for carol, got %d (%v)", len(carol), err)
	}
	for _, member := range []string{"bob", "carol"} {
		entries, _ := os.ReadDir(filepath.Join(root, "shares", "share-1", "keys", member))
		for _, entry := range entries {
			if filepath.Ext(entry.Name()) != ".json" {
				t.Errorf("Leftover staged file %s for %s", entry.Name(), member)
			}
		}
	}
}

func TestDirectory_ItemsAndInvites(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(t.TempDir())

	item := vault.Item{ID: "item-1", ShareID: "share-1", Revision: 1, CreatedAt: time.Now().UTC()}
	if err := d.PutItem(ctx, item); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}
	got, err := d.GetItem(ctx, "share-1", "item-1")
	if err != nil || got.Revision != 1 {
		t.Errorf("GetItem returned %+v (%v)", got, err)
	}
	if _, err := d.GetItem(ctx, "share-1", "item-2"); !errors.Is(err, kerrors.ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
	all, err := d.Items(ctx, "share-1")
	if err != nil || len(all) != 1 {
		t.Errorf("Items returned %d (%v)", len(all), err)
	}

	invite := vault.Invite{ID: "inv-1", ShareID: "share-1", InviteeEmail: "bob@example.com", State: vault.InvitePendingAcceptance}
	if err := d.PutInvite(ctx, invite); err != nil {
		t.Fatalf("PutInvite failed: %v", err)
	}
	if invites, _ := d.Invites(ctx, "BOB@example.com"); len(invites) != 1 {
		t.Errorf("Expected one invite for bob, got %d", len(invites))
	}
	if invites, _ := d.Invites(ctx, "carol@example.com"); len(invites) != 0 {
		t.Errorf("Expected no invite for carol, got %d", len(invites))
	}
	if _, err := d.GetInvite(ctx, "inv-2"); !errors.Is(err, kerrors.ErrInviteNotFound) {
		t.Errorf("Expected ErrInviteNotFound, got %v", err)
	}
}

func TestDirectory_CorruptFileIsDecodingError(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	d := NewDirectory(root)
	newShare(t, d, "share-1")

	if err := os.WriteFile(filepath.Join(root, "shares", "share-1", "share.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := d.GetShare(ctx, "share-1"); !errors.Is(err, kerrors.ErrDecoding) {
		t.Errorf("Expected ErrDecoding, got %v", err)
	}
}
