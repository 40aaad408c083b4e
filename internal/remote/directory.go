package remote

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

// Share is the stored record of a vault.
type Share struct {
	ID         string                 `json:"id"`
	OwnerID    string                 `json:"owner_id"`
	SigningKey []byte                 `json:"signing_key"`
	Members    map[string]vault.Role  `json:"members"`
	Content    vault.EncryptedContent `json:"content"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// LatestRotation is the rotation of the most recent vault content update.
func (s Share) LatestRotation() int64 {
	return s.Content.KeyRotation
}

// Directory is a remote backed by a local directory.
type Directory struct {
	root string
	mu   sync.RWMutex
}

func NewDirectory(root string) *Directory {
	return &Directory{root: root}
}

func (d *Directory) Root() string {
	return d.root
}

func (d *Directory) memberPath(memberID string) string {
	return filepath.Join(d.root, "members", memberID+".json")
}

func (d *Directory) sharePath(shareID string) string {
	return filepath.Join(d.root, "shares", shareID, "share.json")
}

func (d *Directory) keyDir(shareID, memberID string) string {
	return filepath.Join(d.root, "shares", shareID, "keys", memberID)
}

func (d *Directory) itemPath(shareID, itemID string) string {
	return filepath.Join(d.root, "shares", shareID, "items", itemID+".json")
}

func (d *Directory) invitePath(inviteID string) string {
	return filepath.Join(d.root, "invites", inviteID+".json")
}

// PutMember publishes a member's public keys.
func (d *Directory) PutMember(ctx context.Context, member vault.Member) error {
	if err := validateID("member", member.ID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return writeJSON(d.memberPath(member.ID), member)
}

func (d *Directory) GetMember(ctx context.Context, memberID string) (vault.Member, error) {
	if err := validateID("member", memberID); err != nil {
		return vault.Member{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var member vault.Member
	if err := readJSON(d.memberPath(memberID), &member); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return vault.Member{}, fmt.Errorf("member %s: %w", memberID, kerrors.ErrMemberNotFound)
		}
		return vault.Member{}, err
	}
	return member, nil
}

// FindMemberByEmail returns the published member with the given email.
func (d *Directory) FindMemberByEmail(ctx context.Context, email string) (vault.Member, error) {
	members, err := d.Members(ctx)
	if err != nil {
		return vault.Member{}, err
	}
	for _, member := range members {
		if strings.EqualFold(member.Email, email) {
			return member, nil
		}
	}
	return vault.Member{}, fmt.Errorf("member %s: %w", email, kerrors.ErrMemberNotFound)
}

func (d *Directory) Members(ctx context.Context) ([]vault.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var members []vault.Member
	err := eachJSON(filepath.Join(d.root, "members"), func(path string) error {
		var member vault.Member
		if err := readJSON(path, &member); err != nil {
			return err
		}
		members = append(members, member)
		return nil
	})
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members, err
}

// CreateShare stores a new share record. It fails if the share exists.
func (d *Directory) CreateShare(ctx context.Context, share Share) error {
	if err := validateID("share", share.ID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(d.sharePath(share.ID)); err == nil {
		return fmt.Errorf("share %s already exists", share.ID)
	}
	return writeJSON(d.sharePath(share.ID), share)
}

// DeleteShare removes a share with its key blobs and items.
func (d *Directory) DeleteShare(ctx context.Context, shareID string) error {
	if err := validateID("share", shareID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.RemoveAll(filepath.Dir(d.sharePath(shareID))); err != nil {
		return fmt.Errorf("failed to delete share %s: %w", shareID, err)
	}
	return nil
}

func (d *Directory) GetShare(ctx context.Context, shareID string) (Share, error) {
	if err := validateID("share", shareID); err != nil {
		return Share{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.readShare(shareID)
}

func (d *Directory) readShare(shareID string) (Share, error) {
	var share Share
	if err := readJSON(d.sharePath(shareID), &share); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Share{}, fmt.Errorf("share %s: %w", shareID, kerrors.ErrShareNotFound)
		}
		return Share{}, err
	}
	return share, nil
}

// Shares lists every share, optionally only those memberID belongs to.
func (d *Directory) Shares(ctx context.Context, memberID string) ([]Share, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(d.root, "shares"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var shares []Share
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		share, err := d.readShare(entry.Name())
		if err != nil {
			return nil, err
		}
		if _, ok := share.Members[memberID]; memberID != "" && !ok {
			continue
		}
		shares = append(shares, share)
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].CreatedAt.Before(shares[j].CreatedAt) })
	return shares, nil
}

// AddShareMember records memberID as a member of the share with role.
func (d *Directory) AddShareMember(ctx context.Context, shareID, memberID string, role vault.Role) error {
	return d.updateShare(shareID, func(share *Share) error {
		if share.Members == nil {
			share.Members = make(map[string]vault.Role)
		}
		share.Members[memberID] = role
		return nil
	})
}

// UpdateShareContent applies a vault update request.
func (d *Directory) UpdateShareContent(ctx context.Context, shareID string, req vault.EncryptedUpdateVaultRequest) error {
	ciphertext, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		return fmt.Errorf("%w: vault content is not base64: %v", kerrors.ErrDecoding, err)
	}
	return d.updateShare(shareID, func(share *Share) error {
		if req.KeyRotation < share.Content.KeyRotation {
			return fmt.Errorf("%w: update rotation %d is older than stored rotation %d", kerrors.ErrKeyRotationMismatch, req.KeyRotation, share.Content.KeyRotation)
		}
		share.Content = vault.EncryptedContent{
			Ciphertext:           ciphertext,
			KeyRotation:          req.KeyRotation,
			ContentFormatVersion: req.ContentFormatVersion,
		}
		return nil
	})
}

func (d *Directory) updateShare(shareID string, fn func(*Share) error) error {
	if err := validateID("share", shareID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	share, err := d.readShare(shareID)
	if err != nil {
		return err
	}
	if err := fn(&share); err != nil {
		return err
	}
	share.UpdatedAt = time.Now().UTC()
	return writeJSON(d.sharePath(shareID), share)
}

// GetSigningKey returns the key that signs the share's key blobs.
func (d *Directory) GetSigningKey(ctx context.Context, shareID string) (ed25519.PublicKey, error) {
	share, err := d.GetShare(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if len(share.SigningKey) == 0 {
		return nil, fmt.Errorf("share %s: %w", shareID, kerrors.ErrSigningKeyNotFound)
	}
	return ed25519.PublicKey(share.SigningKey), nil
}

// GetShareKeys returns every blob of the share addressed to memberID.
func (d *Directory) GetShareKeys(ctx context.Context, shareID, memberID string) ([]vault.ShareKeyBlob, error) {
	if err := validateID("share", shareID); err != nil {
		return nil, err
	}
	if err := validateID("member", memberID); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var blobs []vault.ShareKeyBlob
	err := eachJSON(d.keyDir(shareID, memberID), func(path string) error {
		var blob vault.ShareKeyBlob
		if err := readJSON(path, &blob); err != nil {
			return err
		}
		blobs = append(blobs, blob)
		return nil
	})
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Rotation < blobs[j].Rotation })
	return blobs, err
}

// PutShareKeys stores a batch of blobs. All files are staged first; if any
// staging write fails no blob becomes visible. If publishing fails part way,
// the blobs already published are rolled back to what they replaced.
func (d *Directory) PutShareKeys(ctx context.Context, blobs []vault.EncryptedKeyBlob) error {
	type staged struct {
		tmp, final string
		previous   []byte
		existed    bool
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var files []staged
	cleanup := func() {
		for _, f := range files {
			os.Remove(f.tmp)
		}
	}

	for _, blob := range blobs {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		if err := validateID("share", blob.ShareID); err != nil {
			cleanup()
			return err
		}
		if err := validateID("member", blob.RecipientID); err != nil {
			cleanup()
			return err
		}

		final := filepath.Join(d.keyDir(blob.ShareID, blob.RecipientID), strconv.FormatInt(blob.Rotation, 10)+".json")
		tmp, err := stageJSON(final, blob)
		if err != nil {
			cleanup()
			return err
		}
		f := staged{tmp: tmp, final: final}
		if previous, err := os.ReadFile(final); err == nil {
			f.previous, f.existed = previous, true
		} else if !errors.Is(err, os.ErrNotExist) {
			files = append(files, f)
			cleanup()
			return fmt.Errorf("failed to read key blob %s: %w", filepath.Base(final), err)
		}
		files = append(files, f)
	}

	for i, f := range files {
		if err := rename(f.tmp, f.final); err != nil {
			for _, rest := range files[i:] {
				os.Remove(rest.tmp)
			}
			for _, done := range files[:i] {
				if done.existed {
					if restoreErr := os.WriteFile(done.final, done.previous, 0600); restoreErr != nil {
						err = errors.Join(err, restoreErr)
					}
				} else {
					os.Remove(done.final)
				}
			}
			return fmt.Errorf("failed to publish key blob: %w", err)
		}
	}
	return nil
}

func (d *Directory) PutItem(ctx context.Context, item vault.Item) error {
	if err := validateID("share", item.ShareID); err != nil {
		return err
	}
	if err := validateID("item", item.ID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return writeJSON(d.itemPath(item.ShareID, item.ID), item)
}

func (d *Directory) GetItem(ctx context.Context, shareID, itemID string) (vault.Item, error) {
	if err := validateID("share", shareID); err != nil {
		return vault.Item{}, err
	}
	if err := validateID("item", itemID); err != nil {
		return vault.Item{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var item vault.Item
	if err := readJSON(d.itemPath(shareID, itemID), &item); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return vault.Item{}, fmt.Errorf("item %s: %w", itemID, kerrors.ErrItemNotFound)
		}
		return vault.Item{}, err
	}
	return item, nil
}

func (d *Directory) Items(ctx context.Context, shareID string) ([]vault.Item, error) {
	if err := validateID("share", shareID); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var items []vault.Item
	err := eachJSON(filepath.Join(d.root, "shares", shareID, "items"), func(path string) error {
		var item vault.Item
		if err := readJSON(path, &item); err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, err
}

func (d *Directory) PutInvite(ctx context.Context, invite vault.Invite) error {
	if err := validateID("invite", invite.ID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return writeJSON(d.invitePath(invite.ID), invite)
}

func (d *Directory) GetInvite(ctx context.Context, inviteID string) (vault.Invite, error) {
	if err := validateID("invite", inviteID); err != nil {
		return vault.Invite{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var invite vault.Invite
	if err := readJSON(d.invitePath(inviteID), &invite); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return vault.Invite{}, fmt.Errorf("invite %s: %w", inviteID, kerrors.ErrInviteNotFound)
		}
		return vault.Invite{}, err
	}
	return invite, nil
}

// Invites lists invites addressed to email, or all invites when email is empty.
func (d *Directory) Invites(ctx context.Context, email string) ([]vault.Invite, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var invites []vault.Invite
	err := eachJSON(filepath.Join(d.root, "invites"), func(path string) error {
		var invite vault.Invite
		if err := readJSON(path, &invite); err != nil {
			return err
		}
		if email == "" || strings.EqualFold(invite.InviteeEmail, email) {
			invites = append(invites, invite)
		}
		return nil
	})
	sort.Slice(invites, func(i, j int) bool { return invites[i].CreatedAt.Before(invites[j].CreatedAt) })
	return invites, err
}

func validateID(kind, id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid %s id %q", kind, id)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", kerrors.ErrDecoding, filepath.Base(path), err)
	}
	return nil
}

// rename is replaced in tests to fail part way through a batch.
var rename = os.Rename

func writeJSON(path string, v any) error {
	tmp, err := stageJSON(path, v)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// stageJSON writes v next to path and returns the temporary file name.
func stageJSON(path string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".staged-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// eachJSON calls fn for every .json file in dir. A missing dir is empty.
func eachJSON(dir string, fn func(path string) error) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := fn(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
