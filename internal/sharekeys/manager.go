// Package sharekeys resolves share keys for the local member.
//
// Keys are looked up in the in-memory KeyRing first, then in the sealed
// local key store, then on the remote. Every blob fetched from the remote
// is verified against the share signing key before it is unwrapped, and a
// blob that fails verification is never cached.
package sharekeys

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/PolarWolf314/sharevault/internal/audit"
	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/keyring"
	"github.com/PolarWolf314/sharevault/internal/keystore"
	logger "github.com/PolarWolf314/sharevault/internal/logging"
	"github.com/PolarWolf314/sharevault/internal/secrets"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

// Remote is the server side of share key distribution.
type Remote interface {
	// GetShareKeys returns every key blob of the share addressed to the
	// given member.
	GetShareKeys(ctx context.Context, shareID, memberID string) ([]vault.ShareKeyBlob, error)
	// GetSigningKey returns the public key that signs the share's key blobs.
	GetSigningKey(ctx context.Context, shareID string) (ed25519.PublicKey, error)
}

// Options configures a Manager. Ring, Remote, Identity and MemberID are required.
type Options struct {
	Ring     *keyring.KeyRing
	Store    keystore.Store
	Sealer   *keystore.Sealer
	Remote   Remote
	Identity *secrets.Identity
	MemberID string
	Logger   logger.Logger
	Audit    audit.Recorder
}

// Manager is safe for concurrent use.
type Manager struct {
	ring     *keyring.KeyRing
	store    keystore.Store
	sealer   *keystore.Sealer
	remote   Remote
	identity *secrets.Identity
	memberID string
	log      logger.Logger
	audit    audit.Recorder

	fetches singleflight.Group
}

// fetchResult is the outcome of one remote fetch of a share.
type fetchResult struct {
	keys     map[int64]vault.ShareKey
	failures map[int64]error
	latest   int64
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Ring == nil || opts.Remote == nil || opts.Identity == nil || opts.MemberID == "" {
		return nil, fmt.Errorf("share key manager requires a key ring, remote, identity and member id")
	}
	if (opts.Store == nil) != (opts.Sealer == nil) {
		return nil, fmt.Errorf("share key manager requires both a key store and a sealer, or neither")
	}
	if opts.Audit == nil {
		opts.Audit = audit.Log
	}

	return &Manager{
		ring:     opts.Ring,
		store:    opts.Store,
		sealer:   opts.Sealer,
		remote:   opts.Remote,
		identity: opts.Identity,
		memberID: opts.MemberID,
		log:      opts.Logger,
		audit:    opts.Audit,
	}, nil
}

// GetLatestKey returns the highest rotation of the share's key. With
// forceRefresh the caches are bypassed and the remote is consulted.
func (m *Manager) GetLatestKey(ctx context.Context, shareID string, forceRefresh bool) (vault.ShareKey, error) {
	if !forceRefresh {
		if key, ok := m.ring.Latest(shareID); ok {
			m.log.Debugf("Share %s: latest key rotation %d found in key ring", shareID, key.Rotation)
			return key, nil
		}
		if key, ok := m.loadLatestLocal(shareID); ok {
			return key, nil
		}
	}

	result, err := m.fetch(ctx, shareID)
	if err != nil {
		return vault.ShareKey{}, err
	}
	if result.latest == 0 {
		return vault.ShareKey{}, &kerrors.KeyError{ShareID: shareID, Err: kerrors.ErrKeyNotFound}
	}
	if failure, ok := result.failures[result.latest]; ok {
		return vault.ShareKey{}, failure
	}
	return result.keys[result.latest], nil
}

// GetKeyByRotation returns the key of one specific rotation.
func (m *Manager) GetKeyByRotation(ctx context.Context, shareID string, rotation int64) (vault.ShareKey, error) {
	if rotation < 1 {
		return vault.ShareKey{}, &kerrors.KeyError{ShareID: shareID, Rotation: rotation, Err: kerrors.ErrKeyNotFound}
	}

	if key, ok := m.ring.Get(shareID, rotation); ok {
		return key, nil
	}
	if key, ok := m.loadLocal(shareID, rotation); ok {
		return key, nil
	}

	result, err := m.fetch(ctx, shareID)
	if err != nil {
		return vault.ShareKey{}, err
	}
	if failure, ok := result.failures[rotation]; ok {
		return vault.ShareKey{}, failure
	}
	if key, ok := result.keys[rotation]; ok {
		return key, nil
	}
	return vault.ShareKey{}, &kerrors.KeyError{ShareID: shareID, Rotation: rotation, Err: kerrors.ErrKeyNotFound}
}

// Keys refreshes the share from the remote and returns every valid
// rotation, oldest first. Rotations whose blobs failed verification are
// left out.
func (m *Manager) Keys(ctx context.Context, shareID string) ([]vault.ShareKey, error) {
	result, err := m.fetch(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if len(result.keys) == 0 {
		if result.latest > 0 {
			return nil, result.failures[result.latest]
		}
		return nil, &kerrors.KeyError{ShareID: shareID, Err: kerrors.ErrKeyNotFound}
	}

	keys := make([]vault.ShareKey, 0, len(result.keys))
	for _, key := range result.keys {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Rotation < keys[j].Rotation })
	return keys, nil
}

// Remember caches a key created locally, e.g. by a rotation this member performed.
func (m *Manager) Remember(key vault.ShareKey) error {
	if err := m.ring.Put(key); err != nil {
		return err
	}
	return m.storeLocal(key)
}

// Import opens key blobs that arrived outside GetShareKeys, such as the ones
// carried by an invite. Every blob must belong to shareID and verify against
// the share signing key; nothing is returned unless all of them open.
//
// The keys are not cached. Callers pass them to Remember once they are
// committed to using them.
func (m *Manager) Import(ctx context.Context, shareID string, blobs []vault.ShareKeyBlob) ([]vault.ShareKey, error) {
	signingKey, err := m.remote.GetSigningKey(ctx, shareID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signing key for share %s: %w", shareID, err)
	}
	if len(signingKey) == 0 {
		return nil, &kerrors.KeyError{ShareID: shareID, Err: kerrors.ErrSigningKeyNotFound}
	}

	keys := make([]vault.ShareKey, 0, len(blobs))
	for _, blob := range blobs {
		if blob.ShareID != shareID || blob.RecipientID != m.memberID {
			return nil, &kerrors.KeyError{ShareID: shareID, Rotation: blob.Rotation, Err: kerrors.ErrInvalidSignature}
		}
		key, err := m.openBlob(signingKey, blob)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Rotation < keys[j].Rotation })
	return keys, nil
}

// Forget drops every cached key of the share from memory and disk.
func (m *Manager) Forget(shareID string) error {
	m.ring.Forget(shareID)
	if m.store == nil {
		return nil
	}
	return m.store.Delete(shareID)
}

// fetch collapses concurrent remote fetches of the same share into one call.
func (m *Manager) fetch(ctx context.Context, shareID string) (*fetchResult, error) {
	// The flight outlives any single caller; each caller stops waiting on
	// its own ctx below.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.fetches.DoChan(shareID, func() (interface{}, error) {
		return m.fetchRemote(flightCtx, shareID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*fetchResult), nil
	}
}

func (m *Manager) fetchRemote(ctx context.Context, shareID string) (*fetchResult, error) {
	m.log.Debugf("Share %s: fetching key blobs from remote", shareID)

	signingKey, err := m.remote.GetSigningKey(ctx, shareID)
	if err != nil {
		if errors.Is(err, kerrors.ErrSigningKeyNotFound) {
			return nil, &kerrors.KeyError{ShareID: shareID, Err: err}
		}
		return nil, fmt.Errorf("failed to fetch signing key for share %s: %w", shareID, err)
	}
	if len(signingKey) != ed25519.PublicKeySize {
		return nil, &kerrors.KeyError{ShareID: shareID, Err: kerrors.ErrSigningKeyNotFound}
	}

	blobs, err := m.remote.GetShareKeys(ctx, shareID, m.memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key blobs for share %s: %w", shareID, err)
	}

	result := &fetchResult{
		keys:     make(map[int64]vault.ShareKey),
		failures: make(map[int64]error),
	}

	for _, blob := range blobs {
		if blob.ShareID != shareID || blob.RecipientID != m.memberID || blob.Rotation < 1 {
			continue
		}
		if blob.Rotation > result.latest {
			result.latest = blob.Rotation
		}

		key, err := m.openBlob(signingKey, blob)
		if err == nil {
			err = m.cache(key)
		}
		if err != nil {
			result.failures[blob.Rotation] = err
			continue
		}
		delete(result.failures, blob.Rotation)
		result.keys[blob.Rotation] = key
	}

	m.log.Debugf("Share %s: %d valid key(s), %d rejected, latest rotation %d", shareID, len(result.keys), len(result.failures), result.latest)
	return result, nil
}

// openBlob verifies and unwraps a single blob. It does not cache the key.
func (m *Manager) openBlob(signingKey ed25519.PublicKey, blob vault.ShareKeyBlob) (vault.ShareKey, error) {
	if err := secrets.Verify(signingKey, blob.SignedMessage(), blob.Signature); err != nil {
		m.log.WarnfAlways("Rejected key blob for share %s rotation %d: signature did not verify", blob.ShareID, blob.Rotation)
		m.audit(audit.Entry{
			Operation: audit.OpInvalidSignature,
			ShareID:   blob.ShareID,
			Rotation:  blob.Rotation,
			Reason:    "share key blob signature did not verify",
		})
		return vault.ShareKey{}, &kerrors.KeyError{ShareID: blob.ShareID, Rotation: blob.Rotation, Err: err}
	}

	if key, ok := m.ring.Get(blob.ShareID, blob.Rotation); ok {
		return key, nil
	}

	aad := vault.ShareKeyWrapAAD(blob.ShareID, blob.Rotation, m.memberID)
	raw, err := secrets.UnwrapKey(blob.WrappedKey, m.identity, aad)
	if err != nil {
		return vault.ShareKey{}, &kerrors.KeyError{ShareID: blob.ShareID, Rotation: blob.Rotation, Err: err}
	}

	key, err := vault.NewShareKey(blob.ShareID, blob.Rotation, raw)
	if err != nil {
		return vault.ShareKey{}, &kerrors.KeyError{ShareID: blob.ShareID, Rotation: blob.Rotation, Err: err}
	}
	return key, nil
}

// cache puts a verified key in the ring and the local store. A failure to
// persist is logged, the ring still holds the key.
func (m *Manager) cache(key vault.ShareKey) error {
	if err := m.ring.Put(key); err != nil {
		return err
	}
	if err := m.storeLocal(key); err != nil {
		m.log.Warnf("Could not persist key for share %s rotation %d: %v", key.ShareID, key.Rotation, err)
	}
	return nil
}

func (m *Manager) loadLatestLocal(shareID string) (vault.ShareKey, bool) {
	if m.store == nil {
		return vault.ShareKey{}, false
	}
	rotations, err := m.store.Rotations(shareID)
	if err != nil || len(rotations) == 0 {
		return vault.ShareKey{}, false
	}
	return m.loadLocal(shareID, rotations[len(rotations)-1])
}

func (m *Manager) loadLocal(shareID string, rotation int64) (vault.ShareKey, bool) {
	if m.store == nil {
		return vault.ShareKey{}, false
	}

	sealed, err := m.store.Get(shareID, rotation)
	if err != nil {
		if !errors.Is(err, kerrors.ErrKeyNotFound) {
			m.log.Warnf("Could not read local key for share %s rotation %d: %v", shareID, rotation, err)
		}
		return vault.ShareKey{}, false
	}

	key, err := m.sealer.OpenShareKey(shareID, rotation, sealed)
	if err != nil {
		m.log.Warnf("Ignoring unreadable local key for share %s rotation %d: %v", shareID, rotation, err)
		return vault.ShareKey{}, false
	}

	if err := m.ring.Put(key); err != nil {
		m.log.Warnf("Local key for share %s rotation %d conflicts with the key ring: %v", shareID, rotation, err)
		return vault.ShareKey{}, false
	}
	m.log.Debugf("Share %s: key rotation %d loaded from local store", shareID, rotation)
	return key, true
}

func (m *Manager) storeLocal(key vault.ShareKey) error {
	if m.store == nil {
		return nil
	}
	sealed, err := m.sealer.SealShareKey(key)
	if err != nil {
		return err
	}
	return m.store.Put(key.ShareID, key.Rotation, sealed)
}
