// Package keyring caches decrypted share and item keys for a session.
//
// Keys are held as memguard enclaves, so the cache itself never stores raw
// key bytes. Reads take a shared lock; inserting a rotation takes the
// exclusive lock, so readers observe either the previous or the new entry.
package keyring

import (
	"fmt"
	"sort"
	"sync"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

type itemKeyID struct {
	shareID  string
	itemID   string
	rotation int64
}

type shareEntry struct {
	keys   map[int64]vault.ShareKey
	latest int64
}

// KeyRing is safe for concurrent use.
type KeyRing struct {
	mu     sync.RWMutex
	shares map[string]*shareEntry
	items  map[itemKeyID]vault.ItemKey
}

func New() *KeyRing {
	return &KeyRing{
		shares: make(map[string]*shareEntry),
		items:  make(map[itemKeyID]vault.ItemKey),
	}
}

// Put caches a share key. Re-adding a known rotation is a no-op when the
// material matches and ErrRotationConflict otherwise.
func (r *KeyRing) Put(key vault.ShareKey) error {
	if key.IsZero() {
		return fmt.Errorf("cannot cache empty key for share %s", key.ShareID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.shares[key.ShareID]
	if !ok {
		entry = &shareEntry{keys: make(map[int64]vault.ShareKey)}
		r.shares[key.ShareID] = entry
	}

	if existing, ok := entry.keys[key.Rotation]; ok {
		if existing.SameMaterial(key.SymmetricKey) {
			return nil
		}
		return &kerrors.KeyError{ShareID: key.ShareID, Rotation: key.Rotation, Err: kerrors.ErrRotationConflict}
	}

	entry.keys[key.Rotation] = key
	if key.Rotation > entry.latest {
		entry.latest = key.Rotation
	}
	return nil
}

// Get returns the key for an exact rotation.
func (r *KeyRing) Get(shareID string, rotation int64) (vault.ShareKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.shares[shareID]
	if !ok {
		return vault.ShareKey{}, false
	}
	key, ok := entry.keys[rotation]
	return key, ok
}

// Latest returns the highest rotation known for the share.
func (r *KeyRing) Latest(shareID string) (vault.ShareKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.shares[shareID]
	if !ok || entry.latest == 0 {
		return vault.ShareKey{}, false
	}
	return entry.keys[entry.latest], true
}

// Rotations lists the cached rotations for the share in ascending order.
func (r *KeyRing) Rotations(shareID string) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.shares[shareID]
	if !ok {
		return nil
	}
	rotations := make([]int64, 0, len(entry.keys))
	for rotation := range entry.keys {
		rotations = append(rotations, rotation)
	}
	sort.Slice(rotations, func(i, j int) bool { return rotations[i] < rotations[j] })
	return rotations
}

// PutItemKey caches an unwrapped item key.
func (r *KeyRing) PutItemKey(key vault.ItemKey) error {
	if key.IsZero() {
		return fmt.Errorf("cannot cache empty item key for %s", key.ItemID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := itemKeyID{shareID: key.ShareID, itemID: key.ItemID, rotation: key.Rotation}
	if existing, ok := r.items[id]; ok && !existing.SameMaterial(key.SymmetricKey) {
		return &kerrors.KeyError{ShareID: key.ShareID, Rotation: key.Rotation, Err: kerrors.ErrRotationConflict}
	}
	r.items[id] = key
	return nil
}

// GetItemKey returns a cached item key.
func (r *KeyRing) GetItemKey(shareID, itemID string, rotation int64) (vault.ItemKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.items[itemKeyID{shareID: shareID, itemID: itemID, rotation: rotation}]
	return key, ok
}

// Forget drops every key of the share, e.g. after leaving it.
func (r *KeyRing) Forget(shareID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.shares, shareID)
	for id := range r.items {
		if id.shareID == shareID {
			delete(r.items, id)
		}
	}
}

// Purge drops all cached keys at the end of a session.
func (r *KeyRing) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shares = make(map[string]*shareEntry)
	r.items = make(map[itemKeyID]vault.ItemKey)
}
