package sharekeys

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PolarWolf314/sharevault/internal/audit"
	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/keyring"
	"github.com/PolarWolf314/sharevault/internal/keystore"
	logger "github.com/PolarWolf314/sharevault/internal/logging"
	"github.com/PolarWolf314/sharevault/internal/secrets"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

const (
	testShareID  = "share-1"
	testMemberID = "member-1"
)

type fakeRemote struct {
	mu         sync.Mutex
	blobs      []vault.ShareKeyBlob
	signingKey ed25519.PublicKey
	calls      atomic.Int32
	gate       chan struct{}
}

func (r *fakeRemote) GetShareKeys(ctx context.Context, shareID, memberID string) ([]vault.ShareKeyBlob, error) {
	r.calls.Add(1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []vault.ShareKeyBlob
	for _, blob := range r.blobs {
		if blob.ShareID == shareID && blob.RecipientID == memberID {
			out = append(out, blob)
		}
	}
	return out, nil
}

func (r *fakeRemote) GetSigningKey(ctx context.Context, shareID string) (ed25519.PublicKey, error) {
	if r.signingKey == nil {
		return nil, kerrors.ErrSigningKeyNotFound
	}
	return r.signingKey, nil
}

func (r *fakeRemote) add(blob vault.ShareKeyBlob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs = append(r.blobs, blob)
}

type fixture struct {
	owner   *secrets.Identity
	member  *secrets.Identity
	remote  *fakeRemote
	store   *keystore.MemoryStore
	sealer  *keystore.Sealer
	entries []audit.Entry
	mu      sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	owner, err := secrets.GenerateIdentity()
	require.NoError(t, err)
	member, err := secrets.GenerateIdentity()
	require.NoError(t, err)
	sealer, err := keystore.NewSealerFromKey(bytes.Repeat([]byte{0x11}, 32))
	require.NoError(t, err)

	return &fixture{
		owner:  owner,
		member: member,
		remote: &fakeRemote{signingKey: owner.SigningPublicKey()},
		store:  keystore.NewMemoryStore(),
		sealer: sealer,
	}
}

func (f *fixture) manager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Ring:     keyring.New(),
		Store:    f.store,
		Sealer:   f.sealer,
		Remote:   f.remote,
		Identity: f.member,
		MemberID: testMemberID,
		Logger:   logger.Logger{Err: &bytes.Buffer{}},
		Audit: func(e audit.Entry) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.entries = append(f.entries, e)
		},
	})
	require.NoError(t, err)
	return m
}

// publish wraps a fresh key for the member and signs it with signer.
func (f *fixture) publish(t *testing.T, rotation int64, signer *secrets.Identity) vault.ShareKey {
	t.Helper()
	key, err := vault.GenerateShareKey(testShareID, rotation)
	require.NoError(t, err)

	wrapped, err := secrets.WrapKey(key, f.member.EncryptionPublicKey, vault.ShareKeyWrapAAD(testShareID, rotation, testMemberID))
	require.NoError(t, err)

	blob := vault.ShareKeyBlob{
		ShareID:     testShareID,
		Rotation:    rotation,
		RecipientID: testMemberID,
		WrappedKey:  wrapped,
		CreatedAt:   time.Now().UTC(),
	}
	blob.Signature = signer.Sign(blob.SignedMessage())
	f.remote.add(blob)
	return key
}

func TestManager_FetchesVerifiesAndCaches(t *testing.T) {
	f := newFixture(t)
	f.publish(t, 1, f.owner)
	want := f.publish(t, 2, f.owner)
	m := f.manager(t)

	got, err := m.GetLatestKey(context.Background(), testShareID, false)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Rotation)
	require.True(t, got.SameMaterial(want.SymmetricKey))
	require.Equal(t, int32(1), f.remote.calls.Load())

	_, err = m.GetLatestKey(context.Background(), testShareID, false)
	require.NoError(t, err)
	old, err := m.GetKeyByRotation(context.Background(), testShareID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), old.Rotation)
	require.Equal(t, int32(1), f.remote.calls.Load(), "cached keys must not hit the remote")

	rotations, err := f.store.Rotations(testShareID)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, rotations)
}

func TestManager_LocalStoreBeforeRemote(t *testing.T) {
	f := newFixture(t)
	want := f.publish(t, 1, f.owner)

	_, err := f.manager(t).GetLatestKey(context.Background(), testShareID, false)
	require.NoError(t, err)

	// A fresh session starts with an empty key ring.
	fresh := f.manager(t)
	got, err := fresh.GetLatestKey(context.Background(), testShareID, false)
	require.NoError(t, err)
	require.True(t, got.SameMaterial(want.SymmetricKey))
	require.Equal(t, int32(1), f.remote.calls.Load())
}

func TestManager_InvalidSignatureIsNeverCached(t *testing.T) {
	f := newFixture(t)
	f.publish(t, 1, f.owner)

	attacker, err := secrets.GenerateIdentity()
	require.NoError(t, err)
	f.publish(t, 2, attacker)

	m := f.manager(t)

	_, err = m.GetLatestKey(context.Background(), testShareID, false)
	require.ErrorIs(t, err, kerrors.ErrInvalidSignature)

	_, err = m.GetKeyByRotation(context.Background(), testShareID, 2)
	require.ErrorIs(t, err, kerrors.ErrInvalidSignature)

	rotations, err := f.store.Rotations(testShareID)
	require.NoError(t, err)
	require.NotContains(t, rotations, int64(2))
	_, ok := m.ring.Get(testShareID, 2)
	require.False(t, ok)

	// The valid rotation stays usable.
	key, err := m.GetKeyByRotation(context.Background(), testShareID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), key.Rotation)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.entries)
	require.Equal(t, audit.OpInvalidSignature, f.entries[0].Operation)
	require.Equal(t, int64(2), f.entries[0].Rotation)
}

func TestManager_TamperedWrappedKeyRejected(t *testing.T) {
	f := newFixture(t)
	f.publish(t, 1, f.owner)

	f.remote.mu.Lock()
	f.remote.blobs[0].WrappedKey[len(f.remote.blobs[0].WrappedKey)-1] ^= 0x01
	f.remote.mu.Unlock()

	_, err := f.manager(t).GetLatestKey(context.Background(), testShareID, false)
	require.ErrorIs(t, err, kerrors.ErrInvalidSignature)
}

func TestManager_MissingSigningKey(t *testing.T) {
	f := newFixture(t)
	f.publish(t, 1, f.owner)
	f.remote.signingKey = nil

	_, err := f.manager(t).GetLatestKey(context.Background(), testShareID, false)
	require.ErrorIs(t, err, kerrors.ErrSigningKeyNotFound)

	rotations, err := f.store.Rotations(testShareID)
	require.NoError(t, err)
	require.Empty(t, rotations)
}

func TestManager_UnknownShareOrRotation(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)

	_, err := m.GetLatestKey(context.Background(), testShareID, false)
	require.ErrorIs(t, err, kerrors.ErrKeyNotFound)
	require.True(t, kerrors.IsRecoverable(err))

	f.publish(t, 1, f.owner)
	_, err = m.GetKeyByRotation(context.Background(), testShareID, 5)
	require.ErrorIs(t, err, kerrors.ErrKeyNotFound)
}

func TestManager_ForceRefreshPicksUpRotation(t *testing.T) {
	f := newFixture(t)
	f.publish(t, 1, f.owner)
	m := f.manager(t)

	key, err := m.GetLatestKey(context.Background(), testShareID, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), key.Rotation)

	f.publish(t, 2, f.owner)

	key, err = m.GetLatestKey(context.Background(), testShareID, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), key.Rotation, "cached latest is served without refresh")

	key, err = m.GetLatestKey(context.Background(), testShareID, true)
	require.NoError(t, err)
	require.Equal(t, int64(2), key.Rotation)

	keys, err := m.Keys(context.Background(), testShareID)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, int64(1), keys[0].Rotation)
}

func TestManager_ConcurrentFetchesCollapse(t *testing.T) {
	f := newFixture(t)
	f.publish(t, 1, f.owner)
	f.remote.gate = make(chan struct{})
	m := f.manager(t)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.GetLatestKey(context.Background(), testShareID, true)
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(f.remote.gate)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), f.remote.calls.Load())
}

func TestManager_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture(t)
	f.publish(t, 1, f.owner)
	f.remote.gate = make(chan struct{})
	m := f.manager(t)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.GetLatestKey(firstCtx, testShareID, true)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.remote.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := m.GetLatestKey(context.Background(), testShareID, true)
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(f.remote.gate)
	require.NoError(t, <-secondErr)
	require.Equal(t, int32(1), f.remote.calls.Load(), "second caller joined the first fetch")
}

func TestManager_ForgetAndRemember(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t)

	key, err := vault.GenerateShareKey(testShareID, 1)
	require.NoError(t, err)
	require.NoError(t, m.Remember(key))

	got, err := m.GetKeyByRotation(context.Background(), testShareID, 1)
	require.NoError(t, err)
	require.True(t, got.SameMaterial(key.SymmetricKey))

	require.NoError(t, m.Forget(testShareID))
	rotations, err := f.store.Rotations(testShareID)
	require.NoError(t, err)
	require.Empty(t, rotations)
}

func TestNewManager_RequiresCollaborators(t *testing.T) {
	_, err := NewManager(Options{})
	require.Error(t, err)
}

func TestManager_ImportInviteBlobs(t *testing.T) {
	f := newFixture(t)
	want := f.publish(t, 1, f.owner)
	f.publish(t, 2, f.owner)
	blobs := f.remote.blobs
	f.remote.blobs = nil
	m := f.manager(t)

	keys, err := m.Import(context.Background(), testShareID, blobs)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.True(t, keys[0].SameMaterial(want.SymmetricKey))

	_, ok := m.ring.Get(testShareID, 1)
	require.False(t, ok, "imported keys are not cached")
	rotations, err := f.store.Rotations(testShareID)
	require.NoError(t, err)
	require.Empty(t, rotations)

	for _, key := range keys {
		require.NoError(t, m.Remember(key))
	}
	got, err := m.GetKeyByRotation(context.Background(), testShareID, 1)
	require.NoError(t, err)
	require.True(t, got.SameMaterial(want.SymmetricKey))
	require.Zero(t, f.remote.calls.Load())
}

func TestManager_ImportRejectsForgedBlob(t *testing.T) {
	f := newFixture(t)
	attacker, err := secrets.GenerateIdentity()
	require.NoError(t, err)
	f.publish(t, 1, f.owner)
	f.publish(t, 2, attacker)
	blobs := f.remote.blobs
	m := f.manager(t)

	_, err = m.Import(context.Background(), testShareID, blobs)
	require.ErrorIs(t, err, kerrors.ErrInvalidSignature)

	for _, rotation := range []int64{1, 2} {
		_, ok := m.ring.Get(testShareID, rotation)
		require.False(t, ok, "rotation %d cached after a failed import", rotation)
	}
	rotations, err := f.store.Rotations(testShareID)
	require.NoError(t, err)
	require.Empty(t, rotations)
	require.Len(t, f.entries, 1)
	require.Equal(t, audit.OpInvalidSignature, f.entries[0].Operation)

	_, err = m.Import(context.Background(), "share-2", blobs[:1])
	require.ErrorIs(t, err, kerrors.ErrInvalidSignature)
}
