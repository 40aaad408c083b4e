package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/PolarWolf314/sharevault/internal/audit"
	"github.com/PolarWolf314/sharevault/internal/configs"
	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/keyring"
	"github.com/PolarWolf314/sharevault/internal/keystore"
	logger "github.com/PolarWolf314/sharevault/internal/logging"
	"github.com/PolarWolf314/sharevault/internal/reencrypt"
	"github.com/PolarWolf314/sharevault/internal/remote"
	"github.com/PolarWolf314/sharevault/internal/secrets"
	"github.com/PolarWolf314/sharevault/internal/sharekeys"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

// SessionOptions is embedded by every workflow that needs share keys.
type SessionOptions struct {
	// Passphrase unlocks the sealed identity and the local key store. It also
	// unlocks an OpenSSH signing key if the identity was imported from one.
	Passphrase []byte

	// Logger receives progress and warnings. The zero value is quiet.
	Logger logger.Logger
}

// session is everything a workflow needs once the project and the user's
// identity are known.
type session struct {
	user      *configs.UserConfig
	project   *configs.ProjectConfig
	identity  *secrets.Identity
	directory *remote.Directory
	ring      *keyring.KeyRing
	keys      *sharekeys.Manager
	service   *reencrypt.Service
	sealer    *keystore.Sealer
	log       logger.Logger
}

func openSession(ctx context.Context, opts SessionOptions) (*session, error) {
	if err := configs.InitProjectSettings(); err != nil {
		return nil, fmt.Errorf("initializing project settings: %w", err)
	}
	if configs.ProjectVaultSettings.ProjectPath == "" {
		return nil, kerrors.ErrProjectNotInitialized
	}

	userConfig, err := configs.LoadUserConfig()
	if err != nil {
		return nil, fmt.Errorf("loading user config: %w", err)
	}
	if userConfig.User.UUID == "" || userConfig.User.Email == "" {
		return nil, kerrors.ErrUserNotInitialized
	}

	sealer, err := newSealer(userConfig, opts.Passphrase)
	if err != nil {
		return nil, err
	}
	identity, err := loadIdentity(sealer, opts.Passphrase)
	if err != nil {
		return nil, err
	}

	projectConfig, err := configs.LoadProjectConfig()
	if err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	directory := remote.NewDirectory(configs.ProjectVaultSettings.ProjectStorePath)
	opts.Logger.Debugf("Using project store %s", directory.Root())
	ring := keyring.New()
	manager, err := sharekeys.NewManager(sharekeys.Options{
		Ring:     ring,
		Store:    keystore.NewFileStore(keyStoreDir(projectConfig.Project.UUID)),
		Sealer:   sealer,
		Remote:   directory,
		Identity: identity,
		MemberID: userConfig.User.UUID,
		Logger:   opts.Logger,
		Audit:    audit.Log,
	})
	if err != nil {
		return nil, err
	}

	return &session{
		user:      userConfig,
		project:   projectConfig,
		identity:  identity,
		directory: directory,
		ring:      ring,
		keys:      manager,
		service:   reencrypt.NewService(identity, opts.Logger),
		sealer:    sealer,
		log:       opts.Logger,
	}, nil
}

// close drops every key cached during the session.
func (s *session) close() {
	s.ring.Purge()
}

func (s *session) memberID() string {
	return s.user.User.UUID
}

// auditEntry returns an entry attributed to the session user.
func (s *session) auditEntry(op string) audit.Entry {
	return audit.Entry{
		Operation:   op,
		User:        s.user.User.Email,
		UserUUID:    s.user.User.UUID,
		ProjectName: s.project.Project.Name,
		ProjectUUID: s.project.Project.UUID,
	}
}

// share loads the share and the session member's role on it.
func (s *session) share(ctx context.Context, shareID string) (remote.Share, vault.Role, error) {
	share, err := s.directory.GetShare(ctx, shareID)
	if err != nil {
		return remote.Share{}, "", err
	}
	role, ok := share.Members[s.memberID()]
	if !ok {
		return remote.Share{}, "", fmt.Errorf("share %s: %w", shareID, kerrors.ErrNoAccess)
	}
	return share, role, nil
}

// ownedShare loads a share the session member signs key blobs for.
func (s *session) ownedShare(ctx context.Context, shareID string) (remote.Share, error) {
	share, role, err := s.share(ctx, shareID)
	if err != nil {
		return remote.Share{}, err
	}
	if !role.CanManageMembers() || share.OwnerID != s.memberID() {
		return remote.Share{}, fmt.Errorf("share %s: %w: only the owner can distribute keys", shareID, kerrors.ErrPermissionDenied)
	}
	return share, nil
}

// recipients resolves the published keys of every member of the share.
func (s *session) recipients(ctx context.Context, share remote.Share) ([]reencrypt.Recipient, error) {
	recipients := make([]reencrypt.Recipient, 0, len(share.Members))
	for memberID := range share.Members {
		member, err := s.directory.GetMember(ctx, memberID)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, reencrypt.RecipientFromMember(member))
	}
	return recipients, nil
}

// shareKey returns the key of the given rotation. A recoverable failure
// refreshes the share from the remote and retries once.
func (s *session) shareKey(ctx context.Context, shareID string, rotation int64) (vault.ShareKey, error) {
	key, err := s.keys.GetKeyByRotation(ctx, shareID, rotation)
	if err == nil || !kerrors.IsRecoverable(err) {
		return key, err
	}
	s.log.Debugf("Share %s: rotation %d not cached, refreshing from remote", shareID, rotation)
	if _, refreshErr := s.keys.Keys(ctx, shareID); refreshErr != nil {
		return vault.ShareKey{}, refreshErr
	}
	return s.keys.GetKeyByRotation(ctx, shareID, rotation)
}

// newSealer derives the storage key that seals the identity and the key store.
func newSealer(userConfig *configs.UserConfig, passphrase []byte) (*keystore.Sealer, error) {
	salt, err := userConfig.User.Salt()
	if err != nil {
		return nil, err
	}
	return keystore.NewSealer(passphrase, salt)
}

func loadIdentity(sealer *keystore.Sealer, passphrase []byte) (*secrets.Identity, error) {
	encryptionPath, signingPath := configs.UserVaultSettings.IdentityPaths()
	identity, err := secrets.LoadIdentity(encryptionPath, signingPath, sealer, passphrase)
	if errors.Is(err, os.ErrNotExist) {
		return nil, kerrors.ErrUserNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}
	return identity, nil
}

func keyStoreDir(projectUUID string) string {
	return filepath.Join(configs.UserVaultSettings.UserKeyStorePath, projectUUID)
}
