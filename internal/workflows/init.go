package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/PolarWolf314/sharevault/internal/audit"
	"github.com/PolarWolf314/sharevault/internal/configs"
	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
	"github.com/PolarWolf314/sharevault/internal/remote"
	"github.com/PolarWolf314/sharevault/internal/secrets"
	"github.com/PolarWolf314/sharevault/internal/utils"
	"github.com/PolarWolf314/sharevault/internal/vault"
)

// InitOptions configures the init workflow.
type InitOptions struct {
	// ProjectName is the name for a new project. If empty, uses the directory name.
	ProjectName string

	// Email identifies the user. Required the first time, ignored afterwards.
	Email string

	// Address is the sender address invites are signed with. Defaults to Email.
	Address string

	// Passphrase seals the identity created on first use and unlocks it
	// afterwards.
	Passphrase []byte
}

// InitResult contains the outcome of an init operation.
type InitResult struct {
	ProjectName string
	ProjectUUID string
	ProjectPath string
	DeviceName  string
	MemberID    string

	// Joined is true when the project already existed and the user was added to it.
	Joined bool

	// IdentityCreated is true when a new identity key pair was generated.
	IdentityCreated bool
}

// Init creates a sharevault project in the current directory, or joins the
// project the current directory belongs to.
//
// The user's identity is generated on first use and its public keys are
// published to the project so owners can wrap share keys for them.
//
// Returns ErrProjectAlreadyInitialized if the user is already a member.
func Init(ctx context.Context, opts InitOptions) (*InitResult, error) {
	if err := configs.InitProjectSettings(); err != nil {
		return nil, fmt.Errorf("initializing project settings: %w", err)
	}

	userConfig, err := configs.EnsureUserConfig()
	if err != nil {
		return nil, fmt.Errorf("ensuring user config: %w", err)
	}
	if userConfig.User.Email == "" {
		if !utils.IsValidEmail(opts.Email) {
			return nil, fmt.Errorf("a valid email is required, got %q", opts.Email)
		}
		userConfig.User.Email = utils.NormalizeEmail(opts.Email)
		userConfig.User.Address = opts.Address
	}

	joined := configs.ProjectVaultSettings.ProjectPath != ""
	var projectConfig *configs.ProjectConfig
	if joined {
		projectConfig, err = configs.LoadProjectConfig()
		if err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
		if _, ok := projectConfig.Members[userConfig.User.UUID]; ok {
			return nil, kerrors.ErrProjectAlreadyInitialized
		}
	}

	identity, created, err := ensureIdentity(userConfig, opts.Passphrase)
	if err != nil {
		return nil, err
	}

	if !joined {
		projectConfig, err = createProject(opts.ProjectName)
		if err != nil {
			return nil, err
		}
	}
	projectPath := configs.ProjectVaultSettings.ProjectPath

	deviceName := userConfig.User.DeviceName
	if deviceName == "" {
		deviceName, err = utils.GenerateDeviceName(projectConfig.DeviceNames(userConfig.User.Email))
		if err != nil {
			return nil, fmt.Errorf("generating device name: %w", err)
		}
		userConfig.User.DeviceName = deviceName
	}

	encryptionPub, signingPub := identity.EncryptionPublicKey, identity.SigningPublicKey()
	directory := remote.NewDirectory(configs.ProjectVaultSettings.ProjectStorePath)
	if err := directory.PutMember(ctx, vault.Member{
		ID:                  userConfig.User.UUID,
		Address:             userConfig.User.SenderAddress(),
		Email:               userConfig.User.Email,
		EncryptionPublicKey: encryptionPub,
		SigningPublicKey:    signingPub,
	}); err != nil {
		return nil, fmt.Errorf("publishing member keys: %w", err)
	}

	projectConfig.Members[userConfig.User.UUID] = configs.MemberConfig{
		Email:     userConfig.User.Email,
		Address:   userConfig.User.SenderAddress(),
		Device:    deviceName,
		CreatedAt: time.Now().UTC(),
	}
	if err := configs.SaveProjectConfig(projectConfig); err != nil {
		return nil, fmt.Errorf("saving project config: %w", err)
	}

	if userConfig.Projects == nil {
		userConfig.Projects = make(map[string]string)
	}
	userConfig.Projects[projectConfig.Project.UUID] = projectConfig.Project.Name
	if err := configs.SaveUserConfig(userConfig); err != nil {
		return nil, fmt.Errorf("updating user config with project: %w", err)
	}

	auditEntry := audit.LogWithUser(audit.OpInit)
	auditEntry.ProjectName = projectConfig.Project.Name
	auditEntry.ProjectUUID = projectConfig.Project.UUID
	audit.Log(auditEntry)

	return &InitResult{
		ProjectName:     projectConfig.Project.Name,
		ProjectUUID:     projectConfig.Project.UUID,
		ProjectPath:     projectPath,
		DeviceName:      deviceName,
		MemberID:        userConfig.User.UUID,
		Joined:          joined,
		IdentityCreated: created,
	}, nil
}

// createProject lays out .sharevault in the working directory.
func createProject(name string) (*configs.ProjectConfig, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	if name == "" {
		name = filepath.Base(wd)
	}

	storePath := filepath.Join(wd, utils.ProjectDirName)
	if err := os.MkdirAll(storePath, 0700); err != nil {
		return nil, fmt.Errorf("creating %s: %w", utils.ProjectDirName, err)
	}

	configs.ProjectVaultSettings = &configs.ProjectSettings{
		ProjectName:      name,
		ProjectPath:      wd,
		ProjectStorePath: storePath,
	}

	return &configs.ProjectConfig{
		Project: configs.Project{
			UUID:      configs.GenerateProjectUUID(),
			Name:      name,
			CreatedAt: time.Now().UTC(),
		},
		Members: make(map[string]configs.MemberConfig),
	}, nil
}

// ensureIdentity loads the user's identity, generating one on first use.
// The private keys are sealed under the passphrase.
func ensureIdentity(userConfig *configs.UserConfig, passphrase []byte) (*secrets.Identity, bool, error) {
	sealer, err := newSealer(userConfig, passphrase)
	if err != nil {
		return nil, false, err
	}
	identity, err := loadIdentity(sealer, passphrase)
	if err == nil {
		return identity, false, nil
	}
	if !errors.Is(err, kerrors.ErrUserNotInitialized) {
		return nil, false, err
	}

	identity, err = secrets.GenerateIdentity()
	if err != nil {
		return nil, false, fmt.Errorf("generating identity: %w", err)
	}
	encryptionPath, signingPath := configs.UserVaultSettings.IdentityPaths()
	if err := secrets.SaveIdentity(identity, encryptionPath, signingPath, sealer); err != nil {
		return nil, false, fmt.Errorf("saving identity: %w", err)
	}
	return identity, true, nil
}
