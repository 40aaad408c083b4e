package configs

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PolarWolf314/sharevault/internal/keystore"
	"github.com/PolarWolf314/sharevault/internal/utils"
)

type UserConfig struct {
	User     User              `toml:"user"`
	Projects map[string]string `toml:"projects"`
}

type User struct {
	Email      string `toml:"email"`
	Address    string `toml:"address"`
	UUID       string `toml:"user_uuid"`
	DeviceName string `toml:"device_name"`
	// KDFSalt is the base64 Argon2id salt of the local key store.
	KDFSalt string `toml:"kdf_salt"`
}

type ProjectConfig struct {
	Project Project                 `toml:"project"`
	Members map[string]MemberConfig `toml:"members"`
}

type Project struct {
	UUID      string    `toml:"project_uuid"`
	Name      string    `toml:"name"`
	CreatedAt time.Time `toml:"created_at"`
}

// MemberConfig is the directory entry of a member, keyed by member UUID.
type MemberConfig struct {
	Email     string    `toml:"email"`
	Address   string    `toml:"address"`
	Device    string    `toml:"device"`
	CreatedAt time.Time `toml:"created_at"`
}

func userConfigPath() string {
	return filepath.Join(UserVaultSettings.UserConfigsPath, "config.toml")
}

func projectConfigPath() string {
	return filepath.Join(ProjectVaultSettings.ProjectPath, utils.ProjectDirName, "config.toml")
}

// LoadUserConfig loads the user configuration. A missing file yields an empty config.
func LoadUserConfig() (*UserConfig, error) {
	config := &UserConfig{
		Projects: make(map[string]string),
	}

	if _, err := os.Stat(userConfigPath()); os.IsNotExist(err) {
		return config, nil
	}

	if err := LoadTOML(userConfigPath(), config); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if config.Projects == nil {
		config.Projects = make(map[string]string)
	}

	return config, nil
}

func SaveUserConfig(config *UserConfig) error {
	if err := SaveTOML(userConfigPath(), config); err != nil {
		return fmt.Errorf("failed to save user config: %w", err)
	}
	return nil
}

func GenerateUserUUID() string {
	return uuid.New().String()
}

// EnsureUserConfig makes sure the user config has a UUID and a key store salt.
func EnsureUserConfig() (*UserConfig, error) {
	config, err := LoadUserConfig()
	if err != nil {
		return nil, err
	}

	changed := false
	if config.User.UUID == "" {
		config.User.UUID = GenerateUserUUID()
		changed = true
	}
	if config.User.KDFSalt == "" {
		salt, err := keystore.GenerateSalt()
		if err != nil {
			return nil, err
		}
		config.User.KDFSalt = base64.StdEncoding.EncodeToString(salt)
		changed = true
	}

	if changed {
		if err := SaveUserConfig(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// Salt decodes the key store salt.
func (u User) Salt() ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(u.KDFSalt)
	if err != nil {
		return nil, fmt.Errorf("invalid kdf_salt in user config: %w", err)
	}
	if len(salt) != keystore.SaltSize {
		return nil, fmt.Errorf("invalid kdf_salt in user config: expected %d bytes, got %d", keystore.SaltSize, len(salt))
	}
	return salt, nil
}

// SenderAddress is the address invites are signed with. It falls back to the email.
func (u User) SenderAddress() string {
	if u.Address != "" {
		return u.Address
	}
	return u.Email
}

// LoadProjectConfig loads the project configuration.
// Callers must run InitProjectSettings first.
func LoadProjectConfig() (*ProjectConfig, error) {
	config := &ProjectConfig{
		Members: make(map[string]MemberConfig),
	}

	if _, err := os.Stat(projectConfigPath()); os.IsNotExist(err) {
		return config, nil
	}

	if err := LoadTOML(projectConfigPath(), config); err != nil {
		return nil, fmt.Errorf("failed to load project config: %w", err)
	}
	if config.Members == nil {
		config.Members = make(map[string]MemberConfig)
	}

	return config, nil
}

// SaveProjectConfig saves the project configuration.
// Callers must run InitProjectSettings first.
func SaveProjectConfig(config *ProjectConfig) error {
	if err := SaveTOML(projectConfigPath(), config); err != nil {
		return fmt.Errorf("failed to save project config: %w", err)
	}
	return nil
}

func GenerateProjectUUID() string {
	return uuid.New().String()
}

// MemberByEmail looks up a member by email, ignoring case.
func (pc *ProjectConfig) MemberByEmail(email string) (string, MemberConfig, bool) {
	for id, member := range pc.Members {
		if strings.EqualFold(member.Email, email) {
			return id, member, true
		}
	}
	return "", MemberConfig{}, false
}

// DeviceNames lists the device names already registered for email.
func (pc *ProjectConfig) DeviceNames(email string) []string {
	var names []string
	for _, member := range pc.Members {
		if strings.EqualFold(member.Email, email) && member.Device != "" {
			names = append(names, member.Device)
		}
	}
	return names
}
