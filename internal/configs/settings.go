package configs

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/PolarWolf314/sharevault/internal/utils"
)

type UserSettings struct {
	// UserKeysPath holds the identity key pair.
	UserKeysPath string
	// UserKeyStorePath holds sealed share keys, one directory per share.
	UserKeyStorePath string
	UserConfigsPath  string
	Username         string
}

type ProjectSettings struct {
	ProjectUUID      string
	ProjectName      string
	ProjectPath      string
	ProjectStorePath string
}

var (
	UserVaultSettings    *UserSettings
	ProjectVaultSettings *ProjectSettings
)

func init() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("error getting home directory: %s", err)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatalf("error getting config directory: %s", err)
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	username, err := utils.GetUsername()
	if err != nil {
		log.Fatalf("error getting username: %s", err)
	}

	UserVaultSettings = &UserSettings{
		UserKeysPath:     filepath.Join(dataDir, "sharevault", "identity"),
		UserKeyStorePath: filepath.Join(dataDir, "sharevault", "keystore"),
		UserConfigsPath:  filepath.Join(configDir, "sharevault"),
		Username:         username,
	}
	ProjectVaultSettings = &ProjectSettings{}
}

// InitProjectSettings locates the nearest .sharevault directory and points
// ProjectVaultSettings at it. ProjectPath stays empty outside a project.
func InitProjectSettings() error {
	projectName, err := utils.GetProjectName()
	if err != nil {
		return fmt.Errorf("error getting project name: %w", err)
	}

	projectPath, err := utils.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("error getting project root: %w", err)
	}

	ProjectVaultSettings = &ProjectSettings{
		ProjectName: projectName,
		ProjectPath: projectPath,
	}
	if projectPath != "" {
		ProjectVaultSettings.ProjectStorePath = filepath.Join(projectPath, utils.ProjectDirName)
	}

	return nil
}

// IdentityPaths returns the encryption and signing key paths of the user identity.
func (s *UserSettings) IdentityPaths() (encryption string, signing string) {
	return filepath.Join(s.UserKeysPath, "encryption.pem"), filepath.Join(s.UserKeysPath, "signing.pem")
}
