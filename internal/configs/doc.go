// Package configs manages user and project configuration for sharevault.
//
// Configuration is stored in TOML at two levels:
//
//   - User config: <config dir>/sharevault/config.toml
//   - Project config: .sharevault/config.toml
//
// # User Configuration
//
// The user config stores the member identity (email, sending address,
// UUID, device name) and the Argon2id salt of the local key store. The UUID
// and the salt are generated on first use by EnsureUserConfig.
//
// # Project Configuration
//
// The project config stores the project identity and the member
// directory (UUID -> email, address, device). Vaults, key blobs and items
// live next to it in the .sharevault directory and are managed by the
// remote package.
//
// # Settings
//
// UserVaultSettings is initialized at startup with the identity and key
// store paths. Call InitProjectSettings before touching
// ProjectVaultSettings; it walks up the directory tree to the nearest
// .sharevault directory.
package configs
