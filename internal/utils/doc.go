// Package utils provides shared helpers for the sharevault CLI.
//
// # Filesystem Utilities
//
//   - FindProjectRoot: walks up directories to find .sharevault
//   - FormatPaths: formats file paths for human-readable output
//
// # System Utilities
//
//   - GetUsername, GetHostname: identify the local machine
//   - GenerateDeviceName: derives a device label from the hostname
//
// # String Utilities
//
//   - IsValidEmail, NormalizeEmail: email checks used by invites
//
// # Terminal Utilities
//
// Passphrases for the local key store are read without echo through
// golang.org/x/term. When stdin carries item content, the passphrase is
// read from /dev/tty instead.
package utils
