// Package keystore persists share keys on the local device.
//
// Keys are never written in the clear. A Sealer derives a storage key from
// the user's passphrase with Argon2id and seals every record with
// NaCl secretbox. Each sealed record carries the share ID and rotation it
// belongs to, so a record copied to another slot fails to open.
//
// # Layout
//
// FileStore keeps one file per share key:
//
//	<dir>/<share-id>/<rotation>.key
//
// Files are written with 0600 permissions through a temporary file and an
// atomic rename, so a crash never leaves a truncated record behind.
//
// MemoryStore implements the same interface for tests and for sessions
// that must not touch the disk.
package keystore
