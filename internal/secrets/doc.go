// Package secrets provides the cryptographic primitives of sharevault.
//
// # Encryption Context
//
// An EncryptionContext performs authenticated symmetric encryption with
// XChaCha20-Poly1305 under one rotated key. Callers acquire it for the
// duration of an operation and Close it afterwards; Close destroys the
// locked buffer holding the raw key.
//
//	err := secrets.WithKey(shareKey, func(c *secrets.EncryptionContext) error {
//	    content, err = c.Encrypt(plaintext, secrets.AssociatedData{Tag: secrets.TagVaultContent, FormatVersion: 1})
//	    return err
//	})
//
// Ciphertext layout is nonce (24 bytes) || ciphertext || tag. The associated
// data binds the purpose tag, the content format version and the key
// rotation, so relabelling an envelope fails authentication.
//
// # Key Wrapping
//
// Keys are wrapped for a recipient with an ephemeral X25519 exchange. The
// shared secret is expanded with HKDF-SHA256 into a one-time key that seals
// the raw key with XChaCha20-Poly1305:
//
//	ephemeral public (32) || nonce (24) || sealed key || tag
//
// # Identities
//
// A member identity is an X25519 encryption key plus an Ed25519 signing key.
// Private keys are stored as PKCS#8 PEM; Ed25519 signing keys may also be
// imported from OpenSSH private key files.
package secrets
