// Package reencrypt produces the key material sent to the server when
// membership of a share changes.
//
// Share keys are wrapped for each recipient's X25519 public key and signed
// with the acting member's signing key. Multi-recipient operations return
// a Batch: every blob is produced in memory first, and nothing reaches a
// BlobSink unless all of them succeeded.
package reencrypt
