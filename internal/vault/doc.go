// Package vault defines the data model shared by the sharevault crypto core.
//
// # Key Hierarchy
//
//  1. A share (vault) owns a sequence of ShareKeys, one per rotation.
//     Rotations start at 1, increase monotonically and are never reissued.
//  2. Each item owns an ItemKey wrapped under a ShareKey of some rotation.
//  3. Item content is encrypted under its ItemKey and carried in an
//     EncryptedContent envelope stamped with that rotation.
//
// Decrypted key material only lives inside memguard enclaves. The raw slice
// passed to NewShareKey or NewItemKey is wiped when the key is constructed.
package vault
