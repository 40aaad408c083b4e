// Package audit records security relevant sharevault operations.
//
// Entries are appended as JSON Lines to .sharevault/audit.jsonl. Besides
// user actions (vault creation, rotation, item access, invites) the log
// records every key blob whose signature failed to verify, so tampering
// with the shared directory leaves a trace.
//
//	entry := audit.LogWithUser(audit.OpVaultRotate)
//	entry.ShareID = shareID
//	entry.Rotation = rotation
//	audit.Log(entry)
//
// Logging is best effort. A failed write never fails the operation.
package audit
