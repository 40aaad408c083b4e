// Package errors provides typed error values for sharevault.
//
// Every fallible cryptographic operation returns an error rather than
// panicking, and callers classify failures with errors.Is() instead of
// string matching.
//
// # Error Categories
//
//   - Recoverable key errors: the caller should fetch the missing or newer
//     key and retry once (ErrKeyNotFound, ErrKeyRotationMismatch).
//   - Integrity errors: the data is corrupt or tampered and must not be
//     retried (ErrAuthentication, ErrDecoding).
//   - Trust errors: security relevant, the key or invite is discarded and
//     the event is audited (ErrInvalidSignature, ErrSigningKeyNotFound).
//   - State errors: invalid use of the API (ErrRotationConflict,
//     ErrInvalidInviteTransition).
//
// # Usage
//
//	contents, err := items.Decode(content, key)
//	if kerrors.IsRecoverable(err) {
//	    key, err = manager.GetLatestKey(ctx, shareID, true)
//	    // retry once
//	}
//
// Use KeyError to attach the share and rotation a failure relates to:
//
//	return &kerrors.KeyError{ShareID: id, Rotation: r, Err: kerrors.ErrKeyNotFound}
package errors
