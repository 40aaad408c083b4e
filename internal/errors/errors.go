package errors

import (
	"errors"
	"fmt"
)

// Key errors are recoverable: fetch the key and retry once.
var (
	// ErrKeyNotFound indicates no key is known for the requested share or rotation.
	ErrKeyNotFound = errors.New("encryption key not found")

	// ErrKeyRotationMismatch indicates content was encrypted under a different key rotation.
	ErrKeyRotationMismatch = errors.New("key rotation does not match content")
)

// Integrity errors indicate corrupt or tampered data.
var (
	// ErrAuthentication indicates the ciphertext, tag or associated data failed authentication.
	ErrAuthentication = errors.New("ciphertext authentication failed")

	// ErrDecoding indicates a payload decrypted correctly but could not be parsed.
	ErrDecoding = errors.New("malformed payload")

	// ErrWrongPassphrase indicates the local key material could not be opened
	// with the given passphrase.
	ErrWrongPassphrase = fmt.Errorf("%w: wrong passphrase", ErrAuthentication)

	// ErrInvalidContents indicates contents that cannot be encoded, such as
	// strings that are not valid UTF-8 or an unknown item type.
	ErrInvalidContents = errors.New("invalid item contents")

	// ErrUnsupportedFormatVersion indicates a content format version this build cannot read.
	ErrUnsupportedFormatVersion = fmt.Errorf("%w: unsupported content format version", ErrDecoding)
)

// Trust errors are security relevant and never retried.
var (
	// ErrInvalidSignature indicates a key blob or invite signature did not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrSigningKeyNotFound indicates the share has no signing key to verify against.
	ErrSigningKeyNotFound = errors.New("signing key not found")

	// ErrInvalidPublicKey indicates a recipient public key is malformed or of low order.
	ErrInvalidPublicKey = errors.New("invalid recipient public key")

	// ErrInvalidPrivateKey indicates the private key is malformed or unsupported.
	ErrInvalidPrivateKey = errors.New("invalid or unsupported private key format")

	// ErrInvalidKeyLength indicates a symmetric key has an unexpected length.
	ErrInvalidKeyLength = errors.New("invalid symmetric key length")
)

// State errors indicate the API was used against an invalid state.
var (
	// ErrRotationConflict indicates an attempt to reissue an existing rotation with different key material.
	ErrRotationConflict = errors.New("key rotation already issued with different key material")

	// ErrInvalidInviteTransition indicates an invite state change that the state machine forbids.
	ErrInvalidInviteTransition = errors.New("invalid invite state transition")

	// ErrInviteRejected indicates the invite has been rejected and can no longer be accepted.
	ErrInviteRejected = errors.New("invite has been rejected")

	// ErrContextClosed indicates an encryption context was used after Close.
	ErrContextClosed = errors.New("encryption context is closed")
)

// Project errors indicate issues with the local project or user setup.
var (
	// ErrProjectNotInitialized indicates the directory has no .sharevault project.
	ErrProjectNotInitialized = errors.New("project has not been initialized")

	// ErrProjectAlreadyInitialized indicates a .sharevault directory already exists.
	ErrProjectAlreadyInitialized = errors.New("project has already been initialized")

	// ErrUserNotInitialized indicates the user has no identity yet.
	ErrUserNotInitialized = errors.New("user identity has not been created")

	// ErrShareNotFound indicates the share does not exist in the project.
	ErrShareNotFound = errors.New("share not found")

	// ErrItemNotFound indicates the item does not exist in the share.
	ErrItemNotFound = errors.New("item not found")

	// ErrInviteNotFound indicates the invite does not exist in the project.
	ErrInviteNotFound = errors.New("invite not found")

	// ErrMemberNotFound indicates the member is not part of the share.
	ErrMemberNotFound = errors.New("member not found")

	// ErrNoAccess indicates the current user holds no key for the share.
	ErrNoAccess = errors.New("user does not have access to this share")

	// ErrPermissionDenied indicates the member's role does not allow the operation.
	ErrPermissionDenied = errors.New("member role does not allow this operation")

	// ErrNoAuditLog indicates the project has no audit log yet.
	ErrNoAuditLog = errors.New("no audit log found")

	// ErrInvalidDateFormat indicates a date flag is not in YYYY-MM-DD format.
	ErrInvalidDateFormat = errors.New("invalid date format")
)

// KeyError attaches the share and rotation to a key failure.
type KeyError struct {
	ShareID  string
	Rotation int64
	Err      error
}

func (e *KeyError) Error() string {
	if e.Rotation > 0 {
		return fmt.Sprintf("share %s rotation %d: %v", e.ShareID, e.Rotation, e.Err)
	}
	return fmt.Sprintf("share %s: %v", e.ShareID, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether fetching a newer key and retrying once may succeed.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrKeyRotationMismatch)
}

// IsTampered reports whether err means the data is corrupt or tampered.
func IsTampered(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrDecoding)
}
