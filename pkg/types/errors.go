package types

import "fmt"

// KdfError is raised when a password cannot be stretched. It is never retried.
type KdfError struct {
	Reason string
}

func (e KdfError) Error() string {
	return fmt.Sprintf("key derivation failed: %s", e.Reason)
}

// DecryptionReason describes what a failed authentication tag means to the
// caller in the context it was raised.
type DecryptionReason int

const (
	ReasonTagMismatch DecryptionReason = iota
	ReasonWrongPassword
	ReasonKeyMismatch
	ReasonDifferentIdentity
)

func (r DecryptionReason) String() string {
	switch r {
	case ReasonWrongPassword:
		return "wrong password"
	case ReasonKeyMismatch:
		return "key mismatch"
	case ReasonDifferentIdentity:
		return "file may have been shared with a different identity"
	}
	return "authentication tag mismatch"
}

// DecryptionError is returned whenever an authentication tag does not verify.
type DecryptionError struct {
	Reason DecryptionReason
	What   string
}

func (e DecryptionError) Error() string {
	if e.What == "" {
		return fmt.Sprintf("decryption failed: %s", e.Reason)
	}
	return fmt.Sprintf("decryption of %s failed: %s", e.What, e.Reason)
}

// As returns a copy of the error carrying a more specific reason
func (e DecryptionError) As(reason DecryptionReason) DecryptionError {
	e.Reason = reason
	return e
}

type KeyNotFoundError struct {
	Identity string
}

func (e KeyNotFoundError) Error() string {
	if e.Identity == "" {
		return "no unlocked session: please log in again"
	}
	return fmt.Sprintf("no keys held for identity %q: please log in again", e.Identity)
}

type RecipientNotFoundError struct {
	Recipient string
}

func (e RecipientNotFoundError) Error() string {
	return fmt.Sprintf("no public key on file for recipient %q", e.Recipient)
}

// ValidationError is raised for malformed wire data
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func LengthMismatch(expected, actual int) string {
	return fmt.Sprintf("expected %d bytes, got %d", expected, actual)
}
