// Package credentials stores per-user model endpoints and API keys. Keys are
// sealed by a Protector before they reach the database and unsealed only
// inside Resolve; plaintext key material is never logged or serialized.
package credentials

import "fmt"

// Protector seals and unseals API key material. Implementations must be safe
// for concurrent use.
type Protector interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// CryptoError wraps a sealing or unsealing failure. The underlying error is
// preserved for errors.Is/As, but the message never includes key material or
// ciphertext.
type CryptoError struct {
	Op  string // "seal" or "open"
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("credential %s failed: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }
