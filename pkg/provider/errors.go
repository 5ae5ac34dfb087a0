package provider

import (
	"errors"
	"fmt"
)

// ErrNotConfigured means the (user, model) pair has no usable entry: either
// the model was never added or no API key is stored for it.
var ErrNotConfigured = errors.New("model not configured")

// ErrNotImplemented means the configured provider kind has no adapter yet.
var ErrNotImplemented = errors.New("provider not implemented")

// ProviderError is a non-2xx response from the upstream API. Body is
// truncated for logging; it may contain the upstream's JSON error envelope.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the upstream failure is worth retrying: rate
// limits and server-side errors are, client errors are not.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
