package services

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueTimeout means GPU admission did not come through in time.
	ErrQueueTimeout = errors.New("gpu queue admission timed out")

	// ErrCostGuardBlocked means the per-query spend limit refused a remote call.
	ErrCostGuardBlocked = errors.New("cost guard blocked remote invocation")

	// ErrCloudDisabled means a remote backend was selected while cloud
	// fallback is switched off or unauthenticated.
	ErrCloudDisabled = errors.New("cloud fallback unavailable")
)

// UpstreamError preserves a provider's HTTP error verbatim so clients see
// the provider's own status and body instead of a paraphrase.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether escalating to the next candidate can help.
// Client errors (400-404) indicate a malformed or unauthorized request that
// would fail identically elsewhere, so the cascade aborts on them.
func (e *UpstreamError) Retryable() bool {
	switch e.StatusCode {
	case 400, 401, 402, 403, 404:
		return false
	}
	return true
}

// AsUpstreamError unwraps err to an UpstreamError when one is present.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
