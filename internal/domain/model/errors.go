package model

import (
	"errors"
	"fmt"
	"time"
)

// Error families. Every specific error below wraps exactly one of these, so
// callers can match a whole family with errors.Is.
var (
	ErrCredential = errors.New("credential error")
	ErrFetch      = errors.New("fetch error")
	ErrSession    = errors.New("session error")
	ErrStage      = errors.New("stage error")
)

// Credential errors.
var (
	ErrNotConnected        = fmt.Errorf("%w: provider not connected", ErrCredential)
	ErrInvalidGrant        = fmt.Errorf("%w: invalid grant", ErrCredential)
	ErrRefreshFailed       = fmt.Errorf("%w: token refresh failed", ErrCredential)
	ErrProviderUnreachable = fmt.Errorf("%w: provider unreachable", ErrCredential)
	ErrUnknownState        = fmt.Errorf("%w: unknown or expired authorization state", ErrCredential)

	// ErrCredentialConflict is returned by a store when a compare-and-swap
	// write lost to a concurrent writer.
	ErrCredentialConflict = fmt.Errorf("%w: concurrent credential update", ErrCredential)
)

// Fetch errors.
var (
	ErrUnauthorized = fmt.Errorf("%w: unauthorized", ErrFetch)
	ErrRateLimited  = fmt.Errorf("%w: rate limited", ErrFetch)
	ErrEndpointGone = fmt.Errorf("%w: endpoint gone", ErrFetch)
	ErrUnreachable  = fmt.Errorf("%w: unreachable", ErrFetch)
)

// Session errors. ErrSessionExpired wraps ErrSessionNotFound: an expired
// session is gone, and every read path treats it that way.
var (
	ErrSessionNotFound  = fmt.Errorf("%w: session not found", ErrSession)
	ErrSessionExpired   = fmt.Errorf("%w: session expired", ErrSessionNotFound)
	ErrActivitiesSealed = fmt.Errorf("%w: activity set is read-only", ErrSession)
	ErrStageOrder       = fmt.Errorf("%w: predecessor stage has not completed", ErrSession)
)

// Stage errors.
var (
	ErrModelUnavailable = fmt.Errorf("%w: model unavailable", ErrStage)
	ErrInvalidArtifact  = fmt.Errorf("%w: invalid artifact", ErrStage)
)

// FetchError describes a failed adapter call.
type FetchError struct {
	Provider   ProviderType
	Kind       error         // One of ErrUnauthorized, ErrRateLimited, ErrEndpointGone, ErrUnreachable.
	RetryAfter time.Duration // Provider-supplied hint for RateLimited; zero if absent.
	Err        error
}

// NewFetchError builds a FetchError of the given kind.
func NewFetchError(provider ProviderType, kind error, err error) *FetchError {
	return &FetchError{Provider: provider, Kind: kind, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StageError describes a pipeline stage that failed after its retry.
type StageError struct {
	Stage Stage
	Kind  error // ErrModelUnavailable or ErrInvalidArtifact.
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// FailureReason returns the short taxonomy name for err, used in
// per-provider status reports.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEndpointGone):
		return "endpoint_gone"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrRefreshFailed):
		return "refresh_failed"
	case errors.Is(err, ErrProviderUnreachable):
		return "unreachable"
	default:
		return "error"
	}
}
