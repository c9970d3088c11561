package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication marks a failed Authenticate call. It aborts a whole batch.
	ErrAuthentication = errors.New("telemetry authentication failed")

	// ErrFetch marks a failed FetchReadings call. It is scoped to one instrument.
	ErrFetch = errors.New("telemetry fetch failed")

	// ErrBaseURLEmpty is returned by Config.Validate.
	ErrBaseURLEmpty = errors.New("telemetry base URL cannot be empty")

	// ErrCredentialsMissing is returned by Config.Validate when the identifier or
	// password is blank.
	ErrCredentialsMissing = errors.New("telemetry credentials are not configured")
)

// ExternalServiceError describes a failed provider call.
//
// Kind is ErrAuthentication or ErrFetch, so callers can branch with errors.Is without
// unwrapping the transport error first.
type ExternalServiceError struct {
	Op         string // "authenticate" or "fetch_readings"
	Kind       error
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: %s returned HTTP %d: %v", e.Kind, e.Op, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
