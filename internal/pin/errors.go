package pin

import (
	"errors"
	"fmt"
)

// ErrLockContention means another run already holds the advisory lock for
// the keyword. It is fatal before any work begins.
var ErrLockContention = errors.New("another run is already active for this keyword")

// ErrSessionMismatch means a resumed session's stored keyword or target
// disagrees with the request; callers discard it and start fresh.
var ErrSessionMismatch = errors.New("stored session does not match request")

// AcquisitionError wraps a navigation or extraction failure. It terminates
// the current acquisition phase only, never the whole run.
type AcquisitionError struct {
	Phase string
	Err   error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquisition %s: %v", e.Phase, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// PersistenceError wraps a single write failure. Callers skip and count it;
// it never aborts the run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DownloadErrorKind classifies asset-fetch failures; retry policy differs
// per kind.
type DownloadErrorKind string

// Download failure classes.
const (
	DownloadTimeout          DownloadErrorKind = "timeout"
	DownloadConnectionFailed DownloadErrorKind = "connection_failed"
	DownloadHTTPStatus       DownloadErrorKind = "http_status"
	DownloadInvalidContent   DownloadErrorKind = "invalid_content"
	DownloadExhausted        DownloadErrorKind = "all_candidates_exhausted"
)

// DownloadError is a classified fetch failure for one URL attempt.
type DownloadError struct {
	Kind   DownloadErrorKind
	Status int
	URL    string
	Err    error
}

func (e *DownloadError) Error() string {
	switch e.Kind {
	case DownloadHTTPStatus:
		return fmt.Sprintf("download %s: HTTP %d", e.URL, e.Status)
	case DownloadExhausted:
		return fmt.Sprintf("download: all candidates exhausted, last error: %v", e.Err)
	default:
		return fmt.Sprintf("download %s: %s: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Permanent reports whether retrying the same URL can never succeed.
func (e *DownloadError) Permanent() bool {
	return e.Kind == DownloadHTTPStatus && e.Status == 404
}
