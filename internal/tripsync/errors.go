package tripsync

import (
	"errors"
	"fmt"
)

// ErrorKind classifies sync failures by how they are handled.
type ErrorKind int

const (
	// TransientNetwork errors are retried with backoff.
	TransientNetwork ErrorKind = iota + 1
	// AuthExpired suspends sync until the account re-authenticates.
	AuthExpired
	// RateLimited errors are retried with a longer backoff.
	RateLimited
	// PermanentRejection flags the record and is never retried.
	PermanentRejection
	// LocalCorruption resets the affected kind and re-pulls it.
	LocalCorruption
)

func (k ErrorKind) String() string {
	switch k {
	case TransientNetwork:
		return "transient-network"
	case AuthExpired:
		return "auth-expired"
	case RateLimited:
		return "rate-limited"
	case PermanentRejection:
		return "permanent-rejection"
	case LocalCorruption:
		return "local-corruption"
	default:
		return "unknown"
	}
}

// SyncError is a classified failure from a remote or local operation.
type SyncError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// NewSyncError wraps err with a classification.
func NewSyncError(kind ErrorKind, op string, err error) error {
	return &SyncError{Kind: kind, Op: op, Err: err}
}

var (
	// ErrCursorExpired is returned by a remote store when a cursor is too old
	// to continue from; the caller must restart with an empty cursor.
	ErrCursorExpired = errors.New("cursor too old")

	// ErrSuspended is returned while sync is suspended for re-authentication.
	ErrSuspended = errors.New("sync suspended until re-authentication")

	// ErrNotFound is returned when a local record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrCoordinateNotFound is returned by a geocoder that has no result for a code.
	ErrCoordinateNotFound = errors.New("coordinate not found")
)

// ClassifyError returns the ErrorKind for err. Unclassified errors, including
// timeouts and network failures, are transient.
func ClassifyError(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return TransientNetwork
}
