package core

import (
	"errors"
	"fmt"
)

// Store-level sentinel outcomes. These are not failures of the CAS
// operations themselves — callers branch on them,
var (
	ErrAlreadyExists       = errors.New("file record already exists")
	ErrNotPending          = errors.New("file record is not pending")
	ErrNotFound            = errors.New("file record not found")
	ErrNonMonotonicOffset  = errors.New("offset is not monotonically increasing")
	ErrConflictingCompletion = errors.New("completion conflicts with existing checksum")
)

// Retriable wraps an error the WorkerPool should retry with backoff (:
// Transient, FileReferenceExpired-after-refresh).
type Retriable struct {
	Kind ErrorKind
	Err  error
}

func (e *Retriable) Error() string { return fmt.Sprintf("retriable(%s): %v", e.Kind, e.Err) }
func (e *Retriable) Unwrap() error { return e.Err }

// NonRetriable wraps an error that moves a FileRecord straight to FAILED
// (: Integrity, Storage, unauthorized-for-this-file, etc).
type NonRetriable struct {
	Kind ErrorKind
	Err  error
}

func (e *NonRetriable) Error() string { return fmt.Sprintf("non-retriable(%s): %v", e.Kind, e.Err) }
func (e *NonRetriable) Unwrap() error { return e.Err }

// Fatal aborts the Coordinator after a clean drain (: Auth, Internal
// invariant violations).
type Fatal struct {
	Kind ErrorKind
	Err  error
}

func (e *Fatal) Error() string { return fmt.Sprintf("fatal(%s): %v", e.Kind, e.Err) }
func (e *Fatal) Unwrap() error { return e.Err }

// FloodWait is never reported as a task error; it is intercepted by the
// Fetcher and routed to RateGovernor.Penalize before the loop resumes.
type FloodWait struct {
	WaitSeconds int
}

func (e *FloodWait) Error() string { return fmt.Sprintf("flood wait: %ds", e.WaitSeconds) }

// IsRetriable reports whether err (or something it wraps) is a *Retriable.
func IsRetriable(err error) bool {
	var r *Retriable
	return errors.As(err, &r)
}

// IsNonRetriable reports whether err (or something it wraps) is a *NonRetriable.
func IsNonRetriable(err error) bool {
	var nr *NonRetriable
	return errors.As(err, &nr)
}

// IsFatal reports whether err (or something it wraps) is a *Fatal.
func IsFatal(err error) bool {
	var f *Fatal
	return errors.As(err, &f)
}
