// Package errs implements the error taxonomy shared across the memory
// store: every fallible operation returns a *Error so callers can branch
// on Kind with errors.Is/errors.As instead of parsing messages.
package errs

import "fmt"

// Kind classifies an error the way callers are expected to react to it.
type Kind string

const (
	InvalidInput         Kind = "invalid_input"
	InvalidParameter      Kind = "invalid_parameter"
	NotFound              Kind = "not_found"
	DuplicateContent      Kind = "duplicate_content"
	RateLimit             Kind = "rate_limit"
	ProviderUnavailable   Kind = "provider_unavailable"
	AllProvidersFailed    Kind = "all_providers_failed"
	QueueFull             Kind = "queue_full"
	CircuitOpen           Kind = "circuit_open"
	MigrationInProgress   Kind = "migration_in_progress"
	MigrationNotFound     Kind = "migration_not_found"
	Deadlock              Kind = "deadlock"
	RollbackFailed        Kind = "rollback_failed"
	Configuration         Kind = "configuration"
	TooLarge              Kind = "too_large"
	Full                  Kind = "full"
	Cancelled             Kind = "cancelled"
	Internal              Kind = "internal"
)

// Error is the tagged error value propagated by every component.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is match on Kind alone, e.g. errors.Is(err, errs.New(errs.NotFound, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error that preserves cause in its Unwrap chain.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, or "" if err is not (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return ""
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// IsTransient reports whether err's Kind is the class of error the Retry
// Policy and Router fallback logic should treat as transient.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case RateLimit, ProviderUnavailable, CircuitOpen:
		return true
	default:
		return false
	}
}
