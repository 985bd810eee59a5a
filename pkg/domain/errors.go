package domain

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error taxonomy: every failure in the pipeline maps onto one of these so
// call sites can decide: retry, skip the entity, or abort the subsystem.
// ---------------------------------------------------------------------------

// TransientError marks a failure worth retrying with bounded backoff:
// classifier, store, or platform temporarily unreachable.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for operation op.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ---------------------------------------------------------------------------

// AuthError marks invalid credentials against the platform or the
// classification service. Fatal at startup; subsystem-disabling afterwards.
type AuthError struct {
	Subsystem string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed: %s: %v", e.Subsystem, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Unauthorized wraps err as an AuthError for the named subsystem.
func Unauthorized(subsystem string, err error) error {
	return &AuthError{Subsystem: subsystem, Err: err}
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// ---------------------------------------------------------------------------

// ValidationError marks a draft missing required fields. The entity is
// dropped; other entities from the same update proceed.
type ValidationError struct {
	Kind   IntentKind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s draft: %s: %s", e.Kind, e.Field, e.Reason)
}

// Invalid constructs a ValidationError.
func Invalid(kind IntentKind, field, reason string) error {
	return &ValidationError{Kind: kind, Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrDuplicateUpdate signals an update id already processed within the
	// dedup window. Acknowledged silently, never reprocessed.
	ErrDuplicateUpdate = errors.New("duplicate update")

	// ErrModeConflict signals an attempt to activate a delivery mode while
	// another is still active or draining. Caller retries after the drain.
	ErrModeConflict = errors.New("delivery mode conflict")
)
