package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the engine, stores and HTTP adapters. Callers wrap
// them with context using fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrValidation reports malformed or missing input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotFound reports a referenced tag or user that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAuthentication reports a missing or invalid credential.
	ErrAuthentication = errors.New("authentication required")
	// ErrForbidden reports an authenticated caller attempting a disallowed action.
	ErrForbidden = errors.New("forbidden")
	// ErrEmptyLedger means a tag exists without any status record. This is
	// data corruption and must alert.
	ErrEmptyLedger = errors.New("status ledger is empty")
)

// NotificationDeliveryError wraps a failure to publish a change event after
// the corresponding write was committed. The write stands; the operation is
// reported as degraded.
type NotificationDeliveryError struct {
	Topic string
	Err   error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("notification delivery on %q failed: %v", e.Topic, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error { return e.Err }

// IsDegraded reports whether err only carries notification delivery failures.
func IsDegraded(err error) bool {
	if err == nil {
		return false
	}
	var delivery *NotificationDeliveryError
	if !errors.As(err, &delivery) {
		return false
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if !errors.As(e, &delivery) {
				return false
			}
		}
	}
	return true
}
