// Package errs defines the error kinds shared by the store, the resolver,
// the aggregator and the live dispatcher.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks a network or database failure. Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound marks a lookup with no matching record.
	ErrNotFound = errors.New("not found")
	// ErrCorrupt marks a record that cannot be mapped to a UI key.
	ErrCorrupt = errors.New("corrupt record")
	// ErrSubscriptionLost is reported when the live feed drops a subscriber.
	ErrSubscriptionLost = errors.New("subscription lost")
	// ErrInvalidArgument marks a request rejected before touching the store.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSessionClosed is returned by operations finishing after logout.
	ErrSessionClosed = errors.New("session closed")
)

// Unavailable wraps a store failure for op as ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Invalid builds an ErrInvalidArgument with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Retryable reports whether err is worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrSubscriptionLost)
}
