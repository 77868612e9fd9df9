package dispatch

import (
	"errors"
	"fmt"
)

// ErrValidation is the sentinel for locally recoverable input problems.
// The turn is never submitted; the presentation layer shows a form error.
var ErrValidation = errors.New("validation failed")

// ValidationError wraps ErrValidation with the concrete reason.
func ValidationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// TransportError marks a network failure on a specific transport. It is
// surfaced on the placeholder message, never retried automatically.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport failed: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
