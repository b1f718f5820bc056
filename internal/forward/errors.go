package forward

import (
	"errors"
	"fmt"
)

var (
	ErrMissingTarget = errors.New("missing targetUrl")
	ErrInvalidTarget = errors.New("targetUrl must be an absolute http or https URL")
)

// TransportError means the downstream target could not be reached or did not
// answer in time. It is never retried.
type TransportError struct {
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("forwarding to %s failed: %v", e.Target, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
