package breaker

import (
	"errors"
	"fmt"
)

// ErrOpen is the sentinel all open-circuit rejections wrap. Use IsOpen or
// errors.Is(err, ErrOpen) to distinguish a rejection from a downstream
// failure.
var ErrOpen = errors.New("circuit open")

// OpenError is returned when a call is rejected because the breaker is open.
// The wrapped operation was never invoked.
type OpenError struct {
	Name string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

func (e *OpenError) Unwrap() error { return ErrOpen }

// IsOpen reports whether err is an open-circuit rejection.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}
