package connectivity

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned in non-blocking mode when a source has no
// request budget left in the current window.
var ErrRateLimited = errors.New("connectivity: rate limited")

// ErrCircuitOpen is returned when the circuit breaker for a source is open,
// rejecting the call without attempting the fetch.
type ErrCircuitOpen struct {
	Source string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Source)
}
