package marshaler

import (
	"errors"
	"fmt"
)

// ErrSubmitTimeout is returned when the owning goroutine did not complete a
// request within the caller's deadline. The outcome at the gateway is unknown;
// callers must treat it as transient and reconcile before assuming no side
// effect for mutating operations.
var ErrSubmitTimeout = errors.New("marshaler: request timed out")

// ErrNotRunning is returned when Submit is called before Start or after shutdown.
var ErrNotRunning = errors.New("marshaler: dispatch loop not running")

// BrokerError is a rejection surfaced by the gateway. It is not retried by the
// marshaler; the caller decides.
type BrokerError struct {
	Code    int
	Message string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker rejected request (%d): %s", e.Code, e.Message)
}

// IsTimeout reports whether err is a marshaling deadline failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrSubmitTimeout)
}
