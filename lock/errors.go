package lock

import (
	"errors"
	"fmt"
	"time"
)

// ErrAcquireTimeout is matched by every acquisition timeout.
var ErrAcquireTimeout = errors.New("lock acquire timeout")

// AcquireTimeoutError reports that a lock was not obtained in time. Callers
// should treat it as "try later", not as a failure of the guarded work.
type AcquireTimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *AcquireTimeoutError) Error() string {
	if e.Timeout == 0 {
		return fmt.Sprintf("lock %q: not immediately available", e.Name)
	}
	return fmt.Sprintf("lock %q: not acquired within %s", e.Name, e.Timeout)
}

// Is makes errors.Is(err, ErrAcquireTimeout) hold.
func (e *AcquireTimeoutError) Is(target error) bool {
	return target == ErrAcquireTimeout
}

// IsAcquireTimeout flags the error as an acquisition timeout for callers that
// match on behaviour instead of identity.
func (e *AcquireTimeoutError) IsAcquireTimeout() bool { return true }

// IsAcquireTimeout reports whether err is, or wraps, an acquisition timeout.
func IsAcquireTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAcquireTimeout) {
		return true
	}
	var flagged interface{ IsAcquireTimeout() bool }
	return errors.As(err, &flagged) && flagged.IsAcquireTimeout()
}
