package connection

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyConnected is returned when Connect is called while a connect
// sequence is running or a session is live.
var ErrAlreadyConnected = errors.New("connection: already connected")

// ErrNotDegraded is returned when Reconnect is called outside the degraded
// state. Recovery from degraded is strictly caller-initiated; there is
// nothing to recover from in other states.
var ErrNotDegraded = errors.New("connection: not in degraded state")

// PermanentError marks a failure that retrying cannot fix, such as
// rejected credentials or broken configuration. The connect loop
// short-circuits the remaining strategy/retry budget when it sees one.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks whether an error is permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// ConnectError is the single terminal error surfaced after the full
// strategy/retry budget is exhausted. It carries enough detail to tell a
// network problem from a configuration problem.
type ConnectError struct {
	// LastStrategy is the strategy in play when the final attempt failed.
	LastStrategy Strategy
	// Attempts is the total number of attempts made across all strategies.
	Attempts int
	// Elapsed is the wall time of the whole connect sequence.
	Elapsed time.Duration
	// Err is the last underlying error.
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connection failed after %d attempts over %s (last strategy %s): %v",
		e.Attempts, e.Elapsed.Round(time.Millisecond), e.LastStrategy, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
