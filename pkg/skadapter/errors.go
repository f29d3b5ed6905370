package skadapter

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a second command is attempted while one is
	// already in flight. The link is half-duplex for callers: requests are
	// rejected, never queued silently.
	ErrBusy = errors.New("skadapter: a request is already in flight")

	// ErrNotJoined is returned for application requests before a session
	// has been established.
	ErrNotJoined = errors.New("skadapter: not joined to a PAN")

	// ErrSessionLost signals a PANA session teardown (EVENT 29) or a radio
	// send failure (EVENT 21 with a non-zero result). Callers should
	// trigger a reconnect.
	ErrSessionLost = errors.New("skadapter: session lost")

	// ErrEnergyOverflow marks the meter's 0xFFFFFFFE cumulative counter
	// sentinel.
	ErrEnergyOverflow = errors.New("skadapter: cumulative energy overflow")
)

// TimeoutError reports a command or request that got no terminating reply
// within its deadline. Retry policy belongs to the caller.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("skadapter: %s timed out", e.Op)
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// CommandError reports an SK command completed with a FAIL line.
type CommandError struct {
	Cmd  string
	Code string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("skadapter: command %s failed with %s", e.Cmd, e.Code)
}

// ProtocolError reports a malformed or mismatched application frame. The
// frame is discarded, never interpreted as a value.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("skadapter: protocol error: %s", e.Reason)
}

// JoinFailure reports an exhausted scan or authentication attempt.
type JoinFailure struct {
	Stage string
	Err   error
}

func (e *JoinFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("skadapter: join failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("skadapter: join failed at %s", e.Stage)
}

func (e *JoinFailure) Unwrap() error {
	return e.Err
}
