package lifecycle

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/Warpcall/cli/internal/rtc"
)

var (
	// ErrMediaUnavailable matches rtc.ErrMediaUnavailable.
	ErrMediaUnavailable = rtc.ErrMediaUnavailable
	ErrNotConnected     = errors.New("not connected to signaling server")
	ErrEmptyRoom        = errors.New("room id must not be empty")
	ErrAlreadyJoined    = errors.New("already in a room")
	ErrNotJoined        = errors.New("not in a room")
	ErrSignalingLost    = errors.New("signaling connection lost")
	ErrNoWelcome        = errors.New("server closed before assigning an id")
)

// Error is returned by lifecycle operations.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
