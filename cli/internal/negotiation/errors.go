package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrClosed                  = errors.New("negotiation closed")
	ErrSelfMessage             = errors.New("message originated from self")
	ErrMissingSender           = errors.New("message has no sender")
	ErrInvalidMessage          = errors.New("invalid negotiation message")
	ErrMediaNotReady           = errors.New("local media not ready")
	ErrAlreadyArmed            = errors.New("local media already attached")
	ErrStaleSessionDescription = errors.New("stale session description")
	ErrDuplicateNegotiation    = errors.New("duplicate negotiation")
	ErrForeignPeer             = errors.New("message from a peer outside the current negotiation")
	ErrCandidateQueueFull      = errors.New("candidate queue full")
	ErrConnectionFailed        = errors.New("peer connection failed")
)

// Error records the step and peer a negotiation failure happened on.
type Error struct {
	Op   string
	Peer string
	Err  error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s (peer %s): %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

// IsDiscard reports whether err only means an inbound message was ignored.
// Such errors leave the machine in its previous state.
func IsDiscard(err error) bool {
	return errors.Is(err, ErrSelfMessage) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrStaleSessionDescription) ||
		errors.Is(err, ErrForeignPeer) ||
		errors.Is(err, ErrMissingSender) ||
		errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, ErrMediaNotReady) ||
		errors.Is(err, ErrCandidateQueueFull)
}
