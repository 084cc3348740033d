package rtc

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConnection reports an answer or candidate for a peer we never
	// offered to. Callers log it and drop the message.
	ErrNoConnection = errors.New("no connection for peer")

	// ErrUnexpectedState reports a negotiation message that does not fit
	// the peer's current state, e.g. an answer before any offer was sent.
	ErrUnexpectedState = errors.New("unexpected negotiation state")

	// ErrClosed reports an operation on a manager that has already left.
	ErrClosed = errors.New("manager closed")
)

// OpError ties a failed operation to the remote peer it concerned.
type OpError struct {
	Op   string
	Peer string
	Err  error
}

func (e *OpError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s (peer %s): %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op, peer string, err error) *OpError {
	return &OpError{Op: op, Peer: peer, Err: err}
}
