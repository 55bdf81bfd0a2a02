package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned when a session's outbound queue cannot take another frame.
	ErrQueueFull = errors.New("outbound queue full")

	// ErrSessionClosed is returned when enqueueing to a session that is shutting down.
	ErrSessionClosed = errors.New("session closed")

	// ErrAlreadyRegistered is returned when a peer address is registered twice.
	ErrAlreadyRegistered = errors.New("address already registered")

	// ErrRelayClosed is returned by Publish once the relay has stopped.
	ErrRelayClosed = errors.New("relay closed")

	// ErrServerClosed is returned by Serve and ServeConn after Close.
	ErrServerClosed = errors.New("server closed")

	// ErrRejected marks a connection whose first frame did not authenticate.
	ErrRejected = errors.New("authentication rejected")
)

// DeliveryError reports a failed delivery to one recipient.
// The relay logs it and moves on to the next recipient.
type DeliveryError struct {
	SessionID string
	Addr      string
	Err       error
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s (%s): %v", e.SessionID, e.Addr, e.Err)
}

func (e DeliveryError) Unwrap() error { return e.Err }
