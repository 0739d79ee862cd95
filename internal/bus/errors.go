package bus

import (
	"errors"
	"fmt"
)

// ErrClosed reports a bus stopped by Close. ErrTransportIO wraps the read or
// write failure that took the link down; the two never wrap each other.
var (
	ErrClosed          = errors.New("bus: closed")
	ErrTransportOpen   = errors.New("bus: transport open failed")
	ErrTransportIO     = errors.New("bus: transport io failed")
	ErrNilSubscriber   = errors.New("bus: nil subscriber")
	ErrNilTransport    = errors.New("bus: nil transport")
	ErrInvalidRepeats  = errors.New("bus: repeats must be at least 1")
	ErrInvalidMode     = errors.New("bus: invalid dispatch mode")
	ErrSubscriberPanic = errors.New("bus: subscriber panicked")
)

// SubscriberError is a failure raised by one subscriber's Receive.
type SubscriberError struct {
	SubscriptionID string
	MessageID      uint8
	Err            error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("bus: subscriber %s failed on msg=%d: %v", e.SubscriptionID, e.MessageID, e.Err)
}

func (e *SubscriberError) Unwrap() error {
	return e.Err
}
