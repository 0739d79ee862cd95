package bus

import "io"

// Transport is the raw byte link the bus owns exclusively. A Read returning
// (0, nil) is a timeout and is retried; any error is fatal to the bus.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer acquires a Transport for Open.
type Dialer interface {
	Dial() (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func() (Transport, error)

func (f DialerFunc) Dial() (Transport, error) {
	return f()
}
