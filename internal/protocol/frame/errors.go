package frame

import "fmt"

// ErrorKind classifies a DecodeError.
type ErrorKind string

const (
	KindChecksum ErrorKind = "checksum"
	KindLength   ErrorKind = "length"
)

// DecodeError reports a frame the decoder or the payload layer rejected.
type DecodeError struct {
	Kind      ErrorKind
	MessageID uint8
	Sequence  uint8
	Want      uint16
	Got       uint16
	// Length is the payload length carried by the header for KindLength.
	Length int
	// Expected is the dialect's payload length for KindLength.
	Expected int
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case KindChecksum:
		return fmt.Sprintf("frame: checksum mismatch msg=%d seq=%d want=%#04x got=%#04x", e.MessageID, e.Sequence, e.Want, e.Got)
	case KindLength:
		return fmt.Sprintf("frame: payload length mismatch msg=%d seq=%d len=%d expected=%d", e.MessageID, e.Sequence, e.Length, e.Expected)
	default:
		return fmt.Sprintf("frame: decode failed msg=%d seq=%d kind=%s", e.MessageID, e.Sequence, e.Kind)
	}
}

func (e *DecodeError) Unwrap() error {
	switch e.Kind {
	case KindChecksum:
		return ErrChecksum
	case KindLength:
		return ErrLength
	default:
		return nil
	}
}
