package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Marker opens every MAVLink v1 frame.
	Marker        byte = 0xFE
	HeaderLen          = 5
	ChecksumLen        = 2
	MaxPayloadLen      = 255
	// Overhead is the byte count of a frame minus its payload.
	Overhead = 1 + HeaderLen + ChecksumLen
)

var (
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrShortHeader     = errors.New("frame: short header")
	ErrShortFrame      = errors.New("frame: short frame")
	ErrMissingMarker   = errors.New("frame: missing start marker")
	ErrChecksum        = errors.New("frame: checksum mismatch")
	ErrLength          = errors.New("frame: payload length mismatch")
)

// Header is the fixed wire header that follows the start marker.
type Header struct {
	PayloadLen  uint8
	Sequence    uint8
	SystemID    uint8
	ComponentID uint8
	MessageID   uint8
}

// Frame is one checksum-validated wire message.
type Frame struct {
	Header   Header
	Payload  []byte
	Checksum uint16
}

// Extras resolves the CRC_EXTRA seed folded into a message's checksum.
type Extras interface {
	CRCExtra(messageID uint8) (byte, bool)
}

// ExtraTable is a static Extras.
type ExtraTable map[uint8]byte

func (t ExtraTable) CRCExtra(messageID uint8) (byte, bool) {
	v, ok := t[messageID]
	return v, ok
}

func EncodeHeader(h Header) []byte {
	return []byte{h.PayloadLen, h.Sequence, h.SystemID, h.ComponentID, h.MessageID}
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	return Header{
		PayloadLen:  b[0],
		Sequence:    b[1],
		SystemID:    b[2],
		ComponentID: b[3],
		MessageID:   b[4],
	}, nil
}

// Encode serializes one frame. The header's PayloadLen is taken from payload.
func Encode(h Header, payload []byte, extras Extras) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	h.PayloadLen = uint8(len(payload))

	out := make([]byte, 0, Overhead+len(payload))
	out = append(out, Marker)
	out = append(out, EncodeHeader(h)...)
	out = append(out, payload...)
	sum := Checksum(out[1:], seedFor(extras, h.MessageID))
	out = binary.LittleEndian.AppendUint16(out, sum)
	return out, nil
}

// Parse validates exactly one encoded frame.
func Parse(b []byte, extras Extras) (Frame, error) {
	if len(b) < Overhead {
		return Frame{}, ErrShortFrame
	}
	if b[0] != Marker {
		return Frame{}, ErrMissingMarker
	}
	h, err := DecodeHeader(b[1 : 1+HeaderLen])
	if err != nil {
		return Frame{}, err
	}
	end := Overhead + int(h.PayloadLen)
	if len(b) != end {
		return Frame{}, fmt.Errorf("%w: have %d bytes, header declares %d", ErrShortFrame, len(b), end)
	}
	want := Checksum(b[1:end-ChecksumLen], seedFor(extras, h.MessageID))
	got := binary.LittleEndian.Uint16(b[end-ChecksumLen:])
	if got != want {
		return Frame{}, &DecodeError{Kind: KindChecksum, MessageID: h.MessageID, Sequence: h.Sequence, Want: want, Got: got}
	}
	payload := make([]byte, h.PayloadLen)
	copy(payload, b[1+HeaderLen:end-ChecksumLen])
	return Frame{Header: h, Payload: payload, Checksum: got}, nil
}
