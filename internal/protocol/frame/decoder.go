package frame

import (
	"bytes"
	"encoding/binary"
)

// State is the decoder's position within the current frame.
type State int

const (
	AwaitSync State = iota
	ReadHeader
	ReadPayload
	ReadChecksum
)

func (s State) String() string {
	switch s {
	case AwaitSync:
		return "await_sync"
	case ReadHeader:
		return "read_header"
	case ReadPayload:
		return "read_payload"
	case ReadChecksum:
		return "read_checksum"
	default:
		return "unknown"
	}
}

// DecoderStats counts decoder outcomes since construction.
type DecoderStats struct {
	Frames         uint64
	ChecksumErrors uint64
	DiscardedBytes uint64
}

// Decoder turns an arbitrarily chunked byte stream into validated frames.
// It is not safe for concurrent use; one read loop owns it.
type Decoder struct {
	extras  Extras
	onError func(error)

	buf   []byte
	start int
	state State
	hdr   Header
	stats DecoderStats
}

// NewDecoder builds a decoder. onError receives every *DecodeError and may be nil.
func NewDecoder(extras Extras, onError func(error)) *Decoder {
	return &Decoder{
		extras:  extras,
		onError: onError,
		buf:     make([]byte, 0, 2*(Overhead+MaxPayloadLen)),
	}
}

func (d *Decoder) State() State {
	return d.state
}

func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// Buffered reports bytes held while waiting for the rest of a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.start
}

// Reset drops buffered bytes and returns to AwaitSync.
func (d *Decoder) Reset() {
	d.stats.DiscardedBytes += uint64(d.Buffered())
	d.buf = d.buf[:0]
	d.start = 0
	d.state = AwaitSync
}

// Feed appends p and returns every frame completed by it, in wire order.
func (d *Decoder) Feed(p []byte) []Frame {
	d.buf = append(d.buf, p...)
	var out []Frame
	for {
		f, ok := d.next()
		if !ok {
			break
		}
		out = append(out, f)
	}
	d.compact()
	return out
}

// next runs the state machine until a frame completes or more bytes are needed.
func (d *Decoder) next() (Frame, bool) {
	for {
		pending := d.buf[d.start:]
		switch d.state {
		case AwaitSync:
			i := bytes.IndexByte(pending, Marker)
			if i < 0 {
				d.stats.DiscardedBytes += uint64(len(pending))
				d.start = len(d.buf)
				return Frame{}, false
			}
			d.stats.DiscardedBytes += uint64(i)
			d.start += i
			d.state = ReadHeader

		case ReadHeader:
			if len(pending) < 1+HeaderLen {
				return Frame{}, false
			}
			d.hdr, _ = DecodeHeader(pending[1 : 1+HeaderLen])
			d.state = ReadPayload

		case ReadPayload:
			if len(pending) < 1+HeaderLen+int(d.hdr.PayloadLen) {
				return Frame{}, false
			}
			d.state = ReadChecksum

		case ReadChecksum:
			end := Overhead + int(d.hdr.PayloadLen)
			if len(pending) < end {
				return Frame{}, false
			}
			want := Checksum(pending[1:end-ChecksumLen], seedFor(d.extras, d.hdr.MessageID))
			got := binary.LittleEndian.Uint16(pending[end-ChecksumLen : end])
			if got != want {
				d.stats.ChecksumErrors++
				d.stats.DiscardedBytes++
				d.report(&DecodeError{
					Kind:      KindChecksum,
					MessageID: d.hdr.MessageID,
					Sequence:  d.hdr.Sequence,
					Want:      want,
					Got:       got,
				})
				// Resume scanning one byte past the rejected marker.
				d.start++
				d.state = AwaitSync
				continue
			}

			payload := make([]byte, d.hdr.PayloadLen)
			copy(payload, pending[1+HeaderLen:end-ChecksumLen])
			f := Frame{Header: d.hdr, Payload: payload, Checksum: got}
			d.start += end
			d.state = AwaitSync
			d.stats.Frames++
			return f, true
		}
	}
}

func (d *Decoder) compact() {
	if d.start == 0 {
		return
	}
	n := copy(d.buf, d.buf[d.start:])
	d.buf = d.buf[:n]
	d.start = 0
}

func (d *Decoder) report(err error) {
	if d.onError != nil {
		d.onError(err)
	}
}
