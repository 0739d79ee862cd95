package message

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodingError reports a field value that does not fit its wire width.
type EncodingError struct {
	Message string
	Field   string
	Value   int64
	Min     int64
	Max     int64
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("message: %s.%s=%d out of range [%d,%d]", e.Message, e.Field, e.Value, e.Min, e.Max)
}

// RequestDataStream asks an autopilot to start, stop or re-rate one stream.
// Rate is an int so an out-of-range request is rejected instead of truncated.
type RequestDataStream struct {
	TargetSystem    uint8
	TargetComponent uint8
	StreamID        uint8
	Rate            int
	Start           bool
}

func (RequestDataStream) MessageID() uint8 { return IDRequestDataStream }
func (RequestDataStream) sealed()          {}

const requestDataStreamLen = 6

func (r RequestDataStream) Validate() error {
	if r.Rate < 0 || r.Rate > math.MaxUint16 {
		return &EncodingError{
			Message: "request_data_stream",
			Field:   "req_message_rate",
			Value:   int64(r.Rate),
			Min:     0,
			Max:     math.MaxUint16,
		}
	}
	return nil
}

func (r RequestDataStream) encode() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, requestDataStreamLen)
	binary.LittleEndian.PutUint16(out[0:2], uint16(r.Rate))
	out[2] = r.TargetSystem
	out[3] = r.TargetComponent
	out[4] = r.StreamID
	if r.Start {
		out[5] = 1
	}
	return out, nil
}

func decodeRequestDataStream(b []byte) (Payload, error) {
	if len(b) != requestDataStreamLen {
		return nil, fmt.Errorf("message: request_data_stream needs %d bytes, got %d", requestDataStreamLen, len(b))
	}
	return RequestDataStream{
		Rate:            int(binary.LittleEndian.Uint16(b[0:2])),
		TargetSystem:    b[2],
		TargetComponent: b[3],
		StreamID:        b[4],
		Start:           b[5] != 0,
	}, nil
}
