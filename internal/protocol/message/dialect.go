package message

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/mavbus/internal/protocol/frame"
)

// Definition describes one message id the dialect can interpret.
type Definition struct {
	ID       uint8
	Name     string
	Len      int
	CRCExtra byte
	decode   func([]byte) (Payload, error)
}

// Message is one decoded frame. It is a value; nothing mutates it after decode.
type Message struct {
	ID          uint8
	SystemID    uint8
	ComponentID uint8
	Sequence    uint8
	Payload     Payload
}

// Dialect maps message ids to payload layouts and CRC_EXTRA seeds.
// Configure it before handing it to a bus; lookups are not synchronized with SetCRCExtra.
type Dialect struct {
	defs   map[uint8]Definition
	extras map[uint8]byte
}

func fixed[T Payload](id uint8, name string, extra byte) Definition {
	var zero T
	return Definition{
		ID:       id,
		Name:     name,
		Len:      binary.Size(zero),
		CRCExtra: extra,
		decode:   decodeFixed[T],
	}
}

// Common returns the ardupilotmega subset this module interprets.
func Common() *Dialect {
	d := &Dialect{
		defs:   make(map[uint8]Definition),
		extras: make(map[uint8]byte),
	}
	for _, def := range []Definition{
		fixed[Heartbeat](IDHeartbeat, "HEARTBEAT", 50),
		fixed[SysStatus](IDSysStatus, "SYS_STATUS", 124),
		fixed[RawIMU](IDRawIMU, "RAW_IMU", 144),
		fixed[Attitude](IDAttitude, "ATTITUDE", 39),
		fixed[GlobalPositionInt](IDGlobalPositionInt, "GLOBAL_POSITION_INT", 104),
		{ID: IDRequestDataStream, Name: "REQUEST_DATA_STREAM", Len: requestDataStreamLen, CRCExtra: 148, decode: decodeRequestDataStream},
		fixed[SensorOffsets](IDSensorOffsets, "SENSOR_OFFSETS", 134),
		fixed[AHRS](IDAHRS, "AHRS", 127),
	} {
		d.defs[def.ID] = def
	}
	return d
}

// SetCRCExtra seeds checksums for an id decoded generically as Unknown.
func (d *Dialect) SetCRCExtra(id uint8, extra byte) {
	d.extras[id] = extra
}

func (d *Dialect) CRCExtra(id uint8) (byte, bool) {
	if def, ok := d.defs[id]; ok {
		return def.CRCExtra, true
	}
	v, ok := d.extras[id]
	return v, ok
}

func (d *Dialect) Lookup(id uint8) (Definition, bool) {
	def, ok := d.defs[id]
	return def, ok
}

// Name returns the message name, or "UNKNOWN_<id>".
func (d *Dialect) Name(id uint8) string {
	if def, ok := d.defs[id]; ok {
		return def.Name
	}
	return fmt.Sprintf("UNKNOWN_%d", id)
}

// Decode interprets a validated frame. A known id with a foreign payload length
// still yields a Message carrying Unknown, alongside a length DecodeError.
func (d *Dialect) Decode(f frame.Frame) (Message, error) {
	msg := Message{
		ID:          f.Header.MessageID,
		SystemID:    f.Header.SystemID,
		ComponentID: f.Header.ComponentID,
		Sequence:    f.Header.Sequence,
	}
	def, ok := d.defs[f.Header.MessageID]
	if !ok {
		msg.Payload = Unknown{ID: f.Header.MessageID, Raw: f.Payload}
		return msg, nil
	}
	if len(f.Payload) != def.Len {
		msg.Payload = Unknown{ID: f.Header.MessageID, Raw: f.Payload}
		return msg, &frame.DecodeError{
			Kind:      frame.KindLength,
			MessageID: f.Header.MessageID,
			Sequence:  f.Header.Sequence,
			Length:    len(f.Payload),
			Expected:  def.Len,
		}
	}
	p, err := def.decode(f.Payload)
	if err != nil {
		msg.Payload = Unknown{ID: f.Header.MessageID, Raw: f.Payload}
		return msg, fmt.Errorf("message: decode %s: %w", def.Name, err)
	}
	msg.Payload = p
	return msg, nil
}

// Marshal returns the payload bytes in wire field order.
func Marshal(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case nil:
		return nil, fmt.Errorf("message: nil payload")
	case RequestDataStream:
		return v.encode()
	case Unknown:
		return append([]byte(nil), v.Raw...), nil
	default:
		return encodeFixed(v)
	}
}

// Encode builds the wire frame for p under header h.
func (d *Dialect) Encode(h frame.Header, p Payload) ([]byte, error) {
	payload, err := Marshal(p)
	if err != nil {
		return nil, err
	}
	h.MessageID = p.MessageID()
	return frame.Encode(h, payload, d)
}
