package message

import (
	"errors"
	"math"
	"testing"

	"github.com/danmuck/mavbus/internal/protocol/frame"
	"github.com/danmuck/mavbus/internal/testutil/testlog"
)

func decodeWire(t *testing.T, d *Dialect, wire []byte) Message {
	t.Helper()
	f, err := frame.Parse(wire, d)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	msg, err := d.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestRequestDataStreamRoundTrip(t *testing.T) {
	testlog.Start(t)
	d := Common()
	cmd := RequestDataStream{TargetSystem: 1, TargetComponent: 0, StreamID: 10, Rate: 19, Start: true}
	wire, err := d.Encode(frame.Header{Sequence: 42, SystemID: 255, ComponentID: 190}, cmd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(wire) != frame.Overhead+6 {
		t.Fatalf("unexpected frame length=%d", len(wire))
	}
	msg := decodeWire(t, d, wire)
	if msg.ID != IDRequestDataStream || msg.Sequence != 42 || msg.SystemID != 255 || msg.ComponentID != 190 {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	got, ok := msg.Payload.(RequestDataStream)
	if !ok {
		t.Fatalf("unexpected payload type %T", msg.Payload)
	}
	if got != cmd {
		t.Fatalf("payload mismatch got=%+v want=%+v", got, cmd)
	}
}

func TestRequestDataStreamWireLayout(t *testing.T) {
	testlog.Start(t)
	b, err := Marshal(RequestDataStream{TargetSystem: 7, TargetComponent: 8, StreamID: 6, Rate: 0x0102, Start: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := []byte{0x02, 0x01, 7, 8, 6, 1}
	if string(b) != string(want) {
		t.Fatalf("layout got=% x want=% x", b, want)
	}
}

func TestRequestDataStreamRejectsOutOfRangeRate(t *testing.T) {
	testlog.Start(t)
	for _, rate := range []int{-1, math.MaxUint16 + 1} {
		_, err := Marshal(RequestDataStream{Rate: rate})
		var ee *EncodingError
		if !errors.As(err, &ee) {
			t.Fatalf("rate=%d: expected EncodingError, got %v", rate, err)
		}
		if ee.Field != "req_message_rate" || ee.Value != int64(rate) {
			t.Fatalf("rate=%d: unexpected error detail %+v", rate, ee)
		}
	}
	if _, err := Marshal(RequestDataStream{Rate: math.MaxUint16}); err != nil {
		t.Fatalf("max rate should encode: %v", err)
	}
}

func TestTelemetryRoundTrip(t *testing.T) {
	testlog.Start(t)
	d := Common()
	cases := []Payload{
		Heartbeat{CustomMode: 4, Type: 2, Autopilot: 3, BaseMode: 0x51, SystemStatus: 4, MavlinkVersion: 3},
		SysStatus{SensorsPresent: 1, SensorsEnabled: 2, SensorsHealth: 3, Load: 500, VoltageBattery: 12000, CurrentBattery: -1, BatteryRemaining: 87},
		RawIMU{TimeUsec: 123456789, XAcc: -12, YAcc: 5, ZAcc: -1000, XGyro: 1, YGyro: 2, ZGyro: 3, XMag: 100, YMag: -100, ZMag: 50},
		Attitude{TimeBootMs: 1000, Roll: 0.1, Pitch: -0.2, Yaw: 3.1, RollSpeed: 0.01, PitchSpeed: 0.02, YawSpeed: 0.03},
		GlobalPositionInt{TimeBootMs: 99, Lat: 473977420, Lon: 85455940, Alt: 488000, RelativeAlt: 1000, Vx: 1, Vy: -1, Vz: 2, Hdg: 35999},
		SensorOffsets{MagDeclination: 0.5, RawPress: 101325, RawTemp: 2500, GyroCalX: 0.1, AccelCalZ: -0.3, MagOfsX: -7, MagOfsY: 8, MagOfsZ: 9},
		AHRS{OmegaIx: 0.001, OmegaIy: 0.002, OmegaIz: 0.003, AccelWeight: 0.5, RenormVal: 1, ErrorRP: 0.01, ErrorYaw: 0.02},
	}
	for i, p := range cases {
		def, ok := d.Lookup(p.MessageID())
		if !ok {
			t.Fatalf("case %d: id %d missing from dialect", i, p.MessageID())
		}
		wire, err := d.Encode(frame.Header{Sequence: uint8(i), SystemID: 1, ComponentID: 1}, p)
		if err != nil {
			t.Fatalf("%s: encode: %v", def.Name, err)
		}
		if int(wire[1]) != def.Len {
			t.Fatalf("%s: payload len=%d want=%d", def.Name, wire[1], def.Len)
		}
		msg := decodeWire(t, d, wire)
		if msg.Payload != p {
			t.Fatalf("%s: round trip mismatch got=%+v want=%+v", def.Name, msg.Payload, p)
		}
	}
}

func TestUnknownIDPassesThrough(t *testing.T) {
	testlog.Start(t)
	d := Common()
	wire, err := d.Encode(frame.Header{Sequence: 1, SystemID: 1, ComponentID: 1}, Unknown{ID: 222, Raw: []byte{9, 8, 7}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := decodeWire(t, d, wire)
	u, ok := msg.Payload.(Unknown)
	if !ok || u.ID != 222 || string(u.Raw) != string([]byte{9, 8, 7}) {
		t.Fatalf("unexpected payload %#v", msg.Payload)
	}
	if d.Name(222) != "UNKNOWN_222" {
		t.Fatalf("unexpected name %q", d.Name(222))
	}
}

func TestSetCRCExtraSeedsUnknownChecksum(t *testing.T) {
	testlog.Start(t)
	d := Common()
	unseeded, err := d.Encode(frame.Header{}, Unknown{ID: 230, Raw: []byte{1}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d.SetCRCExtra(230, 77)
	if _, err := frame.Parse(unseeded, d); !errors.Is(err, frame.ErrChecksum) {
		t.Fatalf("expected seeded dialect to reject unseeded frame, got %v", err)
	}
	seeded, err := d.Encode(frame.Header{}, Unknown{ID: 230, Raw: []byte{1}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decodeWire(t, d, seeded)
}

func TestKnownIDWithForeignLengthDecodesAsUnknown(t *testing.T) {
	testlog.Start(t)
	d := Common()
	wire, err := frame.Encode(frame.Header{MessageID: IDAttitude}, make([]byte, 10), d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := frame.Parse(wire, d)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	msg, err := d.Decode(f)
	if !errors.Is(err, frame.ErrLength) {
		t.Fatalf("expected length error, got %v", err)
	}
	if _, ok := msg.Payload.(Unknown); !ok {
		t.Fatalf("expected Unknown payload, got %T", msg.Payload)
	}
}

func TestMarshalNilPayload(t *testing.T) {
	testlog.Start(t)
	if _, err := Marshal(nil); err == nil {
		t.Fatalf("expected error for nil payload")
	}
}
