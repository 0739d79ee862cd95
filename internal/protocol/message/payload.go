package message

import (
	"bytes"
	"encoding/binary"
)

// Message ids of the variants this package decodes.
const (
	IDHeartbeat         uint8 = 0
	IDSysStatus         uint8 = 1
	IDRawIMU            uint8 = 27
	IDAttitude          uint8 = 30
	IDGlobalPositionInt uint8 = 33
	IDRequestDataStream uint8 = 66
	IDSensorOffsets     uint8 = 150
	IDAHRS              uint8 = 163
)

// Payload is the closed set of decoded message bodies. Consumers type-switch on
// the concrete value; ids outside the dialect arrive as Unknown.
type Payload interface {
	MessageID() uint8
	sealed()
}

// Unknown carries the raw payload of an id the dialect cannot interpret.
type Unknown struct {
	ID  uint8
	Raw []byte
}

func (u Unknown) MessageID() uint8 { return u.ID }
func (Unknown) sealed()            {}

// Telemetry structs declare fields in MAVLink v1 wire order (widest type first)
// so encoding/binary handles them directly.

type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

func (Heartbeat) MessageID() uint8 { return IDHeartbeat }
func (Heartbeat) sealed()          {}

type SysStatus struct {
	SensorsPresent   uint32
	SensorsEnabled   uint32
	SensorsHealth    uint32
	Load             uint16
	VoltageBattery   uint16
	CurrentBattery   int16
	DropRateComm     uint16
	ErrorsComm       uint16
	ErrorsCount1     uint16
	ErrorsCount2     uint16
	ErrorsCount3     uint16
	ErrorsCount4     uint16
	BatteryRemaining int8
}

func (SysStatus) MessageID() uint8 { return IDSysStatus }
func (SysStatus) sealed()          {}

type RawIMU struct {
	TimeUsec uint64
	XAcc     int16
	YAcc     int16
	ZAcc     int16
	XGyro    int16
	YGyro    int16
	ZGyro    int16
	XMag     int16
	YMag     int16
	ZMag     int16
}

func (RawIMU) MessageID() uint8 { return IDRawIMU }
func (RawIMU) sealed()          {}

type Attitude struct {
	TimeBootMs uint32
	Roll       float32
	Pitch      float32
	Yaw        float32
	RollSpeed  float32
	PitchSpeed float32
	YawSpeed   float32
}

func (Attitude) MessageID() uint8 { return IDAttitude }
func (Attitude) sealed()          {}

type GlobalPositionInt struct {
	TimeBootMs  uint32
	Lat         int32
	Lon         int32
	Alt         int32
	RelativeAlt int32
	Vx          int16
	Vy          int16
	Vz          int16
	Hdg         uint16
}

func (GlobalPositionInt) MessageID() uint8 { return IDGlobalPositionInt }
func (GlobalPositionInt) sealed()          {}

type SensorOffsets struct {
	MagDeclination float32
	RawPress       int32
	RawTemp        int32
	GyroCalX       float32
	GyroCalY       float32
	GyroCalZ       float32
	AccelCalX      float32
	AccelCalY      float32
	AccelCalZ      float32
	MagOfsX        int16
	MagOfsY        int16
	MagOfsZ        int16
}

func (SensorOffsets) MessageID() uint8 { return IDSensorOffsets }
func (SensorOffsets) sealed()          {}

type AHRS struct {
	OmegaIx     float32
	OmegaIy     float32
	OmegaIz     float32
	AccelWeight float32
	RenormVal   float32
	ErrorRP     float32
	ErrorYaw    float32
}

func (AHRS) MessageID() uint8 { return IDAHRS }
func (AHRS) sealed()          {}

func decodeFixed[T Payload](b []byte) (Payload, error) {
	var v T
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeFixed(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
