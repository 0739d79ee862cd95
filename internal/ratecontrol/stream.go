package ratecontrol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// StreamType is a MAV_DATA_STREAM group id.
type StreamType uint8

const (
	StreamAll            StreamType = 0
	StreamRawSensors     StreamType = 1
	StreamExtendedStatus StreamType = 2
	StreamRCChannels     StreamType = 3
	StreamRawController  StreamType = 4
	StreamPosition       StreamType = 6
	StreamExtra1         StreamType = 10
	StreamExtra2         StreamType = 11
	StreamExtra3         StreamType = 12
)

var ErrUnknownStream = errors.New("ratecontrol: unknown stream type")

var streamNames = map[StreamType]string{
	StreamAll:            "all",
	StreamRawSensors:     "raw_sensors",
	StreamExtendedStatus: "extended_status",
	StreamRCChannels:     "rc_channels",
	StreamRawController:  "raw_controller",
	StreamPosition:       "position",
	StreamExtra1:         "extra1",
	StreamExtra2:         "extra2",
	StreamExtra3:         "extra3",
}

// Streams returns the eight individually controllable groups, in id order.
// StreamAll is a target only and is not included.
func Streams() []StreamType {
	return []StreamType{
		StreamRawSensors,
		StreamExtendedStatus,
		StreamRCChannels,
		StreamRawController,
		StreamPosition,
		StreamExtra1,
		StreamExtra2,
		StreamExtra3,
	}
}

func (s StreamType) Valid() bool {
	_, ok := streamNames[s]
	return ok
}

func (s StreamType) String() string {
	if name, ok := streamNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stream(%d)", uint8(s))
}

// ParseStreamType accepts a stream name or its numeric id.
func ParseStreamType(raw string) (StreamType, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.TrimPrefix(v, "mav_data_stream_")
	for id, name := range streamNames {
		if name == v {
			return id, nil
		}
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err == nil && StreamType(n).Valid() {
		return StreamType(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStream, raw)
}
