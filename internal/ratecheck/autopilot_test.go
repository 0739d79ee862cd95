package ratecheck

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/mavbus/internal/bus"
	"github.com/danmuck/mavbus/internal/protocol/frame"
	"github.com/danmuck/mavbus/internal/protocol/message"
	"github.com/danmuck/mavbus/internal/ratecontrol"
)

// streamPayload is the one message a simulated stream group emits.
var streamPayload = map[ratecontrol.StreamType]message.Payload{
	ratecontrol.StreamRawSensors:     message.RawIMU{},
	ratecontrol.StreamExtendedStatus: message.SysStatus{},
	ratecontrol.StreamRCChannels:     message.Unknown{ID: 65, Raw: make([]byte, 42)},
	ratecontrol.StreamRawController:  message.Unknown{ID: 36, Raw: make([]byte, 21)},
	ratecontrol.StreamPosition:       message.GlobalPositionInt{},
	ratecontrol.StreamExtra1:         message.Attitude{},
	ratecontrol.StreamExtra2:         message.Unknown{ID: 74, Raw: make([]byte, 20)},
	ratecontrol.StreamExtra3:         message.AHRS{},
}

// autopilot answers REQUEST_DATA_STREAM over a pipe. Each tick it emits one
// HEARTBEAT, one SENSOR_OFFSETS, and rate copies of every active stream's message.
type autopilot struct {
	conn net.Conn
	tick time.Duration
	// silentAbove > 0 makes streams asked for a higher rate go quiet.
	silentAbove int

	mu    sync.Mutex
	rates map[ratecontrol.StreamType]int
	seq   uint8
	stop  chan struct{}
}

func startAutopilot(t *testing.T, conn net.Conn, tick time.Duration, silentAbove int) *autopilot {
	t.Helper()
	ap := &autopilot{
		conn:        conn,
		tick:        tick,
		silentAbove: silentAbove,
		rates:       make(map[ratecontrol.StreamType]int),
		stop:        make(chan struct{}),
	}
	go ap.readCommands()
	go ap.emit()
	t.Cleanup(func() {
		close(ap.stop)
		_ = conn.Close()
	})
	return ap
}

func (ap *autopilot) rate(stream ratecontrol.StreamType) (int, bool) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	r, ok := ap.rates[stream]
	return r, ok
}

func (ap *autopilot) readCommands() {
	dialect := message.Common()
	dec := frame.NewDecoder(dialect, nil)
	buf := make([]byte, 256)
	for {
		n, err := ap.conn.Read(buf)
		if err != nil {
			return
		}
		for _, f := range dec.Feed(buf[:n]) {
			msg, err := dialect.Decode(f)
			if err != nil {
				continue
			}
			cmd, ok := msg.Payload.(message.RequestDataStream)
			if !ok || cmd.TargetSystem != 1 {
				continue
			}
			stream := ratecontrol.StreamType(cmd.StreamID)
			ap.mu.Lock()
			if cmd.Start {
				ap.rates[stream] = cmd.Rate
			} else {
				delete(ap.rates, stream)
			}
			ap.mu.Unlock()
		}
	}
}

func (ap *autopilot) emit() {
	ticker := time.NewTicker(ap.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ap.stop:
			return
		case <-ticker.C:
		}
		if _, err := ap.conn.Write(ap.burst()); err != nil {
			return
		}
	}
}

func (ap *autopilot) burst() []byte {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	var out []byte
	add := func(p message.Payload) {
		wire, err := message.Common().Encode(frame.Header{Sequence: ap.seq, SystemID: 1, ComponentID: 1}, p)
		if err != nil {
			return
		}
		ap.seq++
		out = append(out, wire...)
	}
	add(message.Heartbeat{Type: 2, Autopilot: 3, MavlinkVersion: 3})
	add(message.SensorOffsets{})
	for stream, rate := range ap.rates {
		if ap.silentAbove > 0 && rate > ap.silentAbove {
			continue
		}
		p, ok := streamPayload[stream]
		if !ok {
			continue
		}
		for i := 0; i < rate; i++ {
			add(p)
		}
	}
	return out
}

func openSimulatedLink(t *testing.T, silentAbove int) (*bus.Bus, *autopilot) {
	t.Helper()
	busSide, deviceSide := net.Pipe()
	b, err := bus.New(busSide, bus.DefaultConfig())
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, startAutopilot(t, deviceSide, 5*time.Millisecond, silentAbove)
}

func waitForCondition(timeout time.Duration, interval time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(interval)
	}
	return fn()
}
