package transport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/mavbus/internal/bus"
	"github.com/rs/zerolog/log"
	"github.com/tarm/serial"
)

var (
	ErrInvalidSerial = errors.New("transport: invalid serial config")
	ErrPortClosed    = errors.New("transport: port closed")
)

// SerialConfig names a serial device and its line settings.
type SerialConfig struct {
	Name   string
	Baud   int
	Parity string
	// StopBits is 1 or 2.
	StopBits int
	// ReadTimeout bounds each Read so Close can interrupt the read loop.
	ReadTimeout time.Duration
}

// DefaultSerialConfig matches a USB-attached autopilot at the telemetry radio rate.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Name:        "/dev/ttyACM0",
		Baud:        57600,
		Parity:      "none",
		StopBits:    1,
		ReadTimeout: 500 * time.Millisecond,
	}
}

func (c SerialConfig) Validate() error {
	_, err := c.portConfig()
	return err
}

func (c SerialConfig) portConfig() (*serial.Config, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("%w: missing port name", ErrInvalidSerial)
	}
	if c.Baud <= 0 {
		return nil, fmt.Errorf("%w: baud must be positive, got %d", ErrInvalidSerial, c.Baud)
	}
	if c.ReadTimeout < 0 {
		return nil, fmt.Errorf("%w: read timeout must not be negative", ErrInvalidSerial)
	}
	parity, err := parseParity(c.Parity)
	if err != nil {
		return nil, err
	}
	var stop serial.StopBits
	switch c.StopBits {
	case 0, 1:
		stop = serial.Stop1
	case 2:
		stop = serial.Stop2
	default:
		return nil, fmt.Errorf("%w: stop bits %d", ErrInvalidSerial, c.StopBits)
	}
	return &serial.Config{
		Name:        strings.TrimSpace(c.Name),
		Baud:        c.Baud,
		Parity:      parity,
		StopBits:    stop,
		ReadTimeout: c.ReadTimeout,
	}, nil
}

func parseParity(raw string) (serial.Parity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "n", "none":
		return serial.ParityNone, nil
	case "o", "odd":
		return serial.ParityOdd, nil
	case "e", "even":
		return serial.ParityEven, nil
	case "m", "mark":
		return serial.ParityMark, nil
	case "s", "space":
		return serial.ParitySpace, nil
	default:
		return 0, fmt.Errorf("%w: parity %q", ErrInvalidSerial, raw)
	}
}

var openPort = func(cfg *serial.Config) (io.ReadWriteCloser, error) {
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Flush(); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Port adapts a serial device to bus.Transport. The driver reports a read
// timeout as (0, io.EOF); Port reports it as (0, nil).
type Port struct {
	name   string
	rwc    io.ReadWriteCloser
	closed atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

func NewPort(name string, rwc io.ReadWriteCloser) *Port {
	return &Port{name: name, rwc: rwc}
}

// OpenSerial opens and flushes the device described by cfg.
func OpenSerial(cfg SerialConfig) (*Port, error) {
	pc, err := cfg.portConfig()
	if err != nil {
		return nil, err
	}
	rwc, err := openPort(pc)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", pc.Name, err)
	}
	log.Info().
		Str("port", pc.Name).
		Int("baud", pc.Baud).
		Dur("read_timeout", pc.ReadTimeout).
		Msg("transport.OpenSerial opened")
	return NewPort(pc.Name, rwc), nil
}

func (p *Port) Name() string {
	return p.name
}

func (p *Port) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrPortClosed
	}
	n, err := p.rwc.Read(b)
	if err == io.EOF && n == 0 {
		if p.closed.Load() {
			return 0, ErrPortClosed
		}
		return 0, nil
	}
	return n, err
}

func (p *Port) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrPortClosed
	}
	return p.rwc.Write(b)
}

// Close releases the device once; later calls return the first result.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeErr = p.rwc.Close()
		log.Debug().Str("port", p.name).Err(p.closeErr).Msg("transport.Port closed")
	})
	return p.closeErr
}

// SerialDialer opens a fresh Port on every Dial.
type SerialDialer struct {
	Config SerialConfig
}

func (d SerialDialer) Dial() (bus.Transport, error) {
	return OpenSerial(d.Config)
}
