package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/mavbus/internal/bus"
	"github.com/danmuck/mavbus/internal/protocol/message"
	"github.com/danmuck/mavbus/internal/ratecheck"
	"github.com/danmuck/mavbus/internal/ratecontrol"
	"github.com/danmuck/mavbus/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk link profile.
type File struct {
	Serial SerialSection `toml:"serial"`
	Bus    BusSection    `toml:"bus"`
	Rate   RateSection   `toml:"rate"`
	Verify VerifySection `toml:"verify"`
	Admin  AdminSection  `toml:"admin"`
}

type SerialSection struct {
	Port        string `toml:"port"`
	Baud        int    `toml:"baud"`
	Parity      string `toml:"parity"`
	StopBits    int    `toml:"stop_bits"`
	ReadTimeout string `toml:"read_timeout"`
}

type BusSection struct {
	Mode        string `toml:"mode"`
	SystemID    int    `toml:"system_id"`
	ComponentID int    `toml:"component_id"`
	ReadBuffer  int    `toml:"read_buffer"`
	// CRCExtras seeds checksums for ids outside the built-in dialect, keyed by decimal id.
	CRCExtras map[string]int `toml:"crc_extras,omitempty"`
}

type RateSection struct {
	TargetSystem    int    `toml:"target_system"`
	TargetComponent int    `toml:"target_component"`
	Repeats         int    `toml:"repeats"`
	Interval        string `toml:"interval"`
}

type VerifySection struct {
	Streams     []string     `toml:"streams"`
	InitialRate int          `toml:"initial_rate"`
	FinalRate   int          `toml:"final_rate"`
	Window      string       `toml:"window"`
	Settle      string       `toml:"settle"`
	Exempt      []int        `toml:"exempt"`
	Reset       []ResetEntry `toml:"reset"`
}

type ResetEntry struct {
	Stream string `toml:"stream"`
	Rate   int    `toml:"rate"`
}

type AdminSection struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

// Default mirrors the package defaults of the bus, transport, controller and
// verification runner.
func Default() File {
	serial := transport.DefaultSerialConfig()
	opts := ratecontrol.DefaultOptions()
	sc := ratecheck.DefaultScenario()

	streams := make([]string, 0, len(sc.Streams))
	for _, s := range sc.Streams {
		streams = append(streams, s.String())
	}
	exempt := make([]int, 0, len(sc.Exempt))
	for _, id := range sc.Exempt {
		exempt = append(exempt, int(id))
	}
	reset := make([]ResetEntry, 0, len(sc.Reset))
	for _, r := range sc.Reset {
		reset = append(reset, ResetEntry{Stream: r.Stream.String(), Rate: r.Rate})
	}

	return File{
		Serial: SerialSection{
			Port:        serial.Name,
			Baud:        serial.Baud,
			Parity:      serial.Parity,
			StopBits:    serial.StopBits,
			ReadTimeout: serial.ReadTimeout.String(),
		},
		Bus: BusSection{
			Mode:        bus.ModeAsync.String(),
			SystemID:    int(bus.DefaultSystemID),
			ComponentID: int(bus.DefaultComponentID),
			ReadBuffer:  bus.DefaultReadBufferSize,
		},
		Rate: RateSection{
			TargetSystem:    int(sc.TargetSystem),
			TargetComponent: int(sc.TargetComponent),
			Repeats:         opts.Repeats,
			Interval:        opts.Interval.String(),
		},
		Verify: VerifySection{
			Streams:     streams,
			InitialRate: sc.InitialRate,
			FinalRate:   sc.FinalRate,
			Window:      sc.Window.String(),
			Settle:      sc.Settle.String(),
			Exempt:      exempt,
			Reset:       reset,
		},
		Admin: AdminSection{
			Addr:        "127.0.0.1:7020",
			CorsOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load decodes path over Default and validates the result. Unknown keys are
// rejected.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return File{}, fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return File{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return File{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Resolved holds every section of a File converted to its runtime type.
type Resolved struct {
	Serial   transport.SerialConfig
	Bus      bus.Config
	Rate     ratecontrol.Options
	Target   Target
	Scenario ratecheck.Scenario
}

// Resolve converts each section once, naming the section on failure.
func Resolve(cfg File) (Resolved, error) {
	var out Resolved
	var err error
	if out.Serial, err = cfg.SerialConfig(); err != nil {
		return Resolved{}, fmt.Errorf("serial: %w", err)
	}
	if out.Bus, err = cfg.BusConfig(); err != nil {
		return Resolved{}, fmt.Errorf("bus: %w", err)
	}
	if out.Rate, err = cfg.RateOptions(); err != nil {
		return Resolved{}, fmt.Errorf("rate: %w", err)
	}
	if out.Target, err = cfg.Target(); err != nil {
		return Resolved{}, fmt.Errorf("rate: %w", err)
	}
	if out.Scenario, err = cfg.Scenario(); err != nil {
		return Resolved{}, fmt.Errorf("verify: %w", err)
	}
	if strings.TrimSpace(cfg.Admin.Addr) == "" {
		return Resolved{}, fmt.Errorf("admin: missing addr")
	}
	return out, nil
}

// Validate checks every section converts cleanly.
func Validate(cfg File) error {
	_, err := Resolve(cfg)
	return err
}

func (f File) SerialConfig() (transport.SerialConfig, error) {
	timeout, err := parseDuration("read_timeout", f.Serial.ReadTimeout)
	if err != nil {
		return transport.SerialConfig{}, err
	}
	cfg := transport.SerialConfig{
		Name:        strings.TrimSpace(f.Serial.Port),
		Baud:        f.Serial.Baud,
		Parity:      f.Serial.Parity,
		StopBits:    f.Serial.StopBits,
		ReadTimeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return transport.SerialConfig{}, err
	}
	return cfg, nil
}

// BusConfig builds the bus options, including a dialect carrying any extra
// CRC seeds.
func (f File) BusConfig() (bus.Config, error) {
	mode, err := bus.ParseMode(f.Bus.Mode)
	if err != nil {
		return bus.Config{}, err
	}
	sys, err := toUint8("system_id", f.Bus.SystemID)
	if err != nil {
		return bus.Config{}, err
	}
	comp, err := toUint8("component_id", f.Bus.ComponentID)
	if err != nil {
		return bus.Config{}, err
	}
	if f.Bus.ReadBuffer < 0 {
		return bus.Config{}, fmt.Errorf("read_buffer must not be negative")
	}
	dialect := message.Common()
	for key, extra := range f.Bus.CRCExtras {
		id, err := strconv.ParseUint(strings.TrimSpace(key), 10, 8)
		if err != nil {
			return bus.Config{}, fmt.Errorf("crc_extras key %q is not a message id", key)
		}
		v, err := toUint8("crc_extras."+key, extra)
		if err != nil {
			return bus.Config{}, err
		}
		if _, known := dialect.Lookup(uint8(id)); known {
			return bus.Config{}, fmt.Errorf("crc_extras: %s is built in", dialect.Name(uint8(id)))
		}
		dialect.SetCRCExtra(uint8(id), v)
	}

	cfg := bus.DefaultConfig()
	cfg.Mode = mode
	cfg.SystemID = sys
	cfg.ComponentID = comp
	cfg.ReadBufferSize = f.Bus.ReadBuffer
	cfg.Dialect = dialect
	return cfg.WithDefaults(), nil
}

func (f File) RateOptions() (ratecontrol.Options, error) {
	interval, err := parseDuration("interval", f.Rate.Interval)
	if err != nil {
		return ratecontrol.Options{}, err
	}
	if f.Rate.Repeats < 1 {
		return ratecontrol.Options{}, fmt.Errorf("repeats must be at least 1, got %d", f.Rate.Repeats)
	}
	if _, err := f.Target(); err != nil {
		return ratecontrol.Options{}, err
	}
	return ratecontrol.Options{Repeats: f.Rate.Repeats, Interval: interval}, nil
}

// Target is the autopilot system and component rate commands address.
type Target struct {
	System    uint8
	Component uint8
}

func (f File) Target() (Target, error) {
	sys, err := toUint8("target_system", f.Rate.TargetSystem)
	if err != nil {
		return Target{}, err
	}
	comp, err := toUint8("target_component", f.Rate.TargetComponent)
	if err != nil {
		return Target{}, err
	}
	return Target{System: sys, Component: comp}, nil
}

func (f File) Scenario() (ratecheck.Scenario, error) {
	target, err := f.Target()
	if err != nil {
		return ratecheck.Scenario{}, err
	}
	window, err := parseDuration("window", f.Verify.Window)
	if err != nil {
		return ratecheck.Scenario{}, err
	}
	settle, err := parseDuration("settle", f.Verify.Settle)
	if err != nil {
		return ratecheck.Scenario{}, err
	}

	sc := ratecheck.Scenario{
		TargetSystem:    target.System,
		TargetComponent: target.Component,
		InitialRate:     f.Verify.InitialRate,
		FinalRate:       f.Verify.FinalRate,
		Window:          window,
		Settle:          settle,
	}
	for _, raw := range f.Verify.Streams {
		stream, err := ratecontrol.ParseStreamType(raw)
		if err != nil {
			return ratecheck.Scenario{}, err
		}
		sc.Streams = append(sc.Streams, stream)
	}
	for _, id := range f.Verify.Exempt {
		v, err := toUint8("exempt", id)
		if err != nil {
			return ratecheck.Scenario{}, err
		}
		sc.Exempt = append(sc.Exempt, v)
	}
	for i, entry := range f.Verify.Reset {
		stream, err := ratecontrol.ParseStreamType(entry.Stream)
		if err != nil {
			return ratecheck.Scenario{}, fmt.Errorf("reset[%d]: %w", i, err)
		}
		req := ratecontrol.Request{
			TargetSystem:    target.System,
			TargetComponent: target.Component,
			Stream:          stream,
			Rate:            entry.Rate,
			Start:           true,
		}
		if err := req.Validate(); err != nil {
			return ratecheck.Scenario{}, fmt.Errorf("reset[%d]: %w", i, err)
		}
		sc.Reset = append(sc.Reset, req)
	}
	if err := sc.Validate(); err != nil {
		return ratecheck.Scenario{}, err
	}
	return sc, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

func toUint8(field string, v int) (uint8, error) {
	if v < 0 || v > 255 {
		return 0, fmt.Errorf("%s must be within 0..255, got %d", field, v)
	}
	return uint8(v), nil
}
