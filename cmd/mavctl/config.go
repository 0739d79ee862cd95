package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/mavbus/internal/bus"
	"github.com/danmuck/mavbus/internal/config"
	"github.com/danmuck/mavbus/internal/ratecheck"
	"github.com/danmuck/mavbus/internal/ratecontrol"
	"github.com/danmuck/mavbus/internal/transport"
	"github.com/rs/zerolog/log"
)

// runtimeConfig is the resolved link profile the subcommands run with.
type runtimeConfig struct {
	File     config.File
	Serial   transport.SerialConfig
	Bus      bus.Config
	Rate     ratecontrol.Options
	Target   config.Target
	Scenario ratecheck.Scenario
}

// loadProfile overlays only the keys a file defines onto config.Default.
// Unknown keys are logged and ignored so an older binary still runs a newer
// profile; configgen -validate is the strict check.
func loadProfile(path string) (config.File, error) {
	cfg := config.Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw config.File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.File{}, fmt.Errorf("load mavctl config: %w", err)
	}
	for _, key := range meta.Undecoded() {
		log.Warn().Str("key", key.String()).Str("path", path).Msg("mavctl config key ignored")
	}

	if meta.IsDefined("serial", "port") {
		cfg.Serial.Port = strings.TrimSpace(raw.Serial.Port)
	}
	if meta.IsDefined("serial", "baud") {
		cfg.Serial.Baud = raw.Serial.Baud
	}
	if meta.IsDefined("serial", "parity") {
		cfg.Serial.Parity = raw.Serial.Parity
	}
	if meta.IsDefined("serial", "stop_bits") {
		cfg.Serial.StopBits = raw.Serial.StopBits
	}
	if meta.IsDefined("serial", "read_timeout") {
		cfg.Serial.ReadTimeout = raw.Serial.ReadTimeout
	}

	if meta.IsDefined("bus", "mode") {
		cfg.Bus.Mode = raw.Bus.Mode
	}
	if meta.IsDefined("bus", "system_id") {
		cfg.Bus.SystemID = raw.Bus.SystemID
	}
	if meta.IsDefined("bus", "component_id") {
		cfg.Bus.ComponentID = raw.Bus.ComponentID
	}
	if meta.IsDefined("bus", "read_buffer") {
		cfg.Bus.ReadBuffer = raw.Bus.ReadBuffer
	}
	if meta.IsDefined("bus", "crc_extras") {
		cfg.Bus.CRCExtras = raw.Bus.CRCExtras
	}

	if meta.IsDefined("rate", "target_system") {
		cfg.Rate.TargetSystem = raw.Rate.TargetSystem
	}
	if meta.IsDefined("rate", "target_component") {
		cfg.Rate.TargetComponent = raw.Rate.TargetComponent
	}
	if meta.IsDefined("rate", "repeats") {
		cfg.Rate.Repeats = raw.Rate.Repeats
	}
	if meta.IsDefined("rate", "interval") {
		cfg.Rate.Interval = raw.Rate.Interval
	}

	if meta.IsDefined("verify", "streams") {
		cfg.Verify.Streams = normalizeList(raw.Verify.Streams)
	}
	if meta.IsDefined("verify", "initial_rate") {
		cfg.Verify.InitialRate = raw.Verify.InitialRate
	}
	if meta.IsDefined("verify", "final_rate") {
		cfg.Verify.FinalRate = raw.Verify.FinalRate
	}
	if meta.IsDefined("verify", "window") {
		cfg.Verify.Window = raw.Verify.Window
	}
	if meta.IsDefined("verify", "settle") {
		cfg.Verify.Settle = raw.Verify.Settle
	}
	if meta.IsDefined("verify", "exempt") {
		cfg.Verify.Exempt = raw.Verify.Exempt
	}
	if meta.IsDefined("verify", "reset") {
		cfg.Verify.Reset = raw.Verify.Reset
	}

	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizeList(raw.Admin.CorsOrigins)
	}

	return cfg, nil
}

func resolve(file config.File) (runtimeConfig, error) {
	r, err := config.Resolve(file)
	if err != nil {
		return runtimeConfig{}, err
	}
	return runtimeConfig{
		File:     file,
		Serial:   r.Serial,
		Bus:      r.Bus,
		Rate:     r.Rate,
		Target:   r.Target,
		Scenario: r.Scenario,
	}, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
