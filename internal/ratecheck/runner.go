package ratecheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/mavbus/internal/bus"
	"github.com/danmuck/mavbus/internal/protocol/message"
	"github.com/danmuck/mavbus/internal/ratecontrol"
	"github.com/rs/zerolog/log"
)

var ErrInvalidScenario = errors.New("ratecheck: invalid scenario")

// Registrar is the subscription half of the bus.
type Registrar interface {
	Register(sub bus.Subscriber) (*bus.Subscription, error)
	Unregister(s *bus.Subscription) bool
}

// Scenario describes one verification pass over a set of streams.
type Scenario struct {
	TargetSystem    uint8
	TargetComponent uint8
	Streams         []ratecontrol.StreamType
	InitialRate     int
	FinalRate       int
	// Window is how long arrivals are counted at each rate.
	Window time.Duration
	// Settle is the pause after stop commands while in-flight telemetry drains.
	Settle time.Duration
	// Exempt ids arrive at a fixed rate regardless of stream requests.
	Exempt []uint8
	// Reset is applied after the final StopAll; empty leaves every stream stopped.
	Reset []ratecontrol.Request
}

// DefaultScenario targets autopilot 1 and checks every stream at 1 then 10 Hz.
func DefaultScenario() Scenario {
	return Scenario{
		TargetSystem:    1,
		TargetComponent: 1,
		Streams:         ratecontrol.Streams(),
		InitialRate:     1,
		FinalRate:       10,
		Window:          5 * time.Second,
		Settle:          time.Second,
		Exempt:          []uint8{message.IDHeartbeat, message.IDSensorOffsets},
		Reset: []ratecontrol.Request{
			{TargetSystem: 1, TargetComponent: 1, Stream: ratecontrol.StreamExtra1, Rate: 19, Start: true},
			{TargetSystem: 1, TargetComponent: 1, Stream: ratecontrol.StreamPosition, Rate: 21, Start: true},
		},
	}
}

func (s Scenario) Validate() error {
	if len(s.Streams) == 0 {
		return fmt.Errorf("%w: no streams", ErrInvalidScenario)
	}
	for _, stream := range s.Streams {
		if !stream.Valid() || stream == ratecontrol.StreamAll {
			return fmt.Errorf("%w: stream %s", ErrInvalidScenario, stream)
		}
	}
	if s.InitialRate < 0 || s.FinalRate <= s.InitialRate {
		return fmt.Errorf("%w: final rate %d must exceed initial rate %d", ErrInvalidScenario, s.FinalRate, s.InitialRate)
	}
	if s.Window <= 0 {
		return fmt.Errorf("%w: window must be positive", ErrInvalidScenario)
	}
	if s.Settle < 0 {
		return fmt.Errorf("%w: settle must not be negative", ErrInvalidScenario)
	}
	return nil
}

// StreamResult holds both windows for one stream.
type StreamResult struct {
	Stream     ratecontrol.StreamType
	Initial    Counts
	Final      Counts
	Violations []Violation
}

type Report struct {
	Streams []StreamResult
}

func (r Report) Violations() []Violation {
	var out []Violation
	for _, s := range r.Streams {
		out = append(out, s.Violations...)
	}
	return out
}

func (r Report) Passed() bool {
	return len(r.Violations()) == 0
}

// Runner drives a Scenario against a live bus.
type Runner struct {
	reg      Registrar
	ctl      *ratecontrol.Controller
	scenario Scenario
}

func NewRunner(reg Registrar, ctl *ratecontrol.Controller, scenario Scenario) (*Runner, error) {
	if reg == nil || ctl == nil {
		return nil, fmt.Errorf("%w: registrar and controller are required", ErrInvalidScenario)
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &Runner{reg: reg, ctl: ctl, scenario: scenario}, nil
}

// Run stops every stream, then for each stream counts arrivals at the initial
// and final rates, stops it, and compares. A link or context failure aborts the
// run; violations are reported, not returned as an error.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	sc := r.scenario
	counter := NewCounter()
	sub, err := r.reg.Register(counter)
	if err != nil {
		return Report{}, fmt.Errorf("ratecheck: register counter: %w", err)
	}
	defer r.reg.Unregister(sub)

	if err := r.stopAll(ctx); err != nil {
		return Report{}, err
	}

	var report Report
	for _, stream := range sc.Streams {
		res, err := r.runStream(ctx, counter, stream)
		if err != nil {
			return report, err
		}
		report.Streams = append(report.Streams, res)
		ev := log.Info()
		if len(res.Violations) > 0 {
			ev = log.Warn()
		}
		ev.Str("stream", stream.String()).
			Interface("initial", res.Initial).
			Interface("final", res.Final).
			Int("violations", len(res.Violations)).
			Msg("ratecheck stream verified")
	}

	if err := r.stopAll(ctx); err != nil {
		return report, err
	}
	if len(sc.Reset) > 0 {
		if err := r.ctl.Apply(ctx, sc.Reset); err != nil {
			return report, fmt.Errorf("ratecheck: reset rates: %w", err)
		}
	}
	return report, nil
}

func (r *Runner) runStream(ctx context.Context, counter *Counter, stream ratecontrol.StreamType) (StreamResult, error) {
	sc := r.scenario
	res := StreamResult{Stream: stream}

	if err := r.ctl.Start(ctx, sc.TargetSystem, sc.TargetComponent, stream, sc.InitialRate); err != nil {
		return res, err
	}
	counter.Begin()
	if err := wait(ctx, sc.Window); err != nil {
		counter.End()
		return res, err
	}
	res.Initial = counter.End()

	if err := r.ctl.Start(ctx, sc.TargetSystem, sc.TargetComponent, stream, sc.FinalRate); err != nil {
		return res, err
	}
	counter.Begin()
	if err := wait(ctx, sc.Window); err != nil {
		counter.End()
		return res, err
	}
	res.Final = counter.End()

	if err := r.ctl.Stop(ctx, sc.TargetSystem, sc.TargetComponent, stream); err != nil {
		return res, err
	}
	if err := wait(ctx, sc.Settle); err != nil {
		return res, err
	}

	for _, v := range Compare(res.Initial, res.Final, sc.Exempt) {
		v.Stream = stream
		res.Violations = append(res.Violations, v)
	}
	return res, nil
}

func (r *Runner) stopAll(ctx context.Context) error {
	if err := r.ctl.StopAll(ctx, r.scenario.TargetSystem); err != nil {
		return err
	}
	return wait(ctx, r.scenario.Settle)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
