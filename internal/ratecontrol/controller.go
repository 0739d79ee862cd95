package ratecontrol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/mavbus/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

// ComponentAll addresses every component of the target system (MAV_COMP_ID_ALL).
const ComponentAll uint8 = 0

const (
	DefaultRepeats  = 2
	DefaultInterval = 200 * time.Millisecond
)

var ErrNegativeRate = errors.New("ratecontrol: rate must not be negative")

// Request asks the autopilot to start or stop one stream group at Rate Hz.
// Rate zero with Start set is passed through; the autopilot decides its meaning.
type Request struct {
	TargetSystem    uint8
	TargetComponent uint8
	Stream          StreamType
	Rate            int
	Start           bool
}

func (r Request) Validate() error {
	if !r.Stream.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownStream, uint8(r.Stream))
	}
	if r.Rate < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeRate, r.Rate)
	}
	return message.RequestDataStream{Rate: r.Rate}.Validate()
}

// Command builds the REQUEST_DATA_STREAM payload for r.
func (r Request) Command() message.RequestDataStream {
	return message.RequestDataStream{
		TargetSystem:    r.TargetSystem,
		TargetComponent: r.TargetComponent,
		StreamID:        uint8(r.Stream),
		Rate:            r.Rate,
		Start:           r.Start,
	}
}

// Sender is the subset of the bus the controller writes through.
type Sender interface {
	SendRepeated(ctx context.Context, p message.Payload, repeats int, interval time.Duration) error
}

type Options struct {
	// Repeats is how many identical copies each command is written as.
	Repeats int
	// Interval is the wait after each copy.
	Interval time.Duration
}

func DefaultOptions() Options {
	return Options{Repeats: DefaultRepeats, Interval: DefaultInterval}
}

// Controller issues rate-control commands. The link has no acknowledgement, so
// every command is sent redundantly.
type Controller struct {
	sender Sender
	opts   Options
}

func NewController(sender Sender, opts Options) *Controller {
	if opts.Repeats < 1 {
		opts.Repeats = DefaultRepeats
	}
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	return &Controller{sender: sender, opts: opts}
}

func (c *Controller) Options() Options {
	return c.opts
}

func (c *Controller) Set(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := c.sender.SendRepeated(ctx, req.Command(), c.opts.Repeats, c.opts.Interval); err != nil {
		return fmt.Errorf("ratecontrol: %s: %w", req.Stream, err)
	}
	log.Info().
		Str("stream", req.Stream.String()).
		Int("rate", req.Rate).
		Bool("start", req.Start).
		Uint8("target_sys", req.TargetSystem).
		Uint8("target_comp", req.TargetComponent).
		Msg("ratecontrol.Set sent")
	return nil
}

func (c *Controller) Start(ctx context.Context, sys, comp uint8, stream StreamType, rate int) error {
	return c.Set(ctx, Request{TargetSystem: sys, TargetComponent: comp, Stream: stream, Rate: rate, Start: true})
}

func (c *Controller) Stop(ctx context.Context, sys, comp uint8, stream StreamType) error {
	return c.Set(ctx, Request{TargetSystem: sys, TargetComponent: comp, Stream: stream})
}

// StopAll stops each of the eight streams on every component of sys.
func (c *Controller) StopAll(ctx context.Context, sys uint8) error {
	for _, stream := range Streams() {
		if err := c.Stop(ctx, sys, ComponentAll, stream); err != nil {
			return err
		}
	}
	return nil
}

// Apply sends reqs in order and stops at the first failure.
func (c *Controller) Apply(ctx context.Context, reqs []Request) error {
	for i, req := range reqs {
		if err := c.Set(ctx, req); err != nil {
			return fmt.Errorf("request[%d]: %w", i, err)
		}
	}
	return nil
}
