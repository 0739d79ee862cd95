package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/mavbus/internal/observability"
	"github.com/danmuck/mavbus/internal/protocol/frame"
	"github.com/danmuck/mavbus/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

// Sender is the outbound half of the bus.
type Sender interface {
	Send(ctx context.Context, p message.Payload) error
	SendRepeated(ctx context.Context, p message.Payload, repeats int, interval time.Duration) error
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Mode             string `json:"mode"`
	BytesRead        uint64 `json:"bytes_read"`
	BytesWritten     uint64 `json:"bytes_written"`
	FramesDecoded    uint64 `json:"frames_decoded"`
	ChecksumErrors   uint64 `json:"checksum_errors"`
	LengthErrors     uint64 `json:"length_errors"`
	FramesSent       uint64 `json:"frames_sent"`
	SubscriberErrors uint64 `json:"subscriber_errors"`
	Subscriptions    int    `json:"subscriptions"`
	Closed           bool   `json:"closed"`
}

// Bus owns one transport: a single read loop feeds the decoder and the
// dispatcher, and Send paths write encoded frames.
type Bus struct {
	cfg        Config
	transport  Transport
	decoder    *frame.Decoder
	dispatcher Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	seq     atomic.Uint32
	writeMu sync.Mutex

	stateMu sync.Mutex
	closing bool
	cause   error

	releaseOnce sync.Once
	releaseErr  error
	reported    atomic.Bool

	bytesRead        atomic.Uint64
	bytesWritten     atomic.Uint64
	framesDecoded    atomic.Uint64
	checksumErrors   atomic.Uint64
	lengthErrors     atomic.Uint64
	framesSent       atomic.Uint64
	subscriberErrors atomic.Uint64
}

// Open dials the transport and starts the read loop.
func Open(d Dialer, cfg Config) (*Bus, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil dialer", ErrTransportOpen)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t, err := d.Dial()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportOpen, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: dialer returned nil transport", ErrTransportOpen)
	}
	b, err := New(t, cfg)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return b, nil
}

// New starts a bus over an already-open transport, which it now owns.
func New(t Transport, cfg Config) (*Bus, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()

	b := &Bus{
		cfg:       cfg,
		transport: t,
		done:      make(chan struct{}),
	}
	dispatcher, err := NewDispatcher(cfg.Mode, b.onSubscriberError)
	if err != nil {
		return nil, err
	}
	b.dispatcher = dispatcher
	b.decoder = frame.NewDecoder(cfg.Dialect, b.onDecodeError)
	b.ctx, b.cancel = context.WithCancel(context.Background())

	go b.readLoop()
	log.Info().
		Str("mode", cfg.Mode.String()).
		Uint8("sysid", cfg.SystemID).
		Uint8("compid", cfg.ComponentID).
		Msg("bus.Open read loop started")
	return b, nil
}

// Register adds a subscriber; it may be called at any time, including mid-dispatch.
func (b *Bus) Register(sub Subscriber) (*Subscription, error) {
	if b.isClosing() {
		return nil, b.closedErr()
	}
	return b.dispatcher.Register(sub)
}

// Unregister removes s. No delivery to s starts after it returns.
func (b *Bus) Unregister(s *Subscription) bool {
	return b.dispatcher.Unregister(s)
}

// Send encodes p with the next sequence number and writes it once.
func (b *Bus) Send(ctx context.Context, p message.Payload) error {
	return b.SendRepeated(ctx, p, 1, 0)
}

// SendRepeated writes the same encoded frame repeats times, waiting interval
// after each write. The protocol has no acknowledgement; redundancy is the
// caller's tool against a lossy link.
func (b *Bus) SendRepeated(ctx context.Context, p message.Payload, repeats int, interval time.Duration) error {
	if repeats < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidRepeats, repeats)
	}
	if b.isClosing() {
		return b.closedErr()
	}
	wire, err := b.encode(p)
	if err != nil {
		return err
	}
	name := b.cfg.Dialect.Name(p.MessageID())
	for i := 0; i < repeats; i++ {
		if err := b.write(wire); err != nil {
			return err
		}
		observability.RecordFrameSent(name)
		if interval <= 0 {
			continue
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
	log.Debug().
		Str("msg", name).
		Int("repeats", repeats).
		Dur("interval", interval).
		Msg("bus.Send complete")
	return nil
}

// encode builds the frame Send writes, consuming one sequence number.
func (b *Bus) encode(p message.Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("bus: nil payload")
	}
	h := frame.Header{
		Sequence:    uint8(b.seq.Add(1) - 1),
		SystemID:    b.cfg.SystemID,
		ComponentID: b.cfg.ComponentID,
	}
	return b.cfg.Dialect.Encode(h, p)
}

func (b *Bus) write(wire []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.isClosing() {
		return b.closedErr()
	}
	n, err := b.transport.Write(wire)
	if n > 0 {
		b.bytesWritten.Add(uint64(n))
		observability.RecordLinkBytes("tx", n)
	}
	if err == nil && n < len(wire) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if b.isClosing() {
			return b.closedErr()
		}
		cause := fmt.Errorf("%w: write: %w", ErrTransportIO, err)
		b.terminate(cause)
		return cause
	}
	b.framesSent.Add(1)
	return nil
}

// Close stops the read loop, cancels outstanding async dispatch, and releases
// the transport. It is idempotent; only the first call reports the transport
// close error. While a Receive call is in progress, including a subscriber
// closing the bus from its own Receive, Close returns once shutdown has started
// and the transport is released; Done reports when the loop and workers exit.
func (b *Bus) Close() error {
	b.terminate(nil)
	b.release()
	if !b.dispatcher.Delivering() {
		<-b.done
	}
	if b.reported.CompareAndSwap(false, true) {
		return b.releaseErr
	}
	return nil
}

// Done is closed once the read loop and dispatcher have stopped.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Err is nil while running and after Close; after link loss it wraps ErrTransportIO.
func (b *Bus) Err() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.cause
}

func (b *Bus) Stats() Stats {
	return Stats{
		Mode:             b.cfg.Mode.String(),
		BytesRead:        b.bytesRead.Load(),
		BytesWritten:     b.bytesWritten.Load(),
		FramesDecoded:    b.framesDecoded.Load(),
		ChecksumErrors:   b.checksumErrors.Load(),
		LengthErrors:     b.lengthErrors.Load(),
		FramesSent:       b.framesSent.Load(),
		SubscriberErrors: b.subscriberErrors.Load(),
		Subscriptions:    b.dispatcher.Len(),
		Closed:           b.isClosing(),
	}
}

// Dialect returns the dialect frames are decoded with.
func (b *Bus) Dialect() *message.Dialect {
	return b.cfg.Dialect
}

func (b *Bus) readLoop() {
	defer b.finish()

	buf := make([]byte, b.cfg.ReadBufferSize)
	for {
		if b.ctx.Err() != nil {
			return
		}
		n, err := b.transport.Read(buf)
		if n > 0 {
			b.bytesRead.Add(uint64(n))
			observability.RecordLinkBytes("rx", n)
			b.handle(buf[:n])
		}
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.terminate(fmt.Errorf("%w: read: %w", ErrTransportIO, err))
			return
		}
	}
}

func (b *Bus) handle(p []byte) {
	for _, f := range b.decoder.Feed(p) {
		if b.ctx.Err() != nil {
			return
		}
		msg, err := b.cfg.Dialect.Decode(f)
		if err != nil {
			b.onDecodeError(err)
		}
		b.framesDecoded.Add(1)
		observability.RecordFrameDecoded(b.cfg.Dialect.Name(msg.ID))
		b.dispatcher.Dispatch(msg)
	}
}

// terminate starts shutdown once. A nil cause is a requested close.
func (b *Bus) terminate(cause error) {
	b.stateMu.Lock()
	if b.closing {
		b.stateMu.Unlock()
		return
	}
	b.closing = true
	b.cause = cause
	b.stateMu.Unlock()

	if cause != nil {
		log.Error().Err(cause).Msg("bus link lost")
	} else {
		log.Info().Msg("bus.Close requested")
	}
	b.cancel()
	// Closing the transport unblocks a pending Read.
	b.release()
}

// finish runs on the read loop goroutine after it exits.
func (b *Bus) finish() {
	b.dispatcher.Close()
	b.release()
	close(b.done)
	log.Debug().Msg("bus stopped")
}

func (b *Bus) release() {
	b.releaseOnce.Do(func() {
		b.releaseErr = b.transport.Close()
	})
}

func (b *Bus) isClosing() bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.closing
}

func (b *Bus) closedErr() error {
	if err := b.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (b *Bus) onDecodeError(err error) {
	var de *frame.DecodeError
	kind := "payload"
	if errors.As(err, &de) {
		kind = string(de.Kind)
		switch de.Kind {
		case frame.KindChecksum:
			b.checksumErrors.Add(1)
		case frame.KindLength:
			b.lengthErrors.Add(1)
		}
	}
	observability.RecordDecodeError(kind)
	log.Debug().Err(err).Msg("bus.decode frame rejected")
	if b.cfg.OnDecodeError != nil {
		b.cfg.OnDecodeError(err)
	}
}

func (b *Bus) onSubscriberError(err *SubscriberError) {
	b.subscriberErrors.Add(1)
	if b.cfg.OnSubscriberError != nil {
		b.cfg.OnSubscriberError(err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
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
