package bus

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/mavbus/internal/protocol/frame"
	"github.com/danmuck/mavbus/internal/protocol/message"
)

// fakeLink is an in-memory Transport. Bytes pushed with deliver are returned by
// Read; writes are recorded unless their index is listed in drop.
type fakeLink struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32

	mu       sync.Mutex
	writes   [][]byte
	attempts int
	drop     map[int]bool
	writeErr error
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
		drop:   make(map[int]bool),
	}
}

func (l *fakeLink) Read(p []byte) (int, error) {
	select {
	case b, ok := <-l.in:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, b), nil
	case <-l.closed:
		return 0, io.ErrClosedPipe
	}
}

func (l *fakeLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.attempts
	l.attempts++
	if l.writeErr != nil {
		return 0, l.writeErr
	}
	if !l.drop[idx] {
		l.writes = append(l.writes, append([]byte(nil), p...))
	}
	return len(p), nil
}

func (l *fakeLink) Close() error {
	l.closes.Add(1)
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeLink) deliver(b []byte) {
	l.in <- b
}

// hangup simulates the device disappearing: the next Read reports EOF.
func (l *fakeLink) hangup() {
	close(l.in)
}

func (l *fakeLink) written() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.writes))
	copy(out, l.writes)
	return out
}

// recorder is a Subscriber that keeps every message it sees.
type recorder struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (r *recorder) Receive(msg message.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) sequences() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint8, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Sequence)
	}
	return out
}

func deviceFrame(t *testing.T, seq uint8, p message.Payload) []byte {
	t.Helper()
	wire, err := message.Common().Encode(frame.Header{Sequence: seq, SystemID: 1, ComponentID: 1}, p)
	if err != nil {
		t.Fatalf("encode device frame: %v", err)
	}
	return wire
}

func heartbeat() message.Heartbeat {
	return message.Heartbeat{Type: 2, Autopilot: 3, BaseMode: 0x51, SystemStatus: 4, MavlinkVersion: 3}
}

func openTestBus(t *testing.T, mode Mode) (*Bus, *fakeLink) {
	t.Helper()
	link := newFakeLink()
	cfg := DefaultConfig()
	cfg.Mode = mode
	b, err := New(link, cfg)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, link
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

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for bus to stop")
	}
}

var errBoom = errors.New("boom")
