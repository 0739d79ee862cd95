package bus

import (
	"fmt"
	"strings"

	"github.com/danmuck/mavbus/internal/protocol/message"
)

// Mode selects how decoded messages reach subscribers.
type Mode int

const (
	// ModeSync delivers inline on the read loop, in registration order.
	ModeSync Mode = iota
	// ModeAsync gives each subscription its own FIFO queue and goroutine.
	ModeAsync
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sync", "synchronous":
		return ModeSync, nil
	case "", "async", "asynchronous":
		return ModeAsync, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

// Defaults identify this process as a ground station (MAV_COMP_ID_MISSIONPLANNER).
const (
	DefaultSystemID       uint8 = 255
	DefaultComponentID    uint8 = 190
	DefaultReadBufferSize       = 512
)

// Config defines bus construction options.
type Config struct {
	Mode           Mode
	SystemID       uint8
	ComponentID    uint8
	ReadBufferSize int
	Dialect        *message.Dialect

	// OnSubscriberError observes isolated subscriber failures. Called from the
	// delivering goroutine; it must not block.
	OnSubscriberError func(*SubscriberError)
	// OnDecodeError observes frames the decoder or dialect rejected.
	OnDecodeError func(error)
}

func DefaultConfig() Config {
	return Config{
		Mode:           ModeAsync,
		SystemID:       DefaultSystemID,
		ComponentID:    DefaultComponentID,
		ReadBufferSize: DefaultReadBufferSize,
		Dialect:        message.Common(),
	}
}

// WithDefaults fills zero-valued fields. Mode and ids are taken as given.
func (c Config) WithDefaults() Config {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Dialect == nil {
		c.Dialect = message.Common()
	}
	return c
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeSync, ModeAsync:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(c.Mode))
	}
}
