package ratecheck

import (
	"sort"
	"sync"

	"github.com/danmuck/mavbus/internal/protocol/message"
)

// Counts is the number of arrivals per message id within one window.
type Counts map[uint8]int

// IDs returns the counted ids in ascending order.
func (c Counts) IDs() []uint8 {
	ids := make([]uint8, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Counter is a bus subscriber that tallies arrivals between Begin and End.
// Messages received outside a window are ignored.
type Counter struct {
	mu       sync.Mutex
	counting bool
	counts   Counts
}

func NewCounter() *Counter {
	return &Counter{counts: Counts{}}
}

func (c *Counter) Receive(msg message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counting {
		c.counts[msg.ID]++
	}
	return nil
}

// Begin discards any previous tally and starts a new window.
func (c *Counter) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = Counts{}
	c.counting = true
}

// End closes the window and returns its tally.
func (c *Counter) End() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counting = false
	out := c.counts
	c.counts = Counts{}
	return out
}
