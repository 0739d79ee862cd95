package ratecheck

import (
	"fmt"

	"github.com/danmuck/mavbus/internal/ratecontrol"
)

// Violation is a message id whose arrival count did not rise with the rate.
type Violation struct {
	Stream    ratecontrol.StreamType
	MessageID uint8
	Initial   int
	Final     int
}

func (v Violation) String() string {
	return fmt.Sprintf("stream=%s msg=%d initial=%d final=%d", v.Stream, v.MessageID, v.Initial, v.Final)
}

// Compare requires final > initial for every id seen in the initial window that
// is not exempt. An id missing from final counts as zero. Ids that only appear
// in final are not checked.
func Compare(initial, final Counts, exempt []uint8) []Violation {
	skip := make(map[uint8]bool, len(exempt))
	for _, id := range exempt {
		skip[id] = true
	}
	var out []Violation
	for _, id := range initial.IDs() {
		if skip[id] {
			continue
		}
		if final[id] > initial[id] {
			continue
		}
		out = append(out, Violation{MessageID: id, Initial: initial[id], Final: final[id]})
	}
	return out
}
