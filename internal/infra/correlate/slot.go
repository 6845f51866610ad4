package correlate

import (
	"sync"

	"computemesh/internal/domain"
)

// Outcome is the single value a Slot resolves to.
type Outcome struct {
	Reply domain.Reply
	Err   error
}

// Slot is a single-assignment result holder. The first resolution wins;
// later attempts are no-ops.
type Slot struct {
	ch   chan Outcome
	once sync.Once
}

func newSlot() *Slot {
	return &Slot{ch: make(chan Outcome, 1)}
}

// Done yields the outcome exactly once.
func (s *Slot) Done() <-chan Outcome {
	return s.ch
}

func (s *Slot) resolve(outcome Outcome) bool {
	won := false
	s.once.Do(func() {
		s.ch <- outcome
		won = true
	})
	return won
}
