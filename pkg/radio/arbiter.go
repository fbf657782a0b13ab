package radio

import (
	"sync"

	"github.com/antirez/freakwan/pkg/ticks"
)

// Default decay timeouts for the inferred busy state, in milliseconds.
// After a valid header we expect an RxDone soon, so waiting longer pays off;
// a bare preamble is more likely a foreign transmission or a false trigger.
const (
	ShortBusyTimeout = 2000
	LongBusyTimeout  = 5000
)

// Arbiter implements listen-before-talk over edge-triggered radio events.
// The modem cannot report "currently receiving", so the arbiter records when
// a preamble was detected and treats the channel as busy until a completion
// event arrives or a timeout decays the belief.
//
// Events arrive from the driver's event context while Busy is queried from
// the main loop, so the state is mutex protected.
type Arbiter struct {
	mu           sync.Mutex
	preambleSeen bool
	preambleAt   ticks.Time
	headerValid  bool

	shortTimeout uint32
	longTimeout  uint32
}

func NewArbiter() *Arbiter {
	return &Arbiter{
		shortTimeout: ShortBusyTimeout,
		longTimeout:  LongBusyTimeout,
	}
}

// HandleEvent updates the channel belief from a hardware event.
func (a *Arbiter) HandleEvent(ev Event, now ticks.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch ev {
	case EventPreambleDetected:
		a.preambleSeen = true
		a.preambleAt = now
		a.headerValid = false
	case EventHeaderValid:
		// Keep the preamble start time: the decay window extends but
		// still anchors at the original detection.
		a.headerValid = true
	case EventRxDone, EventTxDone, EventError:
		a.preambleSeen = false
		a.headerValid = false
	}
}

// Busy reports whether the channel should be considered occupied.
func (a *Arbiter) Busy(now ticks.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.preambleSeen {
		return false
	}
	timeout := a.shortTimeout
	if a.headerValid {
		timeout = a.longTimeout
	}
	if ticks.ElapsedSince(now, a.preambleAt) > timeout {
		a.preambleSeen = false
		a.headerValid = false
		return false
	}
	return true
}
