package radio

import (
	"sync"
	"time"

	"github.com/antirez/freakwan/pkg/ticks"
)

// DutyCycle tracks the fraction of time the transmitter is active, for
// regulatory duty-cycle limits. Time is divided into slots of slotDur
// seconds; each slot accumulates TX milliseconds, tagged with the epoch it
// was filled in so stale slots fall out of the average as the window slides.
//
// StartTx runs in the main loop but EndTx is driven by the TxDone interrupt
// event, hence the mutex.
type DutyCycle struct {
	mu       sync.Mutex
	slotDur  int64 // seconds
	slots    []dutySlot
	txActive bool
	txStart  ticks.Time

	// unixNow is swappable for tests.
	unixNow func() int64
}

type dutySlot struct {
	txTime uint32 // milliseconds transmitted during the slot
	epoch  int64  // -1 marks a slot never filled
}

// NewDutyCycle allocates a tracker with the given number of slots, each
// lasting slotDur. The defaults used by the node are 12 slots of 5 minutes,
// a one hour window.
func NewDutyCycle(slotsNum int, slotDur time.Duration) *DutyCycle {
	d := &DutyCycle{
		slotDur: int64(slotDur / time.Second),
		slots:   make([]dutySlot, slotsNum),
		unixNow: func() int64 { return time.Now().Unix() },
	}
	for i := range d.slots {
		d.slots[i].epoch = -1
	}
	return d
}

// epoch increments once per slot duration; it identifies which time window
// a slot's accumulated TX time belongs to.
func (d *DutyCycle) epoch() int64 {
	return d.unixNow() / d.slotDur
}

// StartTx records the beginning of a transmission.
func (d *DutyCycle) StartTx(now ticks.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txActive = true
	d.txStart = now
}

// CurrentTxTime returns how long the in-progress transmission has been
// running, in milliseconds, or zero when idle. The TX watchdog uses this to
// detect a stuck radio.
func (d *DutyCycle) CurrentTxTime(now ticks.Time) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.txActive {
		return 0
	}
	return ticks.ElapsedSince(now, d.txStart)
}

// EndTx accounts the finished transmission into the current slot.
func (d *DutyCycle) EndTx(now ticks.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.txActive {
		return
	}
	txTime := ticks.ElapsedSince(now, d.txStart)
	d.txActive = false

	epoch := d.epoch()
	slot := &d.slots[epoch%int64(len(d.slots))]
	if slot.epoch != epoch {
		slot.epoch = epoch
		slot.txTime = 0
	}
	slot.txTime += txTime
}

// Percent returns the duty cycle over the window as a 0-100 value, averaged
// across the slots that still fall inside it.
func (d *DutyCycle) Percent() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	epoch := d.epoch()
	oldest := epoch - int64(len(d.slots))
	if oldest < 0 {
		oldest = 0
	}
	var txTime uint32
	validSlots := 0
	for _, slot := range d.slots {
		if slot.epoch > oldest {
			txTime += slot.txTime
			validSlots++
		}
	}
	if validSlots == 0 {
		return 0
	}
	return float64(txTime) / float64(d.slotDur*int64(validSlots)*1000) * 100
}
