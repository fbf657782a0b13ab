// Package ticks implements wrap-safe arithmetic over a 32-bit millisecond
// counter. The counter wraps roughly every 49 days; nodes run unattended for
// much longer than that, so every comparison must survive a wraparound. A
// delta larger than half the counter range is interpreted as the smaller of
// the two possible differences.
package ticks

import (
	"math/rand/v2"
	"time"
)

// Time is a point on the wrapping millisecond counter.
type Time uint32

// Now returns the current counter value.
func Now() Time {
	return Time(time.Now().UnixMilli())
}

// ElapsedSince returns the number of milliseconds elapsed between t and now.
// If t appears to be in the future (delta beyond half the counter range),
// zero is returned.
func ElapsedSince(now, t Time) uint32 {
	d := uint32(now - t)
	if int32(d) < 0 {
		return 0
	}
	return d
}

// Reached reports whether the deadline has arrived. Deadlines more than half
// the counter range away are considered not yet reached.
func Reached(now, deadline Time) bool {
	return int32(now-deadline) >= 0
}

// Plus returns the point ms milliseconds after t.
func Plus(t Time, ms uint32) Time {
	return t + Time(ms)
}

// PlusRandom returns a point between minMS and maxMS milliseconds after t,
// chosen uniformly. Used for retransmission jitter and desynchronizing
// periodic traffic across nodes.
func PlusRandom(t Time, minMS, maxMS uint32) Time {
	if maxMS <= minMS {
		return Plus(t, minMS)
	}
	return Plus(t, minMS+rand.N(maxMS-minMS+1))
}
