package radio

import (
	"testing"

	"github.com/antirez/freakwan/pkg/ticks"
)

func TestArbiterIdleChannelIsFree(t *testing.T) {
	a := NewArbiter()
	if a.Busy(1000) {
		t.Error("channel busy with no events seen")
	}
}

func TestArbiterShortTimeoutWithoutHeader(t *testing.T) {
	a := NewArbiter()
	var now ticks.Time = 1000
	a.HandleEvent(EventPreambleDetected, now)

	if !a.Busy(now + 100) {
		t.Error("channel should be busy right after preamble")
	}
	if !a.Busy(now + ShortBusyTimeout) {
		t.Error("channel should be busy within the short timeout")
	}
	if a.Busy(now + ShortBusyTimeout + 1) {
		t.Error("channel should decay to free past the short timeout")
	}
}

func TestArbiterLongTimeoutWithHeader(t *testing.T) {
	a := NewArbiter()
	var now ticks.Time = 1000
	a.HandleEvent(EventPreambleDetected, now)
	a.HandleEvent(EventHeaderValid, now+50)

	// A valid header extends the wait past the short timeout, still
	// anchored at the preamble detection time.
	if !a.Busy(now + ShortBusyTimeout + 500) {
		t.Error("valid header should extend the busy window")
	}
	if !a.Busy(now + LongBusyTimeout) {
		t.Error("channel should be busy within the long timeout")
	}
	if a.Busy(now + LongBusyTimeout + 1) {
		t.Error("channel should decay to free past the long timeout")
	}
}

func TestArbiterCompletionFreesChannel(t *testing.T) {
	for _, ev := range []Event{EventRxDone, EventTxDone, EventError} {
		t.Run(ev.String(), func(t *testing.T) {
			a := NewArbiter()
			var now ticks.Time = 1000
			a.HandleEvent(EventPreambleDetected, now)
			a.HandleEvent(EventHeaderValid, now+10)
			a.HandleEvent(ev, now+20)
			if a.Busy(now + 30) {
				t.Errorf("channel busy after %s", ev)
			}
		})
	}
}

func TestArbiterNewPreambleRestartsWindow(t *testing.T) {
	a := NewArbiter()
	a.HandleEvent(EventPreambleDetected, 1000)
	a.HandleEvent(EventHeaderValid, 1050)
	// A fresh preamble clears the header flag and re-anchors the window.
	a.HandleEvent(EventPreambleDetected, 4000)
	if !a.Busy(4000 + ShortBusyTimeout) {
		t.Error("channel should be busy within the new short window")
	}
	if a.Busy(4000 + ShortBusyTimeout + 1) {
		t.Error("header flag from the previous packet should not persist")
	}
}

func TestArbiterBusyAcrossClockWrap(t *testing.T) {
	a := NewArbiter()
	var now ticks.Time = 0xFFFFFF00 // 256ms before wraparound
	a.HandleEvent(EventPreambleDetected, now)
	if !a.Busy(now + 1000) {
		t.Error("channel should stay busy across the counter wrap")
	}
	if a.Busy(now + ShortBusyTimeout + 1) {
		t.Error("decay should still apply across the counter wrap")
	}
}
