package radio

import (
	"testing"
	"time"
)

func TestDutyCycleAccounting(t *testing.T) {
	d := NewDutyCycle(4, 10*time.Second)
	unix := int64(1000)
	d.unixNow = func() int64 { return unix }

	if got := d.Percent(); got != 0 {
		t.Fatalf("Percent() = %f before any TX, want 0", got)
	}

	// 1s of TX inside a 10s slot: 10% of one valid slot.
	d.StartTx(5000)
	d.EndTx(6000)
	if got := d.Percent(); got != 10 {
		t.Errorf("Percent() = %f, want 10", got)
	}

	// Another 1s in the same slot accumulates.
	d.StartTx(7000)
	d.EndTx(8000)
	if got := d.Percent(); got != 20 {
		t.Errorf("Percent() = %f, want 20", got)
	}

	// Next slot: the average spreads over two valid slots.
	unix += 10
	d.StartTx(20000)
	d.EndTx(22000)
	if got := d.Percent(); got != 20 {
		t.Errorf("Percent() = %f, want 20", got)
	}
}

func TestDutyCycleSlidingWindow(t *testing.T) {
	d := NewDutyCycle(4, 10*time.Second)
	unix := int64(1000)
	d.unixNow = func() int64 { return unix }

	d.StartTx(1000)
	d.EndTx(2000)
	if got := d.Percent(); got != 10 {
		t.Fatalf("Percent() = %f, want 10", got)
	}

	// Five slot durations later the old slot is out of the window.
	unix += 50
	if got := d.Percent(); got != 0 {
		t.Errorf("Percent() = %f after window slid, want 0", got)
	}
}

func TestDutyCycleCurrentTxTime(t *testing.T) {
	d := NewDutyCycle(4, 10*time.Second)
	d.unixNow = func() int64 { return 0 }

	if got := d.CurrentTxTime(100); got != 0 {
		t.Errorf("CurrentTxTime() = %d while idle, want 0", got)
	}
	d.StartTx(1000)
	if got := d.CurrentTxTime(61500); got != 60500 {
		t.Errorf("CurrentTxTime() = %d, want 60500", got)
	}
	d.EndTx(62000)
	if got := d.CurrentTxTime(63000); got != 0 {
		t.Errorf("CurrentTxTime() = %d after EndTx, want 0", got)
	}
}

func TestDutyCycleEndWithoutStart(t *testing.T) {
	d := NewDutyCycle(4, 10*time.Second)
	d.unixNow = func() int64 { return 0 }
	d.EndTx(1000) // must not account anything
	if got := d.Percent(); got != 0 {
		t.Errorf("Percent() = %f, want 0", got)
	}
}
