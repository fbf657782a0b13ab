package radio

import (
	"log/slog"
	"sync"
)

const simRxQueueSize = 16

// SimDriver is an in-memory Driver used by tests and loopback runs. Inbound
// frames are injected with Inject and queued on a bounded channel, mirroring
// the single-producer/single-consumer handoff a hardware interrupt handler
// would use. Transmitted frames are recorded and completion is signaled
// synchronously through the event hook.
type SimDriver struct {
	mu   sync.Mutex
	sent [][]byte
	hook func(Event)

	rx chan Frame
}

func NewSimDriver() *SimDriver {
	return &SimDriver{rx: make(chan Frame, simRxQueueSize)}
}

func (d *SimDriver) SetEventHook(hook func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hook = hook
}

func (d *SimDriver) emit(ev Event) {
	d.mu.Lock()
	hook := d.hook
	d.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

// Inject delivers a frame as if it had been received over the air, raising
// the same event sequence the hardware would. If the RX queue is full the
// frame is dropped, as a saturated interrupt queue would.
func (d *SimDriver) Inject(payload []byte, rssi float32) {
	d.emit(EventPreambleDetected)
	d.emit(EventHeaderValid)
	frame := Frame{Payload: append([]byte(nil), payload...), RSSI: rssi}
	select {
	case d.rx <- frame:
	default:
		slog.Warn("sim driver RX queue full, dropping frame", "len", len(payload))
	}
	d.emit(EventRxDone)
}

func (d *SimDriver) ReceiveNext() (Frame, bool) {
	select {
	case f := <-d.rx:
		return f, true
	default:
		return Frame{}, false
	}
}

func (d *SimDriver) Transmit(payload []byte) error {
	d.mu.Lock()
	d.sent = append(d.sent, append([]byte(nil), payload...))
	d.mu.Unlock()
	d.emit(EventTxDone)
	return nil
}

func (d *SimDriver) Reset() error {
	return nil
}

// Sent returns a copy of every payload transmitted so far.
func (d *SimDriver) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.sent))
	copy(out, d.sent)
	return out
}
