// Package radio defines the seam between the protocol core and the LoRa
// hardware: the driver interface, the listen-before-talk channel arbiter,
// and the duty-cycle tracker. The real SX12xx drivers live outside this
// repository; an in-memory driver is provided for tests and loopback runs.
package radio

// Event is an edge-triggered signal raised by the radio hardware interrupt
// handler. The chip exposes no persistent "channel busy" status, only these
// edges, so channel state has to be inferred from their timing.
type Event uint8

const (
	// EventPreambleDetected fires when the modem detects a LoRa preamble.
	EventPreambleDetected Event = iota
	// EventHeaderValid fires after the preamble when the packet header
	// matches our sync word.
	EventHeaderValid
	// EventRxDone fires when a full packet has been received.
	EventRxDone
	// EventTxDone fires when an outbound transmission completes.
	EventTxDone
	// EventError covers CRC failures and other modem errors.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventPreambleDetected:
		return "preamble_detected"
	case EventHeaderValid:
		return "header_valid"
	case EventRxDone:
		return "rx_done"
	case EventTxDone:
		return "tx_done"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Frame is a raw packet delivered by the radio, with the signal strength it
// was heard at.
type Frame struct {
	Payload []byte
	RSSI    float32
}

// Driver is the radio hardware abstraction the protocol core drives. All
// methods are non-blocking: received frames are polled with ReceiveNext,
// transmissions complete asynchronously with an EventTxDone, and the event
// hook is invoked from the driver's interrupt/event context.
type Driver interface {
	// ReceiveNext returns the next pending inbound frame, if any.
	ReceiveNext() (Frame, bool)
	// Transmit starts sending a packet. Completion is signaled later via
	// EventTxDone on the event hook.
	Transmit(payload []byte) error
	// SetEventHook registers the callback for hardware events. The hook
	// must do minimal work; it runs outside the main loop context.
	SetEventHook(hook func(Event))
	// Reset reinitializes the modem. Used by the TX watchdog when the
	// radio appears stuck transmitting.
	Reset() error
}
