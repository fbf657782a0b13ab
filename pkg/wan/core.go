package wan

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/antirez/freakwan/pkg/radio"
	"github.com/antirez/freakwan/pkg/ticks"
	"github.com/antirez/freakwan/pkg/wire"
)

// Scheduling constants, in milliseconds unless noted.
const (
	// sendMaxDelayMS randomizes the first transmission of a freshly
	// originated message, desynchronizing nodes that react to the same
	// event.
	sendMaxDelayMS = 2000

	// Retransmissions of the same packet wait a random delay in this
	// range. The maximum is not guaranteed: the queue may be long or the
	// channel busy.
	txAgainMinDelayMS = 3000
	txAgainMaxDelayMS = 8000

	defaultTTL   = 15
	defaultNumTX = 3

	helloPeriodMinMS = 60000
	helloPeriodMaxMS = 120000
	// neighborMaxAgeMS tolerates several missed HELLOs before a peer is
	// considered gone.
	neighborMaxAgeMS = 600000

	maxNeighbors   = 32
	maxPendingAcks = 128
	ackEntryTTL    = 10 * time.Minute

	txQueueMax   = 128
	txWatchdogMS = 60000
)

// Presenter is the display/output sink for delivered messages. Present is
// fire-and-forget: the core does not wait for completion or handle errors.
type Presenter interface {
	Present(text string)
}

type nopPresenter struct{}

func (nopPresenter) Present(string) {}

// Settings carries the tunable behavior of a node.
type Settings struct {
	Nick   string
	Status string
	NodeID wire.NodeID

	// Quiet suppresses all non-essential traffic: ACKs, relays, HELLOs
	// and retransmissions.
	Quiet bool
	// Promiscuous disables duplicate suppression, reporting every copy.
	Promiscuous bool

	RelayNumTX      int
	RelayMaxDelayMS uint32
	// RelayRSSILimit skips relaying messages heard stronger than this:
	// the originator is so close that repeating it wastes channel time.
	RelayRSSILimit float32

	// DutyCycleLimit is the TX duty cycle percentage above which the
	// scheduler stops transmitting.
	DutyCycleLimit float64

	// DefaultKey, when set, encrypts outbound Data payloads with this
	// keychain key.
	DefaultKey string
}

// DefaultSettings returns the stock node behavior.
func DefaultSettings() Settings {
	return Settings{
		Nick:            "freakwan",
		Status:          "Hi there!",
		RelayNumTX:      3,
		RelayMaxDelayMS: 10000,
		RelayRSSILimit:  -60,
		DutyCycleLimit:  15,
	}
}

// Core is the protocol engine: it decodes inbound frames, maintains the
// dedup cache, neighbor table and ACK aggregation state, decides on
// relay/ACK/display actions, and schedules outbound transmissions gated by
// the channel arbiter and the duty-cycle limit.
//
// All protocol state is owned by the main loop. The only crossings are the
// driver's RX handoff, the event hook feeding the arbiter, and the
// read-mostly snapshots served to the web API.
type Core struct {
	cfg      Settings
	driver   radio.Driver
	arbiter  *radio.Arbiter
	duty     *radio.DutyCycle
	display  Presenter
	keychain *wire.Keychain

	txq       *Queue
	dedup     *DedupCache
	neighbors *NeighborTable
	acks      *AckTable

	txBusy atomic.Bool
	sent   atomic.Uint64

	helloAt ticks.Time

	// OnMessage, when set, receives every delivered Data message in
	// decoded form. Used to feed the history store and the MQTT bridge.
	OnMessage func(m *wire.Message, rssi float32)

	// input hands user-typed messages from other goroutines to the main
	// loop; all protocol state stays single-writer.
	input chan string

	now func() ticks.Time
}

// New wires a protocol core to a radio driver. A nil keychain means no
// encryption keys; a nil display discards delivered text.
func New(cfg Settings, drv radio.Driver, kc *wire.Keychain, display Presenter) *Core {
	if kc == nil {
		kc = wire.NewKeychain()
	}
	if display == nil {
		display = nopPresenter{}
	}
	c := &Core{
		cfg:       cfg,
		driver:    drv,
		arbiter:   radio.NewArbiter(),
		duty:      radio.NewDutyCycle(12, 5*time.Minute),
		display:   display,
		keychain:  kc,
		txq:       NewQueue("tx", txQueueMax),
		dedup:     NewDedupCache(),
		neighbors: NewNeighborTable(maxNeighbors),
		acks:      NewAckTable(maxPendingAcks, ackEntryTTL),
		input:     make(chan string, 16),
		now:       ticks.Now,
	}
	c.helloAt = c.now() // first HELLO on the first cron tick
	drv.SetEventHook(c.handleRadioEvent)
	return c
}

// Keychain returns the node's keychain, for key management commands.
func (c *Core) Keychain() *wire.Keychain { return c.keychain }

// handleRadioEvent runs in the driver's event context. It only feeds the
// channel arbiter and flips the TX state; everything else stays in the main
// loop.
func (c *Core) handleRadioEvent(ev radio.Event) {
	now := c.now()
	c.arbiter.HandleEvent(ev, now)
	if ev == radio.EventTxDone {
		c.duty.EndTx(now)
		c.txBusy.Store(false)
	}
}

// Run drives the main loop until the context is canceled: drain received
// frames, run the cron, flush the send queue, sleep. The sleep is
// randomized between 80 and 120ms to keep nodes desynchronized after
// listen-before-talk waits and other shared events.
func (c *Core) Run(ctx context.Context) error {
	go c.acks.Start()
	defer c.acks.Stop()
	for {
		c.pumpReceive()
		c.pumpInput()
		c.Cron(c.now())
		c.FlushSendQueue(c.now())

		sleep := time.Duration(80+rand.N(uint32(41))) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

// Submit queues user-typed text to be sent as a Data message by the main
// loop. Safe to call from any goroutine; returns false when the input
// buffer is full.
func (c *Core) Submit(text string) bool {
	select {
	case c.input <- text:
		return true
	default:
		return false
	}
}

// pumpInput originates a Data message for each pending user input.
func (c *Core) pumpInput() {
	for {
		select {
		case text := <-c.input:
			if err := c.SendData(text); err != nil {
				slog.Error("sending message", "error", err)
			}
		default:
			return
		}
	}
}

// pumpReceive drains the driver's RX queue in strict receipt order.
func (c *Core) pumpReceive() {
	for {
		frame, ok := c.driver.ReceiveNext()
		if !ok {
			return
		}
		c.ProcessPacket(frame.Payload, frame.RSSI)
	}
}

// ProcessPacket decodes and dispatches one inbound frame. Malformed input
// is an expected condition on a shared wire: it is dropped without side
// effects and never fatal.
func (c *Core) ProcessPacket(payload []byte, rssi float32) {
	m, err := wire.Decode(payload)
	if err != nil {
		slog.Debug("dropping undecodable packet", "len", len(payload), "error", err)
		return
	}
	switch m.Type {
	case wire.MsgTypeData:
		c.handleData(payload, m, rssi)
	case wire.MsgTypeAck:
		c.handleAck(m)
	case wire.MsgTypeHello:
		c.handleHello(m, rssi)
	}
}

// markProcessed records a message ID and reports whether it had already
// been processed. In promiscuous mode duplicates are never suppressed.
func (c *Core) markProcessed(id uint32) bool {
	if c.dedup.Contains(id) {
		return !c.cfg.Promiscuous
	}
	c.dedup.Insert(id)
	return false
}

func (c *Core) handleData(raw []byte, m *wire.Message, rssi float32) {
	if m.Flags&wire.FlagEncrypted != 0 {
		keyName, plain, err := c.keychain.DecryptPayload(m.Payload, m.ID, m.Sender)
		if err != nil {
			// We hold no key for this message. Relay it anyway to
			// help the network.
			if c.markProcessed(m.ID) {
				return
			}
			c.relayIfNeeded(raw, m, rssi)
			return
		}
		m.Payload = plain
		m.KeyName = keyName
	}

	if c.markProcessed(m.ID) {
		slog.Debug("ignoring duplicated message",
			"msg_id", fmt.Sprintf("%08x", m.ID), "nick", m.Nick)
		return
	}

	// A non-relayed Data message proves the sender is alive: refresh its
	// neighbor entry as a HELLO would.
	if m.Flags&wire.FlagRelayed == 0 {
		c.neighbors.Touch(m.Sender, c.now())
	}

	c.present(m, rssi)
	if c.OnMessage != nil {
		c.OnMessage(m, rssi)
	}
	c.sendAckIfNeeded(m)
	c.relayIfNeeded(raw, m, rssi)
}

// present delivers a Data message to the display sink.
func (c *Core) present(m *wire.Message, rssi float32) {
	text := string(m.Payload)
	if m.Flags&wire.FlagMedia != 0 {
		mediaType := -1
		if len(m.Payload) > 0 {
			mediaType = int(m.Payload[0])
		}
		text = fmt.Sprintf("unknown media %d", mediaType)
	}
	line := m.Nick + "> " + text
	if m.KeyName != "" {
		line = "#" + m.KeyName + " " + line
	}
	if m.Flags&wire.FlagRelayed != 0 {
		line += " [R]"
	}
	c.display.Present(line)
	slog.Info("message received",
		"msg_id", fmt.Sprintf("%08x", m.ID),
		"sender", m.Sender, "nick", m.Nick,
		"rssi", rssi, "ttl", m.TTL, "flags", fmt.Sprintf("%05b", m.Flags))
}

// sendAckIfNeeded acknowledges a freshly delivered Data message. Relayed
// copies are never ACKed (only the original transmission is), media blobs
// are not worth the channel time, and quiet mode sends nothing.
func (c *Core) sendAckIfNeeded(m *wire.Message) {
	if c.cfg.Quiet {
		return
	}
	if m.Type != wire.MsgTypeData {
		return
	}
	if m.Flags&wire.FlagMedia != 0 || m.Flags&wire.FlagRelayed != 0 {
		return
	}
	ack := &wire.Message{
		Type:    wire.MsgTypeAck,
		ID:      m.ID,
		AckType: m.Type,
		Sender:  c.cfg.NodeID,
	}
	encoded, err := ack.Encode()
	if err != nil {
		slog.Error("encoding ACK failed", "error", err)
		return
	}
	c.enqueue(encoded, m.ID, 1, 0)
	slog.Info("sending ACK", "msg_id", fmt.Sprintf("%08x", m.ID))
}

// relayIfNeeded schedules retransmission of a Data message seen for the
// first time, when its originator asked for relay. The raw packet is
// re-enqueued with the TTL decremented and the Relayed flag set; patching
// the original bytes keeps encrypted payloads intact.
func (c *Core) relayIfNeeded(raw []byte, m *wire.Message, rssi float32) {
	if c.cfg.Quiet {
		return
	}
	if m.Type != wire.MsgTypeData || m.Flags&wire.FlagPleaseRelay == 0 {
		return
	}
	if rssi > c.cfg.RelayRSSILimit {
		return
	}
	if m.TTL <= 1 {
		return
	}
	relayed := append([]byte(nil), raw...)
	relayed[1] |= wire.FlagRelayed
	relayed[6]-- // TTL
	c.enqueue(relayed, m.ID, c.cfg.RelayNumTX, c.cfg.RelayMaxDelayMS)
	slog.Info("relaying message",
		"msg_id", fmt.Sprintf("%08x", m.ID), "nick", m.Nick, "ttl", relayed[6])
}

func (c *Core) handleAck(m *wire.Message) {
	count := c.acks.RecordAck(m.ID, m.Sender)
	slog.Info("got ACK",
		"msg_id", fmt.Sprintf("%08x", m.ID), "from", m.Sender, "acks", count)
	if n := c.neighbors.Len(); n > 0 && count >= n {
		if removed := c.txq.Cancel(m.ID); removed > 0 {
			slog.Info("ACKs received from all known nodes, suppressing retransmissions",
				"msg_id", fmt.Sprintf("%08x", m.ID), "neighbors", n, "canceled", removed)
		}
	}
}

func (c *Core) handleHello(m *wire.Message, rssi float32) {
	if m.Sender == c.cfg.NodeID {
		return // our own HELLO echoed back
	}
	isNew := c.neighbors.Upsert(m.Sender, m.Nick, string(m.Payload), rssi, m.Seen, c.now())
	if isNew {
		slog.Info("new node sensed", "node", m.Sender, "nick", m.Nick)
	}
}

// SendData originates a new Data message: random 32-bit ID, full TTL,
// PleaseRelay set, transmitted multiple times with jitter. The ID is marked
// as processed immediately so our own relayed copies are ignored.
func (c *Core) SendData(text string) error {
	m := &wire.Message{
		Type:    wire.MsgTypeData,
		Flags:   wire.FlagPleaseRelay,
		ID:      rand.Uint32(),
		TTL:     defaultTTL,
		Sender:  c.cfg.NodeID,
		Nick:    c.cfg.Nick,
		Payload: []byte(text),
	}
	if c.cfg.DefaultKey != "" {
		encr, err := c.keychain.EncryptPayload(c.cfg.DefaultKey, m.Payload, m.ID, m.Sender)
		if err != nil {
			return fmt.Errorf("encrypting payload: %w", err)
		}
		m.Payload = encr
		m.Flags |= wire.FlagEncrypted
	}
	encoded, err := m.Encode()
	if err != nil {
		return err
	}
	c.dedup.Insert(m.ID)
	c.enqueue(encoded, m.ID, defaultNumTX, sendMaxDelayMS)
	return nil
}

// sendHello advertises our presence and how many neighbors we track.
func (c *Core) sendHello() {
	m := &wire.Message{
		Type:    wire.MsgTypeHello,
		Sender:  c.cfg.NodeID,
		Seen:    uint8(min(c.neighbors.Len(), 255)),
		Nick:    c.cfg.Nick,
		Payload: []byte(c.cfg.Status),
	}
	encoded, err := m.Encode()
	if err != nil {
		slog.Error("encoding HELLO failed", "error", err)
		return
	}
	c.enqueue(encoded, 0, 1, 0)
	slog.Info("sending HELLO", "neighbors", c.neighbors.Len())
}

// enqueue schedules a packet for transmission after a random delay of up to
// maxDelayMS milliseconds.
func (c *Core) enqueue(payload []byte, msgID uint32, numTX int, maxDelayMS uint32) {
	c.txq.Push(&Packet{
		Payload:   payload,
		MsgID:     msgID,
		SendAt:    ticks.PlusRandom(c.now(), 0, maxDelayMS),
		Remaining: numTX,
	})
}

// Cron runs the periodic duties: stale neighbor eviction and the randomized
// HELLO beacon.
func (c *Core) Cron(now ticks.Time) {
	c.neighbors.EvictStale(now, neighborMaxAgeMS)
	if ticks.Reached(now, c.helloAt) {
		if !c.cfg.Quiet {
			c.sendHello()
		}
		c.helloAt = ticks.PlusRandom(now, helloPeriodMinMS, helloPeriodMaxMS)
	}
}

// FlushSendQueue performs one scheduler pass: transmit every due packet,
// requeue the not-yet-due ones at the tail. The pass is bounded to the
// queue length at entry so a requeued packet is not examined twice in one
// tick. Transmission is skipped entirely while the channel is busy or the
// duty-cycle budget is spent.
func (c *Core) FlushSendQueue(now ticks.Time) {
	if c.duty.Percent() >= c.cfg.DutyCycleLimit {
		return
	}
	if c.arbiter.Busy(now) {
		return
	}
	n := c.txq.Len()
	for i := 0; i < n; i++ {
		p, ok := c.txq.Pop()
		if !ok {
			return
		}
		if !ticks.Reached(now, p.SendAt) {
			c.txq.Push(p)
			continue
		}
		if c.txBusy.Load() {
			// Radio still sending the previous frame. Waiting here
			// is of little help; try again next tick. If it has
			// been stuck for very long, reset it.
			if c.duty.CurrentTxTime(now) > txWatchdogMS {
				slog.Warn("TX watchdog, resetting radio")
				if err := c.driver.Reset(); err != nil {
					slog.Error("radio reset failed", "error", err)
				}
				c.duty.EndTx(now)
				c.txBusy.Store(false)
			}
			c.txq.PushFront(p)
			return
		}
		c.duty.StartTx(now)
		c.txBusy.Store(true)
		if err := c.driver.Transmit(p.Payload); err != nil {
			slog.Error("radio transmit failed", "error", err)
			c.duty.EndTx(now)
			c.txBusy.Store(false)
			p.SendAt = ticks.PlusRandom(now, txAgainMinDelayMS, txAgainMaxDelayMS)
			c.txq.Push(p)
			continue
		}
		c.sent.Add(1)
		if p.Remaining > 1 && !c.cfg.Quiet {
			p.Remaining--
			p.SendAt = ticks.PlusRandom(now, txAgainMinDelayMS, txAgainMaxDelayMS)
			c.txq.Push(p)
		}
	}
}

// NodeStatus is the snapshot served by the status API.
type NodeStatus struct {
	Nick             string  `json:"nick"`
	NodeID           string  `json:"node_id"`
	MessagesSent     uint64  `json:"messages_sent"`
	QueueLen         int     `json:"queue_len"`
	DutyCyclePercent float64 `json:"duty_cycle_percent"`
	Neighbors        int     `json:"neighbors"`
}

// NeighborStatus is one neighbor table entry in the status API.
type NeighborStatus struct {
	NodeID string  `json:"node_id"`
	Nick   string  `json:"nick"`
	Status string  `json:"status"`
	RSSI   float32 `json:"rssi"`
	Seen   uint8   `json:"seen"`
	AgeMS  uint32  `json:"age_ms"`
}

// Status returns a snapshot of the node state.
func (c *Core) Status() NodeStatus {
	return NodeStatus{
		Nick:             c.cfg.Nick,
		NodeID:           c.cfg.NodeID.String(),
		MessagesSent:     c.sent.Load(),
		QueueLen:         c.txq.Len(),
		DutyCyclePercent: c.duty.Percent(),
		Neighbors:        c.neighbors.Len(),
	}
}

// Neighbors returns the current neighbor table.
func (c *Core) Neighbors() []NeighborStatus {
	now := c.now()
	all := c.neighbors.All()
	out := make([]NeighborStatus, 0, len(all))
	for _, n := range all {
		out = append(out, NeighborStatus{
			NodeID: n.ID.String(),
			Nick:   n.Nick,
			Status: n.Status,
			RSSI:   n.RSSI,
			Seen:   n.Seen,
			AgeMS:  ticks.ElapsedSince(now, n.LastSeen),
		})
	}
	return out
}
