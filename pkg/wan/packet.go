// Package wan implements the FreakWAN protocol core: message processing and
// dispatch, flood relay with retransmission suppression, deduplication,
// neighbor discovery and the send scheduler.
package wan

import (
	"log/slog"
	"sync"

	"github.com/antirez/freakwan/pkg/ticks"
)

// Packet is a raw outbound frame queued for transmission, with its
// scheduling metadata. Ownership moves with the packet: whichever queue
// holds it owns it.
type Packet struct {
	Payload []byte
	MsgID   uint32 // message ID carried inside, for ACK-driven cancellation

	SendAt    ticks.Time // earliest transmission time
	Remaining int        // transmissions left, decremented per send
}

// Queue is a capacity-capped FIFO of packets. On overflow the oldest entry
// is evicted with a warning; pushes never block and the queue never grows
// past its bound. Safe for concurrent use: the web API reads its length
// while the main loop drains it.
type Queue struct {
	mu    sync.Mutex
	items []*Packet
	max   int
	name  string
}

func NewQueue(name string, max int) *Queue {
	return &Queue{max: max, name: name}
}

// Push appends a packet at the tail, evicting the head if full.
func (q *Queue) Push(p *Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.max {
		dropped := q.items[0]
		q.items = q.items[1:]
		slog.Warn("queue full, evicting oldest packet",
			"queue", q.name, "msg_id", dropped.MsgID)
	}
	q.items = append(q.items, p)
}

// PushFront reinserts a packet at the head, preserving its position when a
// scheduler pass has to stop early. Never evicts.
func (q *Queue) PushFront(p *Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*Packet{p}, q.items...)
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (*Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cancel removes every queued instance of the given message ID and returns
// how many were dropped. A linear scan is fine: the queue holds one or two
// entries in practice.
func (q *Queue) Cancel(msgID uint32) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	removed := 0
	for _, p := range q.items {
		if p.MsgID == msgID {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	q.items = kept
	return removed
}

// snapshot returns the queued packets, for tests and diagnostics.
func (q *Queue) snapshot() []*Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Packet, len(q.items))
	copy(out, q.items)
	return out
}
