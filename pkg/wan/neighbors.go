package wan

import (
	"log/slog"
	"sync"

	"github.com/antirez/freakwan/pkg/ticks"
	"github.com/antirez/freakwan/pkg/wire"
)

// Neighbor is a peer node recently heard from, populated from its HELLO
// messages.
type Neighbor struct {
	ID       wire.NodeID
	Nick     string
	Status   string
	RSSI     float32
	Seen     uint8 // how many neighbors the peer itself tracks
	LastSeen ticks.Time
}

// NeighborTable is the bounded set of peers heard recently. Admission is
// refused past the capacity cap (existing entries stay updatable), and
// entries not refreshed within the staleness window are evicted by the cron.
// The window tolerates several missed HELLOs: the channel is lossy and a
// transmitting node cannot receive.
//
// Written only by the main loop; the mutex exists for the web API readers.
type NeighborTable struct {
	mu    sync.RWMutex
	max   int
	nodes map[wire.NodeID]*Neighbor
}

func NewNeighborTable(max int) *NeighborTable {
	return &NeighborTable{max: max, nodes: make(map[wire.NodeID]*Neighbor)}
}

// Upsert creates or refreshes a neighbor from a HELLO, overwriting every
// attribute. It returns true when a new entry was created. At capacity new
// peers are silently refused.
func (t *NeighborTable) Upsert(id wire.NodeID, nick, status string, rssi float32, seen uint8, now ticks.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[id]; ok {
		n.Nick = nick
		n.Status = status
		n.RSSI = rssi
		n.Seen = seen
		n.LastSeen = now
		return false
	}
	if len(t.nodes) >= t.max {
		slog.Debug("neighbor table full, refusing new node", "node", id)
		return false
	}
	t.nodes[id] = &Neighbor{
		ID: id, Nick: nick, Status: status, RSSI: rssi, Seen: seen, LastSeen: now,
	}
	return true
}

// Touch refreshes the last-seen time of a known neighbor. Used when a
// non-relayed Data message proves the node is still active.
func (t *NeighborTable) Touch(id wire.NodeID, now ticks.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[id]; ok {
		n.LastSeen = now
	}
}

// EvictStale removes neighbors not heard from within maxAgeMS and returns
// how many were dropped.
func (t *NeighborTable) EvictStale(now ticks.Time, maxAgeMS uint32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, n := range t.nodes {
		if ticks.ElapsedSince(now, n.LastSeen) > maxAgeMS {
			slog.Info("flushing timed out neighbor", "node", id, "nick", n.Nick)
			delete(t.nodes, id)
			removed++
		}
	}
	return removed
}

func (t *NeighborTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// All returns a copy of every neighbor.
func (t *NeighborTable) All() []Neighbor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Neighbor, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, *n)
	}
	return out
}
