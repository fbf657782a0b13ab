package wan

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/antirez/freakwan/pkg/wire"
)

// AckTable aggregates ACKs per in-flight message ID: for each ID it tracks
// the set of distinct neighbors that acknowledged it. Once the set reaches
// the current neighbor count the core cancels any scheduled retransmission.
//
// Entries expire after a TTL so stale IDs do not occupy slots forever, and
// new IDs are refused past the capacity cap (existing entries still accept
// new ackers). Only the main loop touches the table.
type AckTable struct {
	cache *ttlcache.Cache[uint32, *ackEntry]
	max   int
}

type ackEntry struct {
	ackers map[wire.NodeID]struct{}
}

func NewAckTable(max int, ttl time.Duration) *AckTable {
	return &AckTable{
		cache: ttlcache.New[uint32, *ackEntry](
			ttlcache.WithTTL[uint32, *ackEntry](ttl),
		),
		max: max,
	}
}

// Start runs the background expiration loop. Blocks; run in a goroutine.
func (t *AckTable) Start() { t.cache.Start() }

// Stop terminates the expiration loop.
func (t *AckTable) Stop() { t.cache.Stop() }

// RecordAck notes that a neighbor acknowledged a message and returns how
// many distinct neighbors have acknowledged it so far. A refused new entry
// reports zero.
func (t *AckTable) RecordAck(msgID uint32, from wire.NodeID) int {
	item := t.cache.Get(msgID)
	if item == nil {
		if t.cache.Len() >= t.max {
			return 0
		}
		e := &ackEntry{ackers: map[wire.NodeID]struct{}{from: {}}}
		t.cache.Set(msgID, e, ttlcache.DefaultTTL)
		return 1
	}
	e := item.Value()
	e.ackers[from] = struct{}{}
	return len(e.ackers)
}

// Len returns the number of message IDs currently tracked.
func (t *AckTable) Len() int { return t.cache.Len() }
