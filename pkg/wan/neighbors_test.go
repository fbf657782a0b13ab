package wan

import (
	"testing"

	"github.com/antirez/freakwan/pkg/wire"
)

func nodeID(b byte) wire.NodeID {
	return wire.NodeID{b, b, b, b, b, b}
}

func TestNeighborUpsertAndUpdate(t *testing.T) {
	nt := NewNeighborTable(4)
	if !nt.Upsert(nodeID(1), "alice", "hello", -50, 0, 1000) {
		t.Error("first upsert should report a new entry")
	}
	if nt.Upsert(nodeID(1), "alice", "updated", -60, 3, 2000) {
		t.Error("second upsert should not report a new entry")
	}
	if nt.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", nt.Len())
	}
	n := nt.All()[0]
	if n.Status != "updated" || n.RSSI != -60 || n.Seen != 3 || n.LastSeen != 2000 {
		t.Errorf("entry not fully overwritten: %+v", n)
	}
}

func TestNeighborCapacityRefusal(t *testing.T) {
	nt := NewNeighborTable(2)
	nt.Upsert(nodeID(1), "a", "", -50, 0, 1000)
	nt.Upsert(nodeID(2), "b", "", -50, 0, 1000)
	if nt.Upsert(nodeID(3), "c", "", -50, 0, 1000) {
		t.Error("upsert past capacity should be refused")
	}
	if nt.Len() != 2 {
		t.Errorf("Len() = %d, want 2", nt.Len())
	}
	// Existing entries stay updatable at capacity.
	nt.Upsert(nodeID(2), "b", "still here", -40, 1, 2000)
	for _, n := range nt.All() {
		if n.ID == nodeID(2) && n.Status != "still here" {
			t.Error("existing entry not updated at capacity")
		}
	}
}

func TestNeighborEvictStale(t *testing.T) {
	nt := NewNeighborTable(8)
	nt.Upsert(nodeID(1), "old", "", -50, 0, 1000)
	nt.Upsert(nodeID(2), "fresh", "", -50, 0, 500000)

	if removed := nt.EvictStale(601500, 600000); removed != 1 {
		t.Fatalf("EvictStale removed %d, want 1", removed)
	}
	all := nt.All()
	if len(all) != 1 || all[0].Nick != "fresh" {
		t.Errorf("wrong survivor: %+v", all)
	}
	// A refused admission must not resurrect the evicted node via Touch.
	nt.Touch(nodeID(1), 602000)
	if nt.Len() != 1 {
		t.Errorf("Touch on absent node changed table size")
	}
}

func TestNeighborEvictionAcrossWrap(t *testing.T) {
	nt := NewNeighborTable(8)
	nt.Upsert(nodeID(1), "prewrap", "", -50, 0, 0xFFFFFF00)
	// 2s later, past the wraparound: still fresh.
	if removed := nt.EvictStale(0x700, 600000); removed != 0 {
		t.Errorf("EvictStale removed %d across wrap, want 0", removed)
	}
}
