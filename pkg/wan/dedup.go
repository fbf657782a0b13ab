package wan

// dedupSlots is the fixed size of the dedup cache. Message IDs are close to
// uniformly random, so a direct-mapped table keeps lookup O(1) and memory
// constant.
const dedupSlots = 512

// DedupCache remembers recently seen message IDs to suppress reprocessing
// of relayed duplicates. It is a fixed-size, collision-accepting hash table:
// a colliding insert silently overwrites the previous entry and there is no
// removal. Two unrelated messages may collide and cause a duplicate to slip
// through, or an old entry may shadow a much later ID reuse; both are
// accepted low-probability costs of the constant memory bound.
type DedupCache struct {
	ids  [dedupSlots]uint32
	used [dedupSlots]bool
}

func NewDedupCache() *DedupCache {
	return &DedupCache{}
}

// dedupSlot spreads the four ID bytes over the table. The top two bytes are
// shifted so their low-order bits contribute beyond the 8-bit XOR fold.
func dedupSlot(id uint32) int {
	h := (id & 0xff) ^ ((id >> 8) & 0xff) ^ (((id >> 16) & 0xff) << 1) ^ (((id >> 24) & 0xff) << 2)
	return int(h % dedupSlots)
}

// Contains reports whether the ID is present in its slot.
func (c *DedupCache) Contains(id uint32) bool {
	slot := dedupSlot(id)
	return c.used[slot] && c.ids[slot] == id
}

// Insert records the ID, overwriting whatever occupied its slot.
func (c *DedupCache) Insert(id uint32) {
	slot := dedupSlot(id)
	c.ids[slot] = id
	c.used[slot] = true
}
