package sync

import gosync "sync"

// Dedup bounds. Trimming happens on its own timer, not per insert.
const (
	DefaultDedupHighWater = 5000
	DefaultDedupKeep      = 2500
)

// DedupSet remembers processed message ids in insertion order.
type DedupSet struct {
	mu        gosync.Mutex
	ids       map[string]struct{}
	order     []string
	highWater int
	keep      int
}

// NewDedupSet creates a set that, when trimmed above highWater entries,
// keeps the keep most recently added ids.
func NewDedupSet(highWater, keep int) *DedupSet {
	if highWater <= 0 {
		highWater = DefaultDedupHighWater
	}
	if keep <= 0 || keep > highWater {
		keep = DefaultDedupKeep
		if keep > highWater {
			keep = highWater
		}
	}
	return &DedupSet{
		ids:       make(map[string]struct{}),
		highWater: highWater,
		keep:      keep,
	}
}

// Contains reports whether id was added and not trimmed away.
func (d *DedupSet) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.ids[id]
	return ok
}

// Add records id. Adding an id twice keeps its original position.
func (d *DedupSet) Add(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.ids[id]; ok {
		return
	}
	d.ids[id] = struct{}{}
	d.order = append(d.order, id)
}

// Len returns the number of remembered ids.
func (d *DedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

// Trim drops the oldest ids when the set is above its high-water mark and
// returns how many were dropped.
func (d *DedupSet) Trim() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.order) <= d.highWater {
		return 0
	}
	drop := len(d.order) - d.keep
	for _, id := range d.order[:drop] {
		delete(d.ids, id)
	}
	kept := make([]string, d.keep)
	copy(kept, d.order[drop:])
	d.order = kept
	return drop
}

// Reset forgets every id.
func (d *DedupSet) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = make(map[string]struct{})
	d.order = nil
}
