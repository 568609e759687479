package store

import (
	"sync"
	"sync/atomic"
	"time"
)

// reading is an immutable value recorded for a slot.
type reading struct {
	value string
	at    time.Time
}

// Cell holds the state of a single slot.
//
// A Cell is the write capability handed to exactly one collector. Every
// update swaps one pointer, so a concurrent reader observes either the old
// or the new reading, never a mix. A cell that has been dropped from the
// layout by [MemoryStore.Configure] can still be written to, but those
// writes are no longer visible through the store.
type Cell struct {
	index int
	name  string
	ttl   atomic.Int64
	cur   atomic.Pointer[reading]
}

func newCell(index int, def SlotDef) *Cell {
	c := &Cell{index: index, name: def.Name}
	c.ttl.Store(int64(def.TTL))
	return c
}

// Index returns the slot position this cell was created for.
func (c *Cell) Index() int {
	return c.index
}

// Set records a new value, replacing the previous one wholesale.
func (c *Cell) Set(value string, now time.Time) {
	c.cur.Store(&reading{value: value, at: now})
}

// Clear drops the current value.
func (c *Cell) Clear() {
	c.cur.Store(nil)
}

func (c *Cell) snapshot() Slot {
	s := Slot{
		Index: c.index,
		Name:  c.name,
		TTL:   time.Duration(c.ttl.Load()),
	}
	if r := c.cur.Load(); r != nil {
		s.Value = r.value
		s.HasValue = true
		s.UpdatedAt = r.at
	}
	return s
}

// MemoryStore is an in-memory implementation of [Store].
//
// The layout (the ordered list of cells) is itself an immutable slice held
// behind an atomic pointer. Configure builds a new slice and swaps it in;
// readers that loaded the old slice keep a consistent view of it.
type MemoryStore struct {
	mu     sync.Mutex // serializes Configure
	layout atomic.Pointer[[]*Cell]
}

// NewMemoryStore creates a store with the given initial layout.
func NewMemoryStore(defs []SlotDef) *MemoryStore {
	m := &MemoryStore{}
	m.Configure(defs)
	return m
}

func (m *MemoryStore) cells() []*Cell {
	if p := m.layout.Load(); p != nil {
		return *p
	}
	return nil
}

// Configure installs a new layout.
//
// For every def with Keep set, the cell at the same index is reused and its
// TTL updated in place; its value and timestamp are untouched. All other
// positions get fresh, empty cells.
func (m *MemoryStore) Configure(defs []SlotDef) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.cells()
	next := make([]*Cell, len(defs))
	for i, def := range defs {
		if def.Keep && i < len(old) && old[i].name == def.Name {
			old[i].ttl.Store(int64(def.TTL))
			next[i] = old[i]
			continue
		}
		next[i] = newCell(i, def)
	}
	m.layout.Store(&next)
}

// Set stores value in slot i.
func (m *MemoryStore) Set(i int, value string, now time.Time) bool {
	c := m.Cell(i)
	if c == nil {
		return false
	}
	c.Set(value, now)
	return true
}

// Clear clears slot i. Out-of-range indices are ignored.
func (m *MemoryStore) Clear(i int) {
	if c := m.Cell(i); c != nil {
		c.Clear()
	}
}

// ClearAll clears every slot in the current layout.
func (m *MemoryStore) ClearAll() {
	for _, c := range m.cells() {
		c.Clear()
	}
}

// GetAll returns a snapshot of all slots in ascending index order.
//
// The returned slice is a copy; modifications do not affect the store.
func (m *MemoryStore) GetAll() []Slot {
	cells := m.cells()
	out := make([]Slot, len(cells))
	for i, c := range cells {
		out[i] = c.snapshot()
	}
	return out
}

// Get returns a snapshot of slot i.
func (m *MemoryStore) Get(i int) (Slot, bool) {
	c := m.Cell(i)
	if c == nil {
		return Slot{}, false
	}
	return c.snapshot(), true
}

// Len returns the number of slots.
func (m *MemoryStore) Len() int {
	return len(m.cells())
}

// Cell returns the cell currently at index i.
func (m *MemoryStore) Cell(i int) *Cell {
	cells := m.cells()
	if i < 0 || i >= len(cells) {
		return nil
	}
	return cells[i]
}
