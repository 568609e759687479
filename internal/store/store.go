package store

import "time"

// Slot is a point-in-time view of one bar position.
//
// Slot is a value copy taken from the store; it never changes after it is
// returned. Freshness is not stored: it is computed from UpdatedAt and TTL
// by [Slot.Fresh] at the moment the caller asks.
type Slot struct {
	// Index is the stable bar position (0-based, configuration order).
	Index int

	// Name is the human-readable name of the command feeding the slot.
	Name string

	// TTL is the maximum age a value may reach before it is treated as
	// expired. Zero means the value never expires.
	TTL time.Duration

	// Value is the last line received. Only meaningful if HasValue is true.
	Value string

	// HasValue reports whether at least one line has been received since
	// the slot was created or last cleared.
	HasValue bool

	// UpdatedAt is the time the last line was received.
	UpdatedAt time.Time
}

// Fresh reports whether the slot holds a value whose age does not exceed its TTL.
func (s Slot) Fresh(now time.Time) bool {
	if !s.HasValue {
		return false
	}
	if s.TTL <= 0 {
		return true
	}
	return now.Sub(s.UpdatedAt) <= s.TTL
}

// Age returns how long ago the value was received, or zero if there is none.
func (s Slot) Age(now time.Time) time.Duration {
	if !s.HasValue {
		return 0
	}
	age := now.Sub(s.UpdatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// SlotDef describes one position of a store layout passed to Configure.
type SlotDef struct {
	// Name is the display name of the slot.
	Name string

	// TTL is the freshness window for the slot's value.
	TTL time.Duration

	// Keep reuses the cell currently at the same index, preserving its value
	// and any writer capability held for it. When false (or when no cell
	// exists at that index) a new, empty cell is created.
	Keep bool
}

// Store defines the slot storage used by collectors, the renderer and the
// supervisor.
//
// Store implementations must be safe for concurrent access. Writers never
// block readers: each slot is updated by swapping a single immutable value.
type Store interface {
	// Set replaces the value of slot i. Returns false if i is out of range.
	Set(i int, value string, now time.Time) bool

	// Clear removes the value of slot i so it reads as never set.
	Clear(i int)

	// ClearAll clears every slot.
	ClearAll()

	// GetAll returns a snapshot of every slot in ascending index order.
	GetAll() []Slot

	// Get returns a snapshot of slot i.
	Get(i int) (Slot, bool)

	// Len returns the number of slots in the current layout.
	Len() int

	// Cell returns the write capability for slot i, or nil if out of range.
	Cell(i int) *Cell

	// Configure installs a new layout.
	Configure(defs []SlotDef)
}
