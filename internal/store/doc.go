// Package store holds the latest value received for every bar slot.
//
// This package is internal to barista. It owns the slot cache shared by the
// collectors (writers), the renderer and the supervisor (readers). It does no
// I/O and knows nothing about processes.
//
// The main components are:
//
//   - [Store]: Interface defining slot reads, writes and layout changes
//   - [MemoryStore]: Lock-free implementation built on per-slot atomic cells
//   - [Cell]: The write capability for exactly one slot
//   - [Slot]: Immutable snapshot of one slot with TTL helpers
//
// Each slot is updated by replacing a single immutable reading, so unrelated
// collectors never contend with each other and readers never observe a
// half-written slot. Freshness is always computed at read time from the
// reading's timestamp and the slot's TTL.
package store
