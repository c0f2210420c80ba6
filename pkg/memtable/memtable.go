// Package memtable implements the in-memory write buffer for one shard:
// a vector of append-only slabs with a free list, the current one always
// open for writes.
package memtable

import "github.com/mnohosten/slotkv/pkg/record"

// Status is a memtable slab's lifecycle state.
type Status int

const (
	// Open memtables accept appends; exactly one slab per shard is Open
	// at any moment (the "current" memtable).
	Open Status = iota
	// Flushable memtables are full or were force-flushed but not yet
	// claimed by the flusher.
	Flushable
	// Flushing memtables have been claimed by the flusher; their
	// content is being written to a disktable.
	Flushing
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Flushable:
		return "flushable"
	case Flushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// entrySize approximates the on-disk footprint of a record, matching the
// disktable entry header (see disktable.EntryHeaderSize).
func entrySize(r record.Record) int {
	return 14 + len(r.Key.Raw) + len(r.Value)
}

// Memtable is a single slab: an ordered, append-only sequence of records.
// It is immutable in content once Status != Open — only its Status and
// References fields change thereafter.
type Memtable struct {
	ID         uint16
	buffer     []record.Record
	References int
	Bytes      int
	Status     Status

	// nextFree links this slot into the manager's free chain when the
	// slab has been truncated and returned to the pool; -1 means this
	// slot is in use (or is the chain's tail).
	nextFree int
}

// Len returns the number of physical entries currently in the slab.
func (mt *Memtable) Len() int {
	return len(mt.buffer)
}

// Get fetches the record at offset. Valid iff the slab has not been
// truncated since the pointer was issued.
func (mt *Memtable) Get(offset uint16) (record.Record, bool) {
	if int(offset) >= len(mt.buffer) {
		return record.Record{}, false
	}
	return mt.buffer[offset], true
}

// append adds r to the slab and returns its offset. Callers are
// responsible for byte-budget checks before calling this.
func (mt *Memtable) append(r record.Record) uint16 {
	offset := uint16(len(mt.buffer))
	mt.buffer = append(mt.buffer, r)
	mt.Bytes += entrySize(r)
	return offset
}

// Records returns the slab's entries in append order. The returned slice
// aliases internal storage and must be treated as read-only.
func (mt *Memtable) Records() []record.Record {
	return mt.buffer
}

// reset clears the slab for reuse from the free list.
func (mt *Memtable) reset(id uint16) {
	mt.ID = id
	mt.buffer = nil
	mt.References = 0
	mt.Bytes = 0
	mt.Status = Open
}
