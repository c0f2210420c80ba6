package memtable

import (
	"github.com/mnohosten/slotkv/pkg/kverrors"
	"github.com/mnohosten/slotkv/pkg/record"
)

const noFreeSlot = -1

// Manager owns every memtable slab for one shard: the currently Open
// slab, any Flushable/Flushing slabs awaiting the flusher, and a
// singly-linked free chain over slots whose content has been truncated.
// Not safe for concurrent use across goroutines — a shard's datastore is
// expected to call it only from its own single-threaded scheduler.
type Manager struct {
	slabs     []*Memtable
	free      []bool // parallel to slabs; true if the slot is on the free chain
	freeHead  int     // index of the first free slot, or noFreeSlot
	currentID uint16
	maxBytes  int
}

// NewManager returns a Manager with one Open memtable and the given
// per-slab byte budget.
func NewManager(maxBytes int) *Manager {
	m := &Manager{freeHead: noFreeSlot, maxBytes: maxBytes}
	m.slabs = append(m.slabs, &Memtable{ID: 0, Status: Open, nextFree: noFreeSlot})
	m.free = append(m.free, false)
	return m
}

// getNextFreeSlot pops a slot off the free chain, or grows the slab
// vector, and returns a fresh Open memtable at that slot.
func (m *Manager) getNextFreeSlot() (*Memtable, error) {
	if m.freeHead != noFreeSlot {
		idx := m.freeHead
		slot := m.slabs[idx]
		m.freeHead = slot.nextFree
		m.free[idx] = false
		slot.reset(uint16(idx))
		return slot, nil
	}

	if len(m.slabs) >= 1<<16 {
		return nil, kverrors.ErrMemtableCapacityExhausted
	}

	id := uint16(len(m.slabs))
	slot := &Memtable{ID: id, Status: Open, nextFree: noFreeSlot}
	m.slabs = append(m.slabs, slot)
	m.free = append(m.free, false)
	return slot, nil
}

func (m *Manager) current() *Memtable {
	return m.slabs[m.currentID]
}

// Append writes r into the current Open memtable. If doing so would
// exceed the byte budget, the current memtable is marked Flushable and a
// fresh Open one is allocated first.
func (m *Manager) Append(r record.Record) (record.MemtablePointer, error) {
	cur := m.current()
	if cur.Bytes+entrySize(r) > m.maxBytes && cur.Len() > 0 {
		cur.Status = Flushable
		fresh, err := m.getNextFreeSlot()
		if err != nil {
			return record.MemtablePointer{}, err
		}
		m.currentID = fresh.ID
		cur = fresh
	}
	offset := cur.append(r)
	return record.MemtablePointer{Memtable: cur.ID, Offset: offset}, nil
}

// TryEmplace would overwrite r in place at oldPtr when the index still
// points at the current open memtable. In-place overwrite is unsafe
// without also proving no concurrent reader still holds oldPtr, so this
// always falls back to Append; correctness never depended on the
// in-place path.
func (m *Manager) TryEmplace(oldPtr record.MemtablePointer, r record.Record) (record.MemtablePointer, error) {
	return m.Append(r)
}

// Get fetches the record addressed by ptr. Valid iff the referenced
// memtable's status is Open, Flushable, or Flushing and it has not been
// truncated since.
func (m *Manager) Get(ptr record.MemtablePointer) (record.Record, bool) {
	if int(ptr.Memtable) >= len(m.slabs) {
		return record.Record{}, false
	}
	slot := m.slabs[ptr.Memtable]
	if m.free[ptr.Memtable] {
		return record.Record{}, false
	}
	return slot.Get(ptr.Offset)
}

// RemoveReferenceFromMemtable decrements the reference count of the
// memtable addressed by ptr. References never underflow.
func (m *Manager) RemoveReferenceFromMemtable(ptr record.MemtablePointer) {
	slot := m.slabs[ptr.Memtable]
	if slot.References > 0 {
		slot.References--
	}
}

// addReference increments the reference count of the slab at id. Callers
// in the datastore call this when a newly-appended record's metadata is
// seeded into the index (the append path starts at 1 reference).
func (m *Manager) addReference(id uint16) {
	m.slabs[id].References++
}

// AddReference is the exported form of addReference, used by the
// datastore right after Append/TryEmplace when it seeds the index.
func (m *Manager) AddReference(ptr record.MemtablePointer) {
	m.addReference(ptr.Memtable)
}

// MarkFlushing transitions the slab at id from Open or Flushable to
// Flushing. If id is the current memtable, a new current slab is
// allocated first so writes can continue.
func (m *Manager) MarkFlushing(id uint16) error {
	if id == m.currentID {
		fresh, err := m.getNextFreeSlot()
		if err != nil {
			return err
		}
		m.currentID = fresh.ID
	}
	m.slabs[id].Status = Flushing
	return nil
}

// TruncateMemtable clears the slab at id and returns it to the free
// list. Must only be called after the flush has re-pointed the index
// away from that memtable (References should already be 0).
func (m *Manager) TruncateMemtable(id uint16) {
	slot := m.slabs[id]
	slot.buffer = nil
	slot.Bytes = 0
	slot.References = 0
	slot.nextFree = m.freeHead
	m.free[id] = true
	m.freeHead = int(id)
}

// GetAllUnflushedMemtables returns every slab whose content has not yet
// been durably flushed (Open, Flushable, or Flushing), skipping free
// slots.
func (m *Manager) GetAllUnflushedMemtables() []*Memtable {
	var out []*Memtable
	for i, slot := range m.slabs {
		if m.free[i] {
			continue
		}
		out = append(out, slot)
	}
	return out
}

// GetAllFlushableMemtables returns every slab currently in the Flushable
// state.
func (m *Manager) GetAllFlushableMemtables() []*Memtable {
	var out []*Memtable
	for i, slot := range m.slabs {
		if m.free[i] || slot.Status != Flushable {
			continue
		}
		out = append(out, slot)
	}
	return out
}

// MarkCurrentFlushable transitions the current Open memtable to
// Flushable and allocates a fresh current, used by force-flush.
func (m *Manager) MarkCurrentFlushable() error {
	cur := m.current()
	if cur.Len() == 0 {
		return nil
	}
	cur.Status = Flushable
	fresh, err := m.getNextFreeSlot()
	if err != nil {
		return err
	}
	m.currentID = fresh.ID
	return nil
}

// Len returns the number of live (non-free) slabs.
func (m *Manager) Len() int {
	n := 0
	for i := range m.slabs {
		if !m.free[i] {
			n++
		}
	}
	return n
}

// References sums the reference counts across all live slabs.
func (m *Manager) References() int {
	n := 0
	for i, slot := range m.slabs {
		if !m.free[i] {
			n += slot.References
		}
	}
	return n
}

// Truncate resets the manager to a single fresh Open memtable.
func (m *Manager) Truncate() {
	m.slabs = []*Memtable{{ID: 0, Status: Open, nextFree: noFreeSlot}}
	m.free = []bool{false}
	m.freeHead = noFreeSlot
	m.currentID = 0
}

// CurrentID returns the id of the slab currently accepting appends.
func (m *Manager) CurrentID() uint16 {
	return m.currentID
}
