// Package recordindex implements the hash-keyed mapping from a record's
// key-hash to its current RecordMetadata. Keys are hashed rather than
// ordered, so a plain map is the right shape — there is no sorted-key
// structure to maintain and no range-scan to support.
package recordindex

import (
	"sync"

	"github.com/mnohosten/slotkv/pkg/record"
)

// Index is single-writer: it must only be mutated from the shard's own
// goroutine, never across an await/suspension point. The mutex exists to
// make concurrent reads from the admin surface safe, not to coordinate
// writers.
type Index struct {
	mu      sync.RWMutex
	entries map[[20]byte]record.RecordMetadata
}

// New returns an empty Index.
func New() *Index {
	return &Index{entries: make(map[[20]byte]record.RecordMetadata)}
}

// Get looks up the metadata for hash.
func (ix *Index) Get(hash [20]byte) (record.RecordMetadata, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	m, ok := ix.entries[hash]
	return m, ok
}

// Update is the central reference-accounting contract:
//   - no entry exists for newMeta.Hash: insert it, return (zero, false).
//   - an entry exists with a strictly newer timestamp: the index is left
//     unmutated and (newMeta, true) is returned — the caller must decrement
//     the reference for newMeta, since the new write is stale.
//   - otherwise: newMeta replaces the entry and (oldMeta, true) is
//     returned — the caller must decrement the reference for oldMeta.
//
// "Return the loser for the caller to reclaim" is what keeps reference
// counts consistent across set/flush/reclaim.
func (ix *Index) Update(newMeta record.RecordMetadata) (loser record.RecordMetadata, hadLoser bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	old, exists := ix.entries[newMeta.Hash]
	if !exists {
		ix.entries[newMeta.Hash] = newMeta
		return record.RecordMetadata{}, false
	}
	if old.Timestamp > newMeta.Timestamp {
		return newMeta, true
	}
	ix.entries[newMeta.Hash] = newMeta
	return old, true
}

// Delete removes the entry for meta.Hash unconditionally. Used by
// tombstone GC during reclaim.
func (ix *Index) Delete(meta record.RecordMetadata) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, meta.Hash)
}

// Truncate empties the index.
func (ix *Index) Truncate() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = make(map[[20]byte]record.RecordMetadata)
}

// Len returns the number of live entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// MemtableRefs and DiskRefs count live index pointers by destination
// kind, with a Compacting pointer counted in both. Used by the
// corruption assertion (invariant 2: index.len() == memtable_refs +
// disktable_refs).
func (ix *Index) MemtableRefs() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, m := range ix.entries {
		if m.Ptr.Kind == record.PtrMemtable || m.Ptr.Kind == record.PtrCompacting {
			n++
		}
	}
	return n
}

// DiskRefs counts live index pointers addressing a disktable location.
func (ix *Index) DiskRefs() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, m := range ix.entries {
		if m.Ptr.Kind == record.PtrDisktable || m.Ptr.Kind == record.PtrCompacting {
			n++
		}
	}
	return n
}
