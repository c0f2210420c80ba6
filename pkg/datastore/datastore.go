// Package datastore implements the per-shard orchestrator that ties the
// clock, record index, memtable manager, and disktable manager together
// into set/get/delete, flush, and reclaim operations. A Datastore belongs
// to exactly one shard and must only be driven from that shard's own
// single-threaded scheduler.
package datastore

import (
	"fmt"

	"github.com/mnohosten/slotkv/pkg/clock"
	"github.com/mnohosten/slotkv/pkg/disktable"
	"github.com/mnohosten/slotkv/pkg/kverrors"
	"github.com/mnohosten/slotkv/pkg/memtable"
	"github.com/mnohosten/slotkv/pkg/record"
	"github.com/mnohosten/slotkv/pkg/recordindex"
)

// Config controls the resources a Datastore allocates.
type Config struct {
	DataDir            string
	MemtableMaxBytes   int
	CompressionEnabled bool
}

// Datastore owns the index, the memtable manager, and the disktable
// manager for one shard, and is the only thing allowed to mutate any of
// them.
type Datastore struct {
	shard     string
	clock     *clock.Clock
	index     *recordindex.Index
	memtables *memtable.Manager
	disktable *disktable.Manager
}

// Open constructs a Datastore rooted at cfg.DataDir and runs
// RebuildIndexFromDisk so the index reflects whatever disktables already
// exist there.
func Open(shard string, cfg Config) (*Datastore, error) {
	dm, err := disktable.NewManager(cfg.DataDir, shard, cfg.CompressionEnabled)
	if err != nil {
		return nil, err
	}
	if err := dm.Init(); err != nil {
		return nil, err
	}

	maxBytes := cfg.MemtableMaxBytes
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}

	ds := &Datastore{
		shard:     shard,
		clock:     clock.New(),
		index:     recordindex.New(),
		memtables: memtable.NewManager(maxBytes),
		disktable: dm,
	}

	// Sync the clock past every timestamp already on disk before
	// rebuilding the index, so a post-restart write can never tie or
	// precede a recovered record.
	for _, t := range dm.ListTables() {
		ds.clock.Sync(t.Timestamp)
	}
	if err := ds.RebuildIndexFromDisk(); err != nil {
		return nil, err
	}
	return ds, nil
}

// removeReferenceFromStorage is the central reclaim primitive: it routes
// a metadata's pointer to whichever manager(s) own its storage and
// decrements accordingly. A Compacting pointer holds both a memtable and
// a disktable reference and both must be dropped.
func (ds *Datastore) removeReferenceFromStorage(meta record.RecordMetadata) {
	switch meta.Ptr.Kind {
	case record.PtrMemtable:
		ds.memtables.RemoveReferenceFromMemtable(meta.Ptr.Mem)
	case record.PtrDisktable:
		ds.disktable.RemoveReferenceFromStorage(meta.Ptr.Disk.Disktable)
	case record.PtrCompacting:
		ds.memtables.RemoveReferenceFromMemtable(meta.Ptr.Mem)
		ds.disktable.RemoveReferenceFromStorage(meta.Ptr.Disk.Disktable)
	}
}

// Set assigns record.Timestamp = clock.Now(), appends it (through
// TryEmplace when the existing index entry is a memtable pointer, which
// also appends), and upserts the index, decrementing whichever metadata
// loses the timestamp race.
func (ds *Datastore) Set(key record.Key, value []byte) error {
	return ds.write(key, value)
}

// Delete writes a tombstone for key: a zero-length value with a fresh
// timestamp, exactly like Set.
func (ds *Datastore) Delete(key record.Key) error {
	return ds.write(key, nil)
}

func (ds *Datastore) write(key record.Key, value []byte) error {
	ts := ds.clock.Now()
	r := record.Record{Key: key, Value: value, Timestamp: ts}

	existing, hasExisting := ds.index.Get(key.Hash)

	var ptr record.MemtablePointer
	var err error
	if hasExisting && existing.Ptr.Kind == record.PtrMemtable {
		ptr, err = ds.memtables.TryEmplace(existing.Ptr.Mem, r)
	} else {
		ptr, err = ds.memtables.Append(r)
	}
	if err != nil {
		return err
	}
	ds.memtables.AddReference(ptr)

	meta := record.MetadataFor(r)
	meta.Ptr = record.NewMemtablePtr(ptr)

	loser, hadLoser := ds.index.Update(meta)
	if hadLoser {
		ds.removeReferenceFromStorage(loser)
	}
	return nil
}

// Get resolves key through the index and fetches the winning record from
// whichever storage currently holds it. A Compacting pointer resolves
// from the memtable side, since that copy is guaranteed present and
// avoids a disk read.
func (ds *Datastore) Get(key record.Key) (record.Record, bool, error) {
	meta, ok := ds.index.Get(key.Hash)
	if !ok || meta.IsTombstone() {
		return record.Record{}, false, nil
	}

	switch meta.Ptr.Kind {
	case record.PtrMemtable:
		r, ok := ds.memtables.Get(meta.Ptr.Mem)
		if !ok {
			return record.Record{}, false, &kverrors.CorruptionError{Shard: ds.shard, Invariant: "index pointer did not resolve in memtable"}
		}
		return r, true, nil
	case record.PtrCompacting:
		r, ok := ds.memtables.Get(meta.Ptr.Mem)
		if !ok {
			return record.Record{}, false, &kverrors.CorruptionError{Shard: ds.shard, Invariant: "compacting index pointer did not resolve in memtable"}
		}
		return r, true, nil
	default: // record.PtrDisktable
		r, err := ds.disktable.Get(meta)
		if err != nil {
			return record.Record{}, false, err
		}
		return r, true, nil
	}
}

// FlushMemtable flushes one memtable (by id) to a new disktable. A no-op
// if the memtable is empty.
func (ds *Datastore) FlushMemtable(id uint16) error {
	unflushed := ds.memtables.GetAllUnflushedMemtables()
	var mt *memtable.Memtable
	for _, m := range unflushed {
		if m.ID == id {
			mt = m
			break
		}
	}
	if mt == nil {
		return nil
	}
	if mt.Len() == 0 {
		return nil
	}

	if err := ds.memtables.MarkFlushing(id); err != nil {
		return err
	}

	entries := mt.Records()
	timestamp := ds.clock.Now()
	table, metas, err := ds.disktable.FlushMemtable(timestamp, entries)
	if err != nil {
		return err
	}
	_ = table

	for _, meta := range metas {
		loser, hadLoser := ds.index.Update(meta)
		if hadLoser {
			ds.removeReferenceFromStorage(loser)
		}
	}

	if mt.References != 0 {
		return &kverrors.CorruptionError{Shard: ds.shard, Invariant: fmt.Sprintf("memtable %d has %d dangling references after flush", id, mt.References)}
	}
	ds.memtables.TruncateMemtable(id)
	return nil
}

// ForceFlush marks every Open memtable Flushable, then flushes every
// unflushed memtable in order.
func (ds *Datastore) ForceFlush() error {
	if err := ds.memtables.MarkCurrentFlushable(); err != nil {
		return err
	}
	for _, mt := range ds.memtables.GetAllUnflushedMemtables() {
		if mt.Status == memtable.Open {
			continue
		}
		if err := ds.FlushMemtable(mt.ID); err != nil {
			return err
		}
	}
	return nil
}

// FlushAllFlushableMemtables flushes only memtables already marked
// Flushable — the background flusher's steady-state operation.
func (ds *Datastore) FlushAllFlushableMemtables() error {
	for _, mt := range ds.memtables.GetAllFlushableMemtables() {
		if err := ds.FlushMemtable(mt.ID); err != nil {
			return err
		}
	}
	return nil
}

// RebuildIndexFromDisk reads every disktable's metadata and feeds it
// through the index, decrementing losers, until the index is consistent
// with the union of on-disk data. Called once at startup.
func (ds *Datastore) RebuildIndexFromDisk() error {
	for _, t := range ds.disktable.ListTables() {
		metas, err := ds.disktable.ReadAllMetadata(t.Name)
		if err != nil {
			return err
		}
		for _, meta := range metas {
			loser, hadLoser := ds.index.Update(meta)
			if hadLoser {
				ds.removeReferenceFromStorage(loser)
			}
		}
	}
	return nil
}

// MaybeRunOneReclaim asks the disktable manager for the best reclaim
// candidate and, if one exists, reclaims it.
func (ds *Datastore) MaybeRunOneReclaim() error {
	name, ok := ds.disktable.GetBestTableToReclaim()
	if !ok {
		return nil
	}
	return ds.ReclaimDisktable(name)
}

// ReclaimDisktable rewrites name's live records into the current
// memtable so the source file's references drain to zero and it becomes
// deletable. A hash whose index timestamp is strictly newer than the
// disk entry being scanned was already superseded and reclaimed once;
// it is skipped rather than decremented again.
func (ds *Datastore) ReclaimDisktable(name string) error {
	records, metas, err := ds.disktable.ReadAllData(name)
	if err != nil {
		return err
	}

	oldest, hasOldest := ds.disktable.GetOldestTable()

	for i, diskMeta := range metas {
		current, ok := ds.index.Get(diskMeta.Hash)
		if !ok {
			// Already superseded and removed from the index entirely
			// (e.g. collected as a tombstone by an earlier reclaim pass);
			// nothing to do for this physical entry.
			continue
		}

		if current.Timestamp > diskMeta.Timestamp {
			// This physical entry is a dead duplicate: either the index
			// already moved on to a newer write elsewhere, or this exact
			// entry lost a timestamp race that already decremented this
			// table's reference count once (in-batch dedup during the
			// flush that created it, or a later overwrite). Decrementing
			// again here would double-count, so this entry is silently
			// skipped rather than treated as a fresh loser.
			continue
		}

		r := records[i]
		isTombstone := r.IsTombstone()
		isOlderThanOldest := hasOldest && diskMeta.Timestamp < oldest.Timestamp
		if isTombstone && isOlderThanOldest {
			ds.index.Delete(diskMeta)
			ds.disktable.RemoveReferenceFromStorage(name)
			continue
		}

		memPtr, err := ds.memtables.Append(r)
		if err != nil {
			return err
		}
		ds.memtables.AddReference(memPtr)

		// The loser Update returns here is diskMeta itself (same hash,
		// same timestamp): the new Compacting pointer still holds a
		// reference to this exact disktable entry on its disk side, so
		// decrementing now would double-count it. The disk-side
		// reference drains later, through the ordinary flush path, when
		// the recompacted memtable is flushed and the Compacting pointer
		// is replaced by a pure Disktable one.
		newMeta := diskMeta
		newMeta.Ptr = record.NewCompactingPtr(diskMeta.Ptr.Disk, memPtr)
		ds.index.Update(newMeta)
	}

	return nil
}

// CleanUnusedDisktables unlinks every disktable whose references have
// drained to zero.
func (ds *Datastore) CleanUnusedDisktables() error {
	return ds.disktable.DeleteDisktablesMarkedForDeletion()
}

// Stats is the snapshot returned by GetStats.
type Stats struct {
	IndexLen      int                 `json:"index_len"`
	MemtableRefs  int                 `json:"memtable_refs"`
	DisktableRefs int                 `json:"disktable_refs"`
	AllRecords    int                 `json:"all_records"`
	Disktables    []disktable.Stats   `json:"disktables"`
}

// GetStats returns a point-in-time snapshot of the datastore's
// invariant-relevant counters.
func (ds *Datastore) GetStats() Stats {
	tables := ds.disktable.ListTables()
	stats := Stats{
		IndexLen:      ds.index.Len(),
		MemtableRefs:  ds.index.MemtableRefs(),
		DisktableRefs: ds.index.DiskRefs(),
		Disktables:    make([]disktable.Stats, 0, len(tables)),
	}

	allRecords := 0
	for _, mt := range ds.memtables.GetAllUnflushedMemtables() {
		allRecords += mt.Len()
	}
	for _, t := range tables {
		allRecords += int(t.Count)
		stats.Disktables = append(stats.Disktables, disktable.Stats{
			Name:       t.Name,
			Count:      t.Count,
			References: t.References,
			Status:     t.Status.String(),
			UsageRatio: t.UsageRatio(),
		})
	}
	stats.AllRecords = allRecords
	return stats
}

// AssertNotCorrupted checks invariants 2 and 3 from the data model:
// index.len() == memtable_refs + disktable_refs, and all_records >=
// index.len(). Invariant 1 (one metadata per hash) is structural — a Go
// map cannot violate it.
func (ds *Datastore) AssertNotCorrupted() error {
	stats := ds.GetStats()
	if stats.IndexLen != stats.MemtableRefs+stats.DisktableRefs {
		return &kverrors.CorruptionError{
			Shard:     ds.shard,
			Invariant: fmt.Sprintf("index.len()=%d != memtable_refs(%d)+disktable_refs(%d)", stats.IndexLen, stats.MemtableRefs, stats.DisktableRefs),
		}
	}
	if stats.AllRecords < stats.IndexLen {
		return &kverrors.CorruptionError{
			Shard:     ds.shard,
			Invariant: fmt.Sprintf("all_records(%d) < index.len()(%d)", stats.AllRecords, stats.IndexLen),
		}
	}
	return nil
}
