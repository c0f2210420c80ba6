package disktable

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/mnohosten/slotkv/pkg/kverrors"
	"github.com/mnohosten/slotkv/pkg/record"
)

// targetUsageRatio is the live-reference-to-entry-count floor below which
// a disktable becomes a reclaim candidate.
const targetUsageRatio = 0.5

// Manager owns every disktable for one shard: the directory they live in,
// optional value compression, and the in-memory table registry that
// mirrors what's on disk. Like memtable.Manager, it is only ever driven
// from its shard's own single-threaded scheduler.
type Manager struct {
	mu                 sync.Mutex
	dir                string
	shard              string
	compressionEnabled bool
	encoder            *zstd.Encoder
	decoder            *zstd.Decoder
	tables             map[string]*DiskTable
}

// NewManager returns a Manager rooted at dir. When compressionEnabled is
// true, values are zstd-compressed on flush and transparently decompressed
// on read; the flag is purely a write-time choice — readEntry always
// checks the compressed bit per-entry, so a shard can change the setting
// across restarts and still read older tables correctly.
func NewManager(dir, shard string, compressionEnabled bool) (*Manager, error) {
	m := &Manager{
		dir:                dir,
		shard:              shard,
		compressionEnabled: compressionEnabled,
		tables:             make(map[string]*DiskTable),
	}
	if compressionEnabled {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("disktable: init zstd encoder: %w", err)
		}
		m.encoder = enc
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("disktable: init zstd decoder: %w", err)
	}
	m.decoder = dec
	return m, nil
}

// Init scans dir for existing disktable files and registers them. Called
// once at shard startup before RebuildIndexFromDisk.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return &kverrors.IoError{Shard: m.shard, Op: "mkdir", Err: err}
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return &kverrors.IoError{Shard: m.shard, Op: "readdir", Err: err}
	}

	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".data" {
			continue
		}
		name := ent.Name()
		path := filepath.Join(m.dir, name)
		f, err := os.Open(path)
		if err != nil {
			return &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "open", Err: err}
		}
		count, timestamp, err := readHeader(f)
		f.Close()
		if err != nil {
			return &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "read header", Err: err}
		}
		m.tables[name] = &DiskTable{
			Name:      name,
			Path:      path,
			Timestamp: timestamp,
			Count:     count,
			Status:    Active,
		}
	}
	return nil
}

// tableName matches the persisted layout's {timestamp}-v1.data naming.
// The clock's monotonic guarantee (strictly increasing on every call)
// means two flushes of the same shard never collide on a timestamp.
func (m *Manager) tableName(timestamp uint64) string {
	return fmt.Sprintf("%020d-v1.data", timestamp)
}

func (m *Manager) encode(value []byte) ([]byte, bool) {
	if !m.compressionEnabled || len(value) == 0 {
		return value, false
	}
	return m.encoder.EncodeAll(value, nil), true
}

func (m *Manager) decode(raw rawEntry) ([]byte, error) {
	if !raw.Compressed {
		return raw.Value, nil
	}
	out, err := m.decoder.DecodeAll(raw.Value, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FlushMemtable writes entries out as a new immutable disktable, in the
// order given (callers pass the memtable's records, which are already in
// append order). Returns the new table and the RecordMetadata for each
// written entry, Ptr pointing at this table — the caller (datastore) is
// responsible for running these through the index and discarding any
// that lose the timestamp race to a newer write made during the flush.
func (m *Manager) FlushMemtable(timestamp uint64, entries []record.Record) (*DiskTable, []record.RecordMetadata, error) {
	if len(entries) == 0 {
		return nil, nil, nil
	}

	m.mu.Lock()
	name := m.tableName(timestamp)
	path := filepath.Join(m.dir, name)
	m.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "create", Err: err}
	}
	defer f.Close()

	if err := writeHeader(f, uint16(len(entries)), timestamp); err != nil {
		return nil, nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "write header", Err: err}
	}

	metas := make([]record.RecordMetadata, 0, len(entries))
	offset := uint32(HeaderSize)
	for _, r := range entries {
		onDisk, compressed := m.encode(r.Value)
		n, err := writeEntry(f, r.Key.Raw, onDisk, r.Timestamp, compressed)
		if err != nil {
			return nil, nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "write entry", Err: err}
		}
		meta := record.MetadataFor(r)
		meta.Ptr = record.NewDiskPtr(record.DiskPointer{Disktable: name, Offset: offset})
		metas = append(metas, meta)
		offset += uint32(n)
	}
	if err := f.Sync(); err != nil {
		return nil, nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "fsync", Err: err}
	}

	table := &DiskTable{
		Name:      name,
		Path:      path,
		Timestamp: timestamp,
		Count:     uint16(len(entries)),
		Status:    Active,
	}

	m.mu.Lock()
	m.tables[name] = table
	m.mu.Unlock()

	// Seed one reference per emitted record — mirrors ReadAllMetadata's
	// bump on rebuild, so callers only ever decrement the losers that
	// index.Update reports rather than separately tracking initial counts.
	for range metas {
		m.AddReferenceToStorage(name)
	}

	return table, metas, nil
}

// Get reads the single record addressed by meta.Ptr.Disk.
func (m *Manager) Get(meta record.RecordMetadata) (record.Record, error) {
	if meta.Ptr.Kind == record.PtrMemtable {
		return record.Record{}, fmt.Errorf("disktable.Get: metadata does not address a disktable")
	}
	ptr := meta.Ptr.Disk

	m.mu.Lock()
	table, ok := m.tables[ptr.Disktable]
	m.mu.Unlock()
	if !ok {
		return record.Record{}, &kverrors.IoError{Shard: m.shard, Disktable: ptr.Disktable, Op: "get", Err: os.ErrNotExist}
	}

	f, err := os.Open(table.Path)
	if err != nil {
		return record.Record{}, &kverrors.IoError{Shard: m.shard, Disktable: ptr.Disktable, Op: "open", Err: err}
	}
	defer f.Close()

	if _, err := f.Seek(int64(ptr.Offset), 0); err != nil {
		return record.Record{}, &kverrors.IoError{Shard: m.shard, Disktable: ptr.Disktable, Op: "seek", Err: err}
	}
	raw, err := readEntry(f)
	if err != nil {
		return record.Record{}, &kverrors.IoError{Shard: m.shard, Disktable: ptr.Disktable, Op: "read entry", Err: err}
	}
	value, err := m.decode(raw)
	if err != nil {
		return record.Record{}, &kverrors.IoError{Shard: m.shard, Disktable: ptr.Disktable, Op: "decompress", Err: err}
	}
	return record.Record{
		Key:       record.NewKey(raw.Key),
		Value:     value,
		Timestamp: raw.Timestamp,
	}, nil
}

// RemoveReferenceFromStorage decrements the live-reference count of the
// named disktable. References never underflow. A table reaching zero
// references is marked PendingDeletion.
func (m *Manager) RemoveReferenceFromStorage(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[name]
	if !ok {
		return
	}
	if t.References > 0 {
		t.References--
	}
	if t.References == 0 && (t.Status == Active || t.Status == PendingReclaimFlush) {
		t.Status = PendingDeletion
	}
}

// AddReferenceToStorage increments the named disktable's live-reference
// count, undoing a PendingDeletion marking if one raced ahead of a new
// reader (e.g. a flush's metadata being seeded into the index).
func (m *Manager) AddReferenceToStorage(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[name]
	if !ok {
		return
	}
	t.References++
	if t.Status == PendingDeletion {
		t.Status = Active
	}
}

// ReadAllMetadata reads every entry's header fields from the named table
// without reading value bytes into memory twice — used by
// RebuildIndexFromDisk at startup. Bumps the table's reference count by
// the number of entries emitted; the caller then feeds each metadata
// through the index and decrements the losers, leaving references equal
// to the count of entries that are still canonical.
func (m *Manager) ReadAllMetadata(name string) ([]record.RecordMetadata, error) {
	m.mu.Lock()
	table, ok := m.tables[name]
	m.mu.Unlock()
	if !ok {
		return nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "read all metadata", Err: os.ErrNotExist}
	}

	f, err := os.Open(table.Path)
	if err != nil {
		return nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "open", Err: err}
	}
	defer f.Close()

	count, timestamp, err := readHeader(f)
	if err != nil {
		return nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "read header", Err: err}
	}
	_ = timestamp

	metas := make([]record.RecordMetadata, 0, count)
	offset := uint32(HeaderSize)
	for i := uint16(0); i < count; i++ {
		raw, err := readEntry(f)
		if err != nil {
			return nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "read entry", Err: err}
		}
		value, err := m.decode(raw)
		if err != nil {
			return nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "decompress", Err: err}
		}
		key := record.NewKey(raw.Key)
		metas = append(metas, record.RecordMetadata{
			KeySize:   uint16(len(raw.Key)),
			ValueSize: uint32(len(value)),
			Timestamp: raw.Timestamp,
			Hash:      key.Hash,
			Ptr:       record.NewDiskPtr(record.DiskPointer{Disktable: name, Offset: offset}),
		})
		offset += raw.onDiskSize()
	}
	for range metas {
		m.AddReferenceToStorage(name)
	}
	return metas, nil
}

// ReadAllData reads every entry's key, value, and timestamp from the
// named table, alongside its RecordMetadata — used by reclaim to
// re-append a table's live entries into a memtable.
func (m *Manager) ReadAllData(name string) ([]record.Record, []record.RecordMetadata, error) {
	m.mu.Lock()
	table, ok := m.tables[name]
	m.mu.Unlock()
	if !ok {
		return nil, nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "read all data", Err: os.ErrNotExist}
	}

	f, err := os.Open(table.Path)
	if err != nil {
		return nil, nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "open", Err: err}
	}
	defer f.Close()

	count, _, err := readHeader(f)
	if err != nil {
		return nil, nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "read header", Err: err}
	}

	records := make([]record.Record, 0, count)
	metas := make([]record.RecordMetadata, 0, count)
	offset := uint32(HeaderSize)
	for i := uint16(0); i < count; i++ {
		raw, err := readEntry(f)
		if err != nil {
			return nil, nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "read entry", Err: err}
		}
		value, err := m.decode(raw)
		if err != nil {
			return nil, nil, &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "decompress", Err: err}
		}
		key := record.NewKey(raw.Key)
		records = append(records, record.Record{Key: key, Value: value, Timestamp: raw.Timestamp})
		metas = append(metas, record.RecordMetadata{
			KeySize:   uint16(len(raw.Key)),
			ValueSize: uint32(len(value)),
			Timestamp: raw.Timestamp,
			Hash:      key.Hash,
			Ptr:       record.NewDiskPtr(record.DiskPointer{Disktable: name, Offset: offset}),
		})
		offset += raw.onDiskSize()
	}
	return records, metas, nil
}

// GetBestTableToReclaim returns the Active table with the lowest usage
// ratio, provided it's below targetUsageRatio, preferring the oldest
// table on ties. Returns ok=false if nothing qualifies, and always when
// fewer than two tables are registered.
func (m *Manager) GetBestTableToReclaim() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tables) < 2 {
		return "", false
	}

	var best *DiskTable
	for _, t := range m.tables {
		if t.Status != Active {
			continue
		}
		if t.UsageRatio() >= targetUsageRatio {
			continue
		}
		if best == nil || t.UsageRatio() < best.UsageRatio() ||
			(t.UsageRatio() == best.UsageRatio() && t.Timestamp < best.Timestamp) {
			best = t
		}
	}
	if best == nil {
		return "", false
	}
	best.Status = PendingReclaimFlush
	return best.Name, true
}

// GetDisktablesMarkedForDeletion returns the names of tables with zero
// live references, ready to be unlinked from disk.
func (m *Manager) GetDisktablesMarkedForDeletion() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for name, t := range m.tables {
		if t.Status == PendingDeletion {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DeleteDisktablesMarkedForDeletion unlinks every PendingDeletion table's
// file and drops it from the registry. Errors for individual files are
// collected but do not stop the sweep.
func (m *Manager) DeleteDisktablesMarkedForDeletion() error {
	names := m.GetDisktablesMarkedForDeletion()
	var firstErr error
	for _, name := range names {
		m.mu.Lock()
		t, ok := m.tables[name]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if err := os.Remove(t.Path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = &kverrors.IoError{Shard: m.shard, Disktable: name, Op: "remove", Err: err}
			}
			continue
		}
		m.mu.Lock()
		delete(m.tables, name)
		m.mu.Unlock()
	}
	return firstErr
}

// ListTables returns every registered table, oldest first.
func (m *Manager) ListTables() []*DiskTable {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*DiskTable, 0, len(m.tables))
	for _, t := range m.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// GetOldestTable returns the table with the smallest timestamp, or
// ok=false if there are none.
func (m *Manager) GetOldestTable() (*DiskTable, bool) {
	tables := m.ListTables()
	if len(tables) == 0 {
		return nil, false
	}
	return tables[0], true
}

// Truncate removes every disktable file and clears the registry.
func (m *Manager) Truncate() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	m.mu.Unlock()

	var firstErr error
	for _, name := range names {
		m.mu.Lock()
		t := m.tables[name]
		m.mu.Unlock()
		if t == nil {
			continue
		}
		if err := os.Remove(t.Path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	m.mu.Lock()
	m.tables = make(map[string]*DiskTable)
	m.mu.Unlock()
	return firstErr
}
