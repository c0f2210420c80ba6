// Package disktable implements the immutable on-disk segments a shard's
// memtables flush into, and the manager that owns them: creation,
// reference-counted reads, reclaim candidate selection, and deletion.
package disktable

// Status is a disktable's lifecycle state.
type Status int

const (
	// Active disktables are eligible for reads and reclaim selection.
	Active Status = iota
	// PendingReclaimFlush disktables have been chosen for reclaim; their
	// remaining live entries are being migrated to a memtable. Excluded
	// from further reclaim selection.
	PendingReclaimFlush
	// PendingDeletion disktables have zero live references and are
	// waiting for the cleaner to remove their file.
	PendingDeletion
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case PendingReclaimFlush:
		return "pending_reclaim_flush"
	case PendingDeletion:
		return "pending_deletion"
	default:
		return "unknown"
	}
}

// DiskTable is one immutable segment file plus its metadata.
type DiskTable struct {
	Name       string
	Path       string
	Timestamp  uint64
	Count      uint16
	References uint16
	Status     Status
}

// UsageRatio is live references divided by physical record count. A
// table below the configured target usage ratio is a reclaim candidate.
func (t *DiskTable) UsageRatio() float64 {
	if t.Count == 0 {
		return 1
	}
	return float64(t.References) / float64(t.Count)
}

// Stats is the per-table snapshot exposed by Datastore.GetStats.
type Stats struct {
	Name       string  `json:"name"`
	Count      uint16  `json:"count"`
	References uint16  `json:"references"`
	Status     string  `json:"status"`
	UsageRatio float64 `json:"usage_ratio"`
}
