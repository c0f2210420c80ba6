package memtable

import (
	"testing"

	"github.com/mnohosten/slotkv/pkg/record"
)

func rec(key, value string) record.Record {
	return record.Record{Key: record.NewKey(key), Value: []byte(value), Timestamp: 1}
}

func TestAppendStaysInCurrentUntilBudgetExceeded(t *testing.T) {
	m := NewManager(1024)
	p1, err := m.Append(rec("a", "1"))
	if err != nil {
		t.Fatal(err)
	}
	p2, err := m.Append(rec("b", "2"))
	if err != nil {
		t.Fatal(err)
	}
	if p1.Memtable != p2.Memtable {
		t.Fatalf("expected both appends to land in the same memtable, got %d and %d", p1.Memtable, p2.Memtable)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 live memtable, got %d", m.Len())
	}
}

func TestAppendRollsOverOnByteBudget(t *testing.T) {
	small := entrySize(rec("key", "value"))
	m := NewManager(small)

	p1, err := m.Append(rec("key", "value"))
	if err != nil {
		t.Fatal(err)
	}
	// second append must exceed the budget and roll to a new memtable
	p2, err := m.Append(rec("key2", "value2"))
	if err != nil {
		t.Fatal(err)
	}
	if p1.Memtable == p2.Memtable {
		t.Fatal("expected the second append to roll over to a new memtable")
	}

	first := m.slabs[p1.Memtable]
	if first.Status != Flushable {
		t.Fatalf("expected the first memtable to become Flushable, got %s", first.Status)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 live memtables after rollover, got %d", m.Len())
	}
}

func TestMarkFlushingReplacesCurrent(t *testing.T) {
	m := NewManager(1024)
	cur := m.CurrentID()
	if err := m.MarkFlushing(cur); err != nil {
		t.Fatal(err)
	}
	if m.CurrentID() == cur {
		t.Fatal("expected a new current memtable after marking the old one flushing")
	}
	if m.slabs[cur].Status != Flushing {
		t.Fatalf("expected Flushing status, got %s", m.slabs[cur].Status)
	}
}

func TestTruncateReturnsSlotToFreeList(t *testing.T) {
	m := NewManager(1024)
	firstID := m.CurrentID()
	if err := m.MarkFlushing(firstID); err != nil {
		t.Fatal(err)
	}
	m.TruncateMemtable(firstID)
	if m.Len() != 1 {
		t.Fatalf("expected 1 live memtable after truncating the old one, got %d", m.Len())
	}

	// the next allocation (via another MarkFlushing on current) should reuse the freed slot
	newCur := m.CurrentID()
	if err := m.MarkFlushing(newCur); err != nil {
		t.Fatal(err)
	}
	if m.CurrentID() != firstID {
		t.Fatalf("expected the free-list to hand back slot %d, got %d", firstID, m.CurrentID())
	}
}

func TestReferenceCountingNeverUnderflows(t *testing.T) {
	m := NewManager(1024)
	ptr, _ := m.Append(rec("a", "1"))
	m.RemoveReferenceFromMemtable(ptr)
	m.RemoveReferenceFromMemtable(ptr) // extra decrement must not panic or go negative
	if m.slabs[ptr.Memtable].References != 0 {
		t.Fatalf("expected references to clamp at 0, got %d", m.slabs[ptr.Memtable].References)
	}
}

func TestGetInvalidAfterTruncate(t *testing.T) {
	m := NewManager(1024)
	ptr, _ := m.Append(rec("a", "1"))
	id := ptr.Memtable
	m.MarkFlushing(id)
	m.TruncateMemtable(id)

	if _, ok := m.Get(ptr); ok {
		t.Fatal("expected Get to fail after truncation")
	}
}
