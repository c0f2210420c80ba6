package topology

import "testing"

func TestNewRejectsNonDivisorShardCount(t *testing.T) {
	if _, err := New(17, []Reactor{NewReactor(0, "127.0.0.1", 6400)}); err == nil {
		t.Fatal("expected an error for a shard_count that does not divide MAX_RANGE")
	}
}

func TestRoundRobinAssignment(t *testing.T) {
	reactors := []Reactor{NewReactor(0, "127.0.0.1", 6400), NewReactor(1, "127.0.0.1", 6401)}
	topo, err := New(4, reactors)
	if err != nil {
		t.Fatal(err)
	}
	if got := topo.RangeStartsForReactor(0); len(got) != 2 {
		t.Fatalf("expected reactor 0 to own 2 shards, got %v", got)
	}
	if got := topo.RangeStartsForReactor(1); len(got) != 2 {
		t.Fatalf("expected reactor 1 to own 2 shards, got %v", got)
	}
}

func TestComputeShardIDMatchesRangeStart(t *testing.T) {
	totalShards := 4
	w := MaxRange / totalShards
	for _, slot := range []uint16{0, uint16(w - 1), uint16(w), uint16(w + 1), uint16(MaxRange - 1)} {
		start := ComputeShardID(slot, totalShards)
		if start < 0 || start%w != 0 || int(slot) < start || int(slot) >= start+w {
			t.Fatalf("slot %d resolved to invalid range-start %d (w=%d)", slot, start, w)
		}
	}
}

func TestOwnerOfMatchesTopology(t *testing.T) {
	reactors := []Reactor{NewReactor(0, "127.0.0.1", 6400), NewReactor(1, "127.0.0.1", 6401)}
	topo, err := New(16384, reactors)
	if err != nil {
		t.Fatal(err)
	}
	owner, ok := topo.OwnerOf(0)
	if !ok {
		t.Fatal("expected slot 0 to have an owner")
	}
	if owner != 0 && owner != 1 {
		t.Fatalf("unexpected owner %d", owner)
	}
}

func TestSlotIsStableAndInRange(t *testing.T) {
	s1 := Slot([]byte("hello"))
	s2 := Slot([]byte("hello"))
	if s1 != s2 {
		t.Fatal("expected Slot to be deterministic")
	}
	if s1 >= MaxRange {
		t.Fatalf("slot %d out of range", s1)
	}
}
