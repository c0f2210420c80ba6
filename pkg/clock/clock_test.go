package clock

import "testing"

func TestNowStrictlyIncreasing(t *testing.T) {
	c := New()
	prev := c.Now()
	for i := 0; i < 10000; i++ {
		next := c.Now()
		if next <= prev {
			t.Fatalf("clock went backwards or stalled: prev=%d next=%d", prev, next)
		}
		prev = next
	}
}

func TestSyncPastIsNoop(t *testing.T) {
	c := New()
	first := c.Now()
	c.Sync(1) // clearly in the past relative to a real timestamp
	if got := c.Last(); got != first {
		t.Fatalf("sync in the past should not have jumped the clock: first=%d last=%d", first, got)
	}
	second := c.Now()
	if second <= first {
		t.Fatalf("expected second > first, got first=%d second=%d", first, second)
	}
}

func TestSyncFutureJumpsForward(t *testing.T) {
	c := New()
	first := c.Now()
	future := first + 1_000_000
	c.Sync(future)
	if got := c.Last(); got != future+1 {
		t.Fatalf("expected sync to jump clock to future+1=%d, got %d", future+1, got)
	}
	second := c.Now()
	if second != future+2 {
		t.Fatalf("expected the first Now after sync to return future+2=%d, got %d", future+2, second)
	}
}
