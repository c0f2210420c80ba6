package shard

import (
	"testing"
	"time"

	"github.com/mnohosten/slotkv/pkg/datastore"
	"github.com/mnohosten/slotkv/pkg/record"
)

func TestOpenSetGetAndClose(t *testing.T) {
	s, err := Open(t.TempDir(), 0, datastore.Config{MemtableMaxBytes: 4 << 20})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	key := record.NewKey("alpha")
	if err := s.Set(key, []byte("1")); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(got.Value) != "1" {
		t.Fatalf("unexpected result: %+v ok=%v", got, ok)
	}
}

func TestStatsLoopPopulatesSample(t *testing.T) {
	s, err := Open(t.TempDir(), 0, datastore.Config{MemtableMaxBytes: 4 << 20})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	key := record.NewKey("alpha")
	if err := s.Set(key, []byte("1")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().IndexLen == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected the stats loop to observe the written key within the deadline")
}
