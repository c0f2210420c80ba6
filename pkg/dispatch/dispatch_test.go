package dispatch

import (
	"testing"

	"github.com/mnohosten/slotkv/pkg/command"
	"github.com/mnohosten/slotkv/pkg/datastore"
	"github.com/mnohosten/slotkv/pkg/topology"
)

func TestDispatchBeforeTopologyIsNotReady(t *testing.T) {
	p := New(0, t.TempDir(), datastore.Config{MemtableMaxBytes: 4 << 20})
	resp := p.Dispatch(command.Get("alpha"))
	if resp.Status != command.StatusError {
		t.Fatalf("expected an error response before topology is applied, got %+v", resp)
	}
}

func TestApplyTopologyThenSetGet(t *testing.T) {
	p := New(0, t.TempDir(), datastore.Config{MemtableMaxBytes: 4 << 20})
	topo, err := topology.New(1, []topology.Reactor{topology.NewReactor(0, "127.0.0.1", 6400)})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.ApplyNewTopology(topo); err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, s := range p.Shards() {
			s.Close()
		}
	}()

	if resp := p.Dispatch(command.Set("alpha", []byte("1"))); resp.Status != command.StatusOK {
		t.Fatalf("unexpected set response: %+v", resp)
	}
	resp := p.Dispatch(command.Get("alpha"))
	if resp.Status != command.StatusOK || string(resp.Value) != "1" {
		t.Fatalf("unexpected get response: %+v", resp)
	}
}

func TestDispatchMovedForUnownedSlot(t *testing.T) {
	// a topology with 2 reactors and 2 shards, applied to the proxy for
	// reactor 1, so reactor 0's range is not owned locally.
	topo, err := topology.New(2, []topology.Reactor{
		topology.NewReactor(0, "127.0.0.1", 6400),
		topology.NewReactor(1, "127.0.0.1", 6401),
	})
	if err != nil {
		t.Fatal(err)
	}
	p2 := New(1, t.TempDir(), datastore.Config{MemtableMaxBytes: 4 << 20})
	if err := p2.ApplyNewTopology(topo); err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, s := range p2.Shards() {
			s.Close()
		}
	}()

	// find a key whose slot is NOT owned by reactor 1
	var key string
	for _, candidate := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		slot := topology.Slot([]byte(candidate))
		owner, _ := topo.OwnerOf(slot)
		if owner != 1 {
			key = candidate
			break
		}
	}
	if key == "" {
		t.Skip("could not find a key outside reactor 1's ownership in this sample")
	}
	resp := p2.Dispatch(command.Get(key))
	if resp.Status != command.StatusMoved {
		t.Fatalf("expected a moved response, got %+v", resp)
	}
}
