package clusterrpc

import (
	"context"
	"testing"
	"time"
)

type fakeHandler struct {
	snapshot TopologySnapshot
}

func (h *fakeHandler) HandleJoin(ctx context.Context, addr string) (TopologySnapshot, error) {
	return h.snapshot, nil
}

func TestJoinRoundTrip(t *testing.T) {
	handler := &fakeHandler{snapshot: TopologySnapshot{
		ShardCount: 4,
		Reactors: []ReactorInfo{
			{NodeID: "11111111-1111-1111-1111-111111111111", ID: 0, IP: "127.0.0.1", Port: 6400},
		},
	}}

	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, handler)
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve()
	defer srv.Stop()

	client, err := Dial(srv.Addr(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := client.Join(ctx, "127.0.0.1:6500")
	if err != nil {
		t.Fatal(err)
	}
	if got.ShardCount != 4 || len(got.Reactors) != 1 {
		t.Fatalf("unexpected topology snapshot: %+v", got)
	}
}
