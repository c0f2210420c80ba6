package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnohosten/slotkv/pkg/admin"
	"github.com/mnohosten/slotkv/pkg/clusterrpc"
	"github.com/mnohosten/slotkv/pkg/command"
	"github.com/mnohosten/slotkv/pkg/datastore"
	"github.com/mnohosten/slotkv/pkg/dispatch"
	"github.com/mnohosten/slotkv/pkg/shard"
	"github.com/mnohosten/slotkv/pkg/topology"
)

func main() {
	shardCount := flag.Int("shards", 8, "total hash shards (must divide 16384)")
	reactorCount := flag.Int("reactors", 2, "number of reactor workers")
	dataDir := flag.String("data-directory", "./data/", "data directory for persisted segments")
	clusterAddr := flag.String("cluster-addr", "127.0.0.1:6381", "cluster-join gRPC bind address")
	adminAddr := flag.String("admin-addr", "127.0.0.1:6380", "admin HTTP surface bind address")
	adminTokenPassphrase := flag.String("admin-token-passphrase", "", "passphrase gating the admin surface; empty disables authenticated routes")
	compression := flag.Bool("compression", false, "enable zstd compression of disktable values")
	flag.Parse()

	cfg := datastore.Config{CompressionEnabled: *compression}

	node, err := newNode(*shardCount, *reactorCount, *dataDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start reactors: %v\n", err)
		os.Exit(1)
	}
	defer node.Close()

	clusterSrv, err := clusterrpc.NewServer(clusterrpc.ServerConfig{Addr: *clusterAddr}, node)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start cluster-join listener: %v\n", err)
		os.Exit(1)
	}
	go func() {
		if err := clusterSrv.Serve(); err != nil {
			fmt.Fprintf(os.Stderr, "cluster-join listener stopped: %v\n", err)
		}
	}()
	defer clusterSrv.Stop()

	adminSrv := admin.New(node, admin.Config{TokenPassphrase: *adminTokenPassphrase})
	httpSrv := &http.Server{Addr: *adminAddr, Handler: adminSrv.Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "admin surface stopped: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
}

// node is a single process's reactor set: one dispatch.Proxy per reactor,
// all sharing one topology, all opened against the same data directory.
// Cluster membership is a placeholder — HandleJoin only reports the
// topology this process already has, it never admits the joining
// reactor into it.
type node struct {
	topo    *topology.Topology
	proxies map[uint8]*dispatch.Proxy
}

func newNode(shardCount, reactorCount int, dataDir string, cfg datastore.Config) (*node, error) {
	reactors := make([]topology.Reactor, reactorCount)
	for i := range reactors {
		reactors[i] = topology.NewReactor(uint8(i), "127.0.0.1", 0)
	}

	topo, err := topology.New(shardCount, reactors)
	if err != nil {
		return nil, fmt.Errorf("building topology: %w", err)
	}

	n := &node{topo: topo, proxies: make(map[uint8]*dispatch.Proxy, reactorCount)}
	for _, r := range reactors {
		p := dispatch.New(r.ID, dataDir, cfg)
		if err := p.ApplyNewTopology(topo); err != nil {
			return nil, fmt.Errorf("opening shards for reactor %d: %w", r.ID, err)
		}
		n.proxies[r.ID] = p
	}
	return n, nil
}

// Dispatch resolves the owning reactor for cmd's slot and routes to its
// proxy directly; every reactor is local to this process so there is no
// Moved hop to follow.
func (n *node) Dispatch(cmd command.Command) command.Response {
	if cmd.Kind == command.KindClusterJoin {
		return command.Error(fmt.Errorf("cluster join is handled over clusterrpc, not Dispatch"))
	}
	slot := cmd.GetSlot()
	ownerID, ok := n.topo.OwnerOf(slot)
	if !ok {
		return command.Moved("")
	}
	p, ok := n.proxies[ownerID]
	if !ok {
		return command.Moved("")
	}
	return p.Dispatch(cmd)
}

// Shards satisfies admin.ShardLister across every reactor this process
// runs.
func (n *node) Shards() []*shard.Shard {
	var out []*shard.Shard
	for _, p := range n.proxies {
		out = append(out, p.Shards()...)
	}
	return out
}

// HandleJoin satisfies clusterrpc.JoinHandler. It reports this process's
// current topology without modifying it — see the node doc comment.
func (n *node) HandleJoin(ctx context.Context, addr string) (clusterrpc.TopologySnapshot, error) {
	snapshot := clusterrpc.TopologySnapshot{ShardCount: n.topo.ShardCount}
	for _, rs := range n.topo.RangeStarts() {
		ownerID, ok := n.topo.OwnerOf(uint16(rs))
		if !ok {
			continue
		}
		snapshot.Reactors = append(snapshot.Reactors, clusterrpc.ReactorInfo{ID: ownerID})
	}
	return snapshot, nil
}

func (n *node) Close() {
	for _, p := range n.proxies {
		for _, s := range p.Shards() {
			s.Close()
		}
	}
}
