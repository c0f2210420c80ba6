// Package dispatch implements the stateful per-reactor dispatch proxy:
// it owns a shard_id -> shard map, tracks the current topology, and
// routes commands to the local shard that owns their slot or reports
// that the command belongs elsewhere.
package dispatch

import (
	"sync"

	"github.com/mnohosten/slotkv/pkg/command"
	"github.com/mnohosten/slotkv/pkg/datastore"
	"github.com/mnohosten/slotkv/pkg/kverrors"
	"github.com/mnohosten/slotkv/pkg/record"
	"github.com/mnohosten/slotkv/pkg/shard"
	"github.com/mnohosten/slotkv/pkg/topology"
)

// Proxy is one reactor's dispatch proxy.
type Proxy struct {
	mu         sync.RWMutex
	reactorID  uint8
	dataDir    string
	cfg        datastore.Config
	topo       *topology.Topology
	shards     map[int]*shard.Shard // keyed by range-start
}

// New returns a Proxy for reactorID rooted at dataDir. No shards are
// owned until ApplyNewTopology runs.
func New(reactorID uint8, dataDir string, cfg datastore.Config) *Proxy {
	return &Proxy{
		reactorID: reactorID,
		dataDir:   dataDir,
		cfg:       cfg,
		shards:    make(map[int]*shard.Shard),
	}
}

// ApplyNewTopology diffs the reactor's currently owned range-starts
// against t's allocation for this reactor: newly-owned range-starts get
// a fresh Shard opened under dataDir/{range_start}/; no-longer-owned
// range-starts have their in-memory Shard handle dropped. Dropping never
// migrates the shard's on-disk data anywhere else.
func (p *Proxy) ApplyNewTopology(t *topology.Topology) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	wanted := make(map[int]bool)
	for _, rs := range t.RangeStartsForReactor(p.reactorID) {
		wanted[rs] = true
	}

	for rs := range wanted {
		if _, ok := p.shards[rs]; ok {
			continue
		}
		s, err := shard.Open(p.dataDir, rs, p.cfg)
		if err != nil {
			return err
		}
		p.shards[rs] = s
	}

	for rs, s := range p.shards {
		if !wanted[rs] {
			s.Close()
			delete(p.shards, rs)
		}
	}

	p.topo = t
	return nil
}

// Dispatch routes cmd to the shard owning its slot. If the local reactor
// does not own that slot, a StatusMoved response is returned pointing at
// nothing in particular — callers with cluster topology knowledge should
// resolve the redirect target themselves (see pkg/clusterrpc).
func (p *Proxy) Dispatch(cmd command.Command) command.Response {
	p.mu.RLock()
	topo := p.topo
	p.mu.RUnlock()

	if topo == nil {
		return command.Error(kverrors.ErrShardNotReady)
	}

	if cmd.Kind == command.KindClusterJoin {
		return command.Error(kverrors.ErrWrongShard)
	}

	slot := cmd.GetSlot()
	ownerID, ok := topo.OwnerOf(slot)
	if !ok || ownerID != p.reactorID {
		return command.Moved("")
	}

	rangeStart := topology.ComputeShardID(slot, topo.ShardCount)

	p.mu.RLock()
	s, ok := p.shards[rangeStart]
	p.mu.RUnlock()
	if !ok {
		return command.Error(kverrors.ErrWrongShard)
	}

	return p.dispatchLocal(s, cmd)
}

func (p *Proxy) dispatchLocal(s *shard.Shard, cmd command.Command) command.Response {
	key := record.NewKey(cmd.Key)

	switch cmd.Kind {
	case command.KindGet:
		r, ok, err := s.Get(key)
		if err != nil {
			return command.Error(err)
		}
		if !ok {
			return command.NotFound()
		}
		return command.OK(r.Value)
	case command.KindSet:
		if err := s.Set(key, cmd.Value); err != nil {
			return command.Error(err)
		}
		return command.OK(nil)
	case command.KindDelete:
		if err := s.Delete(key); err != nil {
			return command.Error(err)
		}
		return command.OK(nil)
	default:
		return command.Error(kverrors.ErrWrongShard)
	}
}

// Shards returns every shard currently owned by this reactor, for the
// admin stats surface.
func (p *Proxy) Shards() []*shard.Shard {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*shard.Shard, 0, len(p.shards))
	for _, s := range p.shards {
		out = append(out, s)
	}
	return out
}
