// Package shard implements the per-shard supervisor: it owns one
// datastore rooted at a directory named after its range-start, and runs
// a single scheduler goroutine that multiplexes three periodic jobs
// (compaction, flush, stats) with client requests (get/set/delete)
// against that datastore.
package shard

import (
	"context"
	"log"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mnohosten/slotkv/pkg/datastore"
	"github.com/mnohosten/slotkv/pkg/record"
)

// Default loop intervals.
const (
	compactionInterval = 200 * time.Millisecond
	flushInterval      = 200 * time.Millisecond
	statsInterval      = time.Second
)

// Shard owns one Datastore and the single goroutine driving every access
// to it. A Shard is created by the dispatch proxy when a topology change
// assigns a new range-start to the local reactor, and torn down when one
// is removed.
type Shard struct {
	RangeStart int

	ds *datastore.Datastore

	// reqs is the only path into ds from outside the scheduler goroutine.
	// pkg/memtable.Manager documents itself as unsafe for concurrent use
	// and carries no locking of its own, so every datastore call —
	// client requests and the periodic jobs alike — must run on this one
	// goroutine, never directly from a caller's goroutine.
	reqs chan func()

	mu        sync.RWMutex
	lastStats datastore.Stats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open opens the datastore rooted at dataDir/{rangeStart}/ and starts the
// scheduler goroutine.
func Open(dataDir string, rangeStart int, cfg datastore.Config) (*Shard, error) {
	cfg.DataDir = filepath.Join(dataDir, strconv.Itoa(rangeStart))
	ds, err := datastore.Open(strconv.Itoa(rangeStart), cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Shard{
		RangeStart: rangeStart,
		ds:         ds,
		reqs:       make(chan func()),
		cancel:     cancel,
	}

	s.wg.Add(1)
	go s.run(ctx)

	return s, nil
}

// Get reads key through the scheduler goroutine.
func (s *Shard) Get(key record.Key) (record.Record, bool, error) {
	type result struct {
		r   record.Record
		ok  bool
		err error
	}
	out := make(chan result, 1)
	s.submit(func() {
		r, ok, err := s.ds.Get(key)
		out <- result{r, ok, err}
	})
	res := <-out
	return res.r, res.ok, res.err
}

// Set writes key/value through the scheduler goroutine.
func (s *Shard) Set(key record.Key, value []byte) error {
	out := make(chan error, 1)
	s.submit(func() { out <- s.ds.Set(key, value) })
	return <-out
}

// Delete tombstones key through the scheduler goroutine.
func (s *Shard) Delete(key record.Key) error {
	out := make(chan error, 1)
	s.submit(func() { out <- s.ds.Delete(key) })
	return <-out
}

// submit hands work to the scheduler goroutine and blocks until it has
// been accepted. It is a no-op once the shard is closing, since nothing
// will be left to drain reqs.
func (s *Shard) submit(job func()) {
	select {
	case s.reqs <- job:
	case <-time.After(5 * time.Second):
		log.Printf("shard %d: scheduler unresponsive, dropping request", s.RangeStart)
	}
}

// Stats returns the most recent stats sample collected by the stats job.
func (s *Shard) Stats() datastore.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStats
}

// Close stops the scheduler goroutine and waits for it to exit. It does
// not touch the shard's on-disk files — dropping a shard never migrates
// or deletes its data.
func (s *Shard) Close() {
	s.cancel()
	s.wg.Wait()
}

// run is the shard's single-threaded scheduler: the only goroutine that
// ever touches s.ds. It multiplexes the three periodic jobs and incoming
// client requests over one select loop, so no two datastore calls are
// ever in flight at once.
func (s *Shard) run(ctx context.Context) {
	defer s.wg.Done()

	compactionTicker := time.NewTicker(compactionInterval)
	defer compactionTicker.Stop()
	flushTicker := time.NewTicker(flushInterval)
	defer flushTicker.Stop()
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.reqs:
			job()
		case <-compactionTicker.C:
			s.runCompaction()
		case <-flushTicker.C:
			s.runFlush()
		case <-statsTicker.C:
			s.runStats()
		}
	}
}

func (s *Shard) runCompaction() {
	if err := s.ds.MaybeRunOneReclaim(); err != nil {
		log.Printf("shard %d: reclaim error: %v", s.RangeStart, err)
		return
	}
	if err := s.ds.AssertNotCorrupted(); err != nil {
		log.Printf("shard %d: corruption check failed: %v", s.RangeStart, err)
	}
}

func (s *Shard) runFlush() {
	if err := s.ds.FlushAllFlushableMemtables(); err != nil {
		log.Printf("shard %d: flush error: %v", s.RangeStart, err)
		return
	}
	if err := s.ds.CleanUnusedDisktables(); err != nil {
		log.Printf("shard %d: cleanup error: %v", s.RangeStart, err)
	}
}

func (s *Shard) runStats() {
	sample := s.ds.GetStats()
	s.mu.Lock()
	s.lastStats = sample
	s.mu.Unlock()
}
