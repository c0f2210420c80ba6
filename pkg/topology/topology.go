// Package topology implements the fixed 16,384-slot hash ring that maps
// every key to a shard, and the Topology that assigns shards to reactors
// round-robin. Routing is Redis Cluster compatible: CRC16/XMODEM of the
// raw key bytes, modulo MAX_RANGE.
package topology

import (
	"fmt"

	"github.com/google/uuid"
)

// MaxRange is the total number of hash slots, fixed by the wire protocol
// this store is compatible with.
const MaxRange = 1 << 14 // 16384

// Reactor is one single-threaded scheduler owning a round-robin share of
// shards. NodeID is stable across restarts only if persisted by the
// caller — a fresh UUID is generated whenever none is supplied.
type Reactor struct {
	NodeID uuid.UUID
	ID     uint8
	IP     string
	Port   uint16
}

// NewReactor returns a Reactor with a freshly generated NodeID.
func NewReactor(id uint8, ip string, port uint16) Reactor {
	return Reactor{NodeID: uuid.New(), ID: id, IP: ip, Port: port}
}

// Topology is the immutable assignment of shard range-starts to reactors
// for a given cluster size. ShardCount must divide MaxRange.
type Topology struct {
	ShardCount  int
	Width       int // MaxRange / ShardCount
	reactors    []Reactor
	assignments map[int]uint8 // range-start -> owning reactor's ID
}

// New builds a Topology assigning ShardCount contiguous shards across
// reactors round-robin. Returns an error if shardCount does not divide
// MaxRange evenly.
func New(shardCount int, reactors []Reactor) (*Topology, error) {
	if shardCount <= 0 || MaxRange%shardCount != 0 {
		return nil, fmt.Errorf("topology: shard_count %d must divide MAX_RANGE (%d)", shardCount, MaxRange)
	}
	if len(reactors) == 0 {
		return nil, fmt.Errorf("topology: at least one reactor is required")
	}

	width := MaxRange / shardCount
	assignments := make(map[int]uint8, shardCount)
	for i := 0; i < shardCount; i++ {
		rangeStart := i * width
		reactor := reactors[i%len(reactors)]
		assignments[rangeStart] = reactor.ID
	}

	return &Topology{
		ShardCount:  shardCount,
		Width:       width,
		reactors:    reactors,
		assignments: assignments,
	}, nil
}

// Slot returns the hash slot for raw key bytes: CRC16/XMODEM modulo
// MaxRange.
func Slot(key []byte) uint16 {
	return crc16XModem(key) % MaxRange
}

// ComputeShardID returns the range-start owning slot, given totalShards:
// slot's range-start is the largest multiple of w = MaxRange/totalShards
// that is <= slot.
func ComputeShardID(slot uint16, totalShards int) int {
	w := MaxRange / totalShards
	return (int(slot) / w) * w
}

// RangeStarts returns every shard's range-start in ascending order.
func (t *Topology) RangeStarts() []int {
	starts := make([]int, 0, t.ShardCount)
	for i := 0; i < t.ShardCount; i++ {
		starts = append(starts, i*t.Width)
	}
	return starts
}

// RangeStartsForReactor returns the range-starts owned by the reactor
// with the given id.
func (t *Topology) RangeStartsForReactor(reactorID uint8) []int {
	var owned []int
	for _, start := range t.RangeStarts() {
		if t.assignments[start] == reactorID {
			owned = append(owned, start)
		}
	}
	return owned
}

// OwnerOf returns the reactor id owning slot.
func (t *Topology) OwnerOf(slot uint16) (uint8, bool) {
	start := ComputeShardID(slot, t.ShardCount)
	id, ok := t.assignments[start]
	return id, ok
}

// crc16XModem computes the CRC-16/XMODEM checksum (poly 0x1021, init
// 0x0000, no reflection), the variant Redis Cluster uses for slot
// routing.
func crc16XModem(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
