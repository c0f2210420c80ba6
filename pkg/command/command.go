// Package command defines the small ADT the dispatch proxy and shards
// exchange: a Command carries a key-addressed operation, a Response
// carries its result. Wire codecs (RESP, Memcached) translate their
// protocol's frames into and out of this ADT; this package has no
// knowledge of either wire format.
package command

import "github.com/mnohosten/slotkv/pkg/topology"

// Kind discriminates which datastore operation a Command requests.
type Kind int

const (
	// KindGet reads a key.
	KindGet Kind = iota
	// KindSet writes a key/value pair.
	KindSet
	// KindDelete tombstones a key.
	KindDelete
	// KindClusterJoin asks the receiving node to admit a peer into the
	// cluster (see pkg/clusterrpc).
	KindClusterJoin
)

func (k Kind) String() string {
	switch k {
	case KindGet:
		return "get"
	case KindSet:
		return "set"
	case KindDelete:
		return "delete"
	case KindClusterJoin:
		return "cluster_join"
	default:
		return "unknown"
	}
}

// Command is one request routed by the dispatch proxy. For data
// commands, Key/Value address the datastore operation; for
// KindClusterJoin, JoinAddr carries the peer's advertise address and Key
// is unused.
type Command struct {
	Kind     Kind
	Key      string
	Value    []byte
	JoinAddr string
}

// Get builds a KindGet command for key.
func Get(key string) Command { return Command{Kind: KindGet, Key: key} }

// Set builds a KindSet command for key/value.
func Set(key string, value []byte) Command { return Command{Kind: KindSet, Key: key, Value: value} }

// Delete builds a KindDelete command for key.
func Delete(key string) Command { return Command{Kind: KindDelete, Key: key} }

// ClusterJoin builds a KindClusterJoin command for addr.
func ClusterJoin(addr string) Command { return Command{Kind: KindClusterJoin, JoinAddr: addr} }

// GetSlot returns the hash slot this command routes on. Cluster commands
// have no slot; callers must special-case Kind before calling GetSlot on
// a KindClusterJoin command.
func (c Command) GetSlot() uint16 {
	return topology.Slot([]byte(c.Key))
}

// Status discriminates a Response's outcome.
type Status int

const (
	// StatusOK means the operation completed; for a KindGet, Value holds
	// the record's value.
	StatusOK Status = iota
	// StatusNotFound means a KindGet found no live record for the key.
	StatusNotFound
	// StatusMoved means the targeted slot is not owned by this reactor;
	// Redirect carries where to send the command instead.
	StatusMoved
	// StatusError means the datastore returned an error; Err is set.
	StatusError
)

// Response is what the dispatch proxy returns for a Command.
type Response struct {
	Status   Status
	Value    []byte
	Redirect string
	Err      error
}

// OK builds a StatusOK response carrying value.
func OK(value []byte) Response { return Response{Status: StatusOK, Value: value} }

// NotFound builds a StatusNotFound response.
func NotFound() Response { return Response{Status: StatusNotFound} }

// Moved builds a StatusMoved response redirecting to addr.
func Moved(addr string) Response { return Response{Status: StatusMoved, Redirect: addr} }

// Error builds a StatusError response wrapping err.
func Error(err error) Response { return Response{Status: StatusError, Err: err} }
