// Package protocol declares the seam for wire codecs and TCP listeners
// this repo does not implement: the RESP (Redis) and Memcached binary
// protocols. No implementation lives here — only the interfaces a
// future codec package would plug into, consuming pkg/command's ADT and
// pkg/dispatch's Proxy.
package protocol

import (
	"context"
	"io"

	"github.com/mnohosten/slotkv/pkg/command"
)

// Codec translates one wire protocol's frames into command.Command and
// command.Response back into that protocol's reply frames.
type Codec interface {
	// Decode reads one request frame from r and returns the Command it
	// represents.
	Decode(r io.Reader) (command.Command, error)
	// Encode writes resp as a reply frame to w in the codec's wire
	// format.
	Encode(w io.Writer, resp command.Response) error
}

// Dispatcher is the subset of pkg/dispatch.Proxy a Listener needs: just
// enough to route a decoded Command to its owning shard.
type Dispatcher interface {
	Dispatch(cmd command.Command) command.Response
}

// Listener accepts client connections for one wire protocol and drives
// them through a Codec and a Dispatcher until the connection closes or
// ctx is canceled.
type Listener interface {
	// Serve accepts connections until ctx is canceled or a
	// non-recoverable listener error occurs.
	Serve(ctx context.Context, dispatcher Dispatcher) error
	// Addr returns the address the listener is bound to.
	Addr() string
	// Close stops accepting new connections.
	Close() error
}
