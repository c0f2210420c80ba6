// Package clusterrpc is the Join RPC transport skeleton for the
// cluster-join control plane — leader election and split-brain handling
// remain unspecified. It carries a ClusterJoiner call over gRPC without
// any generated .proto code: requests/responses are marshaled with a
// small JSON codec registered under the grpc service instead of
// protobuf structs.
package clusterrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/keepalive"
)

const codecName = "slotkv-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec satisfies grpc/encoding.Codec, letting this package's plain
// structs travel over a grpc.Server without a .proto-generated message
// type.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                    { return codecName }

// ReactorInfo is the wire form of topology.Reactor.
type ReactorInfo struct {
	NodeID string `json:"node_id"`
	ID     uint8  `json:"id"`
	IP     string `json:"ip"`
	Port   uint16 `json:"port"`
}

// TopologySnapshot is the wire form of a topology.Topology: enough to
// reconstruct it with topology.New on the joining side.
type TopologySnapshot struct {
	ShardCount int           `json:"shard_count"`
	Reactors   []ReactorInfo `json:"reactors"`
}

// JoinRequest is what a joining node sends to an existing cluster
// member.
type JoinRequest struct {
	Addr string `json:"addr"`
}

// JoinResponse carries the cluster's current topology back to the
// joining node.
type JoinResponse struct {
	Topology TopologySnapshot `json:"topology"`
}

// ClusterJoiner is the interface the dispatch/reactor layer consumes;
// this package provides the gRPC implementation, but nothing above this
// interface needs to know that.
type ClusterJoiner interface {
	Join(ctx context.Context, addr string) (TopologySnapshot, error)
}

// JoinHandler is implemented by whatever owns cluster membership
// decisions on the server side — who to admit and what topology to hand
// back. The cluster-join control plane itself (leader election,
// split-brain avoidance) is unspecified; this only transports the call.
type JoinHandler interface {
	HandleJoin(ctx context.Context, addr string) (TopologySnapshot, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "slotkv.cluster.Join",
	HandlerType: (*JoinHandler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Join",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(JoinRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				handler := srv.(JoinHandler)
				if interceptor == nil {
					snap, err := handler.HandleJoin(ctx, req.Addr)
					return &JoinResponse{Topology: snap}, err
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/slotkv.cluster.Join/Join"}
				wrapped := func(ctx context.Context, req any) (any, error) {
					snap, err := handler.HandleJoin(ctx, req.(*JoinRequest).Addr)
					return &JoinResponse{Topology: snap}, err
				}
				return interceptor(ctx, req, info, wrapped)
			},
		},
	},
	Streams: []grpc.StreamDesc{},
}

// Server wraps a gRPC server registered with handler as the Join
// implementation: keepalive parameters and enforcement policy, plus
// optional TLS credentials.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
}

// ServerConfig holds the keepalive/TLS knobs the Join placeholder
// needs.
type ServerConfig struct {
	Addr               string
	KeepAliveInterval  time.Duration
	KeepAliveTimeout   time.Duration
	TLSCredentials     credentials.TransportCredentials // nil disables TLS
}

// NewServer starts listening on cfg.Addr and registers handler as the
// Join RPC implementation. Call Serve to start accepting connections.
func NewServer(cfg ServerConfig, handler JoinHandler) (*Server, error) {
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = 30 * time.Second
	}
	if cfg.KeepAliveTimeout == 0 {
		cfg.KeepAliveTimeout = 10 * time.Second
	}

	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.KeepAliveInterval,
			Timeout: cfg.KeepAliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             cfg.KeepAliveInterval / 2,
			PermitWithoutStream: true,
		}),
	}
	if cfg.TLSCredentials != nil {
		opts = append(opts, grpc.Creds(cfg.TLSCredentials))
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("clusterrpc: listen %s: %w", cfg.Addr, err)
	}

	gs := grpc.NewServer(opts...)
	gs.RegisterService(&serviceDesc, handler)

	return &Server{grpcServer: gs, listener: lis}, nil
}

// Serve blocks accepting connections until Stop is called.
func (s *Server) Serve() error {
	return s.grpcServer.Serve(s.listener)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Client implements ClusterJoiner by calling Join over a gRPC
// connection using the JSON codec registered above.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a cluster member's clusterrpc server at target.
func Dial(target string, creds credentials.TransportCredentials) (*Client, error) {
	var opt grpc.DialOption
	if creds != nil {
		opt = grpc.WithTransportCredentials(creds)
	} else {
		opt = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	conn, err := grpc.NewClient(target, opt, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)))
	if err != nil {
		return nil, fmt.Errorf("clusterrpc: dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Join asks the connected peer to admit addr into the cluster and
// returns the topology it hands back.
func (c *Client) Join(ctx context.Context, addr string) (TopologySnapshot, error) {
	req := &JoinRequest{Addr: addr}
	resp := new(JoinResponse)
	if err := c.conn.Invoke(ctx, "/slotkv.cluster.Join/Join", req, resp); err != nil {
		return TopologySnapshot{}, err
	}
	return resp.Topology, nil
}

// Close tears down the client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
