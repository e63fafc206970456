package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpcpeer "google.golang.org/grpc/peer"

	"github.com/bbque/rtrm/pkg/events"
	"github.com/bbque/rtrm/pkg/log"
	"github.com/bbque/rtrm/pkg/metrics"
	"github.com/bbque/rtrm/pkg/registry"
	"github.com/bbque/rtrm/pkg/restree"
	"github.com/bbque/rtrm/pkg/security"
	"github.com/bbque/rtrm/pkg/types"
)

// PeerHost is the subset of the Peer Directory (C8) the Agent RPC server
// needs in order to answer Discover/Join/Disjoin: assigning ids to newly
// discovered peers and tracking membership. Declared here (not in pkg/peer)
// so pkg/rpc has no dependency on pkg/peer; pkg/peer's Directory satisfies
// it and is handed to NewServer by pkg/manager.
type PeerHost interface {
	LocalRole() Role
	AssignID(addr string) int
	Join(req JoinRequest) Status
	Disjoin(req JoinRequest) Status
}

// ScheduleDelegate accepts an application-schedule-request delegated by a
// remote instance (spec.md §4.9 SendScheduleRequest), registering it as a
// new local EXC awaiting a scheduling round.
type ScheduleDelegate interface {
	Delegate(req ApplicationScheduleRequest) error
}

type arrivalKey struct{}

// arrivalInterceptor stamps ctx with the time the unary call was dispatched,
// letting GetChannelStatus compute "first byte received to last byte sent
// of the same call" (spec.md §4.9) without extra plumbing, and with the
// dialing peer's address so Discover can assign it an id.
func arrivalInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	ctx = context.WithValue(ctx, arrivalKey{}, time.Now())
	if p, ok := grpcpeer.FromContext(ctx); ok && p.Addr != nil {
		ctx = context.WithValue(ctx, peerAddrKey{}, p.Addr.String())
	}
	timer := metrics.NewTimer()
	resp, err := handler(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RPCRequestsTotal.WithLabelValues(info.FullMethod, status).Inc()
	timer.ObserveDurationVec(metrics.RPCRequestDuration, info.FullMethod)
	return resp, err
}

// Server implements AgentRPCServer, the node this instance's Agent RPC
// surface exposes to siblings (spec.md §4.9).
type Server struct {
	Tree      *restree.Tree
	Registry  *registry.Registry
	Peers     PeerHost
	Delegate  ScheduleDelegate
	Broker    *events.Broker
	SysID     int
	ManageFn  func(NodeManagementAction) error

	grpc *grpc.Server
}

// NewServer returns a Server ready to Register onto a *grpc.Server, or to
// call Serve itself via ListenAndServe.
func NewServer(tree *restree.Tree, reg *registry.Registry, peers PeerHost, delegate ScheduleDelegate, broker *events.Broker, sysID int) *Server {
	return &Server{Tree: tree, Registry: reg, Peers: peers, Delegate: delegate, Broker: broker, SysID: sysID}
}

// ListenAndServe starts a TLS-secured gRPC server on addr using ca to issue
// this instance's server certificate, blocking until Stop is called or the
// listener errors.
func (s *Server) ListenAndServe(addr string, ca *security.CertAuthority, instanceID string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", addr, err)
	}

	host, _, _ := net.SplitHostPort(addr)
	ips := []net.IP{net.ParseIP(host)}
	cert, err := ca.IssuePeerCertificate(instanceID, nil, ips)
	if err != nil {
		return fmt.Errorf("rpc: issue server certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if root, err := x509.ParseCertificate(ca.RootCertDER()); err == nil {
		pool.AddCert(root)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientAuth:   tls.RequestClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS13,
	}

	s.grpc = grpc.NewServer(
		grpc.Creds(credentials.NewTLS(tlsConfig)),
		grpc.UnaryInterceptor(arrivalInterceptor),
	)
	s.grpc.RegisterService(&ServiceDesc, s)

	log.WithComponent("rpc").Info().Str("addr", addr).Msg("agent rpc server listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

func (s *Server) Discover(ctx context.Context, req *DiscoverRequest) (*DiscoverReply, error) {
	p, _ := ctx.Value(peerAddrKey{}).(string)
	id := s.Peers.AssignID(p)
	return &DiscoverReply{RemoteRole: s.Peers.LocalRole(), AssignedID: id}, nil
}

func (s *Server) Ping(ctx context.Context, req *PingRequest) (*PingReply, error) {
	return &PingReply{Status: OK}, nil
}

func (s *Server) GetResourceStatus(ctx context.Context, req *GetResourceStatusRequest) (*GetResourceStatusReply, error) {
	path, err := types.ParseResourcePath(req.Path)
	if err != nil {
		return &GetResourceStatusReply{Status: Failed}, nil
	}
	path = types.RewriteSystemID(path, s.SysID)
	node, ok := s.Tree.Get(path)
	if !ok {
		return &GetResourceStatusReply{Status: Failed}, nil
	}
	used := node.ViewState(types.CommittedView).Used
	return &GetResourceStatusReply{
		Status: OK,
		Total:  node.OnlineCapacity(),
		Used:   used,
		// Power/temperature/degradation require platform telemetry this
		// local build doesn't probe (spec.md §1 excludes platform-specific
		// power/temperature probes); reported as zero rather than fabricated.
		Load: loadFraction(used, node.OnlineCapacity()),
	}, nil
}

func loadFraction(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total)
}

func (s *Server) GetWorkloadStatus(ctx context.Context, req *GetWorkloadStatusRequest) (*GetWorkloadStatusReply, error) {
	var running, ready int
	for _, exc := range s.Registry.All() {
		switch exc.State {
		case types.Running:
			running++
		case types.Ready:
			ready++
		}
	}
	return &GetWorkloadStatusReply{Status: OK, NrRunning: running, NrReady: ready}, nil
}

func (s *Server) GetChannelStatus(ctx context.Context, req *GetChannelStatusRequest) (*GetChannelStatusReply, error) {
	arrived, _ := ctx.Value(arrivalKey{}).(time.Time)
	latency := 0.0
	if !arrived.IsZero() {
		latency = float64(time.Since(arrived)) / float64(time.Millisecond)
	}
	return &GetChannelStatusReply{Status: OK, Connected: true, LatencyMs: latency}, nil
}

func (s *Server) SendJoinRequest(ctx context.Context, req *JoinRequest) (*JoinReply, error) {
	status := s.Peers.Join(*req)
	if s.Broker != nil && status == OK {
		s.Broker.Publish(&events.Event{Type: events.EventPeerJoined, Message: "peer join request accepted"})
	}
	return &JoinReply{Status: status}, nil
}

func (s *Server) SendDisjoinRequest(ctx context.Context, req *JoinRequest) (*JoinReply, error) {
	return &JoinReply{Status: s.Peers.Disjoin(*req)}, nil
}

func (s *Server) SendScheduleRequest(ctx context.Context, req *SendScheduleRequest) (*SendScheduleReply, error) {
	if s.Delegate == nil {
		return &SendScheduleReply{Status: Failed}, nil
	}
	if err := s.Delegate.Delegate(req.Request); err != nil {
		log.WithComponent("rpc").Warn().Err(err).Msg("schedule delegation rejected")
		return &SendScheduleReply{Status: Failed}, nil
	}
	if s.Broker != nil {
		s.Broker.Publish(&events.Event{Type: events.EventNewApplication, Message: "exc registered via delegated schedule request"})
	}
	return &SendScheduleReply{Status: OK}, nil
}

func (s *Server) SetNodeManagementAction(ctx context.Context, req *SetNodeManagementActionRequest) (*SetNodeManagementActionReply, error) {
	if s.ManageFn == nil {
		return &SetNodeManagementActionReply{Status: Failed}, nil
	}
	if err := s.ManageFn(req.Action); err != nil {
		return &SetNodeManagementActionReply{Status: Failed}, nil
	}
	if s.Broker != nil {
		s.Broker.Publish(&events.Event{Type: events.EventUserCommand, Message: "node management action applied"})
	}
	return &SetNodeManagementActionReply{Status: OK}, nil
}

// peerAddrKey is the context key arrivalInterceptor stores the dialing
// peer's address under.
type peerAddrKey struct{}
