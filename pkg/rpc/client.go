package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/bbque/rtrm/pkg/metrics"
	"github.com/bbque/rtrm/pkg/security"
)

// Per-method client timeouts, spec.md §4.9: "timeouts are enforced by the
// client (2 s for Discover, 5 s for Ping, 5 s default for others)".
const (
	DiscoverTimeout = 2 * time.Second
	PingTimeout     = 5 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Client dials one sibling instance's Agent RPC server over mTLS and
// issues the wire-surface calls of spec.md §4.9, always negotiating the
// "json" codec via CallContentSubtype rather than gRPC's default proto
// codec (this module ships no generated protobuf types for these
// messages).
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr, authenticating with cert and trusting ca's root.
func Dial(addr string, cert *tls.Certificate, ca *security.CertAuthority) (*Client, error) {
	pool := x509.NewCertPool()
	if root, err := x509.ParseCertificate(ca.RootCertDER()); err == nil {
		pool.AddCert(root)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, timeout time.Duration, method string, req, reply interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	timer := metrics.NewTimer()
	err := c.conn.Invoke(ctx, methodName(method), req, reply)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RPCRequestsTotal.WithLabelValues(methodName(method), status).Inc()
	timer.ObserveDurationVec(metrics.RPCRequestDuration, methodName(method))
	return err
}

func (c *Client) Discover(ctx context.Context, req DiscoverRequest) (*DiscoverReply, error) {
	reply := new(DiscoverReply)
	if err := c.invoke(ctx, DiscoverTimeout, "Discover", &req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) Ping(ctx context.Context, req PingRequest) (*PingReply, error) {
	reply := new(PingReply)
	if err := c.invoke(ctx, PingTimeout, "Ping", &req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) GetResourceStatus(ctx context.Context, req GetResourceStatusRequest) (*GetResourceStatusReply, error) {
	reply := new(GetResourceStatusReply)
	if err := c.invoke(ctx, DefaultTimeout, "GetResourceStatus", &req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) GetWorkloadStatus(ctx context.Context, req GetWorkloadStatusRequest) (*GetWorkloadStatusReply, error) {
	reply := new(GetWorkloadStatusReply)
	if err := c.invoke(ctx, DefaultTimeout, "GetWorkloadStatus", &req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) GetChannelStatus(ctx context.Context, req GetChannelStatusRequest) (*GetChannelStatusReply, error) {
	reply := new(GetChannelStatusReply)
	if err := c.invoke(ctx, DefaultTimeout, "GetChannelStatus", &req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) SendJoinRequest(ctx context.Context, req JoinRequest) (*JoinReply, error) {
	reply := new(JoinReply)
	if err := c.invoke(ctx, DefaultTimeout, "SendJoinRequest", &req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) SendDisjoinRequest(ctx context.Context, req JoinRequest) (*JoinReply, error) {
	reply := new(JoinReply)
	if err := c.invoke(ctx, DefaultTimeout, "SendDisjoinRequest", &req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) SendScheduleRequest(ctx context.Context, req SendScheduleRequest) (*SendScheduleReply, error) {
	reply := new(SendScheduleReply)
	if err := c.invoke(ctx, DefaultTimeout, "SendScheduleRequest", &req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) SetNodeManagementAction(ctx context.Context, req SetNodeManagementActionRequest) (*SetNodeManagementActionReply, error) {
	reply := new(SetNodeManagementActionReply)
	if err := c.invoke(ctx, DefaultTimeout, "SetNodeManagementAction", &req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}
