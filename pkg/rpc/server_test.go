package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbque/rtrm/pkg/registry"
	"github.com/bbque/rtrm/pkg/restree"
	"github.com/bbque/rtrm/pkg/types"
)

type fakePeerHost struct {
	role       Role
	assignedID int
	joinStatus Status
}

func (f *fakePeerHost) LocalRole() Role          { return f.role }
func (f *fakePeerHost) AssignID(addr string) int { return f.assignedID }
func (f *fakePeerHost) Join(req JoinRequest) Status {
	return f.joinStatus
}
func (f *fakePeerHost) Disjoin(req JoinRequest) Status { return f.joinStatus }

func TestLoadFraction(t *testing.T) {
	assert.Equal(t, 0.5, loadFraction(5, 10))
	assert.Zero(t, loadFraction(5, 0))
}

func TestGetResourceStatusRewritesSystemIDAndReportsUsage(t *testing.T) {
	tree := restree.New()
	path, err := types.ParseResourcePath("sys0.cpu1")
	require.NoError(t, err)
	_, err = tree.Register(path, 100)
	require.NoError(t, err)

	s := &Server{Tree: tree, SysID: 0}
	reply, err := s.GetResourceStatus(context.Background(), &GetResourceStatusRequest{Path: "sys3.cpu1"})
	require.NoError(t, err)
	assert.Equal(t, OK, reply.Status)
	assert.Equal(t, uint64(100), reply.Total)
	assert.Zero(t, reply.Used)
}

func TestGetResourceStatusUnknownPathFails(t *testing.T) {
	s := &Server{Tree: restree.New(), SysID: 0}
	reply, err := s.GetResourceStatus(context.Background(), &GetResourceStatusRequest{Path: "sys0.cpu9"})
	require.NoError(t, err)
	assert.Equal(t, Failed, reply.Status)
}

func TestGetWorkloadStatusCountsRunningAndReady(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(&types.EXC{UID: 1, Name: "a"}))
	require.NoError(t, reg.Register(&types.EXC{UID: 2, Name: "b"}))

	exc2, ok := reg.Get(2)
	require.True(t, ok)
	require.NoError(t, reg.Transition(exc2.UID, types.Sync))
	require.NoError(t, reg.Transition(exc2.UID, types.Running))

	s := &Server{Registry: reg}
	reply, err := s.GetWorkloadStatus(context.Background(), &GetWorkloadStatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, reply.NrReady)
	assert.Equal(t, 1, reply.NrRunning)
}

func TestGetChannelStatusMeasuresLatencySinceArrival(t *testing.T) {
	s := &Server{}
	ctx := context.WithValue(context.Background(), arrivalKey{}, time.Now().Add(-10*time.Millisecond))
	reply, err := s.GetChannelStatus(ctx, &GetChannelStatusRequest{})
	require.NoError(t, err)
	assert.True(t, reply.Connected)
	assert.GreaterOrEqual(t, reply.LatencyMs, 10.0)
}

func TestDiscoverAssignsIDFromPeerHost(t *testing.T) {
	host := &fakePeerHost{role: RoleWorker, assignedID: 5}
	s := &Server{Peers: host}
	ctx := context.WithValue(context.Background(), peerAddrKey{}, "10.0.0.9:30100")
	reply, err := s.Discover(ctx, &DiscoverRequest{})
	require.NoError(t, err)
	assert.Equal(t, 5, reply.AssignedID)
	assert.Equal(t, RoleWorker, reply.RemoteRole)
}

func TestSendJoinRequestDelegatesToPeerHost(t *testing.T) {
	host := &fakePeerHost{joinStatus: OK}
	s := &Server{Peers: host}
	reply, err := s.SendJoinRequest(context.Background(), &JoinRequest{SystemPath: "sys1"})
	require.NoError(t, err)
	assert.Equal(t, OK, reply.Status)
}

type fakeDelegate struct{ err error }

func (f *fakeDelegate) Delegate(req ApplicationScheduleRequest) error { return f.err }

func TestSendScheduleRequestFailsWithoutDelegate(t *testing.T) {
	s := &Server{}
	reply, err := s.SendScheduleRequest(context.Background(), &SendScheduleRequest{})
	require.NoError(t, err)
	assert.Equal(t, Failed, reply.Status)
}

func TestSendScheduleRequestSucceedsWithDelegate(t *testing.T) {
	s := &Server{Delegate: &fakeDelegate{}}
	reply, err := s.SendScheduleRequest(context.Background(), &SendScheduleRequest{})
	require.NoError(t, err)
	assert.Equal(t, OK, reply.Status)
}

func TestSetNodeManagementActionFailsWithoutManageFn(t *testing.T) {
	s := &Server{}
	reply, err := s.SetNodeManagementAction(context.Background(), &SetNodeManagementActionRequest{Action: ActionDrain})
	require.NoError(t, err)
	assert.Equal(t, Failed, reply.Status)
}

func TestSetNodeManagementActionInvokesManageFn(t *testing.T) {
	var got NodeManagementAction
	s := &Server{ManageFn: func(a NodeManagementAction) error {
		got = a
		return nil
	}}
	reply, err := s.SetNodeManagementAction(context.Background(), &SetNodeManagementActionRequest{Action: ActionShutdown})
	require.NoError(t, err)
	assert.Equal(t, OK, reply.Status)
	assert.Equal(t, ActionShutdown, got)
}
