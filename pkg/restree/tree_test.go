package restree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bbque/rtrm/pkg/types"
)

func mustPath(t *testing.T, segs ...types.ResourceSegment) types.ResourcePath {
	t.Helper()
	p, err := types.NewResourcePath(segs...)
	require.NoError(t, err)
	return p
}

func TestRegisterAndGet(t *testing.T) {
	tree := New()
	path := mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0}, types.ResourceSegment{Kind: types.CPU, ID: 1})

	node, err := tree.Register(path, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(100), node.Total)

	got, ok := tree.Get(path)
	require.True(t, ok)
	require.Same(t, node, got)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	tree := New()
	path := mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0})
	_, err := tree.Register(path, 10)
	require.NoError(t, err)
	_, err = tree.Register(path, 10)
	require.Error(t, err)
}

func TestDeterministicOrder(t *testing.T) {
	tree := New()
	sys := mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0})
	cpu1 := mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0}, types.ResourceSegment{Kind: types.CPU, ID: 1})
	cpu0 := mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0}, types.ResourceSegment{Kind: types.CPU, ID: 0})

	_, err := tree.Register(cpu1, 10)
	require.NoError(t, err)
	_, err = tree.Register(sys, 10)
	require.NoError(t, err)
	_, err = tree.Register(cpu0, 10)
	require.NoError(t, err)

	all := tree.All()
	require.Len(t, all, 3)
	require.Equal(t, "sys0.cpu1", all[0].Path.String())
	require.Equal(t, "sys0", all[1].Path.String())
	require.Equal(t, "sys0.cpu0", all[2].Path.String())
}

func TestOfflineReducesAvailable(t *testing.T) {
	tree := New()
	path := mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0})
	_, err := tree.Register(path, 100)
	require.NoError(t, err)

	avail, err := tree.Available(path, types.CommittedView)
	require.NoError(t, err)
	require.Equal(t, uint64(100), avail)

	require.NoError(t, tree.SetOffline(path, 40, time.Now()))
	avail, err = tree.Available(path, types.CommittedView)
	require.NoError(t, err)
	require.Equal(t, uint64(60), avail)

	require.NoError(t, tree.SetOnline(path, time.Now()))
	avail, err = tree.Available(path, types.CommittedView)
	require.NoError(t, err)
	require.Equal(t, uint64(100), avail)
}

func TestOfflineAccumulatesTimers(t *testing.T) {
	tree := New()
	path := mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0})
	node, err := tree.Register(path, 100)
	require.NoError(t, err)

	t0 := time.Now()
	node.Transition(0, t0) // still online: no-op, no timer touched
	require.True(t, node.OfflineSince().IsZero())
	require.Zero(t, node.OnlineTime())
	require.Zero(t, node.OfflineTime())

	t1 := t0.Add(5 * time.Second)
	require.NoError(t, tree.SetOffline(path, 40, t1))
	require.Equal(t, t1, node.OfflineSince())

	t2 := t1.Add(3 * time.Second)
	require.NoError(t, tree.SetOffline(path, 60, t2)) // still offline, amount change only
	require.Equal(t, t1, node.OfflineSince(), "offlineSince must not move while still offline")
	require.Zero(t, node.OfflineTime(), "offlineTime accumulates only on return to online")

	t3 := t2.Add(2 * time.Second)
	require.NoError(t, tree.SetOnline(path, t3))
	require.Equal(t, t3, node.OnlineSince())
	require.Equal(t, t3.Sub(t1), node.OfflineTime())
}

func TestDescendants(t *testing.T) {
	tree := New()
	sys := mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0})
	cpu0 := mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0}, types.ResourceSegment{Kind: types.CPU, ID: 0})
	cpu1 := mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0}, types.ResourceSegment{Kind: types.CPU, ID: 1})

	_, err := tree.Register(sys, 10)
	require.NoError(t, err)
	_, err = tree.Register(cpu0, 10)
	require.NoError(t, err)
	_, err = tree.Register(cpu1, 10)
	require.NoError(t, err)

	desc := tree.Descendants(sys)
	require.Len(t, desc, 3)
}
