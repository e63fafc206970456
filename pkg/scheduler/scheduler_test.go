package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bbque/rtrm/pkg/accounter"
	"github.com/bbque/rtrm/pkg/registry"
	"github.com/bbque/rtrm/pkg/restree"
	syncmgr "github.com/bbque/rtrm/pkg/sync"
	"github.com/bbque/rtrm/pkg/types"
)

func mustPath(t *testing.T, segs ...types.ResourceSegment) types.ResourcePath {
	t.Helper()
	p, err := types.NewResourcePath(segs...)
	require.NoError(t, err)
	return p
}

func newFixture(t *testing.T) (*System, *registry.Registry) {
	t.Helper()
	tree := restree.New()
	_, err := tree.Register(mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0}), 1)
	require.NoError(t, err)
	_, err = tree.Register(mustPath(t,
		types.ResourceSegment{Kind: types.System, ID: 0},
		types.ResourceSegment{Kind: types.ProcElement, ID: 0}), 100)
	require.NoError(t, err)
	_, err = tree.Register(mustPath(t,
		types.ResourceSegment{Kind: types.System, ID: 0},
		types.ResourceSegment{Kind: types.Memory, ID: 0}), 1024)
	require.NoError(t, err)

	acc := accounter.New(tree)
	reg := registry.New()
	sys := &System{Registry: reg, Tree: tree, Accounter: acc}
	return sys, reg
}

func recipeWithOneAWM(peAmount, memAmount uint64, value float64) *types.Recipe {
	return &types.Recipe{
		Name: "fixture",
		AWMs: []types.AWM{
			{
				ID:    0,
				Value: value,
				Requests: []types.ResourceRequest{
					{Path: mustPathNoT(types.System, 0, types.ProcElement, 0), Amount: peAmount},
					{Path: mustPathNoT(types.System, 0, types.Memory, 0), Amount: memAmount},
				},
			},
		},
	}
}

// mustPathNoT builds a two-segment concrete path (system + one resource
// kind) without needing *testing.T, for use inside table fixtures.
func mustPathNoT(k1 types.ResourceKind, id1 int, k2 types.ResourceKind, id2 int) types.ResourcePath {
	p, err := types.NewResourcePath(
		types.ResourceSegment{Kind: k1, ID: id1},
		types.ResourceSegment{Kind: k2, ID: id2},
	)
	if err != nil {
		panic(err)
	}
	return p
}

func TestDriverSchedulesReadyEXCAndCommits(t *testing.T) {
	sys, reg := newFixture(t)
	exc := &types.EXC{UID: types.EXCUID(1, 0), Name: "app1", Recipe: recipeWithOneAWM(50, 256, 0.6)}
	require.NoError(t, reg.Register(exc))

	syncMgr := syncmgr.New(reg)
	ch := syncmgr.NewChannel()
	syncMgr.Attach(exc.UID, ch)
	go func() {
		for req := range ch.Requests {
			switch req.Phase {
			case syncmgr.PreChange:
				ch.Replies <- syncmgr.Reply{Token: req.Token, OK: true, LatencyMs: 5}
			case syncmgr.SyncChange, syncmgr.PostChange:
				ch.Replies <- syncmgr.Reply{Token: req.Token, OK: true}
			}
		}
	}()

	driver := New(sys, syncMgr, nil, nil)
	results, err := driver.Schedule(context.Background(), GreedyBinder{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, syncmgr.Succeeded, results[0].Outcome)

	require.Equal(t, types.Running, exc.State)
	require.NotNil(t, exc.CurrentAWM)
	require.Equal(t, 0, exc.CurrentAWM.ID)

	avail, err := sys.Accounter.Available(mustPathNoT(types.System, 0, types.ProcElement, 0), types.CommittedView)
	require.NoError(t, err)
	require.EqualValues(t, 50, avail)
}

func TestDriverNoOpWhenNothingPending(t *testing.T) {
	sys, _ := newFixture(t)
	syncMgr := syncmgr.New(registry.New())
	driver := New(sys, syncMgr, nil, nil)

	results, err := driver.Schedule(context.Background(), GreedyBinder{})
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestDriverSkipsEXCThatCannotFit(t *testing.T) {
	sys, reg := newFixture(t)
	exc := &types.EXC{UID: types.EXCUID(1, 0), Name: "toobig", Recipe: recipeWithOneAWM(500, 256, 0.6)}
	require.NoError(t, reg.Register(exc))

	syncMgr := syncmgr.New(reg)
	driver := New(sys, syncMgr, nil, nil)

	results, err := driver.Schedule(context.Background(), GreedyBinder{})
	require.NoError(t, err)
	require.Nil(t, results)
	require.Equal(t, types.Ready, exc.State)
}
