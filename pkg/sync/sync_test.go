package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bbque/rtrm/pkg/registry"
	"github.com/bbque/rtrm/pkg/types"
)

// fakePeer answers every phase programmatically, standing in for an RTLib
// client the core does not implement (spec.md §1).
func fakePeer(t *testing.T, ch *Channel, latencyMs int, failAt Phase) {
	t.Helper()
	go func() {
		for req := range ch.Requests {
			switch req.Phase {
			case PreChange:
				ch.Replies <- Reply{Token: req.Token, LatencyMs: latencyMs, OK: failAt != PreChange}
			case SyncChange:
				ch.Replies <- Reply{Token: req.Token, OK: failAt != SyncChange}
			case DoChange:
				// no reply expected
			case PostChange:
				ch.Replies <- Reply{Token: req.Token, OK: failAt != PostChange}
			}
		}
	}()
}

func newStartingEXC(uid uint64, nextValue float64) *types.EXC {
	return &types.EXC{
		UID:       uid,
		State:     types.Sync,
		SyncState: types.Starting,
		NextAWM:   &types.AWM{ID: 1, Value: nextValue},
	}
}

func TestHandshakeSucceeds(t *testing.T) {
	reg := registry.New()
	exc := newStartingEXC(types.EXCUID(1, 0), 0.7)
	reg.Register(exc)
	exc.State = types.Sync
	exc.SyncState = types.Starting

	mgr := New(reg)
	ch := NewChannel()
	mgr.Attach(exc.UID, ch)
	fakePeer(t, ch, 10, Phase(-1))

	results := mgr.RunRound(context.Background(), tokenSeq())
	require.Len(t, results, 1)
	require.Equal(t, Succeeded, results[0].Outcome)
	require.Equal(t, types.Running, exc.State)
	require.NotNil(t, exc.CurrentAWM)
	require.Equal(t, 1, exc.CurrentAWM.ID)
	require.Nil(t, exc.NextAWM)
}

// S4 — sync timeout during PreChange.
func TestHandshakePreChangeTimeout_S4(t *testing.T) {
	reg := registry.New()
	exc := newStartingEXC(types.EXCUID(1, 0), 0.7)
	exc.CurrentAWM = &types.AWM{ID: 0, Value: 0.3}
	reg.Register(exc)
	exc.State = types.Sync
	exc.SyncState = types.Starting

	mgr := New(reg)
	mgr.PreChangeTimeout = 20 * time.Millisecond
	ch := NewChannel()
	mgr.Attach(exc.UID, ch)
	// No fakePeer goroutine consuming ch.Requests: PreChange send itself
	// times out since nothing reads the unbuffered channel.

	results := mgr.RunRound(context.Background(), tokenSeq())
	require.Len(t, results, 1)
	require.Equal(t, TimedOut, results[0].Outcome)
	require.Equal(t, types.Running, exc.State) // rolled back to previous AWM
	require.Equal(t, 0, exc.CurrentAWM.ID)
}

func TestHandshakeSyncChangeFailedRollsBack(t *testing.T) {
	reg := registry.New()
	exc := newStartingEXC(types.EXCUID(1, 0), 0.7)
	exc.CurrentAWM = &types.AWM{ID: 0, Value: 0.3}
	reg.Register(exc)
	exc.State = types.Sync
	exc.SyncState = types.Starting

	mgr := New(reg)
	ch := NewChannel()
	mgr.Attach(exc.UID, ch)
	fakePeer(t, ch, 5, SyncChange)

	results := mgr.RunRound(context.Background(), tokenSeq())
	require.Len(t, results, 1)
	require.Equal(t, SyncFailed, results[0].Outcome)
	require.Equal(t, 0, exc.CurrentAWM.ID)
}

func tokenSeq() func() uint64 {
	var n uint64
	return func() uint64 {
		n++
		return n
	}
}
