package accounter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bbque/rtrm/pkg/restree"
	"github.com/bbque/rtrm/pkg/types"
)

func mustPath(t *testing.T, segs ...types.ResourceSegment) types.ResourcePath {
	t.Helper()
	p, err := types.NewResourcePath(segs...)
	require.NoError(t, err)
	return p
}

func newFixture(t *testing.T) (*Accounter, types.ResourcePath, types.ResourcePath) {
	t.Helper()
	tree := restree.New()
	pe0 := mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0}, types.ResourceSegment{Kind: types.CPU, ID: 0}, types.ResourceSegment{Kind: types.ProcElement, ID: 0})
	mem0 := mustPath(t, types.ResourceSegment{Kind: types.System, ID: 0}, types.ResourceSegment{Kind: types.Memory, ID: 0})
	_, err := tree.Register(pe0, 100)
	require.NoError(t, err)
	_, err = tree.Register(mem0, 1024)
	require.NoError(t, err)
	return New(tree), pe0, mem0
}

// S1 — single-AWM schedule.
func TestAcquireAndCommit_S1(t *testing.T) {
	acc, pe0, mem0 := newFixture(t)
	const exc1 = uint64(1)

	view := acc.GetView("round-1")
	require.NoError(t, acc.AcquireAll(view, exc1, []Reservation{
		{Path: pe0, Amount: 50},
		{Path: mem0, Amount: 256},
	}))
	require.NoError(t, acc.Commit(view))

	avail, err := acc.Available(pe0, types.CommittedView)
	require.NoError(t, err)
	require.Equal(t, uint64(50), avail)

	avail, err = acc.Available(mem0, types.CommittedView)
	require.NoError(t, err)
	require.Equal(t, uint64(1024-256), avail)
}

// S2 — over-commit: two EXCs asking pe0=70 each; one wins, one is left
// empty-handed, and the committed view shows exactly one grant.
func TestAcquireOverCommit_S2(t *testing.T) {
	acc, pe0, _ := newFixture(t)
	const exc1, exc2 = uint64(1), uint64(2)

	view := acc.GetView("round-1")
	err := acc.AcquireAll(view, exc1, []Reservation{{Path: pe0, Amount: 70}})
	require.NoError(t, err)

	err = acc.AcquireAll(view, exc2, []Reservation{{Path: pe0, Amount: 70}})
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrCapacityExceeded)

	require.NoError(t, acc.Commit(view))
	used, err := acc.Available(pe0, types.CommittedView)
	require.NoError(t, err)
	require.Equal(t, uint64(30), used) // 100 - 70
}

// Invariant 2: Acquire followed by Release restores the view exactly.
func TestAcquireReleaseRoundTrip(t *testing.T) {
	acc, pe0, _ := newFixture(t)
	const exc1 = uint64(1)

	view := acc.GetView("round-1")
	before, err := acc.Available(pe0, view)
	require.NoError(t, err)

	acquired, err := acc.Acquire(view, exc1, pe0, 40, true)
	require.NoError(t, err)
	require.Equal(t, uint64(40), acquired)

	require.NoError(t, acc.Release(view, exc1, pe0))

	after, err := acc.Available(pe0, view)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// S3 — view rollback: a partial acquisition followed by DeleteView must
// leave the committed view untouched.
func TestDeleteViewLeavesCommittedUntouched(t *testing.T) {
	acc, pe0, _ := newFixture(t)
	const exc1 = uint64(1)

	beforeCommitted, err := acc.Available(pe0, types.CommittedView)
	require.NoError(t, err)

	view := acc.GetView("round-1")
	_, err = acc.Acquire(view, exc1, pe0, 40, true)
	require.NoError(t, err)

	acc.DeleteView(view)

	afterCommitted, err := acc.Available(pe0, types.CommittedView)
	require.NoError(t, err)
	require.Equal(t, beforeCommitted, afterCommitted)
}

// Mandatory semantics: an EXC's own holding counts as available to itself.
func TestAvailableToOwnHoldingCountsAsAvailable(t *testing.T) {
	acc, pe0, _ := newFixture(t)
	const exc1 = uint64(1)

	view := acc.GetView("round-1")
	_, err := acc.Acquire(view, exc1, pe0, 100, true)
	require.NoError(t, err)

	avail, err := acc.AvailableTo(pe0, view, exc1)
	require.NoError(t, err)
	require.Equal(t, uint64(100), avail)

	plain, err := acc.Available(pe0, view)
	require.NoError(t, err)
	require.Equal(t, uint64(0), plain)

	// Re-acquiring against its own holding must succeed, not be capped by
	// the already-exhausted plain Available().
	acquired, err := acc.Acquire(view, exc1, pe0, 100, true)
	require.NoError(t, err)
	require.Equal(t, uint64(100), acquired)
}

func TestNonStrictAcquireAfterFullCommitGetsNothing(t *testing.T) {
	acc, pe0, _ := newFixture(t)
	const exc1 = uint64(1)

	view := acc.GetView("round-1")
	_, err := acc.Acquire(view, exc1, pe0, 100, true)
	require.NoError(t, err)
	require.NoError(t, acc.Commit(view))

	// The committed view now holds all 100 units of pe0, so a fresh view
	// cloned from it has nothing left for another EXC: a non-strict Acquire
	// succeeds with 0 acquired.
	view2 := acc.GetView("round-2")
	acquired, err := acc.Acquire(view2, uint64(2), pe0, 10, false)
	require.NoError(t, err)
	require.Equal(t, uint64(0), acquired)
}
