package accounter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bbque/rtrm/pkg/metrics"
	"github.com/bbque/rtrm/pkg/restree"
	"github.com/bbque/rtrm/pkg/types"
)

// Accounter serializes every mutation to view state through a single lock
// while letting GetView/Available proceed lock-free against the tree's own
// read lock, matching the teacher's read-heavy/write-serialized pattern
// used for its raft-backed store.
type Accounter struct {
	tree *restree.Tree

	mu        sync.Mutex // serializes Acquire/Release/Commit/DeleteView
	nextToken uint64      // monotonic view token generator, starts past CommittedView
}

// New returns an Accounter operating over tree.
func New(tree *restree.Tree) *Accounter {
	return &Accounter{tree: tree, nextToken: uint64(types.CommittedView) + 1}
}

// GetView opens a fresh working view: a copy-on-write snapshot that starts
// identical to the committed view and diverges only as Acquire/Release are
// called against it. owner is an opaque label (e.g. the scheduling round
// id) carried only for logging; the accounter never inspects it.
func (a *Accounter) GetView(owner string) types.ViewToken {
	_ = owner
	tok := atomic.AddUint64(&a.nextToken, 1) - 1
	return types.ViewToken(tok)
}

// Available reports the unreserved, online capacity at path in view.
func (a *Accounter) Available(path types.ResourcePath, view types.ViewToken) (uint64, error) {
	return a.tree.Available(path, view)
}

// AvailableTo reports the capacity at path available to uid specifically,
// including whatever uid already holds (spec.md §4.2, mandatory semantics).
func (a *Accounter) AvailableTo(path types.ResourcePath, view types.ViewToken, uid uint64) (uint64, error) {
	return a.tree.AvailableTo(path, view, uid)
}

// Reservation is one line of a requested acquisition.
type Reservation struct {
	Path   types.ResourcePath
	Amount uint64
}

// Acquire reserves amount of path for uid against view. It returns the
// amount actually acquired, min(amount, availableTo(uid)). If strict is
// true and the full amount cannot be satisfied, nothing is applied and the
// call fails with ErrCapacityExceeded; non-strict callers always succeed
// with a possibly-partial acquisition (spec.md §4.2 contract).
func (a *Accounter) Acquire(view types.ViewToken, uid uint64, path types.ResourcePath, amount uint64, strict bool) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AccounterAcquireDuration)

	node, ok := a.tree.Get(path)
	if !ok {
		return 0, fmt.Errorf("accounter: unknown path %s", path)
	}
	state := node.ViewState(view)
	online := node.OnlineCapacity()
	var availableToExc uint64
	if state.Used < online {
		availableToExc = online - state.Used
	}
	availableToExc += state.Apps[uid]
	acquired := amount
	if acquired > availableToExc {
		if strict {
			return 0, fmt.Errorf("accounter: %s requests %d for exc %d, only %d available: %w",
				path, amount, uid, availableToExc, types.ErrCapacityExceeded)
		}
		acquired = availableToExc
	}
	if acquired == 0 {
		return 0, nil
	}
	state.Used += acquired
	if state.Apps == nil {
		state.Apps = make(map[uint64]uint64, 1)
	}
	state.Apps[uid] += acquired
	node.SetViewState(view, state)
	return acquired, nil
}

// AcquireAll runs Acquire strictly for every request in reqs against view,
// as a single transaction: if any path cannot satisfy its full request,
// every acquisition already applied within this call is released before
// the whole-request failure is returned (spec.md §4.2's "transactional per
// call site" contract for composite requests).
func (a *Accounter) AcquireAll(view types.ViewToken, uid uint64, reqs []Reservation) error {
	applied := make([]Reservation, 0, len(reqs))
	for _, r := range reqs {
		acquired, err := a.Acquire(view, uid, r.Path, r.Amount, true)
		if err != nil {
			for _, done := range applied {
				_ = a.Release(view, uid, done.Path)
			}
			return err
		}
		applied = append(applied, Reservation{Path: r.Path, Amount: acquired})
	}
	return nil
}

// Release returns everything uid holds at path in view to the available
// pool, removing its entry from the view's apps map entirely.
func (a *Accounter) Release(view types.ViewToken, uid uint64, path types.ResourcePath) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	node, ok := a.tree.Get(path)
	if !ok {
		return fmt.Errorf("accounter: unknown path %s", path)
	}
	state := node.ViewState(view)
	amt, held := state.Apps[uid]
	if !held || amt == 0 {
		return nil
	}
	if state.Used >= amt {
		state.Used -= amt
	} else {
		state.Used = 0
	}
	delete(state.Apps, uid)
	node.SetViewState(view, state)
	return nil
}

// ReleaseAll releases uid's holdings at every path in reqs.
func (a *Accounter) ReleaseAll(view types.ViewToken, uid uint64, reqs []Reservation) {
	for _, r := range reqs {
		_ = a.Release(view, uid, r.Path)
	}
}

// Commit promotes view's accounting state to the committed view (token 0)
// on every node in the tree that diverged, then drops the working view. A
// node with no entry for view keeps its committed state unchanged.
func (a *Accounter) Commit(view types.ViewToken) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AccounterCommitDuration)

	if view == types.CommittedView {
		return fmt.Errorf("accounter: cannot commit the committed view itself")
	}
	nodes := a.tree.All()
	for _, node := range nodes {
		if !node.HasView(view) {
			continue
		}
		st := node.ViewState(view)
		if st.Used > node.OnlineCapacity() {
			return fmt.Errorf("accounter: commit would over-commit %s (%d > %d): %w",
				node.Path, st.Used, node.OnlineCapacity(), types.ErrOverCommit)
		}
	}
	for _, node := range nodes {
		if !node.HasView(view) {
			continue
		}
		node.SetViewState(types.CommittedView, node.ViewState(view))
		node.DropView(view)
	}
	return nil
}

// DeleteView discards view without promoting it, used when a scheduling
// round's policy fails or produces no improvement. A no-op for the
// committed view.
func (a *Accounter) DeleteView(view types.ViewToken) {
	if view == types.CommittedView {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, node := range a.tree.All() {
		node.DropView(view)
	}
}
