package scheduler

import (
	"context"
	"sort"

	"github.com/bbque/rtrm/pkg/accounter"
	"github.com/bbque/rtrm/pkg/types"
)

// GreedyBinder is a reference Policy grounded on BarbequeRTRM's stock
// "Emulsion"-style greedy binder: it walks every EXC awaiting a decision in
// priority order and, for each, tries its recipe's AWMs highest-value
// first, binding the first AWM whose resource requests it can fully
// satisfy against the working view. It never evicts or demotes another
// EXC to make room (spec.md §4.6 names eviction-capable policies as a
// valid but separate policy shape; this one only ever grows into free
// capacity).
type GreedyBinder struct{}

// Schedule implements Policy.
func (GreedyBinder) Schedule(ctx context.Context, sys *System, view types.ViewToken) (Decision, error) {
	decision := Decision{Assignments: make(map[uint64]Assignment)}

	candidates := pendingEXCs(sys)
	if len(candidates) == 0 {
		decision.Reason = "no exc awaiting a scheduling decision"
		return decision, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})

	for _, exc := range candidates {
		if exc.Recipe == nil {
			continue
		}
		for _, awm := range exc.Recipe.EnabledAWMs() {
			if exc.CurrentAWM != nil && exc.CurrentAWM.ID == awm.ID {
				break // already at its highest-value reachable AWM; nothing to improve
			}
			bound, reservations, ok := tryBind(sys, view, exc.UID, awm)
			if !ok {
				continue
			}
			decision.Assignments[exc.UID] = Assignment{AWM: bound, Reservations: reservations}
			break
		}
	}
	if len(decision.Assignments) == 0 {
		decision.Reason = "no awm could be fully bound for any pending exc"
	}
	return decision, nil
}

// pendingEXCs returns every EXC the binder should consider this round:
// fresh READY EXCs awaiting their first assignment, plus RUNNING EXCs
// whose recipe offers a higher-value AWM than the one they currently hold.
func pendingEXCs(sys *System) []*types.EXC {
	out := make([]*types.EXC, 0)
	for _, exc := range sys.Registry.All() {
		switch exc.State {
		case types.Ready:
			out = append(out, exc)
		case types.Running:
			if exc.Recipe == nil || len(exc.Recipe.EnabledAWMs()) == 0 {
				continue
			}
			best := exc.Recipe.EnabledAWMs()[0]
			if exc.CurrentAWM == nil || best.Value > exc.CurrentAWM.Value {
				out = append(out, exc)
			}
		}
	}
	return out
}

// tryBind resolves awm's template requests against the tree and attempts a
// transactional AcquireAll for uid. On any failure, it releases whatever it
// already acquired for this attempt before reporting failure.
func tryBind(sys *System, view types.ViewToken, uid uint64, awm types.AWM) (types.AWM, []accounter.Reservation, bool) {
	bound := awm
	bound.BoundRequests = make([]types.ResourceRequest, 0, len(awm.Requests))
	reqs := make([]accounter.Reservation, 0, len(awm.Requests))

	for _, req := range awm.Requests {
		concrete, ok := resolvePath(sys, view, uid, req.Path, req.Amount)
		if !ok {
			sys.Accounter.ReleaseAll(view, uid, reqs)
			return types.AWM{}, nil, false
		}
		bound.BoundRequests = append(bound.BoundRequests, types.ResourceRequest{Path: concrete, Amount: req.Amount})
		reqs = append(reqs, accounter.Reservation{Path: concrete, Amount: req.Amount})
	}

	if err := sys.Accounter.AcquireAll(view, uid, reqs); err != nil {
		return types.AWM{}, nil, false
	}
	return bound, reqs, true
}

// resolvePath binds a (possibly templated) request path to the first
// concrete, already-registered node with enough capacity available to uid.
// A path with no ANY segment is returned unchanged once existence and
// capacity are confirmed.
func resolvePath(sys *System, view types.ViewToken, uid uint64, path types.ResourcePath, amount uint64) (types.ResourcePath, bool) {
	if !path.IsTemplate() {
		avail, err := sys.Accounter.AvailableTo(path, view, uid)
		if err != nil || avail < amount {
			return types.ResourcePath{}, false
		}
		return path, true
	}
	for _, node := range sys.Tree.All() {
		if !sameShape(path, node.Path) {
			continue
		}
		concrete, err := path.Bind(node.Path)
		if err != nil {
			continue
		}
		avail, err := sys.Accounter.AvailableTo(concrete, view, uid)
		if err != nil || avail < amount {
			continue
		}
		return concrete, true
	}
	return types.ResourcePath{}, false
}

// sameShape reports whether concrete could be template's binding: equal
// length, matching Kind per position, and equal ID wherever template isn't
// ANY.
func sameShape(template, concrete types.ResourcePath) bool {
	ts, cs := template.Segments(), concrete.Segments()
	if len(ts) != len(cs) {
		return false
	}
	for i, s := range ts {
		if s.Kind != cs[i].Kind {
			return false
		}
		if s.ID != types.IDAny && s.ID != cs[i].ID {
			return false
		}
	}
	return true
}
