package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bbque/rtrm/pkg/log"
	"github.com/bbque/rtrm/pkg/metrics"
	"github.com/bbque/rtrm/pkg/types"
)

// Registry owns every EXC known to this instance and enforces the
// lifecycle graph of spec.md §4.4. It is the single source of truth the
// scheduler driver and synchronization manager derive read views from,
// rather than maintaining their own redundant indexes.
type Registry struct {
	mu    sync.RWMutex
	excs  map[uint64]*types.EXC
	order []uint64 // registration order, for deterministic iteration
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{excs: make(map[uint64]*types.EXC)}
}

// Register adds a new EXC in the READY state. It is an error to register
// a uid twice.
func (r *Registry) Register(exc *types.EXC) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.excs[exc.UID]; exists {
		return fmt.Errorf("registry: exc %d already registered", exc.UID)
	}
	exc.State = types.Ready
	exc.SyncState = types.SyncNone
	r.excs[exc.UID] = exc
	r.order = append(r.order, exc.UID)
	metrics.EXCsByState.WithLabelValues(exc.State.String()).Inc()
	log.WithComponent("registry").Info().Uint64("exc", exc.UID).Str("name", exc.Name).Msg("exc registered")
	return nil
}

// Get returns the EXC for uid, or (nil, false) if unknown.
func (r *Registry) Get(uid uint64) (*types.EXC, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.excs[uid]
	return e, ok
}

// All returns every registered EXC in registration order.
func (r *Registry) All() []*types.EXC {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.EXC, 0, len(r.order))
	for _, uid := range r.order {
		out = append(out, r.excs[uid])
	}
	return out
}

// Transition moves exc uid to next, validating the edge against the
// lifecycle graph. ErrIllegalTransition leaves the EXC untouched.
func (r *Registry) Transition(uid uint64, next types.EXCState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exc, ok := r.excs[uid]
	if !ok {
		return fmt.Errorf("registry: unknown exc %d", uid)
	}
	if !exc.CanTransitionTo(next) {
		return fmt.Errorf("registry: exc %d cannot go %s -> %s: %w", uid, exc.State, next, types.ErrIllegalTransition)
	}
	prev := exc.State
	exc.State = next
	if next != types.Sync {
		exc.SyncState = types.SyncNone
	}
	if next != types.Running && next != types.Sync {
		exc.NextAWM = nil
	}
	metrics.EXCsByState.WithLabelValues(prev.String()).Dec()
	metrics.EXCsByState.WithLabelValues(next.String()).Inc()
	return nil
}

// Remove deletes uid's entry. Only legal once the EXC is FINISHED or
// DISABLED, per the ownership rule of spec.md §5: no view may still
// reference it, which callers are responsible for ensuring before calling
// Remove (the registry itself doesn't track view references).
func (r *Registry) Remove(uid uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exc, ok := r.excs[uid]
	if !ok {
		return nil
	}
	if exc.State != types.Finished && exc.State != types.Disabled {
		return fmt.Errorf("registry: cannot remove exc %d in state %s", uid, exc.State)
	}
	delete(r.excs, uid)
	for i, u := range r.order {
		if u == uid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// SASBClass is one of the four iteration classes of the Synchronization
// Manager's SASB protocol (spec.md §4.5).
type SASBClass int

const (
	BlockedOut SASBClass = iota
	LowPriorityRebind
	HighPriorityRebind
	Starters
)

func (c SASBClass) String() string {
	switch c {
	case BlockedOut:
		return "blocked-out"
	case LowPriorityRebind:
		return "low-priority-rebind"
	case HighPriorityRebind:
		return "high-priority-rebind"
	case Starters:
		return "starters"
	default:
		return "unknown"
	}
}

// SASBQueues groups every EXC currently in SYNC into the four SASB
// classes, rebuilt fresh each scheduling round from the registry's
// authoritative map; READY EXCs are not included. BlockedOut and Starters
// are ordered by ascending Priority (lower value = higher priority); the
// two rebind classes are ordered by sync sub-state first and Priority
// second. Ties keep registration order, giving the Synchronization
// Manager a deterministic traversal.
func (r *Registry) SASBQueues() map[SASBClass][]*types.EXC {
	r.mu.RLock()
	defer r.mu.RUnlock()

	queues := map[SASBClass][]*types.EXC{
		BlockedOut:         {},
		LowPriorityRebind:  {},
		HighPriorityRebind: {},
		Starters:           {},
	}
	for _, uid := range r.order {
		exc := r.excs[uid]
		if exc.State != types.Sync {
			continue
		}
		switch exc.SyncState {
		case types.Blocked:
			queues[BlockedOut] = append(queues[BlockedOut], exc)
		case types.Starting:
			queues[Starters] = append(queues[Starters], exc)
		case types.Migrate, types.MigRec, types.Reconf:
			if exc.NextAWM != nil && exc.CurrentAWM != nil && exc.NextAWM.Value < exc.CurrentAWM.Value {
				queues[LowPriorityRebind] = append(queues[LowPriorityRebind], exc)
			} else {
				queues[HighPriorityRebind] = append(queues[HighPriorityRebind], exc)
			}
		}
	}
	for _, class := range []SASBClass{BlockedOut, Starters} {
		list := queues[class]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	}
	for _, class := range []SASBClass{LowPriorityRebind, HighPriorityRebind} {
		list := queues[class]
		sort.SliceStable(list, func(i, j int) bool {
			ri, rj := subClassRank(list[i].SyncState), subClassRank(list[j].SyncState)
			if ri != rj {
				return ri < rj
			}
			return list[i].Priority < list[j].Priority
		})
	}
	return queues
}

// subClassRank orders the rebind sub-classes MIGRATE, then MIGREC, then
// RECONF, per spec.md §4.5 steps 2 and 3.
func subClassRank(s types.SyncState) int {
	switch s {
	case types.Migrate:
		return 0
	case types.MigRec:
		return 1
	case types.Reconf:
		return 2
	default:
		return 3
	}
}
