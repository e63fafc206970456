package scheduler

import (
	"context"
	"fmt"

	"github.com/bbque/rtrm/pkg/accounter"
	"github.com/bbque/rtrm/pkg/events"
	"github.com/bbque/rtrm/pkg/log"
	"github.com/bbque/rtrm/pkg/metrics"
	"github.com/bbque/rtrm/pkg/platform"
	"github.com/bbque/rtrm/pkg/registry"
	"github.com/bbque/rtrm/pkg/restree"
	syncmgr "github.com/bbque/rtrm/pkg/sync"
	"github.com/bbque/rtrm/pkg/types"
)

// System bundles the read/write surfaces a Policy is allowed to touch
// while it plans: the registry for EXC/recipe lookups, the tree for
// topology-aware template binding, and the accounter for the one working
// view it may Acquire/Release/Available against.
type System struct {
	Registry  *registry.Registry
	Tree      *restree.Tree
	Accounter *accounter.Accounter
}

// Assignment is one EXC's chosen AWM plus the concrete reservations the
// policy already applied to the working view to win it.
type Assignment struct {
	AWM          types.AWM
	Reservations []accounter.Reservation
}

// Decision is a policy's output: every EXC it chose to (re)bind.
type Decision struct {
	Assignments map[uint64]Assignment
	Reason      string // set on empty/failed decisions for diagnostics
}

// Policy is any value able to plan a schedule over System using the
// driver's working view. Policies are pluggable (spec.md §1's "the core
// does not implement a scheduling policy itself").
type Policy interface {
	Schedule(ctx context.Context, sys *System, view types.ViewToken) (Decision, error)
}

// Driver is the Scheduler Driver (C6).
type Driver struct {
	sys      *System
	sync     *syncmgr.Manager
	broker   *events.Broker
	platform platform.Proxy
	nextTok  uint64
}

// New returns a Driver operating over sys, handing sync-phase work to
// syncManager, publishing EventSyncDone onto broker once each round's
// handshakes resolve, and enforcing successful bindings onto prox (the
// Local Platform Proxy, C7). broker and prox may be nil in tests that don't
// exercise those paths.
func New(sys *System, syncManager *syncmgr.Manager, broker *events.Broker, prox platform.Proxy) *Driver {
	return &Driver{sys: sys, sync: syncManager, broker: broker, platform: prox}
}

func (d *Driver) token() uint64 {
	d.nextTok++
	return d.nextTok
}

// Schedule runs one full scheduling round: plan on a fresh view, migrate
// affected EXCs through the Synchronization Manager, release reservations
// for any EXC whose handshake failed, and commit or discard the view
// (spec.md §4.6).
func (d *Driver) Schedule(ctx context.Context, policy Policy) ([]syncmgr.Result, error) {
	logger := log.WithComponent("scheduler")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	view := d.sys.Accounter.GetView("scheduling-round")
	decision, err := policy.Schedule(ctx, d.sys, view)
	if err != nil {
		d.sys.Accounter.DeleteView(view)
		metrics.SchedulingRoundsTotal.WithLabelValues("discarded").Inc()
		return nil, fmt.Errorf("scheduler: policy failed: %w", err)
	}
	if len(decision.Assignments) == 0 {
		d.sys.Accounter.DeleteView(view)
		metrics.SchedulingRoundsTotal.WithLabelValues("no_op").Inc()
		logger.Debug().Str("reason", decision.Reason).Msg("scheduling round produced no changes")
		return nil, nil
	}

	starting := make(map[uint64]bool, len(decision.Assignments))
	for uid, a := range decision.Assignments {
		exc, ok := d.sys.Registry.Get(uid)
		if !ok {
			continue
		}
		awm := a.AWM
		exc.NextAWM = &awm
		substate := types.Reconf
		if exc.CurrentAWM == nil {
			substate = types.Starting
			starting[uid] = true
		}
		if err := d.sys.Registry.Transition(uid, types.Sync); err != nil {
			logger.Warn().Uint64("exc", uid).Err(err).Msg("could not move exc to SYNC")
			d.sys.Accounter.ReleaseAll(view, uid, a.Reservations)
			continue
		}
		exc.SyncState = substate
	}

	results := d.sync.RunRound(ctx, d.token)
	if d.broker != nil {
		d.broker.Publish(&events.Event{Type: events.EventSyncDone, Message: fmt.Sprintf("sync round resolved %d excs", len(results))})
	}

	failures := 0
	for _, res := range results {
		if res.Outcome != syncmgr.Succeeded {
			failures++
			if a, ok := decision.Assignments[res.UID]; ok {
				d.sys.Accounter.ReleaseAll(view, res.UID, a.Reservations)
			}
			continue
		}
		metrics.EXCsScheduled.Inc()
		d.actuate(ctx, res.UID, decision.Assignments[res.UID], starting[res.UID])
	}
	if failures > 0 {
		metrics.EXCsFailed.Add(float64(failures))
	}

	if err := d.sys.Accounter.Commit(view); err != nil {
		metrics.SchedulingRoundsTotal.WithLabelValues("discarded").Inc()
		return results, fmt.Errorf("scheduler: commit failed: %w", err)
	}
	metrics.SchedulingRoundsTotal.WithLabelValues("committed").Inc()
	return results, nil
}

// actuate enforces a successfully-synced EXC's new AWM binding onto the
// real platform (spec.md §4.6 step 3, §4.7): Setup provisions its container
// on first bind, then MapResources patches the OCI resource limits to
// match the bound AWM. Failures are logged rather than rolled back — the
// in-memory commit already reflects the new binding, and a platform hiccup
// here gets corrected on the next scheduling round.
func (d *Driver) actuate(ctx context.Context, uid uint64, a Assignment, isStarting bool) {
	if d.platform == nil {
		return
	}
	exc, ok := d.sys.Registry.Get(uid)
	if !ok {
		return
	}
	logger := log.WithComponent("scheduler")
	if isStarting {
		if err := d.platform.Setup(ctx, exc); err != nil {
			logger.Warn().Uint64("exc", uid).Err(err).Msg("platform setup failed")
			return
		}
	}
	if err := d.platform.MapResources(ctx, exc, a.AWM.BoundRequests, false); err != nil {
		logger.Warn().Uint64("exc", uid).Err(err).Msg("platform map resources failed")
	}
}
