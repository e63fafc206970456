package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bbque/rtrm/pkg/log"
	"github.com/bbque/rtrm/pkg/metrics"
	"github.com/bbque/rtrm/pkg/registry"
	"github.com/bbque/rtrm/pkg/types"
)

// Phase is one step of the four-phase handshake of spec.md §4.5.
type Phase int

const (
	PreChange Phase = iota
	SyncChange
	DoChange
	PostChange
)

func (p Phase) String() string {
	switch p {
	case PreChange:
		return "PreChange"
	case SyncChange:
		return "SyncChange"
	case DoChange:
		return "DoChange"
	case PostChange:
		return "PostChange"
	default:
		return "unknown"
	}
}

// Request is one phase's outbound message to the RTLib peer.
type Request struct {
	Phase     Phase
	Token     uint64
	AWMID     int
	Resources []types.ResourceRequest
}

// Reply is the RTLib peer's response to a phase. LatencyMs is meaningful
// only for PreChange; OK is meaningful for SyncChange/PostChange.
type Reply struct {
	Token     uint64
	OK        bool
	LatencyMs int
}

// Channel is the typed channel pair standing in for the RTLib callback
// socket: the manager writes Requests and reads Replies. DoChange expects
// no reply, per the wire table in spec.md §4.5.
type Channel struct {
	Requests chan Request
	Replies  chan Reply
}

// NewChannel returns a Channel pair with an unbuffered Requests channel and
// a one-slot Replies buffer.
func NewChannel() *Channel {
	return &Channel{
		Requests: make(chan Request),
		Replies:  make(chan Reply, 1),
	}
}

// minPhaseTimeout is the floor for SyncChange/DoChange/PostChange
// timeouts, per spec.md §4.5: "default >= max(latency-estimate, 50 ms)".
const minPhaseTimeout = 50 * time.Millisecond

// preChangeTimeout bounds how long the manager waits for an EXC to accept
// PreChange and report its own reconfiguration cost.
const preChangeTimeout = 2 * time.Second

// Outcome classifies how one EXC's handshake ended.
type Outcome int

const (
	Succeeded Outcome = iota
	TimedOut
	SyncFailed
)

// Result reports the outcome of one EXC's handshake.
type Result struct {
	UID     uint64
	Outcome Outcome
	Err     error
}

// Manager runs the SASB iteration and four-phase handshake against every
// EXC pending a transition, consuming the registry's authoritative state
// but mutating only the lifecycle fields the handshake itself owns
// (CurrentAWM/NextAWM/State/SyncState).
type Manager struct {
	registry *registry.Registry
	logger   zerolog.Logger

	// PreChangeTimeout and MinPhaseTimeout default to the spec.md §4.5
	// values; tests shrink them to keep timeout scenarios fast.
	PreChangeTimeout time.Duration
	MinPhaseTimeout  time.Duration

	mu       stdsync.Mutex
	channels map[uint64]*Channel
}

// New returns a Manager driving reg's EXCs.
func New(reg *registry.Registry) *Manager {
	return &Manager{
		registry:         reg,
		logger:           log.WithComponent("sync"),
		channels:         make(map[uint64]*Channel),
		PreChangeTimeout: preChangeTimeout,
		MinPhaseTimeout:  minPhaseTimeout,
	}
}

// Attach registers uid's RTLib peer channel, called once when the
// application's EXC first connects.
func (m *Manager) Attach(uid uint64, ch *Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[uid] = ch
}

// Detach removes uid's channel, e.g. on application exit.
func (m *Manager) Detach(uid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, uid)
}

func (m *Manager) channelFor(uid uint64) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[uid]
	return ch, ok
}

// RunRound iterates reg's SASB queues in the fixed order of spec.md §4.5
// (Blocked-out, Low-priority rebind, High-priority rebind, Starters),
// running every class's EXCs concurrently with each other (linearizable
// per EXC, concurrent across EXCs) and restarting the class order fresh
// on every call. nextToken generates the handshake token for each EXC.
func (m *Manager) RunRound(ctx context.Context, nextToken func() uint64) []Result {
	queues := m.registry.SASBQueues()
	order := []registry.SASBClass{
		registry.BlockedOut,
		registry.LowPriorityRebind,
		registry.HighPriorityRebind,
		registry.Starters,
	}

	var results []Result
	for _, class := range order {
		excs := queues[class]
		if len(excs) == 0 {
			continue
		}
		var wg stdsync.WaitGroup
		var mu stdsync.Mutex
		wg.Add(len(excs))
		for _, exc := range excs {
			go func(exc *types.EXC) {
				defer wg.Done()
				res := m.handshake(ctx, exc, nextToken())
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}(exc)
		}
		wg.Wait()
	}
	return results
}

// handshake runs the four-phase protocol against one EXC. On success it
// transitions the EXC SYNC -> RUNNING with CurrentAWM set to NextAWM. On
// SyncChange/PostChange failure or timeout it rolls the EXC back to its
// previous AWM and returns to RUNNING (or DISABLED if there was no
// previous AWM to roll back to), per spec.md §4.5 and §7.
func (m *Manager) handshake(ctx context.Context, exc *types.EXC, token uint64) Result {
	ch, ok := m.channelFor(exc.UID)
	if !ok {
		return Result{UID: exc.UID, Outcome: SyncFailed, Err: fmt.Errorf("sync: no RTLib channel attached for exc %d", exc.UID)}
	}
	if exc.NextAWM == nil {
		return Result{UID: exc.UID, Outcome: SyncFailed, Err: fmt.Errorf("sync: exc %d has no pending AWM", exc.UID)}
	}

	latencyMs, err := m.phasePreChange(ctx, ch, exc, token)
	if err != nil {
		return m.rollback(exc, token, TimedOut, err)
	}

	phaseTimeout := m.MinPhaseTimeout
	if d := time.Duration(latencyMs) * time.Millisecond; d > phaseTimeout {
		phaseTimeout = d
	}

	if err := m.phaseSyncChange(ctx, ch, token, phaseTimeout); err != nil {
		return m.rollback(exc, token, classify(err), err)
	}

	m.phaseDoChange(ch, token)

	if err := m.phasePostChange(ctx, ch, token, phaseTimeout); err != nil {
		return m.rollback(exc, token, classify(err), err)
	}

	exc.CurrentAWM = exc.NextAWM
	exc.NextAWM = nil
	exc.SyncState = types.SyncNone
	exc.State = types.Running
	return Result{UID: exc.UID, Outcome: Succeeded}
}

func classify(err error) Outcome {
	if err == types.ErrSyncTimeout {
		return TimedOut
	}
	return SyncFailed
}

func (m *Manager) rollback(exc *types.EXC, token uint64, outcome Outcome, cause error) Result {
	m.logger.Warn().Uint64("exc", exc.UID).Uint64("token", token).Err(cause).Msg("sync handshake rolled back")
	exc.NextAWM = nil
	exc.SyncState = types.SyncNone
	if exc.CurrentAWM != nil {
		exc.State = types.Running
	} else {
		exc.State = types.Disabled
	}
	label := "timeout"
	if outcome == SyncFailed {
		label = "failed"
	}
	metrics.SyncTimeoutsTotal.WithLabelValues(label).Inc()
	return Result{UID: exc.UID, Outcome: outcome, Err: cause}
}

func (m *Manager) phasePreChange(ctx context.Context, ch *Channel, exc *types.EXC, token uint64) (int, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SyncPhaseDuration, PreChange.String())

	req := Request{Phase: PreChange, Token: token, AWMID: exc.NextAWM.ID, Resources: exc.NextAWM.BoundRequests}
	select {
	case ch.Requests <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(m.PreChangeTimeout):
		return 0, types.ErrSyncTimeout
	}
	select {
	case reply := <-ch.Replies:
		if reply.Token != token {
			return 0, fmt.Errorf("sync: PreChange token mismatch")
		}
		return reply.LatencyMs, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(m.PreChangeTimeout):
		return 0, types.ErrSyncTimeout
	}
}

func (m *Manager) phaseSyncChange(ctx context.Context, ch *Channel, token uint64, timeout time.Duration) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SyncPhaseDuration, SyncChange.String())

	select {
	case ch.Requests <- Request{Phase: SyncChange, Token: token}:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return types.ErrSyncTimeout
	}
	select {
	case reply := <-ch.Replies:
		if !reply.OK {
			return types.ErrSyncFailed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return types.ErrSyncTimeout
	}
}

// phaseDoChange sends the reconfigure instruction; no reply is expected
// per spec.md §4.5, so this best-effort sends and moves on.
func (m *Manager) phaseDoChange(ch *Channel, token uint64) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SyncPhaseDuration, DoChange.String())
	select {
	case ch.Requests <- Request{Phase: DoChange, Token: token}:
	case <-time.After(m.MinPhaseTimeout):
	}
}

func (m *Manager) phasePostChange(ctx context.Context, ch *Channel, token uint64, timeout time.Duration) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SyncPhaseDuration, PostChange.String())

	select {
	case ch.Requests <- Request{Phase: PostChange, Token: token}:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return types.ErrSyncTimeout
	}
	select {
	case reply := <-ch.Replies:
		if !reply.OK {
			return types.ErrSyncFailed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return types.ErrSyncTimeout
	}
}
