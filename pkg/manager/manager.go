package manager

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/bbque/rtrm/pkg/accounter"
	"github.com/bbque/rtrm/pkg/events"
	"github.com/bbque/rtrm/pkg/log"
	"github.com/bbque/rtrm/pkg/peer"
	"github.com/bbque/rtrm/pkg/platform"
	"github.com/bbque/rtrm/pkg/recipe"
	"github.com/bbque/rtrm/pkg/registry"
	"github.com/bbque/rtrm/pkg/restree"
	"github.com/bbque/rtrm/pkg/rpc"
	"github.com/bbque/rtrm/pkg/scheduler"
	"github.com/bbque/rtrm/pkg/security"
	syncmgr "github.com/bbque/rtrm/pkg/sync"
	"github.com/bbque/rtrm/pkg/types"
)

// DistributedManagerConfig mirrors the "[DistributedManager]" INI section of
// spec.md §6.
type DistributedManagerConfig struct {
	StartAddress          string
	EndAddress            string
	LocalAddress          string
	DiscoverPeriodSeconds int
	PingPeriodSeconds     int
	Hierarchical          bool
}

// AgentProxyConfig mirrors the "[AgentProxy]" INI section.
type AgentProxyConfig struct {
	Port int
}

// SchedulerConfig mirrors the "[Scheduler]" INI section. Policy names the
// Policy implementation to run; only "greedy" (scheduler.GreedyBinder) ships
// with this build.
type SchedulerConfig struct {
	Policy string
}

// LoggingConfig mirrors the "[Logging]" INI section.
type LoggingConfig struct {
	Level string
}

// PlatformConfig mirrors the "[Platform]" INI section: how often the Local
// Platform Proxy re-scans host capacity for online/offline deltas.
type PlatformConfig struct {
	RefreshPeriodSeconds int
}

// defaultRefreshPeriodSeconds is used when PlatformConfig.RefreshPeriodSeconds
// is left at its zero value.
const defaultRefreshPeriodSeconds = 30

// Config is the daemon's full configuration, loaded by cmd/rtrmd from the
// YAML file named by --config (SPEC_FULL.md §6).
type Config struct {
	SysID      int
	InstanceID string
	RecipesDir string

	DistributedManager DistributedManagerConfig
	AgentProxy          AgentProxyConfig
	Scheduler           SchedulerConfig
	Logging             LoggingConfig
	Platform            PlatformConfig
}

func (c Config) refreshPeriod() time.Duration {
	secs := c.Platform.RefreshPeriodSeconds
	if secs <= 0 {
		secs = defaultRefreshPeriodSeconds
	}
	return time.Duration(secs) * time.Second
}

func (c Config) policy() scheduler.Policy {
	switch c.Scheduler.Policy {
	case "", "greedy":
		return scheduler.GreedyBinder{}
	default:
		log.WithComponent("manager").Warn().Str("policy", c.Scheduler.Policy).
			Msg("unknown scheduler policy, falling back to greedy")
		return scheduler.GreedyBinder{}
	}
}

// Manager is the Resource Manager loop (C10): it owns every other
// component and is the only goroutine that mutates EXC lifecycle state,
// driven entirely by events arriving on its Broker subscription.
type Manager struct {
	cfg Config

	tree      *restree.Tree
	accounter *accounter.Accounter
	registry  *registry.Registry
	syncMgr   *syncmgr.Manager
	scheduler *scheduler.Driver
	policy    scheduler.Policy
	platform  platform.Proxy
	peers     *peer.Directory
	rpcServer *rpc.Server
	ca        *security.CertAuthority
	broker    *events.Broker

	recipesMu stdsync.RWMutex
	recipes   map[string]*recipe.Cache

	sub    events.Subscriber
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewResourceTree constructs the Resource Tree (C1) that must back both the
// Local Platform Proxy passed to New and the Manager itself, since the proxy
// registers nodes that the scheduler and accounter then read through the
// same tree. cmd/rtrmd builds one of these before constructing its
// *platform.ContainerdProxy.
func NewResourceTree() *restree.Tree {
	return restree.New()
}

// NewEventBroker constructs the event bus (C10) that must back both the
// Local Platform Proxy passed to New and the Manager itself, since the proxy
// publishes PLAT_REFRESH onto it and the event loop is what reacts to that
// publication. cmd/rtrmd builds one of these before constructing its
// *platform.ContainerdProxy.
func NewEventBroker() *events.Broker {
	return events.NewBroker()
}

// New wires every component around tree and broker. tree must be the same
// instance prox registers its nodes into, and broker the same instance prox
// publishes refresh events onto. prox is the Local Platform Proxy backend (a
// *platform.ContainerdProxy in production, a fake in tests); ca must already
// be initialized or have had a root imported.
func New(cfg Config, tree *restree.Tree, broker *events.Broker, prox platform.Proxy, ca *security.CertAuthority) (*Manager, error) {
	reg := registry.New()
	acct := accounter.New(tree)
	sm := syncmgr.New(reg)
	sched := scheduler.New(&scheduler.System{Registry: reg, Tree: tree, Accounter: acct}, sm, broker, prox)

	start := net.ParseIP(cfg.DistributedManager.StartAddress)
	end := net.ParseIP(cfg.DistributedManager.EndAddress)
	local := net.ParseIP(cfg.DistributedManager.LocalAddress)
	if start == nil || end == nil || local == nil {
		return nil, fmt.Errorf("manager: DistributedManager start/end/local addresses must be valid IPv4")
	}

	m := &Manager{
		cfg:       cfg,
		tree:      tree,
		accounter: acct,
		registry:  reg,
		syncMgr:   sm,
		scheduler: sched,
		policy:    cfg.policy(),
		platform:  prox,
		ca:        ca,
		broker:    broker,
		recipes:   make(map[string]*recipe.Cache),
	}

	dialer := func(addr string) (peer.AgentClient, error) {
		cert, err := ca.IssuePeerCertificate(cfg.InstanceID, nil, []net.IP{local})
		if err != nil {
			return nil, fmt.Errorf("manager: issue client certificate for dial: %w", err)
		}
		return rpc.Dial(addr, cert, ca)
	}
	m.peers = peer.New(peer.Config{
		StartAddress:          start,
		EndAddress:            end,
		LocalAddress:          local,
		Port:                  cfg.AgentProxy.Port,
		DiscoverPeriodSeconds: cfg.DistributedManager.DiscoverPeriodSeconds,
		PingPeriodSeconds:     cfg.DistributedManager.PingPeriodSeconds,
		Hierarchical:          cfg.DistributedManager.Hierarchical,
	}, dialer)

	m.rpcServer = rpc.NewServer(tree, reg, m.peers, m, broker, cfg.SysID)
	m.rpcServer.ManageFn = m.applyNodeManagementAction

	return m, nil
}

// LoadRecipes parses every ".yaml"/".yml" file in dir and caches it by
// recipe name, replacing whatever recipe set was loaded before.
func (m *Manager) LoadRecipes(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("manager: list recipes in %s: %w", dir, err)
	}
	loaded := make(map[string]*recipe.Cache, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		r, err := recipe.Load(path)
		if err != nil {
			return fmt.Errorf("manager: load recipe %s: %w", path, err)
		}
		loaded[r.Name] = recipe.NewCache(r)
	}
	m.recipesMu.Lock()
	m.recipes = loaded
	m.recipesMu.Unlock()
	log.WithComponent("manager").Info().Int("count", len(loaded)).Str("dir", dir).Msg("recipes loaded")
	return nil
}

func (m *Manager) recipeByName(name string) (*types.Recipe, bool) {
	m.recipesMu.RLock()
	defer m.recipesMu.RUnlock()
	c, ok := m.recipes[name]
	if !ok {
		return nil, false
	}
	return &types.Recipe{Name: name, AWMs: c.Enabled()}, true
}

// Start loads platform data, starts the Peer Directory's background
// discover/ping ticker, starts the Agent RPC server, and launches the event
// loop goroutine. It returns once the initial platform scan completes;
// ListenAndServe and the event loop continue running in the background
// until Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.platform.LoadPlatformData(ctx); err != nil {
		return fmt.Errorf("manager: initial platform scan: %w", err)
	}

	m.sub = m.broker.Subscribe()
	m.broker.Start()
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run(ctx)
	go m.refreshLoop(ctx)

	m.peers.Start(ctx)

	addr := fmt.Sprintf("%s:%d", m.cfg.DistributedManager.LocalAddress, m.cfg.AgentProxy.Port)
	go func() {
		if err := m.rpcServer.ListenAndServe(addr, m.ca, m.cfg.InstanceID); err != nil {
			log.WithComponent("manager").Error().Err(err).Msg("agent rpc server exited")
		}
	}()

	log.WithComponent("manager").Info().Str("addr", addr).Msg("rtrm instance started")
	return nil
}

// Stop tears down the Agent RPC server, the Peer Directory ticker, and the
// event loop, in that order, waiting for the event loop to drain.
func (m *Manager) Stop() {
	m.rpcServer.Stop()
	m.peers.Stop()
	if m.stopCh != nil {
		close(m.stopCh)
		<-m.doneCh
	}
	m.broker.Stop()
}

// refreshLoop periodically re-scans host capacity through the Local
// Platform Proxy so online/offline transitions (a node pulled out of
// service, a new one added) are ever detected after the initial boot scan;
// Refresh itself publishes PLAT_REFRESH when it finds a change.
func (m *Manager) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.refreshPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := m.platform.Refresh(ctx); err != nil {
				log.WithComponent("manager").Warn().Err(err).Msg("platform refresh failed")
			}
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// run is the Resource Manager's single-goroutine event loop (spec.md §4.10):
// it processes exactly one event at a time from the broker's buffered
// subscriber channel, so no explicit re-entrancy guard is needed.
func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)
	for {
		select {
		case ev := <-m.sub:
			m.handle(ctx, ev)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev *events.Event) {
	logger := log.WithComponent("manager")
	switch ev.Type {
	case events.EventPlatformRefresh, events.EventNewApplication, events.EventApplicationExit, events.EventSyncDone:
		results, err := m.scheduler.Schedule(ctx, m.policy)
		if err != nil {
			logger.Warn().Err(err).Str("trigger", string(ev.Type)).Msg("scheduling round failed")
			return
		}
		if len(results) > 0 {
			logger.Info().Int("excs", len(results)).Str("trigger", string(ev.Type)).Msg("scheduling round committed")
		}
	case events.EventPeerJoined:
		logger.Info().Str("message", ev.Message).Msg("peer directory membership changed")
	case events.EventUserCommand:
		logger.Info().Str("message", ev.Message).Msg("user command processed")
	default:
		logger.Debug().Str("type", string(ev.Type)).Msg("unhandled event type")
	}
}

// RegisterApplication admits a new EXC into the Application Registry and
// wakes the event loop for a scheduling round (spec.md §4.4 NEW_APP path).
// recipeName must already have been loaded via LoadRecipes.
func (m *Manager) RegisterApplication(pid, excID int, name, recipeName string, priority int) error {
	r, ok := m.recipeByName(recipeName)
	if !ok {
		return fmt.Errorf("manager: unknown recipe %q", recipeName)
	}
	exc := &types.EXC{
		UID:      types.EXCUID(pid, excID),
		Name:     name,
		Recipe:   r,
		Priority: priority,
	}
	if err := m.registry.Register(exc); err != nil {
		return fmt.Errorf("manager: register exc: %w", err)
	}
	m.broker.Publish(&events.Event{Type: events.EventNewApplication, Message: fmt.Sprintf("exc %s registered", name)})
	return nil
}

// UnregisterApplication retires uid from the Application Registry (spec.md
// §4.4 APP_EXIT path): it releases whatever the EXC holds on the real
// platform, detaches its RTLib sync channel, drives it to its terminal
// lifecycle state, removes it from the registry, and wakes the event loop
// with EventApplicationExit so a scheduling round can reclaim its
// resources.
func (m *Manager) UnregisterApplication(ctx context.Context, uid uint64) error {
	exc, ok := m.registry.Get(uid)
	if !ok {
		return fmt.Errorf("manager: unknown exc %d", uid)
	}

	if exc.CurrentAWM != nil {
		if err := m.platform.Release(ctx, exc); err != nil {
			log.WithComponent("manager").Warn().Uint64("exc", uid).Err(err).
				Msg("platform release failed during application exit")
		}
	}
	m.syncMgr.Detach(uid)

	target := types.Finished
	if exc.State != types.Running {
		target = types.Disabled
	}
	if exc.State != target {
		if err := m.registry.Transition(uid, target); err != nil {
			return fmt.Errorf("manager: exit exc %d: %w", uid, err)
		}
	}
	if err := m.registry.Remove(uid); err != nil {
		return fmt.Errorf("manager: remove exc %d: %w", uid, err)
	}

	m.broker.Publish(&events.Event{Type: events.EventApplicationExit, Message: fmt.Sprintf("exc %d exited", uid)})
	return nil
}

// Delegate implements rpc.ScheduleDelegate: a remote instance delegated an
// application-schedule-request to this one (spec.md §4.9
// SendScheduleRequest). The EXC is admitted under its caller-supplied
// priority, with the pid and exc id split out of the request's EXCUID.
func (m *Manager) Delegate(req rpc.ApplicationScheduleRequest) error {
	pid, excID := types.SplitEXCUID(req.EXCUID)
	return m.RegisterApplication(pid, excID, req.EXCName, req.RecipeName, req.Priority)
}

// applyNodeManagementAction backs SetNodeManagementAction (spec.md §4.9):
// DRAIN marks every registered node fully offline so the scheduler stops
// admitting new assignments to it; RESUME clears that; SHUTDOWN stops the
// instance asynchronously so the RPC call itself can still reply.
func (m *Manager) applyNodeManagementAction(action rpc.NodeManagementAction) error {
	switch action {
	case rpc.ActionDrain:
		for _, n := range m.tree.All() {
			if err := m.tree.SetOffline(n.Path, n.Total, time.Now()); err != nil {
				return err
			}
		}
	case rpc.ActionResume:
		for _, n := range m.tree.All() {
			if err := m.tree.SetOnline(n.Path, time.Now()); err != nil {
				return err
			}
		}
	case rpc.ActionShutdown:
		go m.Stop()
	case rpc.ActionNone:
	default:
		return fmt.Errorf("manager: unknown node management action %d", action)
	}
	return nil
}
