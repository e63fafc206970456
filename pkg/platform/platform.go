package platform

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	stdsync "sync"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/bbque/rtrm/pkg/events"
	"github.com/bbque/rtrm/pkg/log"
	"github.com/bbque/rtrm/pkg/metrics"
	"github.com/bbque/rtrm/pkg/restree"
	"github.com/bbque/rtrm/pkg/types"
)

// DefaultNamespace is the containerd namespace RTRM instances use, keeping
// their containers isolated from any others on the same host.
const DefaultNamespace = "rtrm"

// DefaultSocketPath is the default containerd socket.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// Description is one scan result: every resource node this instance found,
// with its current total capacity.
type Description struct {
	Nodes []NodeCapacity
}

// NodeCapacity is one path's discovered capacity.
type NodeCapacity struct {
	Path  types.ResourcePath
	Total uint64
}

// Proxy is the Local Platform Proxy contract, kept as an interface so the
// containerd backend can be swapped for tests or another actuator without
// touching the Resource Manager loop.
type Proxy interface {
	LoadPlatformData(ctx context.Context) (Description, error)
	Refresh(ctx context.Context) (Description, error)
	Setup(ctx context.Context, exc *types.EXC) error
	Release(ctx context.Context, exc *types.EXC) error
	MapResources(ctx context.Context, exc *types.EXC, bound []types.ResourceRequest, exclusive bool) error
}

// ContainerdProxy is the reference Proxy: it discovers CPU/memory capacity
// from the host, and enforces AWM bindings by creating/updating/deleting a
// containerd task per EXC, matching the teacher's ContainerdRuntime shape
// one-for-one (namespace wrapping, an alpine container running
// "sleep infinity", OCI resource patch via Task.Update).
type ContainerdProxy struct {
	client    *containerd.Client
	namespace string
	tree      *restree.Tree
	broker    *events.Broker
	sysID     int

	mu      stdsync.Mutex
	tasks   map[uint64]containerd.Task
	systemP types.ResourcePath
}

// NewContainerdProxy dials containerd at socketPath (DefaultSocketPath if
// empty) and returns a ContainerdProxy registering discovered nodes into
// tree, publishing refresh events onto broker.
func NewContainerdProxy(socketPath string, tree *restree.Tree, broker *events.Broker, sysID int) (*ContainerdProxy, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("platform: connect to containerd: %w", err)
	}
	sysPath, err := types.NewResourcePath(types.ResourceSegment{Kind: types.System, ID: sysID})
	if err != nil {
		client.Close()
		return nil, err
	}
	return &ContainerdProxy{
		client:    client,
		namespace: DefaultNamespace,
		tree:      tree,
		broker:    broker,
		sysID:     sysID,
		tasks:     make(map[uint64]containerd.Task),
		systemP:   sysPath,
	}, nil
}

// Close closes the containerd client connection.
func (p *ContainerdProxy) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// LoadPlatformData performs the initial scan and registers every discovered
// node into the resource tree.
func (p *ContainerdProxy) LoadPlatformData(ctx context.Context) (Description, error) {
	desc := p.scan()
	for _, n := range desc.Nodes {
		if _, err := p.tree.Register(n.Path, n.Total); err != nil {
			log.WithComponent("platform").Warn().Str("path", n.Path.String()).Err(err).Msg("node already registered")
		}
	}
	return desc, nil
}

// Refresh re-scans host capacity and registers any scanned node not yet in
// the tree, publishing platform.refresh on the broker when a node was added
// or a scanned total differs from the registered one. It does not change
// the total or the online/offline state of nodes already registered.
func (p *ContainerdProxy) Refresh(ctx context.Context) (Description, error) {
	desc := p.scan()
	changed := false
	for _, n := range desc.Nodes {
		node, ok := p.tree.Get(n.Path)
		if !ok {
			if _, err := p.tree.Register(n.Path, n.Total); err == nil {
				changed = true
			}
			continue
		}
		if node.Total != n.Total {
			changed = true
		}
	}
	if changed && p.broker != nil {
		p.broker.Publish(&events.Event{Type: events.EventPlatformRefresh, Message: "platform capacity changed"})
	}
	return desc, nil
}

// scan reads CPU and memory capacity from the host. A richer platform (GPU
// enumeration, NUMA-aware PE layout) is out of scope per spec.md §1.
func (p *ContainerdProxy) scan() Description {
	ncpu := runtime.NumCPU()
	memTotal := readMemTotalKB() / 1024 // MiB, the unit MapResources expects

	nodes := []NodeCapacity{{Path: p.systemP, Total: 1}}

	cpuPath, _ := types.NewResourcePath(
		types.ResourceSegment{Kind: types.System, ID: p.sysID},
		types.ResourceSegment{Kind: types.CPU, ID: 0},
	)
	nodes = append(nodes, NodeCapacity{Path: cpuPath, Total: uint64(ncpu)})

	for i := 0; i < ncpu; i++ {
		pePath, _ := types.NewResourcePath(
			types.ResourceSegment{Kind: types.System, ID: p.sysID},
			types.ResourceSegment{Kind: types.CPU, ID: 0},
			types.ResourceSegment{Kind: types.ProcElement, ID: i},
		)
		nodes = append(nodes, NodeCapacity{Path: pePath, Total: 100})
	}

	memPath, _ := types.NewResourcePath(
		types.ResourceSegment{Kind: types.System, ID: p.sysID},
		types.ResourceSegment{Kind: types.Memory, ID: 0},
	)
	nodes = append(nodes, NodeCapacity{Path: memPath, Total: memTotal})

	return Description{Nodes: nodes}
}

// readMemTotalKB reads MemTotal from /proc/meminfo, returning 0 if it
// cannot be read (e.g. non-Linux test environment).
func readMemTotalKB() uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var label string
		var kb uint64
		if _, err := fmt.Sscanf(scanner.Text(), "%s %d", &label, &kb); err == nil && label == "MemTotal:" {
			return kb
		}
	}
	return 0
}

// Setup creates and starts a containerd task standing in for exc's address
// space: an alpine container (pulled if not already present) running
// "sleep infinity", ready for MapResources to patch its cgroup limits once
// an AWM is bound. It fails if a container for exc already exists.
func (p *ContainerdProxy) Setup(ctx context.Context, exc *types.EXC) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlatformSetupDuration)

	ctx = namespaces.WithNamespace(ctx, p.namespace)
	id := excContainerID(exc.UID)

	image, err := p.client.GetImage(ctx, "docker.io/library/alpine:latest")
	if err != nil {
		image, err = p.client.Pull(ctx, "docker.io/library/alpine:latest", containerd.WithPullUnpack)
		if err != nil {
			return fmt.Errorf("platform: pull base image: %w", err)
		}
	}

	container, err := p.client.NewContainer(ctx, id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(oci.WithImageConfig(image), oci.WithProcessArgs("sleep", "infinity")),
	)
	if err != nil {
		return fmt.Errorf("platform: create container for exc %d: %w", exc.UID, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("platform: create task for exc %d: %w", exc.UID, err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("platform: start task for exc %d: %w", exc.UID, err)
	}

	p.mu.Lock()
	p.tasks[exc.UID] = task
	p.mu.Unlock()
	return nil
}

// MapResources translates bound's cpu/memory amounts into an OCI
// LinuxResources patch and applies it via Task.Update.
func (p *ContainerdProxy) MapResources(ctx context.Context, exc *types.EXC, bound []types.ResourceRequest, exclusive bool) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlatformMapResourcesDuration)

	p.mu.Lock()
	task, ok := p.tasks[exc.UID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("platform: no task set up for exc %d", exc.UID)
	}
	ctx = namespaces.WithNamespace(ctx, p.namespace)

	var cpuAmount, memAmount uint64
	for _, r := range bound {
		segs := r.Path.Segments()
		if len(segs) == 0 {
			continue
		}
		switch segs[len(segs)-1].Kind {
		case types.ProcElement:
			cpuAmount += r.Amount
		case types.Memory:
			memAmount += r.Amount
		}
	}

	linux := &specs.LinuxResources{}
	if cpuAmount > 0 {
		period := uint64(100000)
		quota := int64(cpuAmount * period / 100)
		shares := cpuAmount * 1024 / 100
		linux.CPU = &specs.LinuxCPU{Period: &period, Quota: &quota, Shares: &shares}
	}
	if memAmount > 0 {
		limit := int64(memAmount * 1024 * 1024) // MiB requests -> bytes
		linux.Memory = &specs.LinuxMemory{Limit: &limit}
	}

	if err := task.Update(ctx, containerd.WithResources(linux)); err != nil {
		return fmt.Errorf("platform: update resources for exc %d: %w", exc.UID, err)
	}
	return nil
}

// Release stops and deletes exc's task and container.
func (p *ContainerdProxy) Release(ctx context.Context, exc *types.EXC) error {
	ctx = namespaces.WithNamespace(ctx, p.namespace)

	p.mu.Lock()
	task, ok := p.tasks[exc.UID]
	delete(p.tasks, exc.UID)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = task.Kill(stopCtx, 15) // SIGTERM
	statusC, err := task.Wait(stopCtx)
	if err == nil {
		select {
		case <-statusC:
		case <-stopCtx.Done():
			_ = task.Kill(ctx, 9) // SIGKILL
		}
	}
	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("platform: delete task for exc %d: %w", exc.UID, err)
	}

	id := excContainerID(exc.UID)
	container, err := p.client.LoadContainer(ctx, id)
	if err != nil {
		return nil
	}
	return container.Delete(ctx, containerd.WithSnapshotCleanup)
}

func excContainerID(uid uint64) string {
	return fmt.Sprintf("rtrm-exc-%d", uid)
}
