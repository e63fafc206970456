package restree

import (
	"fmt"
	"sync"
	"time"

	"github.com/bbque/rtrm/pkg/types"
)

// Tree is the resource tree: every registered node keyed by its path's
// string form, plus insertion order for deterministic iteration (the
// Synchronization Manager's SASB ordering depends on a stable traversal
// order, not map iteration order).
type Tree struct {
	mu      sync.RWMutex
	nodes   map[string]*types.ResourceNode
	order   []string
}

// New returns an empty resource tree.
func New() *Tree {
	return &Tree{nodes: make(map[string]*types.ResourceNode)}
}

// Register inserts a new node at path with the given total capacity. It is
// an error to register the same path twice.
func (t *Tree) Register(path types.ResourcePath, total uint64) (*types.ResourceNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := path.String()
	if _, exists := t.nodes[key]; exists {
		return nil, fmt.Errorf("restree: path %s already registered", key)
	}
	node := types.NewResourceNode(path, total)
	t.nodes[key] = node
	t.order = append(t.order, key)
	return node, nil
}

// Get returns the node at path, or (nil, false) if it is not registered.
func (t *Tree) Get(path types.ResourcePath) (*types.ResourceNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[path.String()]
	return n, ok
}

// All returns every registered node in registration order.
func (t *Tree) All() []*types.ResourceNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*types.ResourceNode, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.nodes[key])
	}
	return out
}

// Descendants returns every registered node whose path is prefixed by
// path, in registration order, path itself included if registered.
func (t *Tree) Descendants(path types.ResourcePath) []*types.ResourceNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	prefix := path.Segments()
	out := make([]*types.ResourceNode, 0)
	for _, key := range t.order {
		n := t.nodes[key]
		if hasPrefix(n.Path.Segments(), prefix) {
			out = append(out, n)
		}
	}
	return out
}

func hasPrefix(segs, prefix []types.ResourceSegment) bool {
	if len(prefix) > len(segs) {
		return false
	}
	for i, p := range prefix {
		if segs[i] != p {
			return false
		}
	}
	return true
}

// SetOffline marks amount of the node's capacity as offline as of at,
// accumulating the node's online/offline timers across the transition if
// it crosses between fully online and any-offline. amount must not exceed
// Total.
func (t *Tree) SetOffline(path types.ResourcePath, amount uint64, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[path.String()]
	if !ok {
		return fmt.Errorf("restree: unknown path %s", path)
	}
	if amount > n.Total {
		return fmt.Errorf("restree: offline amount %d exceeds total %d on %s", amount, n.Total, path)
	}
	n.Transition(amount, at)
	return nil
}

// SetOnline clears any offline marking on the node as of at.
func (t *Tree) SetOnline(path types.ResourcePath, at time.Time) error {
	return t.SetOffline(path, 0, at)
}

// Available reports the node's unreserved, online capacity in the given
// view: OnlineCapacity() - Used(view), clamped at zero. Returns 0 without
// error for an offline node, per spec.md §4.2.
func (t *Tree) Available(path types.ResourcePath, view types.ViewToken) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[path.String()]
	if !ok {
		return 0, fmt.Errorf("restree: unknown path %s", path)
	}
	online := n.OnlineCapacity()
	used := n.ViewState(view).Used
	if used >= online {
		return 0, nil
	}
	return online - used, nil
}

// AvailableTo reports Available plus whatever uid already holds in view,
// so an EXC can always re-request resources it currently owns (spec.md
// §4.2, mandatory semantics).
func (t *Tree) AvailableTo(path types.ResourcePath, view types.ViewToken, uid uint64) (uint64, error) {
	avail, err := t.Available(path, view)
	if err != nil {
		return 0, err
	}
	t.mu.RLock()
	n := t.nodes[path.String()]
	t.mu.RUnlock()
	if n == nil {
		return 0, fmt.Errorf("restree: unknown path %s", path)
	}
	return avail + n.ViewState(view).Apps[uid], nil
}

// Reserve carves out a static amount of path's capacity, withheld from
// every view regardless of scheduling round (spec.md §4.1 contract).
// amount must not exceed Total.
func (t *Tree) Reserve(path types.ResourcePath, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[path.String()]
	if !ok {
		return fmt.Errorf("restree: unknown path %s", path)
	}
	if amount > n.Total {
		return fmt.Errorf("restree: reserve %d exceeds total %d on %s: %w",
			amount, n.Total, path, types.ErrCapacityExceeded)
	}
	n.Reserved = amount
	return nil
}
