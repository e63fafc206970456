package recipe

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bbque/rtrm/pkg/types"
)

// document is the on-disk YAML shape of a recipe file, addendum pinned in
// SPEC_FULL.md §4.3 resolving spec.md's Open Question (c).
type document struct {
	Name string   `yaml:"name"`
	AWMs []awmDoc `yaml:"awms"`

	Constraints struct {
		DisabledAWMs      []int `yaml:"disabled_awms"`
		DisabledResources []struct {
			Path       string `yaml:"path"`
			UpperBound uint64 `yaml:"upper_bound"`
		} `yaml:"disabled_resources"`
	} `yaml:"constraints"`
}

type awmDoc struct {
	ID       int       `yaml:"id"`
	Value    float64   `yaml:"value"`
	Requests []reqDoc  `yaml:"requests"`
}

type reqDoc struct {
	Path   string `yaml:"path"`
	Amount uint64 `yaml:"amount"`
}

// Load reads and parses a recipe file at path.
func Load(path string) (*types.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recipe: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and converts a recipe document's YAML bytes into a
// types.Recipe. Any AWM whose value falls outside [0.0, 1.0] is a
// Config-invalid error, fatal only at startup per spec.md §7.
func Parse(data []byte) (*types.Recipe, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("recipe: %w: %v", types.ErrConfigInvalid, err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("recipe: %w: missing name", types.ErrConfigInvalid)
	}

	awms := make([]types.AWM, 0, len(doc.AWMs))
	for _, a := range doc.AWMs {
		if a.Value < 0.0 || a.Value > 1.0 {
			return nil, fmt.Errorf("recipe: %w: awm %d value %f outside [0.0, 1.0]", types.ErrConfigInvalid, a.ID, a.Value)
		}
		reqs := make([]types.ResourceRequest, 0, len(a.Requests))
		for _, r := range a.Requests {
			p, err := types.ParseResourcePath(r.Path)
			if err != nil {
				return nil, fmt.Errorf("recipe: %w: awm %d: %v", types.ErrConfigInvalid, a.ID, err)
			}
			reqs = append(reqs, types.ResourceRequest{Path: p, Amount: r.Amount})
		}
		awms = append(awms, types.AWM{ID: a.ID, Value: a.Value, Requests: reqs})
	}

	bounds := make([]types.ResourceBound, 0, len(doc.Constraints.DisabledResources))
	for _, db := range doc.Constraints.DisabledResources {
		p, err := types.ParseResourcePath(db.Path)
		if err != nil {
			return nil, fmt.Errorf("recipe: %w: disabled_resources: %v", types.ErrConfigInvalid, err)
		}
		bounds = append(bounds, types.ResourceBound{Path: p, UpperBound: db.UpperBound})
	}

	r := &types.Recipe{
		Name: doc.Name,
		AWMs: awms,
		Constraints: types.Constraints{
			DisabledAWMs:      doc.Constraints.DisabledAWMs,
			DisabledResources: bounds,
		},
	}
	return r, nil
}

// Assert filters r's enabled AWM set by its constraints: an AWM is
// dropped if its id is disabled, or if any of its resource requests
// exceeds the paired upper bound in DisabledResources.
func Assert(r *types.Recipe) []types.AWM {
	bounds := make(map[string]uint64, len(r.Constraints.DisabledResources))
	for _, b := range r.Constraints.DisabledResources {
		bounds[b.Path.String()] = b.UpperBound
	}
	enabled := r.EnabledAWMs()
	out := make([]types.AWM, 0, len(enabled))
	for _, a := range enabled {
		ok := true
		for _, req := range a.Requests {
			if ub, has := bounds[req.Path.String()]; has && req.Amount > ub {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, a)
		}
	}
	return out
}

// Cache memoizes the low/high value AWM accessors over a recipe's enabled
// subset, recomputed only when the recipe's constraints are re-asserted.
type Cache struct {
	mu      sync.Mutex
	recipe  *types.Recipe
	enabled []types.AWM
}

// NewCache wraps r in a Cache, computing the enabled subset once.
func NewCache(r *types.Recipe) *Cache {
	c := &Cache{recipe: r}
	c.refresh()
	return c
}

func (c *Cache) refresh() {
	c.enabled = Assert(c.recipe)
	sort.SliceStable(c.enabled, func(i, j int) bool { return c.enabled[i].Value > c.enabled[j].Value })
}

// Refresh recomputes the enabled subset, e.g. after the recipe's
// constraints are updated at runtime.
func (c *Cache) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh()
}

// Enabled returns the cached enabled AWMs, highest value first.
func (c *Cache) Enabled() []types.AWM {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.AWM, len(c.enabled))
	copy(out, c.enabled)
	return out
}

// HighValue returns the enabled AWM with the greatest value, or false if
// none are enabled.
func (c *Cache) HighValue() (types.AWM, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.enabled) == 0 {
		return types.AWM{}, false
	}
	return c.enabled[0], true
}

// LowValue returns the enabled AWM with the least value, or false if none
// are enabled.
func (c *Cache) LowValue() (types.AWM, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.enabled) == 0 {
		return types.AWM{}, false
	}
	return c.enabled[len(c.enabled)-1], true
}

// Bind substitutes every ANY segment in awm's template requests with the
// concrete ids the policy chose, returning a new AWM carrying
// BoundRequests. concrete maps each template path's string form to the
// fully concrete path the scheduler decided to use.
func Bind(awm types.AWM, concrete map[string]types.ResourcePath) (types.AWM, error) {
	bound := awm
	bound.BoundRequests = make([]types.ResourceRequest, len(awm.Requests))
	for i, req := range awm.Requests {
		if !req.Path.IsTemplate() {
			bound.BoundRequests[i] = req
			continue
		}
		concretePath, ok := concrete[req.Path.String()]
		if !ok {
			return types.AWM{}, fmt.Errorf("recipe: no concrete binding supplied for template %s", req.Path)
		}
		boundPath, err := req.Path.Bind(concretePath)
		if err != nil {
			return types.AWM{}, fmt.Errorf("recipe: bind %s: %w", req.Path, err)
		}
		bound.BoundRequests[i] = types.ResourceRequest{Path: boundPath, Amount: req.Amount}
	}
	return bound, nil
}
