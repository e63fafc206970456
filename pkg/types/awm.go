package types

// ResourceRequest is one line of an AWM's resource-request-map: a template
// path (possibly carrying ANY ids) bound to an amount requested.
type ResourceRequest struct {
	Path   ResourcePath
	Amount uint64
}

// AWM (Application Working Mode) is one operating point an application can
// run at: a value in [0,1] expressing its usefulness to the application,
// plus the set of resources it needs at that point.
type AWM struct {
	ID    int
	Value float64 // application-assigned usefulness, validated at load time
	// Requests is the template request map; BoundRequests is filled in by
	// the scheduler once template ids are resolved to concrete ones for a
	// specific scheduling round.
	Requests      []ResourceRequest
	BoundRequests []ResourceRequest
}

// Recipe is an immutable bundle of AWMs plus the constraints that apply to
// an application using it.
type Recipe struct {
	Name        string
	AWMs        []AWM
	Constraints Constraints
}

// Constraints restrict which AWMs and resources a running application may
// use, per spec.md's recipe constraint grammar.
type Constraints struct {
	DisabledAWMs      []int
	DisabledResources []ResourceBound
}

// ResourceBound caps usable capacity on a path below its registered total.
type ResourceBound struct {
	Path       ResourcePath
	UpperBound uint64
}

// EnabledAWMs returns the recipe's AWMs minus any listed in DisabledAWMs,
// in descending Value order (highest value first), matching the order the
// reference scheduling policy consumes them in.
func (r Recipe) EnabledAWMs() []AWM {
	disabled := make(map[int]bool, len(r.Constraints.DisabledAWMs))
	for _, id := range r.Constraints.DisabledAWMs {
		disabled[id] = true
	}
	out := make([]AWM, 0, len(r.AWMs))
	for _, a := range r.AWMs {
		if !disabled[a.ID] {
			out = append(out, a)
		}
	}
	for i := 1; i < len(out); i++ {
		v := out[i]
		j := i - 1
		for j >= 0 && out[j].Value < v.Value {
			out[j+1] = out[j]
			j--
		}
		out[j+1] = v
	}
	return out
}
