// Package registry implements the Application Registry (C4): the
// authoritative map of every EXC known to this instance, the lifecycle
// transitions of spec.md §4.4, and the priority-bucketed views the
// Synchronization Manager (pkg/sync) and Scheduler Driver (pkg/scheduler)
// iterate in deterministic order. Only the registry may destroy an EXC
// entry, and only once its lifecycle is FINISHED or DISABLED.
package registry
