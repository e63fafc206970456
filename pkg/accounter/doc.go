// Package accounter implements the Resource Accounter (C2): the only
// component allowed to mutate a types.ResourceNode's per-view reservation
// state. It hands out working views (copy-on-write snapshots of the
// committed state), lets a scheduling round acquire and release capacity
// against one, and commits or discards the whole view atomically.
package accounter
