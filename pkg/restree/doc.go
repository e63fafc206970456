// Package restree implements the resource tree (C1): the hierarchy of
// ResourceNode instances addressed by types.ResourcePath, with registration,
// online/offline marking, and deterministic traversal. It owns topology and
// capacity bookkeeping only; reservation state per scheduling view is
// written exclusively by pkg/accounter.
package restree
