// Package sync implements the Synchronization Manager (C5): the SASB
// (Starvation-Avoidance State-Based) protocol that iterates EXCs in the
// fixed order Blocked-out, Low-priority rebind, High-priority rebind,
// Starters (spec.md §4.5), running the four-phase PreChange/SyncChange/
// DoChange/PostChange handshake with each EXC's RTLib peer.
//
// The callback-based handshake the original RTLib uses (a socket callback,
// server-spawned handler thread) is modeled here as message passing on a
// typed Channel per EXC, per spec.md §9's design note. A real RTLib is out
// of scope (spec.md §1); tests drive a fake peer that answers phases
// programmatically.
package sync
