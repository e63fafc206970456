// Package scheduler implements the Scheduler Driver (C6): it opens a
// fresh working view on the Resource Accounter, hands it and the
// Application Registry to a pluggable Policy, and on success moves every
// EXC whose decision differs from its committed AWM into SYNC, hands the
// batch to the Synchronization Manager, and commits the view once the
// handshake completes. On failure or an empty decision the view is
// discarded and the policy's reason is surfaced (spec.md §4.6).
package scheduler
