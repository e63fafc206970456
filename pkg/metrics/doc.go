// Package metrics defines and registers the Prometheus metrics exposed by
// an RTRM instance: resource accounting, scheduling, synchronization
// handshakes, the platform proxy, the peer directory, and Agent RPC.
// Metrics are registered at package init and served over HTTP via Handler.
package metrics
