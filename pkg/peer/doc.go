// Package peer implements the Peer Directory (C8): background discovery
// and liveness tracking of sibling RTRM instances, grounded on
// BarbequeRTRM's DistributedManager (original_source/bbque/distributed_manager.cc)
// for the discover/ping algorithm and its mean-RTT/availability arithmetic.
// A single ticker drives both phases every period, fanning discover/ping
// calls out over pkg/rpc's Client and joining them before the tick returns.
package peer
