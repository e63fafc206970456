// Package rpc implements the Agent RPC surface (C9): the unary
// request/reply methods of spec.md §4.9 that let peer RTRM instances query
// each other's resource/workload/channel status and delegate schedule
// requests. Transport is google.golang.org/grpc, matching the teacher's
// manager<->worker control plane (pkg/api, pkg/client); since no protoc
// step is available here, the service is registered by hand-building a
// grpc.ServiceDesc instead of a generated stub, paired with a "json" wire
// codec that marshals the plain Go structs below with encoding/json.
package rpc
