// Package platform implements the Local Platform Proxy (C7): the one
// component allowed to touch the OS directly. It discovers online/offline
// resource capacity at startup (LoadPlatformData), re-scans it on demand
// (Refresh, publishing a platform.refresh event when capacity changes), and
// enforces the scheduler's binding decisions against the actual machine
// (Setup/MapResources/Release), backed by containerd and the OCI runtime
// spec exactly as the teacher's ContainerdRuntime backs container
// execution. Any failure enforcing one EXC's decision is fatal to that EXC
// alone, never to the daemon (spec.md §4.7).
package platform
