// Package security provides the mutual-TLS certificate authority peers use
// to authenticate each other over the Agent RPC surface (C9). Every
// instance is symmetric (spec.md §4.8: no manager/worker split), so the CA
// issues one certificate shape for any peer plus a separate one for CLI
// clients talking to the local instance.
//
// There is no persisted state (spec.md §6): the root CA is generated fresh
// in memory, and cmd/rtrmd calls Initialize on every start, so each
// instance has its own root. ImportRoot can install a root certificate and
// key obtained out of band, but rtrmd has no flag or call path that does so.
package security
