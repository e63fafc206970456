// Package log wraps github.com/rs/zerolog with RTRM's conventions: a
// process-global Logger configured once at startup via Init, and a handful
// of WithX helpers (WithComponent, WithEXC, WithPeer) that attach the field
// every subsystem tags its entries with so log lines can be filtered by
// component, execution context, or peer without parsing messages.
package log
