// Package manager implements the Resource Manager loop (C10): the single
// goroutine that owns every mutation to the daemon's in-memory state,
// reacting to PLAT_REFRESH, NEW_APP, APP_EXIT, SYNC_DONE, PEER_JOIN, and
// USER_CMD events published on pkg/events.Broker by wiring together the
// Resource Tree, Accounter, Application Registry, Synchronization Manager,
// Scheduler Driver, Local Platform Proxy, Peer Directory, and Agent RPC
// server into one running instance.
package manager
