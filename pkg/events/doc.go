// Package events is the in-memory pub/sub bus the Resource Manager's event
// loop (C10) is built around: every other component that cares about a
// platform refresh, application arrival/exit, sync-round completion, peer
// join, or operator command publishes one of the EventType constants below
// through a Broker rather than calling the manager directly, so the event
// loop stays the single place that serializes reactions to them.
package events
