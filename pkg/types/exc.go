package types

// EXC is an Execution Context: one schedulable unit of an application,
// identified by the packed (pid, exc_id) uid. Its CurrentAWM is the AWM it
// is actually running with; NextAWM is set by the scheduler while a
// transition is pending and cleared once the sync handshake completes.
type EXC struct {
	UID  uint64
	Name string

	State     EXCState
	SyncState SyncState // meaningful only while State == Sync

	Recipe     *Recipe
	CurrentAWM *AWM // nil until first successful schedule
	NextAWM    *AWM // nil unless a transition is in flight

	Priority int // lower value = higher priority, per spec.md §4.4
}

// PID returns the owning application's pid, recovered from UID.
func (e *EXC) PID() int {
	pid, _ := SplitEXCUID(e.UID)
	return pid
}

// LocalID returns the EXC's id within its owning application.
func (e *EXC) LocalID() int {
	_, id := SplitEXCUID(e.UID)
	return id
}

// CanTransitionTo reports whether moving from e's current state to next is
// a legal edge in the EXC lifecycle graph.
func (e *EXC) CanTransitionTo(next EXCState) bool {
	switch e.State {
	case Disabled:
		return next == Ready
	case Ready:
		return next == Sync || next == Disabled
	case Sync:
		return next == Running || next == Ready || next == Disabled
	case Running:
		return next == Sync || next == Finished || next == Disabled
	case Finished:
		return false
	default:
		return false
	}
}
