package types

import "errors"

// Sentinel errors returned across component boundaries. RPC replies never
// transport a Go error directly; they carry one of these mapped to an
// explicit status enum instead (see pkg/rpc).
var (
	ErrCapacityExceeded  = errors.New("rtrm: requested amount exceeds available capacity")
	ErrOverCommit        = errors.New("rtrm: commit would leave a node over-reserved")
	ErrIllegalTransition = errors.New("rtrm: illegal EXC state transition")
	ErrSyncTimeout       = errors.New("rtrm: synchronization phase timed out")
	ErrSyncFailed        = errors.New("rtrm: synchronization phase rejected by application")
	ErrPlatformFatal     = errors.New("rtrm: platform proxy encountered an unrecoverable error")
	ErrPeerUnreachable   = errors.New("rtrm: peer instance unreachable")
	ErrConfigInvalid     = errors.New("rtrm: configuration is invalid")
)
