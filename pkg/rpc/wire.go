package rpc

// Status is the explicit reply status spec.md §7 requires in place of a
// transported Go error: "no errors are propagated across the RPC boundary
// as exceptions; every wire reply carries an explicit enum status."
type Status int

const (
	OK Status = iota
	Failed
)

func (s Status) String() string {
	if s == OK {
		return "OK"
	}
	return "FAILED"
}

// Role distinguishes a MASTER instance (hierarchical mode, §4.8) from a
// plain peer.
type Role int

const (
	RoleWorker Role = iota
	RoleMaster
)

// DiscoverRequest is sent to every address in the configured range except
// the local one, once per Peer Directory tick.
type DiscoverRequest struct {
	CallerRole Role `json:"caller_role"`
}

// DiscoverReply tells the caller the responder's role and the id it has
// been assigned (0 is always reserved for the instance describing itself).
type DiscoverReply struct {
	RemoteRole Role `json:"remote_role"`
	AssignedID int  `json:"assigned_id"`
}

// PingRequest carries only the sender's id: the reply itself is the
// liveness signal, timed by the client.
type PingRequest struct {
	SenderID int `json:"sender_id"`
}

type PingReply struct {
	Status Status `json:"status"`
}

// GetResourceStatusRequest asks for one resource path's accounting and
// platform telemetry. Path carries a concrete "sysN...." prefix from the
// caller's point of view; the server rewrites it to its own "sys0...."
// numbering before lookup (spec.md §4.9).
type GetResourceStatusRequest struct {
	SenderID int    `json:"sender_id"`
	Path     string `json:"path"`
}

type GetResourceStatusReply struct {
	Status      Status  `json:"status"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	PowerMW     uint64  `json:"power_mw"`
	Temperature float64 `json:"temperature"`
	Load        float64 `json:"load"`
	Degradation float64 `json:"degradation"`
}

type GetWorkloadStatusRequest struct {
	SenderID int `json:"sender_id"`
}

type GetWorkloadStatusReply struct {
	Status   Status `json:"status"`
	NrRunning int   `json:"nr_running"`
	NrReady   int   `json:"nr_ready"`
}

type GetChannelStatusRequest struct {
	SenderID int `json:"sender_id"`
}

type GetChannelStatusReply struct {
	Status     Status  `json:"status"`
	Connected  bool    `json:"connected"`
	LatencyMs  float64 `json:"latency_ms"`
}

// SendJoinRequest / SendDisjoinRequest carry either a system path or an
// instance id, per spec.md §4.9's "system path | instance id". Exactly one
// of the two fields is set.
type JoinRequest struct {
	SystemPath string `json:"system_path,omitempty"`
	InstanceID *int   `json:"instance_id,omitempty"`
}

type JoinReply struct {
	Status Status `json:"status"`
}

// ApplicationScheduleRequest is the delegated schedule request's payload:
// enough of an EXC's identity and recipe reference for the remote instance
// to run its own Scheduler Driver on it.
type ApplicationScheduleRequest struct {
	EXCUID     uint64 `json:"exc_uid"`
	EXCName    string `json:"exc_name"`
	Priority   int    `json:"priority"`
	RecipeName string `json:"recipe_name"`
}

type SendScheduleRequest struct {
	InstanceID int                        `json:"instance_id"`
	Request    ApplicationScheduleRequest `json:"request"`
}

type SendScheduleReply struct {
	Status Status `json:"status"`
}

// NodeManagementAction is the closed set of action codes
// SetNodeManagementAction accepts.
type NodeManagementAction int

const (
	ActionNone NodeManagementAction = iota
	ActionDrain
	ActionResume
	ActionShutdown
)

type SetNodeManagementActionRequest struct {
	SenderID int                  `json:"sender_id"`
	Action   NodeManagementAction `json:"action"`
}

type SetNodeManagementActionReply struct {
	Status Status `json:"status"`
}
