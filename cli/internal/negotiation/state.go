package negotiation

// State is the lifecycle phase of a Machine.
type State int

const (
	StateIdle State = iota
	StateLocalStreamReady
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocalStreamReady:
		return "local-stream-ready"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role is which side of the offer/answer exchange this machine plays.
type Role int

const (
	RoleUndetermined Role = iota
	RoleOfferer
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	default:
		return "undetermined"
	}
}

// Transition is reported through Config.Notify whenever the machine changes
// state, role or peer. Err is set when the change was caused by a failure.
type Transition struct {
	State State
	Role  Role
	Peer  string
	Err   error
}
