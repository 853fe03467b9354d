package lifecycle

import "time"

// Status is the connection state shown to the user.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnectedToSignaling
	StatusJoined
	StatusPeerConnected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnectedToSignaling:
		return "connected-to-signaling"
	case StatusJoined:
		return "joined"
	case StatusPeerConnected:
		return "peer-connected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Update is published whenever the status is recomputed.
type Update struct {
	Status Status
	Peer   string
	Err    error
}

// Summary describes the call for the exit report.
type Summary struct {
	Room               string
	Self               string
	Peer               string
	Role               string
	Status             Status
	Duration           time.Duration
	CandidatesSent     int64
	CandidatesReceived int64
	Handles            int
}
