package signaling

import "github.com/pion/webrtc/v4"

// Message represents all WebSocket messages between CLI and server.
type Message struct {
	Type        string                     `json:"type"`
	Room        string                     `json:"room,omitempty"`
	Target      string                     `json:"target,omitempty"`
	Sender      string                     `json:"sender,omitempty"`
	Participant string                     `json:"participant,omitempty"`
	SDP         *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Message type constants.
const (
	MessageTypeJoin         = "join"
	MessageTypeLeave        = "leave"
	MessageTypeOffer        = "offer"
	MessageTypeAnswer       = "answer"
	MessageTypeICECandidate = "ice-candidate"

	MessageTypeWelcome    = "welcome"
	MessageTypePeerJoined = "peer-joined"
	MessageTypePeerLeft   = "peer-left"
)

// NewJoin asks the relay to put us in room.
func NewJoin(room string) *Message {
	return &Message{Type: MessageTypeJoin, Room: room}
}

// NewLeave takes us out of our room without dropping the connection.
func NewLeave() *Message {
	return &Message{Type: MessageTypeLeave}
}

// NewDescription wraps an offer or answer addressed to target.
func NewDescription(target string, desc webrtc.SessionDescription) *Message {
	msgType := MessageTypeOffer
	if desc.Type == webrtc.SDPTypeAnswer {
		msgType = MessageTypeAnswer
	}
	return &Message{Type: msgType, Target: target, SDP: &desc}
}

// NewCandidate wraps one local ICE candidate addressed to target.
func NewCandidate(target string, candidate webrtc.ICECandidateInit) *Message {
	return &Message{Type: MessageTypeICECandidate, Target: target, Candidate: &candidate}
}
