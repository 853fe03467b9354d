package signaling

import "encoding/json"

// Message type constants. Client to server first, then server to client.
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

// Message defines the structure for all C2S (Client to Server)
// and S2C (Server to Client) websocket messages.
//
// SDP and Candidate are opaque to the relay and are forwarded byte for byte.
type Message struct {
	Type        string          `json:"type"`
	Room        string          `json:"room,omitempty"`
	Target      string          `json:"target,omitempty"`
	Sender      string          `json:"sender,omitempty"`
	Participant string          `json:"participant,omitempty"`
	SDP         json.RawMessage `json:"sdp,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`

	// client is the client that sent the message.
	// It's used internally by the Hub and not sent over JSON.
	client *Client `json:"-"`
}

// isRelayed reports whether the message is one of the negotiation messages
// the hub forwards without interpreting.
func (m *Message) isRelayed() bool {
	switch m.Type {
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
		return true
	}
	return false
}

// forwardFrom builds the outbound copy of a relayed message. The sender is
// always the relay's view of the connection, never what the client claimed.
func (m *Message) forwardFrom(sender string) *Message {
	return &Message{
		Type:      m.Type,
		Sender:    sender,
		SDP:       m.SDP,
		Candidate: m.Candidate,
	}
}
