package rtc

import (
	"github.com/vmihailenco/msgpack/v5"
)

// The hello channel is pre-negotiated on both sides, so it needs no
// in-band DCEP handshake and both peers agree on its id.
const (
	HelloLabel = "hello"
	helloID    = uint16(0)
)

const MessageTypeDeviceInfo = "device_info"

// Message represents all hello channel messages.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// DeviceInfo describes the client on the other end of the call.
type DeviceInfo struct {
	DeviceName    string `msgpack:"deviceName"`
	DeviceVersion string `msgpack:"deviceVersion"`
}

// DecodePayload decodes the message payload into the provided struct.
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload.
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

// EncodeDeviceInfo builds the wire form of a device_info message.
func EncodeDeviceInfo(info DeviceInfo) ([]byte, error) {
	msg, err := NewMessage(MessageTypeDeviceInfo, info)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

// ParseMessage decodes one hello channel frame.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
