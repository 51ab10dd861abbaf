package hooks

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bromq-dev/soupbintcp/pkg/server"
)

// Message is the msgpack envelope forwarded to Redis and NATS for every
// UnsequencedData packet.
type Message struct {
	ConnID     string `msgpack:"c"`
	Username   string `msgpack:"u"`
	Session    string `msgpack:"s"`
	RemoteAddr string `msgpack:"a"`
	// Count is the 1-based position of this packet among the connection's
	// unsequenced data.
	Count      uint64 `msgpack:"n"`
	Payload    []byte `msgpack:"p"`
	ReceivedAt int64  `msgpack:"t"` // Unix nanoseconds
}

// NewMessage builds the envelope for payload received from client.
func NewMessage(client server.ClientInfo, payload []byte) *Message {
	return &Message{
		ConnID:     client.ID(),
		Username:   client.Username(),
		Session:    client.Session(),
		RemoteAddr: client.RemoteAddr(),
		Count:      client.Received(),
		Payload:    payload,
		ReceivedAt: time.Now().UnixNano(),
	}
}

// Marshal encodes the envelope as msgpack.
func (m *Message) Marshal() ([]byte, error) {
	return msgpack.Marshal(m)
}

// DecodeMessage decodes a msgpack envelope.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
