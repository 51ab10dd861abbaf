// Package packet provides SoupBinTCP packet encoding and decoding.
// It covers the 3-byte packet header, the fixed-width login payloads and
// Stream, which reassembles packets from an arbitrarily fragmented byte stream.
package packet

// Type represents a SoupBinTCP packet type. The wire value is a single ASCII byte.
type Type byte

// SoupBinTCP packet types.
const (
	TypeSequencedData   Type = 'S' // Server to client, counted toward the sequence number
	TypeUnsequencedData Type = 'U' // Client to server
	TypeLoginRequest    Type = 'L' // Client login
	TypeLoginAccepted   Type = 'A' // Server accepts login
	TypeLoginRejected   Type = 'J' // Server rejects login
	TypeLogoutRequest   Type = 'O' // Client logout
	TypeClientHeartbeat Type = 'R' // Client keep-alive
	TypeServerHeartbeat Type = 'H' // Server keep-alive
	TypeEndOfSession    Type = 'Z' // Server ends the session
	TypeDebug           Type = '+' // Free-form text, either direction
)

// String returns the string representation of the packet type.
func (t Type) String() string {
	switch t {
	case TypeSequencedData:
		return "SEQUENCED_DATA"
	case TypeUnsequencedData:
		return "UNSEQUENCED_DATA"
	case TypeLoginRequest:
		return "LOGIN_REQUEST"
	case TypeLoginAccepted:
		return "LOGIN_ACCEPTED"
	case TypeLoginRejected:
		return "LOGIN_REJECTED"
	case TypeLogoutRequest:
		return "LOGOUT_REQUEST"
	case TypeClientHeartbeat:
		return "CLIENT_HEARTBEAT"
	case TypeServerHeartbeat:
		return "SERVER_HEARTBEAT"
	case TypeEndOfSession:
		return "END_OF_SESSION"
	case TypeDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Valid returns true if the packet type is one of the defined types.
func (t Type) Valid() bool {
	switch t {
	case TypeSequencedData, TypeUnsequencedData, TypeLoginRequest,
		TypeLoginAccepted, TypeLoginRejected, TypeLogoutRequest,
		TypeClientHeartbeat, TypeServerHeartbeat, TypeEndOfSession, TypeDebug:
		return true
	default:
		return false
	}
}

// RejectCode is the reason carried by a LoginRejected packet.
type RejectCode byte

const (
	RejectNotAuthorized       RejectCode = 'A' // Invalid username and password combination
	RejectSessionNotAvailable RejectCode = 'S' // Requested session invalid or not available
)

// String returns the string representation of the reject code.
func (c RejectCode) String() string {
	switch c {
	case RejectNotAuthorized:
		return "NOT_AUTHORIZED"
	case RejectSessionNotAvailable:
		return "SESSION_NOT_AVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Valid returns true if the reject code is defined.
func (c RejectCode) Valid() bool {
	return c == RejectNotAuthorized || c == RejectSessionNotAvailable
}

// HeaderSize is the size of the packet header: length (2) + type (1).
const HeaderSize = 3

// MaxPayloadSize is the largest payload a single packet can carry.
// The length field counts the type byte, so one value is reserved for it.
const MaxPayloadSize = 1<<16 - 2

// Fixed-width login field sizes.
const (
	UsernameSize       = 6
	PasswordSize       = 10
	SessionSize        = 10
	SequenceNumberSize = 20

	LoginRequestSize  = UsernameSize + PasswordSize + SessionSize + SequenceNumberSize // 46
	LoginAcceptedSize = SessionSize + SequenceNumberSize                               // 30
	LoginRejectedSize = 1
)
