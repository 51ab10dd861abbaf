package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/bromq-dev/soupbintcp/pkg/packet"
)

// Sentinel errors surfaced by a connection.
var (
	// ErrClosed indicates the connection was closed locally.
	ErrClosed = errors.New("connection closed")

	// ErrProtocolViolation indicates a packet that is not allowed in the current state.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrHeartbeatTimeout indicates nothing was received within the heartbeat timeout.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")

	// ErrLoginTimeout indicates the peer did not log in within the login timeout.
	ErrLoginTimeout = errors.New("login timeout")

	// ErrBufferOverflow indicates the peer sent more unframed bytes than allowed.
	ErrBufferOverflow = errors.New("receive buffer overflow")
)

// HeartbeatTimeoutError reports how long the connection was silent.
type HeartbeatTimeoutError struct {
	Elapsed time.Duration
	Timeout time.Duration
}

func (e *HeartbeatTimeoutError) Error() string {
	return fmt.Sprintf("heartbeat lost: nothing received for %s (timeout %s)",
		e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// Unwrap returns ErrHeartbeatTimeout.
func (e *HeartbeatTimeoutError) Unwrap() error {
	return ErrHeartbeatTimeout
}

// LoginRejectedError carries the reason a login was rejected.
// Clients receive it from Login; server auth hooks return it to pick the reject code.
type LoginRejectedError struct {
	Code    packet.RejectCode
	Message string
}

func (e *LoginRejectedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Code {
	case packet.RejectNotAuthorized:
		return "login rejected: invalid username and password combination"
	case packet.RejectSessionNotAvailable:
		return "login rejected: requested session was either invalid or not available"
	default:
		return fmt.Sprintf("login rejected: code %q", byte(e.Code))
	}
}

// NewLoginRejectedError creates a new login rejected error.
func NewLoginRejectedError(code packet.RejectCode, msg string) *LoginRejectedError {
	return &LoginRejectedError{Code: code, Message: msg}
}

// Violation returns an error wrapping ErrProtocolViolation.
func Violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}
