package packet

import "fmt"

// LoginRequest is the payload of a LoginRequest packet.
type LoginRequest struct {
	Username                string
	Password                string
	RequestedSession        string
	RequestedSequenceNumber uint64
}

// Type returns TypeLoginRequest.
func (l *LoginRequest) Type() Type {
	return TypeLoginRequest
}

// Encode encodes the 46-byte payload into buf.
// Returns the number of bytes written, or 0 if buf is short or a field is too long.
func (l *LoginRequest) Encode(buf []byte) int {
	if len(buf) < LoginRequestSize {
		return 0
	}
	pos := 0
	for _, f := range []struct {
		s     string
		width int
	}{
		{l.Username, UsernameSize},
		{l.Password, PasswordSize},
		{l.RequestedSession, SessionSize},
	} {
		n := EncodeAlpha(buf[pos:], f.s, f.width)
		if n == 0 {
			return 0
		}
		pos += n
	}
	n := EncodeNumeric(buf[pos:], l.RequestedSequenceNumber, SequenceNumberSize)
	if n == 0 {
		return 0
	}
	return pos + n
}

// Bytes returns the encoded payload.
func (l *LoginRequest) Bytes() ([]byte, error) {
	buf := make([]byte, LoginRequestSize)
	if l.Encode(buf) == 0 {
		return nil, fmt.Errorf("login request: %w", ErrFieldTooLong)
	}
	return buf, nil
}

// DecodeLoginRequest decodes a LoginRequest payload.
func DecodeLoginRequest(buf []byte) (*LoginRequest, error) {
	if len(buf) != LoginRequestSize {
		return nil, fmt.Errorf("%w: login request payload is %d bytes, want %d", ErrMalformedPacket, len(buf), LoginRequestSize)
	}
	pos := 0
	l := &LoginRequest{}
	l.Username = DecodeAlpha(buf[pos : pos+UsernameSize])
	pos += UsernameSize
	l.Password = DecodeAlpha(buf[pos : pos+PasswordSize])
	pos += PasswordSize
	l.RequestedSession = DecodeAlpha(buf[pos : pos+SessionSize])
	pos += SessionSize

	seq, err := DecodeNumeric(buf[pos : pos+SequenceNumberSize])
	if err != nil {
		return nil, err
	}
	l.RequestedSequenceNumber = seq
	return l, nil
}

// LoginAccepted is the payload of a LoginAccepted packet.
type LoginAccepted struct {
	Session        string
	SequenceNumber uint64
}

// Type returns TypeLoginAccepted.
func (l *LoginAccepted) Type() Type {
	return TypeLoginAccepted
}

// Encode encodes the 30-byte payload into buf.
// Returns the number of bytes written, or 0 on error.
func (l *LoginAccepted) Encode(buf []byte) int {
	if len(buf) < LoginAcceptedSize {
		return 0
	}
	if EncodeAlpha(buf, l.Session, SessionSize) == 0 {
		return 0
	}
	if EncodeNumeric(buf[SessionSize:], l.SequenceNumber, SequenceNumberSize) == 0 {
		return 0
	}
	return LoginAcceptedSize
}

// Bytes returns the encoded payload.
func (l *LoginAccepted) Bytes() ([]byte, error) {
	buf := make([]byte, LoginAcceptedSize)
	if l.Encode(buf) == 0 {
		return nil, fmt.Errorf("login accepted: %w", ErrFieldTooLong)
	}
	return buf, nil
}

// DecodeLoginAccepted decodes a LoginAccepted payload.
func DecodeLoginAccepted(buf []byte) (*LoginAccepted, error) {
	if len(buf) != LoginAcceptedSize {
		return nil, fmt.Errorf("%w: login accepted payload is %d bytes, want %d", ErrMalformedPacket, len(buf), LoginAcceptedSize)
	}
	seq, err := DecodeNumeric(buf[SessionSize:])
	if err != nil {
		return nil, err
	}
	return &LoginAccepted{
		Session:        DecodeAlpha(buf[:SessionSize]),
		SequenceNumber: seq,
	}, nil
}

// LoginRejected is the payload of a LoginRejected packet.
type LoginRejected struct {
	Reason RejectCode
}

// Type returns TypeLoginRejected.
func (l *LoginRejected) Type() Type {
	return TypeLoginRejected
}

// Encode encodes the 1-byte payload into buf.
func (l *LoginRejected) Encode(buf []byte) int {
	if len(buf) < LoginRejectedSize {
		return 0
	}
	buf[0] = byte(l.Reason)
	return LoginRejectedSize
}

// Bytes returns the encoded payload.
func (l *LoginRejected) Bytes() []byte {
	return []byte{byte(l.Reason)}
}

// DecodeLoginRejected decodes a LoginRejected payload.
func DecodeLoginRejected(buf []byte) (*LoginRejected, error) {
	if len(buf) != LoginRejectedSize {
		return nil, fmt.Errorf("%w: login rejected payload is %d bytes, want %d", ErrMalformedPacket, len(buf), LoginRejectedSize)
	}
	code := RejectCode(buf[0])
	if !code.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRejectCode, buf[0])
	}
	return &LoginRejected{Reason: code}, nil
}
