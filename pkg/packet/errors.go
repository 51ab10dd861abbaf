package packet

import "errors"

// Sentinel errors for packet parsing and encoding.
var (
	// ErrMalformedPacket indicates the packet structure is invalid.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrInvalidPacketType indicates an unknown packet type byte.
	ErrInvalidPacketType = errors.New("invalid packet type")

	// ErrPacketTooLarge indicates the payload does not fit the 16-bit length field.
	ErrPacketTooLarge = errors.New("packet too large")

	// ErrShortBuffer indicates insufficient buffer space for encoding.
	ErrShortBuffer = errors.New("buffer too short")

	// ErrFieldTooLong indicates a login field exceeds its fixed width.
	ErrFieldTooLong = errors.New("field exceeds fixed width")

	// ErrInvalidSequenceNumber indicates the sequence number text is not a decimal number.
	ErrInvalidSequenceNumber = errors.New("invalid sequence number")

	// ErrInvalidRejectCode indicates an unknown login reject reason code.
	ErrInvalidRejectCode = errors.New("invalid reject code")
)
