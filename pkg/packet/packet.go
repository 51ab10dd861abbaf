package packet

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed 3-byte big-endian packet header.
type Header struct {
	// Length counts the type byte plus the payload.
	Length uint16
	Type   Type
}

// PayloadLength returns the number of payload bytes following the header.
// A zero Length is malformed and yields -1.
func (h Header) PayloadLength() int {
	return int(h.Length) - 1
}

// EncodeHeader writes h into buf. Returns HeaderSize, or 0 if buf is too small.
func EncodeHeader(buf []byte, h Header) int {
	if len(buf) < HeaderSize {
		return 0
	}
	binary.BigEndian.PutUint16(buf, h.Length)
	buf[2] = byte(h.Type)
	return HeaderSize
}

// DecodeHeader decodes a header from the start of buf.
// The only failure is insufficient data, reported by ok == false.
// An unknown type byte is returned as is and rejected one layer up.
func DecodeHeader(buf []byte) (h Header, ok bool) {
	if len(buf) < HeaderSize {
		return Header{}, false
	}
	return Header{
		Length: binary.BigEndian.Uint16(buf),
		Type:   Type(buf[2]),
	}, true
}

// Packet is a single SoupBinTCP frame.
type Packet struct {
	Length  uint16
	Type    Type
	Payload []byte
}

// New creates a packet, deriving Length from the payload.
// The caller keeps payload within MaxPayloadSize.
func New(t Type, payload []byte) *Packet {
	return &Packet{
		Length:  uint16(len(payload) + 1),
		Type:    t,
		Payload: payload,
	}
}

// EncodedSize returns the total size of the encoded packet.
func (p *Packet) EncodedSize() int {
	return HeaderSize + len(p.Payload)
}

// Encode encodes the packet into buf.
// Returns the number of bytes written, or 0 on error.
func (p *Packet) Encode(buf []byte) int {
	if len(p.Payload) > MaxPayloadSize {
		return 0
	}
	size := p.EncodedSize()
	if len(buf) < size {
		return 0
	}
	EncodeHeader(buf, Header{Length: uint16(len(p.Payload) + 1), Type: p.Type})
	copy(buf[HeaderSize:], p.Payload)
	return size
}

// Validate checks the packet type and that Length matches the payload.
func (p *Packet) Validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: 0x%02x", ErrInvalidPacketType, byte(p.Type))
	}
	if int(p.Length) != len(p.Payload)+1 {
		return fmt.Errorf("%w: length %d does not match payload of %d bytes", ErrMalformedPacket, p.Length, len(p.Payload))
	}
	return nil
}

// String returns a short description of the packet for logging.
func (p *Packet) String() string {
	return fmt.Sprintf("%s(len=%d)", p.Type, p.Length)
}

// Encode produces header(len(payload)+1, t) followed by payload.
func Encode(t Type, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	New(t, payload).Encode(buf)
	return buf, nil
}
