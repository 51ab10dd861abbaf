package packet

import (
	"iter"
	"sync"
)

// Stream reassembles packets from a byte stream fed in arbitrary chunks.
// It counts extracted packets of its data type, which lets a peer derive the
// next expected sequence number without persisting state.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	dataType  Type
	buf       []byte
	pos       int
	processed uint64
}

// NewStream creates a stream that counts packets of dataType.
func NewStream(dataType Type) *Stream {
	return &Stream{dataType: dataType}
}

// DataType returns the packet type counted by Processed.
func (s *Stream) DataType() Type {
	return s.dataType
}

// Processed returns the number of extracted packets of the data type.
func (s *Stream) Processed() uint64 {
	return s.processed
}

// Buffered returns the number of bytes waiting to be extracted.
func (s *Stream) Buffered() int {
	return len(s.buf) - s.pos
}

// Feed appends data to the stream buffer. It does not parse anything.
func (s *Stream) Feed(data []byte) {
	// Shift remaining data to the beginning
	if s.pos > 0 {
		n := copy(s.buf, s.buf[s.pos:])
		s.buf = s.buf[:n]
		s.pos = 0
	}
	s.buf = append(s.buf, data...)
}

// header returns the header at the front of the buffer when a complete packet is available.
func (s *Stream) header() (Header, bool) {
	h, ok := DecodeHeader(s.buf[s.pos:])
	if !ok {
		return Header{}, false
	}
	// A zero length field cannot even cover the type byte; the header alone is taken.
	payloadLen := max(h.PayloadLength(), 0)
	if s.Buffered()-HeaderSize < payloadLen {
		return Header{}, false
	}
	return h, true
}

// HasPacket reports whether a complete packet is buffered.
func (s *Stream) HasPacket() bool {
	_, ok := s.header()
	return ok
}

// Next extracts one complete packet, or returns nil without consuming anything.
// The returned payload does not alias the stream buffer.
func (s *Stream) Next() *Packet {
	h, ok := s.header()
	if !ok {
		return nil
	}
	payloadLen := max(h.PayloadLength(), 0)
	start := s.pos + HeaderSize
	payload := make([]byte, payloadLen)
	copy(payload, s.buf[start:start+payloadLen])
	s.pos = start + payloadLen
	if s.pos == len(s.buf) {
		s.buf = s.buf[:0]
		s.pos = 0
	}

	if h.Type == s.dataType {
		s.processed++
	}
	return &Packet{Length: h.Length, Type: h.Type, Payload: payload}
}

// All yields every complete packet currently buffered, in order.
// It never blocks; iterating again after another Feed picks up where it stopped.
func (s *Stream) All() iter.Seq[*Packet] {
	return func(yield func(*Packet) bool) {
		for {
			pkt := s.Next()
			if pkt == nil || !yield(pkt) {
				return
			}
		}
	}
}

// Reset discards all buffered bytes. The processed counter is kept.
func (s *Stream) Reset() {
	s.buf = s.buf[:0]
	s.pos = 0
}

// BufferPool provides a pool of reusable buffers for packet encoding.
var BufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 4096)
		return &buf
	},
}

// GetBuffer returns a buffer from the pool.
func GetBuffer() []byte {
	return *BufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(buf []byte) {
	// Only return buffers of reasonable size
	if cap(buf) <= 65536 {
		buf = buf[:cap(buf)]
		BufferPool.Put(&buf)
	}
}
