package packet

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverHeartbeat() []byte {
	return []byte{0x00, 0x01, 'H'}
}

func loginAcceptedFrame() []byte {
	frame := []byte{0x00, 31, 'A'}
	frame = append(frame, "test      "...)
	frame = append(frame, "                   1"...)
	return frame
}

func sequenced(payload string) []byte {
	buf, _ := Encode(TypeSequencedData, []byte(payload))
	return buf
}

func collect(s *Stream) []*Packet {
	var out []*Packet
	for pkt := range s.All() {
		out = append(out, pkt)
	}
	return out
}

func TestStreamHeaderOnly(t *testing.T) {
	s := NewStream(TypeSequencedData)
	hb := serverHeartbeat()

	s.Feed(hb[:2])
	assert.False(t, s.HasPacket())
	assert.Nil(t, s.Next())
	assert.Equal(t, 2, s.Buffered(), "partial header must stay buffered")

	s.Feed(hb[2:])
	require.True(t, s.HasPacket())
	pkt := s.Next()
	require.NotNil(t, pkt)
	assert.Equal(t, TypeServerHeartbeat, pkt.Type)
	assert.Empty(t, pkt.Payload)
	assert.Equal(t, 0, s.Buffered())
}

func TestStreamNoOverConsumption(t *testing.T) {
	s := NewStream(TypeSequencedData)
	frame := loginAcceptedFrame()

	s.Feed(frame[:HeaderSize])
	assert.Nil(t, s.Next())

	s.Feed(frame[HeaderSize : len(frame)-1])
	assert.Nil(t, s.Next())
	assert.Equal(t, len(frame)-1, s.Buffered())

	s.Feed(frame[len(frame)-1:])
	pkt := s.Next()
	require.NotNil(t, pkt)
	assert.Equal(t, TypeLoginAccepted, pkt.Type)
	assert.Equal(t, uint16(31), pkt.Length)
	assert.Equal(t, []byte("test                         1"), pkt.Payload)
	assert.Nil(t, s.Next())
}

func TestStreamEmpty(t *testing.T) {
	s := NewStream(TypeSequencedData)
	assert.False(t, s.HasPacket())
	assert.Nil(t, s.Next())
	assert.Empty(t, collect(s))
}

func TestStreamAllInOrder(t *testing.T) {
	s := NewStream(TypeSequencedData)
	s.Feed(append(serverHeartbeat(), loginAcceptedFrame()...))

	pkts := collect(s)
	require.Len(t, pkts, 2)
	assert.Equal(t, TypeServerHeartbeat, pkts[0].Type)
	assert.Equal(t, TypeLoginAccepted, pkts[1].Type)
}

func TestStreamAllRestartsAfterFeed(t *testing.T) {
	s := NewStream(TypeSequencedData)
	accepted := loginAcceptedFrame()

	s.Feed(append(serverHeartbeat(), accepted[:5]...))
	pkts := collect(s)
	require.Len(t, pkts, 1)
	assert.Equal(t, TypeServerHeartbeat, pkts[0].Type)

	s.Feed(accepted[5:])
	pkts = collect(s)
	require.Len(t, pkts, 1)
	assert.Equal(t, TypeLoginAccepted, pkts[0].Type)
	assert.Equal(t, []byte("test                         1"), pkts[0].Payload)
}

func TestStreamAllStopsEarly(t *testing.T) {
	s := NewStream(TypeSequencedData)
	s.Feed(append(sequenced("a"), sequenced("b")...))

	for pkt := range s.All() {
		assert.Equal(t, []byte("a"), pkt.Payload)
		break
	}
	pkt := s.Next()
	require.NotNil(t, pkt)
	assert.Equal(t, []byte("b"), pkt.Payload)
}

func TestStreamProcessedCount(t *testing.T) {
	s := NewStream(TypeSequencedData)
	var stream []byte
	stream = append(stream, serverHeartbeat()...)
	stream = append(stream, sequenced("one")...)
	stream = append(stream, serverHeartbeat()...)
	stream = append(stream, sequenced("two")...)
	stream = append(stream, sequenced("three")...)
	s.Feed(stream)

	assert.Len(t, collect(s), 5)
	assert.Equal(t, uint64(3), s.Processed())
}

func TestStreamProcessedCountUnsequenced(t *testing.T) {
	s := NewStream(TypeUnsequencedData)
	u, _ := Encode(TypeUnsequencedData, []byte("x"))
	s.Feed(append(sequenced("ignored"), u...))

	assert.Len(t, collect(s), 2)
	assert.Equal(t, uint64(1), s.Processed())
}

func TestStreamFragmentationTransparency(t *testing.T) {
	var whole []byte
	whole = append(whole, loginAcceptedFrame()...)
	for i := 0; i < 20; i++ {
		whole = append(whole, sequenced(string(bytes.Repeat([]byte{'x'}, i*7)))...)
		whole = append(whole, serverHeartbeat()...)
	}
	debug, _ := Encode(TypeDebug, []byte("debug text"))
	whole = append(whole, debug...)

	ref := NewStream(TypeSequencedData)
	ref.Feed(whole)
	want := collect(ref)
	require.Len(t, want, 42)

	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 200; round++ {
		s := NewStream(TypeSequencedData)
		var got []*Packet
		for rest := whole; len(rest) > 0; {
			n := 1 + rng.Intn(min(len(rest), 64))
			s.Feed(rest[:n])
			rest = rest[n:]
			got = append(got, collect(s)...)
		}
		require.Equal(t, want, got, "round %d", round)
		assert.Equal(t, ref.Processed(), s.Processed())
		assert.Equal(t, 0, s.Buffered())
	}
}

func TestStreamByteAtATime(t *testing.T) {
	whole := append(loginAcceptedFrame(), sequenced("hello")...)
	s := NewStream(TypeSequencedData)
	var got []*Packet
	for i := range whole {
		s.Feed(whole[i : i+1])
		got = append(got, collect(s)...)
	}
	require.Len(t, got, 2)
	assert.Equal(t, []byte("hello"), got[1].Payload)
}

func TestStreamPayloadDoesNotAlias(t *testing.T) {
	s := NewStream(TypeSequencedData)
	s.Feed(sequenced("abc"))
	pkt := s.Next()
	require.NotNil(t, pkt)

	s.Feed(sequenced("xyz"))
	assert.Equal(t, []byte("abc"), pkt.Payload)
}

func TestStreamZeroLengthHeader(t *testing.T) {
	s := NewStream(TypeSequencedData)
	s.Feed(append([]byte{0x00, 0x00, 'S'}, serverHeartbeat()...))

	pkt := s.Next()
	require.NotNil(t, pkt)
	assert.Equal(t, uint16(0), pkt.Length)
	assert.ErrorIs(t, pkt.Validate(), ErrMalformedPacket)

	next := s.Next()
	require.NotNil(t, next)
	assert.Equal(t, TypeServerHeartbeat, next.Type)
}

func TestStreamUnknownTypeIsReturned(t *testing.T) {
	s := NewStream(TypeSequencedData)
	s.Feed([]byte{0x00, 0x02, 'Q', 'x'})

	pkt := s.Next()
	require.NotNil(t, pkt)
	assert.Equal(t, Type('Q'), pkt.Type)
	assert.ErrorIs(t, pkt.Validate(), ErrInvalidPacketType)
}

func TestStreamReset(t *testing.T) {
	s := NewStream(TypeSequencedData)
	s.Feed(sequenced("a"))
	s.Next()
	s.Feed([]byte{0x00})
	s.Reset()
	assert.Equal(t, 0, s.Buffered())
	assert.Equal(t, uint64(1), s.Processed())
}
