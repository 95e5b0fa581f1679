package webrtcxr

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packet(seq uint16, ts uint32, marker bool, payload ...byte) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: ts, Marker: marker},
		Payload: payload,
	}
}

func TestAssembler_JoinsUntilMarker(t *testing.T) {
	a := newAssembler(nil)

	_, ok := a.push(packet(10, 3000, false, 'a', 'b'))
	assert.False(t, ok)
	_, ok = a.push(packet(11, 3000, false, 'c', 'd'))
	assert.False(t, ok)
	unit, ok := a.push(packet(12, 3000, true, 'e', 'f'))

	require.True(t, ok)
	assert.Equal(t, uint32(3000), unit.Timestamp)
	assert.Equal(t, []byte("abcdef"), unit.Data)
	assert.Equal(t, uint64(3), a.received)
	assert.Zero(t, a.lost)
}

func TestAssembler_GapDropsUnit(t *testing.T) {
	a := newAssembler(nil)

	a.push(packet(1, 100, false, 1))
	_, ok := a.push(packet(3, 100, true, 3))
	assert.False(t, ok, "unit with a hole is discarded")
	assert.Equal(t, uint64(1), a.lost)

	a.push(packet(4, 200, false, 4))
	unit, ok := a.push(packet(5, 200, true, 5))
	require.True(t, ok, "next unit resynchronizes")
	assert.Equal(t, []byte{4, 5}, unit.Data)
}

func TestAssembler_SequenceWraps(t *testing.T) {
	a := newAssembler(nil)

	a.push(packet(65535, 7, false, 1))
	unit, ok := a.push(packet(0, 7, true, 2))

	require.True(t, ok)
	assert.Equal(t, []byte{1, 2}, unit.Data)
	assert.Zero(t, a.lost)
}

func TestAssembler_MissingMarkerDiscardsPrevious(t *testing.T) {
	a := newAssembler(nil)

	a.push(packet(1, 100, false, 1, 1))
	unit, ok := a.push(packet(2, 200, true, 2))

	require.True(t, ok)
	assert.Equal(t, uint32(200), unit.Timestamp)
	assert.Equal(t, []byte{2}, unit.Data)
	assert.Equal(t, uint64(1), a.dropped)
}

func TestAssembler_DuplicateIgnored(t *testing.T) {
	a := newAssembler(nil)

	a.push(packet(1, 100, false, 1))
	a.push(packet(1, 100, false, 1))
	unit, ok := a.push(packet(2, 100, true, 2))

	require.True(t, ok)
	assert.Equal(t, []byte{1, 2}, unit.Data)
}

func TestAssembler_H264SingleNAL(t *testing.T) {
	a := newAssembler(depacketizerFor("video/H264"))

	unit, ok := a.push(packet(1, 90000, true, 0x65, 0x88, 0x84))

	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84}, unit.Data)
}

func TestDepacketizerFor_OtherCodecsPassThrough(t *testing.T) {
	dep := depacketizerFor("video/H265")()
	out, err := dep.Unmarshal([]byte{9, 8})
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8}, out)
}
