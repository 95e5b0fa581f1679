package webrtcxr

import (
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// depacketizer strips the RTP payload format from one packet. It may return
// nothing until a fragmented unit completes.
type depacketizer interface {
	Unmarshal(payload []byte) ([]byte, error)
}

// rawDepacketizer passes payloads through untouched.
type rawDepacketizer struct{}

func (rawDepacketizer) Unmarshal(payload []byte) ([]byte, error) {
	return payload, nil
}

// depacketizerFor returns a constructor for the payload format of a
// negotiated codec.
func depacketizerFor(mimeType string) func() depacketizer {
	if isH264(mimeType) {
		return func() depacketizer { return &codecs.H264Packet{} }
	}
	return func() depacketizer { return rawDepacketizer{} }
}

// accessUnit is one complete encoded video frame.
type accessUnit struct {
	Timestamp uint32
	Data      []byte
}

// assembler joins RTP packets into access units. A unit ends on the marker
// bit; a sequence gap discards the unit in progress.
type assembler struct {
	newDep func() depacketizer
	dep    depacketizer

	buf     []byte
	ts      uint32
	lastSeq uint16
	started bool
	broken  bool

	received uint64
	lost     uint64
	dropped  uint64
}

func newAssembler(newDep func() depacketizer) *assembler {
	if newDep == nil {
		newDep = func() depacketizer { return rawDepacketizer{} }
	}
	return &assembler{newDep: newDep, dep: newDep()}
}

// push feeds one packet and returns a unit when the packet completes one.
func (a *assembler) push(pkt *rtp.Packet) (accessUnit, bool) {
	a.received++

	if a.started {
		gap := pkt.SequenceNumber - a.lastSeq
		if gap == 0 || gap > 0x8000 {
			// Duplicate or reordered behind us.
			return accessUnit{}, false
		}
		if gap > 1 {
			a.lost += uint64(gap - 1)
			a.breakUnit()
		}
	}
	a.started = true
	a.lastSeq = pkt.SequenceNumber

	if len(a.buf) > 0 && pkt.Timestamp != a.ts {
		// Previous unit never saw its marker.
		a.discard()
	}
	a.ts = pkt.Timestamp

	if !a.broken {
		out, err := a.dep.Unmarshal(pkt.Payload)
		if err != nil {
			a.breakUnit()
		} else {
			a.buf = append(a.buf, out...)
		}
	}

	if !pkt.Marker {
		return accessUnit{}, false
	}
	if a.broken {
		// Resynchronize on the next unit.
		a.broken = false
		a.buf = a.buf[:0]
		return accessUnit{}, false
	}
	if len(a.buf) == 0 {
		return accessUnit{}, false
	}
	unit := accessUnit{Timestamp: a.ts, Data: a.buf}
	a.buf = nil
	return unit, true
}

func (a *assembler) discard() {
	if len(a.buf) > 0 {
		a.dropped++
	}
	a.buf = a.buf[:0]
}

// breakUnit drops the unit in progress along with any fragment state held by
// the depacketizer.
func (a *assembler) breakUnit() {
	a.discard()
	a.broken = true
	a.dep = a.newDep()
}
