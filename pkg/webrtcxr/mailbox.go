package webrtcxr

import (
	"sync"
	"time"

	"github.com/teslashibe/go-xrstream/pkg/cxr"
)

// poseHistory is how many frame poses are kept for timestamp matching.
const poseHistory = 16

type timedPose struct {
	ts   uint32
	pose cxr.Matrix34
	set  bool
}

// mailbox holds the newest decoded unit of every eye stream.
//
// Publishers overwrite; an unconsumed unit that gets replaced counts as a
// drop. take blocks until every requested stream has a fresh unit, the
// timeout passes or the mailbox is closed.
type mailbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	streams int
	frames  [cxr.MaxVideoStreams]cxr.VideoFrame
	fresh   uint32
	poses   [poseHistory]timedPose
	poseAt  int
	latest  timedPose
	drops   uint64
	closed  bool
}

func newMailbox(streams int) *mailbox {
	m := &mailbox{streams: streams}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) allStreams() uint32 {
	return uint32(1)<<uint(m.streams) - 1
}

// publish stores f in the slot of its stream.
func (m *mailbox) publish(f cxr.VideoFrame) {
	idx := int(f.StreamIdx)
	if idx >= m.streams {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	bit := uint32(1) << uint(idx)
	if m.fresh&bit != 0 {
		m.drops++
	}
	m.frames[idx] = f
	m.fresh |= bit
	m.cond.Broadcast()
}

// putPose records the render pose the server used for the frame stamped ts.
func (m *mailbox) putPose(ts uint32, pose cxr.Matrix34) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := timedPose{ts: ts, pose: pose, set: true}
	m.poses[m.poseAt] = p
	m.poseAt = (m.poseAt + 1) % poseHistory
	m.latest = p
}

// poseFor must be called with mu held.
func (m *mailbox) poseFor(ts uint32) cxr.Matrix34 {
	for _, p := range m.poses {
		if p.set && p.ts == ts {
			return p.pose
		}
	}
	if m.latest.set {
		return m.latest.pose
	}
	return cxr.Identity34()
}

// take waits for a fresh unit on every stream selected by mask and hands them
// out as one latched set.
func (m *mailbox) take(mask uint32, timeout time.Duration) (*cxr.FramesLatched, error) {
	want := mask & m.allStreams()
	if want == 0 {
		return nil, cxr.NewError("latch", cxr.ErrParameterInvalid)
	}

	expired := timeout <= 0
	if !expired {
		t := time.AfterFunc(timeout, func() {
			m.mu.Lock()
			expired = true
			m.cond.Broadcast()
			m.mu.Unlock()
		})
		defer t.Stop()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.fresh&want != want && !m.closed && !expired {
		m.cond.Wait()
	}
	if m.closed {
		return nil, cxr.NewError("latch", cxr.ErrReceiverNotRunning)
	}
	if m.fresh&want != want {
		return nil, cxr.NewError("latch", cxr.ErrTimeout)
	}

	out := &cxr.FramesLatched{Count: uint32(m.streams)}
	first := -1
	for i := 0; i < m.streams; i++ {
		if want&(1<<uint(i)) == 0 {
			continue
		}
		out.Frames[i] = m.frames[i]
		if first < 0 {
			first = i
		}
	}
	out.PoseMatrix = m.poseFor(uint32(out.Frames[first].TimeStamp))
	m.fresh &^= want
	return out, nil
}

// dropped returns how many units were overwritten before being latched.
func (m *mailbox) dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

// reset empties the mailbox and reopens it for a new connection.
func (m *mailbox) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = [cxr.MaxVideoStreams]cxr.VideoFrame{}
	m.fresh = 0
	m.poses = [poseHistory]timedPose{}
	m.latest = timedPose{}
	m.closed = false
}

// close wakes every waiter; later takes fail until reset.
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.fresh = 0
	m.cond.Broadcast()
}
