package cxr

import (
	"sync"
	"time"
)

// MockService is an in-memory Service for tests and offline runs.
type MockService struct {
	mu        sync.Mutex
	createErr error
	receivers []*MockReceiver
	descs     []ReceiverDesc

	// Configure, when set, is applied to every receiver before it is returned.
	Configure func(r *MockReceiver)
}

// NewMockService creates a mock service.
func NewMockService() *MockService {
	return &MockService{}
}

// SetCreateError makes subsequent CreateReceiver calls fail with err.
func (s *MockService) SetCreateError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

// CreateReceiver implements Service.
func (s *MockService) CreateReceiver(desc ReceiverDesc) (Receiver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descs = append(s.descs, desc)
	if s.createErr != nil {
		return nil, s.createErr
	}
	r := NewMockReceiver(desc)
	if s.Configure != nil {
		s.Configure(r)
	}
	s.receivers = append(s.receivers, r)
	return r, nil
}

// Receivers returns every receiver created so far.
func (s *MockService) Receivers() []*MockReceiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MockReceiver, len(s.receivers))
	copy(out, s.receivers)
	return out
}

// Last returns the most recently created receiver, or nil.
func (s *MockService) Last() *MockReceiver {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.receivers) == 0 {
		return nil
	}
	return s.receivers[len(s.receivers)-1]
}

// Descs returns every descriptor passed to CreateReceiver.
func (s *MockService) Descs() []ReceiverDesc {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReceiverDesc, len(s.descs))
	copy(out, s.descs)
	return out
}

// LatchStep is one scripted LatchFrame outcome.
type LatchStep struct {
	Frames *FramesLatched
	Err    error
}

// MockReceiver is a scripted Receiver. Like the real boundary it refuses a
// second latch while one is outstanding.
type MockReceiver struct {
	mu   sync.Mutex
	desc ReceiverDesc

	connectErr error
	connects   []ConnectionDesc
	addresses  []string

	script     []LatchStep
	autoFrames bool
	held       *FramesLatched
	latches    int
	releases   int
	blits      int
	seq        uint64

	stats    ConnectionStats
	statsErr error

	sentAudio []AudioFrame
	destroyed int

	// OnConnect, when set, runs after a successful Connect without the lock held.
	OnConnect func(r *MockReceiver, desc ConnectionDesc)
}

// NewMockReceiver creates a receiver bound to desc.
func NewMockReceiver(desc ReceiverDesc) *MockReceiver {
	return &MockReceiver{desc: desc}
}

// SetConnectError makes Connect fail with err.
func (r *MockReceiver) SetConnectError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectErr = err
}

// Script queues latch outcomes consumed in order.
func (r *MockReceiver) Script(steps ...LatchStep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script = append(r.script, steps...)
}

// SetAutoFrames makes LatchFrame synthesize a stereo frame whenever the
// script is empty.
func (r *MockReceiver) SetAutoFrames(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoFrames = on
}

// SetStats sets the value returned by ConnectionStats.
func (r *MockReceiver) SetStats(stats ConnectionStats, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = stats
	r.statsErr = err
}

// Connect implements Receiver.
func (r *MockReceiver) Connect(address string, desc ConnectionDesc) error {
	r.mu.Lock()
	r.addresses = append(r.addresses, address)
	r.connects = append(r.connects, desc)
	err := r.connectErr
	hook := r.OnConnect
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(r, desc)
	}
	return nil
}

// LatchFrame implements Receiver.
func (r *MockReceiver) LatchFrame(mask uint32, timeout time.Duration) (*FramesLatched, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latches++

	if r.held != nil {
		return nil, NewError("latch", ErrFrameNotReleased)
	}
	if len(r.script) > 0 {
		step := r.script[0]
		r.script = r.script[1:]
		if step.Err != nil {
			return nil, step.Err
		}
		r.held = step.Frames
		return step.Frames, nil
	}
	if !r.autoFrames {
		return nil, NewError("latch", ErrFrameNotReady)
	}
	r.seq++
	f := &FramesLatched{Count: 2, PoseMatrix: Identity34()}
	for i := 0; i < 2; i++ {
		f.Frames[i] = VideoFrame{Width: r.desc.Device.Width, Height: r.desc.Device.Height, StreamIdx: uint32(i), TimeStamp: r.seq}
	}
	r.held = f
	return f, nil
}

// BlitFrame implements Receiver.
func (r *MockReceiver) BlitFrame(frames *FramesLatched, mask uint32, target Surface) error {
	r.mu.Lock()
	if frames == nil || r.held != frames {
		r.mu.Unlock()
		return NewError("blit", ErrFrameNotLatched)
	}
	r.blits++
	r.mu.Unlock()

	for i := 0; i < int(frames.Count) && i < MaxVideoStreams; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		if err := target.Draw(i, frames.Frames[i]); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseFrame implements Receiver.
func (r *MockReceiver) ReleaseFrame(frames *FramesLatched) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if frames == nil || r.held != frames {
		return NewError("release", ErrFrameNotLatched)
	}
	r.held = nil
	r.releases++
	return nil
}

// SendAudio implements Receiver.
func (r *MockReceiver) SendAudio(f AudioFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := make([]byte, len(f.Buffer))
	copy(buf, f.Buffer)
	r.sentAudio = append(r.sentAudio, AudioFrame{Buffer: buf})
	return nil
}

// ConnectionStats implements Receiver.
func (r *MockReceiver) ConnectionStats() (ConnectionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats, r.statsErr
}

// Destroy implements Receiver.
func (r *MockReceiver) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed++
	r.held = nil
}

// EmitState invokes the registered OnStateChanged callback.
func (r *MockReceiver) EmitState(state ClientState, reason StateReason) {
	if cb := r.desc.Callbacks; cb != nil {
		cb.OnStateChanged(state, reason)
	}
}

// EmitHaptic invokes the registered TriggerHaptic callback.
func (r *MockReceiver) EmitHaptic(h HapticFeedback) {
	if cb := r.desc.Callbacks; cb != nil {
		cb.TriggerHaptic(h)
	}
}

// EmitAudio invokes the registered RenderAudio callback.
func (r *MockReceiver) EmitAudio(f AudioFrame) bool {
	if cb := r.desc.Callbacks; cb != nil {
		return cb.RenderAudio(f)
	}
	return false
}

// PollTracking invokes the registered GetTrackingState callback.
func (r *MockReceiver) PollTracking() TrackingState {
	if cb := r.desc.Callbacks; cb != nil {
		return cb.GetTrackingState()
	}
	return TrackingState{}
}

// Desc returns the descriptor the receiver was created with.
func (r *MockReceiver) Desc() ReceiverDesc {
	return r.desc
}

// Addresses returns the addresses passed to Connect.
func (r *MockReceiver) Addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.addresses...)
}

// Connects returns the connection descriptors passed to Connect.
func (r *MockReceiver) Connects() []ConnectionDesc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionDesc(nil), r.connects...)
}

// Held reports whether a latch is outstanding.
func (r *MockReceiver) Held() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held != nil
}

// Counts returns latch, blit and release call counts.
func (r *MockReceiver) Counts() (latches, blits, releases int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latches, r.blits, r.releases
}

// Destroyed returns how many times Destroy was called.
func (r *MockReceiver) Destroyed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// SentAudio returns copies of the frames passed to SendAudio.
func (r *MockReceiver) SentAudio() []AudioFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AudioFrame(nil), r.sentAudio...)
}

// MockSurface records draw calls.
type MockSurface struct {
	mu      sync.Mutex
	clears  [][4]float32
	draws   []int
	DrawErr error
}

// Clear implements Surface.
func (s *MockSurface) Clear(r, g, b, a float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears = append(s.clears, [4]float32{r, g, b, a})
}

// Draw implements Surface.
func (s *MockSurface) Draw(eye int, frame VideoFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DrawErr != nil {
		return s.DrawErr
	}
	s.draws = append(s.draws, eye)
	return nil
}

// Clears returns the recorded clear colours.
func (s *MockSurface) Clears() [][4]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][4]float32(nil), s.clears...)
}

// Draws returns the eye index of every Draw call.
func (s *MockSurface) Draws() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.draws...)
}
