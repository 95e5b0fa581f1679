package session

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-xrstream/pkg/audioio"
	"github.com/teslashibe/go-xrstream/pkg/cxr"
	"github.com/teslashibe/go-xrstream/pkg/device"
	"github.com/teslashibe/go-xrstream/pkg/input"
)

var _ cxr.Callbacks = (*Client)(nil)

// NoHaptic marks an empty haptic slot.
const NoHaptic = -1

// HapticRequest is the latest vibration asked for by the server.
type HapticRequest struct {
	ControllerIndex int
	Amplitude       float32
	Seconds         float32
}

// hapticSlot holds one request. Writers overwrite, the reader empties it.
type hapticSlot struct {
	mu  sync.Mutex
	req HapticRequest
}

func (s *hapticSlot) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.req = HapticRequest{ControllerIndex: NoHaptic}
}

func (s *hapticSlot) put(req HapticRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.req = req
}

func (s *hapticSlot) take() (HapticRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.req
	s.req = HapticRequest{ControllerIndex: NoHaptic}
	return req, req.ControllerIndex != NoHaptic
}

// GetTrackingState implements cxr.Callbacks.
func (c *Client) GetTrackingState() cxr.TrackingState {
	return c.tracker.GetTrackingState()
}

// TriggerHaptic implements cxr.Callbacks. Requests without a duration are
// ignored.
func (c *Client) TriggerHaptic(h cxr.HapticFeedback) {
	if h.Seconds <= 0 {
		return
	}
	c.haptic.put(HapticRequest{
		ControllerIndex: h.ControllerIndex,
		Amplitude:       h.Amplitude,
		Seconds:         h.Seconds,
	})
}

// TakeHaptic returns and clears the pending haptic request.
func (c *Client) TakeHaptic() (HapticRequest, bool) {
	return c.haptic.take()
}

// dispatchHaptic plays a pending request on adapters that can vibrate.
// Other hosts consume requests with TakeHaptic.
func (c *Client) dispatchHaptic() {
	v, ok := c.dev.(device.Vibrator)
	if !ok {
		return
	}
	req, ok := c.haptic.take()
	if !ok {
		return
	}
	err := v.Vibrate(device.Pulse{
		Hand:      input.Hand(req.ControllerIndex),
		Amplitude: req.Amplitude,
		Duration:  time.Duration(float64(req.Seconds) * float64(time.Second)),
	})
	if err != nil {
		c.logger.Debug("haptic dropped", "controller", req.ControllerIndex, "error", err)
	}
}

// RenderAudio implements cxr.Callbacks. The write waits at most the frame's
// own playback length so the boundary's audio thread never stalls.
func (c *Client) RenderAudio(f cxr.AudioFrame) bool {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink == nil {
		return false
	}

	timeout := time.Duration(f.Milliseconds()) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	chunk := audioio.ChunkFromBytes(f.Buffer, cxr.AudioSamplingRate, cxr.AudioChannelCount)
	if err := sink.Write(ctx, chunk); err != nil {
		c.counters.audioDropped.Add(1)
		return false
	}
	c.counters.audioFrames.Add(1)
	return true
}
