package session

import (
	"time"

	"github.com/teslashibe/go-xrstream/pkg/cxr"
	"github.com/teslashibe/go-xrstream/pkg/posemath"
)

// defaultLatchTimeout bounds one latch when the config leaves it unset.
const defaultLatchTimeout = 500 * time.Millisecond

// FrameLatchResult is the outcome of one latch. Frames is non-nil only when
// Valid, and stays owned by the session until Release.
type FrameLatchResult struct {
	Valid  bool
	Frames *cxr.FramesLatched
	Err    error

	// Head pose the server rendered the frame for.
	HeadOrientation posemath.Quaternion
	HeadPosition    posemath.Vec3
}

// LatchFrame acquires the next decoded frame set. Only one latch may be held;
// a second call before Release fails with ErrFrameNotReleased and changes
// nothing.
func (c *Client) LatchFrame(timeout time.Duration) FrameLatchResult {
	if c.held != nil {
		return FrameLatchResult{Err: ErrFrameNotReleased}
	}
	if timeout <= 0 {
		timeout = c.cfg.LatchTimeout
	}
	if timeout <= 0 {
		timeout = defaultLatchTimeout
	}

	r := c.currentReceiver()
	if r == nil {
		return FrameLatchResult{Err: ErrNoReceiver}
	}
	if c.State() != cxr.StateStreamingSessionInProgress {
		return FrameLatchResult{Err: ErrNotStreaming}
	}

	frames, err := r.LatchFrame(cxr.FrameMaskAll, timeout)
	if err != nil {
		c.handleLatchError(err, timeout)
		return FrameLatchResult{Err: err}
	}

	c.held = frames
	c.counters.latched.Add(1)
	q, p := posemath.HeadPose(frames.PoseMatrix)
	return FrameLatchResult{
		Valid:           true,
		Frames:          frames,
		HeadOrientation: q,
		HeadPosition:    p,
	}
}

func (c *Client) handleLatchError(err error, timeout time.Duration) {
	code := cxr.CodeOf(err)
	switch Classify(err) {
	case CategoryTransient:
		c.counters.notReady.Add(1)
		c.logger.Debug("frame not ready", "timeout_ms", timeout.Milliseconds(), "code", uint32(code))
	case CategoryRecoverableSession:
		c.counters.latchErrors.Add(1)
		c.logger.Warn("receiver stopped, recreating", "error", err, "code", uint32(code))
		c.recreate(cxr.ReasonDisconnectedUnexpected)
	default:
		c.counters.latchErrors.Add(1)
		c.logger.Warn("latch failed", "error", err, "code", uint32(code))
	}
}

// Release returns the held frame set. It is a no-op without one.
func (c *Client) Release() error {
	frames := c.held
	if frames == nil {
		return nil
	}
	c.held = nil

	r := c.currentReceiver()
	if r == nil {
		return nil
	}
	if err := r.ReleaseFrame(frames); err != nil {
		c.logger.Warn("release failed", "error", err, "code", uint32(cxr.CodeOf(err)))
		return err
	}
	return nil
}

// BlitOrFill renders both eyes exactly once: the latched frame when res is
// valid, the background colour otherwise.
func (c *Client) BlitOrFill(target cxr.Surface, res FrameLatchResult) {
	r := c.currentReceiver()
	for eye := 0; eye < 2; eye++ {
		if res.Valid && r != nil {
			err := r.BlitFrame(res.Frames, 1<<eye, target)
			if err == nil {
				c.counters.blits.Add(1)
				continue
			}
			c.logger.Warn("blit failed", "eye", eye, "error", err)
		}
		c.fill(target)
	}
}

func (c *Client) fill(target cxr.Surface) {
	argb := c.cfg.BackgroundColor
	target.Clear(
		channel(argb, 16),
		channel(argb, 8),
		channel(argb, 0),
		channel(argb, 24),
	)
	c.counters.fills.Add(1)
}

func channel(argb uint32, shift uint) float32 {
	return float32((argb>>shift)&0xFF) / 255
}

// RenderFrame latches and renders both eyes. The caller must Release after
// submitting the result.
func (c *Client) RenderFrame(target cxr.Surface) FrameLatchResult {
	res := c.LatchFrame(0)
	c.BlitOrFill(target, res)
	return res
}
