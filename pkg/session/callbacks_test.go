package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-xrstream/pkg/cxr"
	"github.com/teslashibe/go-xrstream/pkg/device"
	"github.com/teslashibe/go-xrstream/pkg/input"
)

// plainAdapter hides the simulated headset's Vibrator.
type plainAdapter struct {
	device.Adapter
}

func TestTriggerHaptic_SingleSlot(t *testing.T) {
	h := newHarness(t, testConfig())
	c := New(testConfig(), h.svc, plainAdapter{h.dev}, WithAudio(h.audio.newSink, h.audio.newSource))

	_, ok := c.TakeHaptic()
	assert.False(t, ok, "slot starts empty")

	c.TriggerHaptic(cxr.HapticFeedback{ControllerIndex: 0, Amplitude: 0.2, Seconds: 0.1})
	c.TriggerHaptic(cxr.HapticFeedback{ControllerIndex: 1, Amplitude: 0.9, Seconds: 0.05})
	c.TriggerHaptic(cxr.HapticFeedback{ControllerIndex: 0, Amplitude: 1, Seconds: 0})

	req, ok := c.TakeHaptic()
	require.True(t, ok)
	assert.Equal(t, HapticRequest{ControllerIndex: 1, Amplitude: 0.9, Seconds: 0.05}, req)

	req, ok = c.TakeHaptic()
	assert.False(t, ok)
	assert.Equal(t, NoHaptic, req.ControllerIndex)

	// Tick does not consume requests for adapters that cannot vibrate.
	c.TriggerHaptic(cxr.HapticFeedback{ControllerIndex: 1, Amplitude: 0.5, Seconds: 0.2})
	c.Tick()
	_, ok = c.TakeHaptic()
	assert.True(t, ok)
}

func TestTick_DispatchesHapticToVibrator(t *testing.T) {
	h := newHarness(t, testConfig())
	r := h.streaming(t)

	r.EmitHaptic(cxr.HapticFeedback{ControllerIndex: 1, Amplitude: 0.7, Seconds: 0.25})
	h.client.Tick()

	pulses := h.dev.Pulses()
	require.Len(t, pulses, 1)
	assert.Equal(t, input.HandRight, pulses[0].Hand)
	assert.InDelta(t, 0.7, pulses[0].Amplitude, 1e-6)
	assert.Equal(t, 250*time.Millisecond, pulses[0].Duration)

	h.client.Tick()
	assert.Len(t, h.dev.Pulses(), 1, "a request plays once")
}

func TestRenderAudio(t *testing.T) {
	h := newHarness(t, testConfig())
	frame := cxr.AudioFrame{Buffer: make([]byte, cxr.AudioFrameLengthMs*cxr.AudioBytesPerMs)}

	assert.False(t, h.client.RenderAudio(frame), "no playback stream yet")

	r := h.streaming(t)
	assert.True(t, r.EmitAudio(frame))

	require.Len(t, h.audio.sinks, 1)
	chunks := h.audio.sinks[0].Chunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, 240, chunks[0].Frames())
	assert.Equal(t, cxr.AudioSamplingRate, chunks[0].SampleRate)
	assert.Equal(t, int64(1), h.client.FrameStats().AudioFrames)

	h.client.Teardown()
	assert.False(t, h.client.RenderAudio(frame))
}

func TestRenderAudio_DisabledByConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ReceiveAudio = false
	h := newHarness(t, cfg)
	h.streaming(t)

	assert.Empty(t, h.audio.sinks)
	assert.False(t, h.client.RenderAudio(cxr.AudioFrame{Buffer: make([]byte, 960)}))
	assert.False(t, h.svc.Last().Desc().Device.ReceiveAudio)
}

func TestCaptureForwardedToReceiver(t *testing.T) {
	cfg := testConfig()
	cfg.SendAudio = true
	h := newHarness(t, cfg)
	r := h.streaming(t)
	assert.True(t, r.Desc().Device.SendAudio)

	require.Eventually(t, func() bool {
		return len(r.SentAudio()) > 0
	}, 2*time.Second, 5*time.Millisecond)

	sent := r.SentAudio()[0]
	assert.Equal(t, cxr.AudioFrameLengthMs, sent.Milliseconds())
}

func TestGetTrackingState_PollsDevice(t *testing.T) {
	h := newHarness(t, testConfig())
	h.dev.SetInput(input.HandRight, input.NativeState{Trigger: 0.7})

	ts := h.client.GetTrackingState()

	right := ts.Controller[input.HandRight]
	assert.InDelta(t, 0.7, right.ScalarComps[cxr.AnalogTrigger], 1e-6)
	assert.Zero(t, right.BooleanComps&cxr.ButtonTriggerClick.Mask())
	assert.True(t, right.Pose.DeviceIsConnected)
	assert.NotZero(t, ts.HMD.Flags&cxr.HmdFlagHasIPD)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Category
	}{
		{nil, CategoryUnknown},
		{ErrNoAddress, CategoryConfiguration},
		{fmt.Errorf("%w: start playback: %w", ErrAudio, errors.New("busy")), CategoryResource},
		{ErrFrameNotReleased, CategoryTransient},
		{cxr.NewError("latch", cxr.ErrFrameNotReady), CategoryTransient},
		{cxr.NewError("latch", cxr.ErrTimeout), CategoryTransient},
		{cxr.NewError("latch", cxr.ErrReceiverNotRunning), CategoryRecoverableSession},
		{cxr.NewError("create", cxr.ErrUnsupportedVersion), CategoryNonRetryable},
		{cxr.NewError("connect", cxr.ErrNoAddr), CategoryConfiguration},
		{errors.New("boom"), CategoryUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "Classify(%v)", tt.err)
	}
}

func TestReasonCategory(t *testing.T) {
	assert.Equal(t, CategoryNonRetryable, ReasonCategory(cxr.ReasonVersionMismatch))
	assert.Equal(t, CategoryNonRetryable, ReasonCategory(cxr.ReasonHEVCUnsupported))
	assert.Equal(t, CategoryNonRetryable, ReasonCategory(cxr.ReasonDisabledFeature))
	assert.Equal(t, CategoryRecoverableSession, ReasonCategory(cxr.ReasonNetworkError))
	assert.Equal(t, CategoryRecoverableSession, ReasonCategory(cxr.ReasonDisconnectedUnexpected))
	assert.Equal(t, CategoryUnknown, ReasonCategory(cxr.ReasonDisconnectedExpected))
}

func TestCode(t *testing.T) {
	assert.Equal(t, cxr.Success, Code(nil))
	assert.Equal(t, cxr.ErrNoAddr, Code(ErrNoAddress))
	assert.Equal(t, cxr.ErrFrameNotReleased, Code(ErrFrameNotReleased))
	assert.Equal(t, cxr.ErrTimeout, Code(cxr.NewError("latch", cxr.ErrTimeout)))
	assert.Equal(t, cxr.ErrFailed, Code(ErrAudio))
}
