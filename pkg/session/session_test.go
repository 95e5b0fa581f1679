package session

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-xrstream/internal/config"
	"github.com/teslashibe/go-xrstream/pkg/audioio"
	"github.com/teslashibe/go-xrstream/pkg/cxr"
	"github.com/teslashibe/go-xrstream/pkg/device"
	"github.com/teslashibe/go-xrstream/pkg/input"
	"github.com/teslashibe/go-xrstream/pkg/tracking"
)

// audioRig hands out mock streams and remembers them.
type audioRig struct {
	mu        sync.Mutex
	sinks     []*audioio.MockSink
	sources   []*audioio.MockSource
	sinkErr   error
	startErr  error
	sourceErr error
}

func (a *audioRig) newSink(cfg audioio.Config, logger *slog.Logger) (audioio.Sink, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sinkErr != nil {
		return nil, a.sinkErr
	}
	s := audioio.NewMockSink(cfg, logger)
	if a.startErr != nil {
		s.FailStart(a.startErr)
	}
	a.sinks = append(a.sinks, s)
	return s, nil
}

func (a *audioRig) newSource(cfg audioio.Config, logger *slog.Logger) (audioio.Source, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sourceErr != nil {
		return nil, a.sourceErr
	}
	s := audioio.NewMockSource(cfg, logger, audioio.WithSineWave(440, 0.3))
	a.sources = append(a.sources, s)
	return s, nil
}

func (a *audioRig) opened() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sinks) + len(a.sources)
}

// fakeClock is advanced by hand.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingListener captures everything published by the session.
type recordingListener struct {
	mu     sync.Mutex
	states []cxr.ClientState
	stats  []cxr.ConnectionStats
}

func (l *recordingListener) OnSessionState(state cxr.ClientState, reason cxr.StateReason, sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
}

func (l *recordingListener) OnConnectionStats(stats cxr.ConnectionStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = append(l.stats, stats)
}

type harness struct {
	client *Client
	svc    *cxr.MockService
	dev    *device.Simulated
	audio  *audioRig
	clock  *fakeClock
}

func testConfig() config.Client {
	cfg := config.DefaultClient()
	cfg.ServerAddress = "192.168.1.20"
	return cfg
}

func newHarness(t *testing.T, cfg config.Client, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		svc:   cxr.NewMockService(),
		dev:   device.NewSimulated(device.DefaultDescriptor()),
		audio: &audioRig{},
		clock: newFakeClock(),
	}
	base := []Option{
		WithAudio(h.audio.newSink, h.audio.newSource),
		WithClock(h.clock.Now),
	}
	h.client = New(cfg, h.svc, h.dev, append(base, opts...)...)
	t.Cleanup(h.client.Teardown)
	return h
}

// streaming starts the client and drives the boundary to a live stream.
func (h *harness) streaming(t *testing.T) *cxr.MockReceiver {
	t.Helper()
	require.NoError(t, h.client.Start())
	r := h.svc.Last()
	require.NotNil(t, r)
	r.EmitState(cxr.StateStreamingSessionInProgress, cxr.ReasonNoError)
	require.Equal(t, cxr.StateStreamingSessionInProgress, h.client.State())
	return r
}

func TestCreateSession_EmptyAddress(t *testing.T) {
	cfg := testConfig()
	cfg.ServerAddress = ""
	h := newHarness(t, cfg)

	err := h.client.CreateSession()

	require.ErrorIs(t, err, ErrNoAddress)
	assert.Equal(t, CategoryConfiguration, Classify(err))
	assert.Equal(t, cxr.ErrNoAddr, Code(err))
	assert.Zero(t, h.audio.opened(), "no audio stream may be opened")
	assert.False(t, h.client.HasReceiver())
	assert.Empty(t, h.svc.Descs())
	assert.Empty(t, h.client.SessionID())
}

func TestCreateSession_Descriptor(t *testing.T) {
	cfg := testConfig()
	cfg.Foveation = 50
	cfg.DebugFlags = 0x4
	h := newHarness(t, cfg)

	require.NoError(t, h.client.CreateSession())
	descs := h.svc.Descs()
	require.Len(t, descs, 1)
	d := descs[0]

	_, err := uuid.Parse(d.SessionID)
	assert.NoError(t, err, "session id should be a uuid")
	assert.Equal(t, d.SessionID, h.client.SessionID())
	assert.Equal(t, uint32(2), d.NumStreams)
	assert.Equal(t, uint32(0x4), d.DebugFlags)

	dev := d.Device
	assert.Equal(t, cxr.DeliveryStereoRGB, dev.DeliveryType)
	assert.Equal(t, uint32(1832), dev.Width)
	assert.Equal(t, uint32(1920), dev.Height)
	assert.InDelta(t, 90, dev.FPS, 1e-6)
	assert.InDelta(t, 0.063, dev.IPD, 1e-6)
	assert.Equal(t, uint32(50), dev.FoveatedScaleFactor)
	assert.True(t, dev.ReceiveAudio)
	assert.False(t, dev.SendAudio)
	assert.Equal(t, cxr.UniverseStanding, dev.Chaperone.Universe)
	assert.Equal(t, [2]float32{1.5, 1.5}, dev.Chaperone.PlayArea.V)

	// 100 degree symmetric fov: tan(50deg) on every edge.
	for eye := 0; eye < 2; eye++ {
		assert.InDelta(t, -1.19175, dev.Proj[eye][0], 1e-4)
		assert.InDelta(t, 1.19175, dev.Proj[eye][1], 1e-4)
		assert.InDelta(t, -1.19175, dev.Proj[eye][2], 1e-4)
		assert.InDelta(t, 1.19175, dev.Proj[eye][3], 1e-4)
	}

	// A second call with a live receiver does nothing.
	require.NoError(t, h.client.CreateSession())
	assert.Len(t, h.svc.Descs(), 1)
}

func TestCreateSession_FoveationOutOfRangeDisabled(t *testing.T) {
	for _, f := range []uint32{0, 100, 250} {
		cfg := testConfig()
		cfg.Foveation = f
		h := newHarness(t, cfg)
		require.NoError(t, h.client.CreateSession())
		assert.Zero(t, h.svc.Last().Desc().Device.FoveatedScaleFactor, "foveation %d", f)
	}
}

func TestCreateSession_AudioStartFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.audio.startErr = errors.New("device busy")

	err := h.client.CreateSession()

	require.ErrorIs(t, err, ErrAudio)
	assert.Equal(t, CategoryResource, Classify(err))
	assert.Empty(t, h.svc.Descs(), "receiver must not be created")
	assert.False(t, h.client.HasReceiver())
	require.Len(t, h.audio.sinks, 1)
	assert.True(t, h.audio.sinks[0].Closed())
}

func TestCreateSession_CaptureOpenFailureClosesPlayback(t *testing.T) {
	cfg := testConfig()
	cfg.SendAudio = true
	h := newHarness(t, cfg)
	h.audio.sourceErr = errors.New("no microphone")

	err := h.client.CreateSession()

	require.ErrorIs(t, err, ErrAudio)
	require.Len(t, h.audio.sinks, 1)
	assert.True(t, h.audio.sinks[0].Closed())
	assert.False(t, h.client.RenderAudio(cxr.AudioFrame{Buffer: make([]byte, 960)}))
}

func TestCreateSession_ReceiverFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	boundaryErr := cxr.NewError("create", cxr.ErrUnsupportedVersion)
	h.svc.SetCreateError(boundaryErr)

	err := h.client.CreateSession()

	assert.Same(t, boundaryErr, err)
	assert.Equal(t, CategoryNonRetryable, Classify(err))
	assert.False(t, h.client.HasReceiver())
	require.Len(t, h.audio.sinks, 1)
	assert.True(t, h.audio.sinks[0].Closed())
}

func TestConnect_Async(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.client.CreateSession())

	require.NoError(t, h.client.Connect())
	assert.Equal(t, cxr.StateConnectionAttemptInProgress, h.client.State())

	r := h.svc.Last()
	require.Len(t, r.Connects(), 1)
	assert.True(t, r.Connects()[0].Async)
	assert.Equal(t, []string{"192.168.1.20"}, r.Addresses())

	r.EmitState(cxr.StateStreamingSessionInProgress, cxr.ReasonNoError)
	assert.Equal(t, cxr.StateStreamingSessionInProgress, h.client.State())
}

func TestConnect_AsyncImmediateCallbackKept(t *testing.T) {
	h := newHarness(t, testConfig())
	h.svc.Configure = func(r *cxr.MockReceiver) {
		r.OnConnect = func(r *cxr.MockReceiver, _ cxr.ConnectionDesc) {
			r.EmitState(cxr.StateStreamingSessionInProgress, cxr.ReasonNoError)
		}
	}

	require.NoError(t, h.client.Start())
	assert.Equal(t, cxr.StateStreamingSessionInProgress, h.client.State())
}

func TestConnect_SyncSuccess(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectAsync = false
	h := newHarness(t, cfg)

	require.NoError(t, h.client.Start())
	assert.Equal(t, cxr.StateStreamingSessionInProgress, h.client.State())
	assert.False(t, h.svc.Last().Connects()[0].Async)
}

func TestConnect_SyncFailureTearsDown(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectAsync = false
	h := newHarness(t, cfg)
	connectErr := cxr.NewError("connect", cxr.ErrCouldNotConnectToServer)
	h.svc.Configure = func(r *cxr.MockReceiver) { r.SetConnectError(connectErr) }

	err := h.client.Start()

	require.ErrorIs(t, err, connectErr)
	assert.False(t, h.client.HasReceiver())
	assert.Equal(t, 1, h.svc.Last().Destroyed())
	assert.NotEqual(t, cxr.StateStreamingSessionInProgress, h.client.State())
}

func TestConnect_WithoutReceiver(t *testing.T) {
	h := newHarness(t, testConfig())
	assert.ErrorIs(t, h.client.Connect(), ErrNoReceiver)
}

func TestTick_DisconnectedWithoutAutoReconnectExitsForever(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnect = false
	h := newHarness(t, cfg)
	r := h.streaming(t)

	r.EmitState(cxr.StateDisconnected, cxr.ReasonNetworkError)
	h.client.Tick()
	require.Equal(t, cxr.StateExiting, h.client.State())

	// Late boundary notifications cannot revive the session.
	r.EmitState(cxr.StateStreamingSessionInProgress, cxr.ReasonNoError)
	for i := 0; i < 10; i++ {
		h.client.Tick()
		assert.Equal(t, cxr.StateExiting, h.client.State())
	}
	assert.True(t, h.client.Exiting())
	assert.Len(t, h.svc.Receivers(), 1, "no receiver may be recreated")
}

func TestTick_FailedWithoutAutoReconnectExits(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnect = false
	h := newHarness(t, cfg)
	require.NoError(t, h.client.Start())

	h.svc.Last().EmitState(cxr.StateConnectionAttemptFailed, cxr.ReasonNetworkError)
	h.client.Tick()

	assert.Equal(t, cxr.StateExiting, h.client.State())
}

func TestTick_NetworkErrorRetriesConnect(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.client.Start())
	r := h.svc.Last()

	r.EmitState(cxr.StateConnectionAttemptFailed, cxr.ReasonNetworkError)
	h.client.Tick()

	assert.Equal(t, cxr.StateConnectionAttemptInProgress, h.client.State())
	assert.Len(t, r.Connects(), 2, "connect should be re-issued on the same receiver")
	assert.Len(t, h.svc.Receivers(), 1)
	assert.Zero(t, r.Destroyed())
}

func TestTick_NonRetryableReasonEndsSession(t *testing.T) {
	for _, reason := range []cxr.StateReason{
		cxr.ReasonVersionMismatch,
		cxr.ReasonHEVCUnsupported,
		cxr.ReasonDisabledFeature,
	} {
		t.Run(reason.String(), func(t *testing.T) {
			h := newHarness(t, testConfig())
			require.NoError(t, h.client.Start())
			r := h.svc.Last()

			r.EmitState(cxr.StateConnectionAttemptFailed, reason)
			h.client.Tick()

			assert.Equal(t, cxr.StateExiting, h.client.State())
			assert.Len(t, r.Connects(), 1)
			assert.Len(t, h.svc.Receivers(), 1)
		})
	}
}

func TestTick_DisconnectedRecreatesReceiver(t *testing.T) {
	h := newHarness(t, testConfig())
	first := h.streaming(t)
	firstID := h.client.SessionID()

	first.EmitState(cxr.StateDisconnected, cxr.ReasonDisconnectedUnexpected)
	h.client.Tick()

	require.Len(t, h.svc.Receivers(), 2)
	assert.Equal(t, 1, first.Destroyed())
	second := h.svc.Last()
	assert.Len(t, second.Connects(), 1)
	assert.Equal(t, cxr.StateConnectionAttemptInProgress, h.client.State())
	assert.NotEqual(t, firstID, h.client.SessionID())
	assert.Equal(t, int64(1), h.client.FrameStats().Recreations)
}

func TestTick_BackoffPacesRecreation(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectDelay = time.Second
	cfg.MaxReconnectDelay = 4 * time.Second
	h := newHarness(t, cfg)
	h.streaming(t)

	h.svc.Last().EmitState(cxr.StateDisconnected, cxr.ReasonNetworkError)
	h.client.Tick()
	require.Len(t, h.svc.Receivers(), 2)

	h.svc.Last().EmitState(cxr.StateDisconnected, cxr.ReasonNetworkError)
	h.client.Tick()
	assert.Len(t, h.svc.Receivers(), 2, "second attempt must wait")

	h.clock.Advance(time.Second)
	h.client.Tick()
	require.Len(t, h.svc.Receivers(), 3)

	// The wait doubles.
	h.svc.Last().EmitState(cxr.StateDisconnected, cxr.ReasonNetworkError)
	h.clock.Advance(time.Second)
	h.client.Tick()
	assert.Len(t, h.svc.Receivers(), 3)
	h.clock.Advance(time.Second)
	h.client.Tick()
	assert.Len(t, h.svc.Receivers(), 4)
}

func TestTick_RecreateKeepsRetryingAfterFailedConnect(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectAsync = false
	cfg.ReconnectDelay = time.Second
	cfg.MaxReconnectDelay = 4 * time.Second
	h := newHarness(t, cfg)
	require.NoError(t, h.client.Start())
	require.Equal(t, cxr.StateStreamingSessionInProgress, h.client.State())
	first := h.svc.Last()

	connectErr := cxr.NewError("connect", cxr.ErrCouldNotConnectToServer)
	h.svc.Configure = func(r *cxr.MockReceiver) { r.SetConnectError(connectErr) }
	first.EmitState(cxr.StateDisconnected, cxr.ReasonDisconnectedUnexpected)
	h.client.Tick()

	require.Len(t, h.svc.Receivers(), 2)
	assert.Equal(t, cxr.StateDisconnected, h.client.State())
	assert.Equal(t, cxr.ReasonDisconnectedUnexpected, h.client.Reason())
	assert.False(t, h.client.HasReceiver())

	for i := 0; i < 5; i++ {
		h.clock.Advance(cfg.MaxReconnectDelay)
		h.client.Tick()
	}
	assert.Len(t, h.svc.Receivers(), 7, "every paced tick recreates")
	assert.Equal(t, cxr.StateDisconnected, h.client.State())
	assert.False(t, h.client.Exiting())

	h.svc.Configure = nil
	h.clock.Advance(cfg.MaxReconnectDelay)
	h.client.Tick()
	assert.Len(t, h.svc.Receivers(), 8)
	assert.Equal(t, cxr.StateStreamingSessionInProgress, h.client.State())
}

func TestTick_RecreateRetriesAfterCreateFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	first := h.streaming(t)

	h.svc.SetCreateError(errors.New("encoder busy"))
	first.EmitState(cxr.StateDisconnected, cxr.ReasonNetworkError)
	h.client.Tick()
	h.client.Tick()

	assert.Len(t, h.svc.Descs(), 3)
	assert.Len(t, h.svc.Receivers(), 1)
	assert.Equal(t, cxr.StateDisconnected, h.client.State())
	assert.Equal(t, cxr.ReasonNetworkError, h.client.Reason())

	h.svc.SetCreateError(nil)
	h.client.Tick()
	require.Len(t, h.svc.Receivers(), 2)
	assert.Equal(t, cxr.StateConnectionAttemptInProgress, h.client.State())
}

func TestTick_RecreateExitsOnUnsupportedVersion(t *testing.T) {
	h := newHarness(t, testConfig())
	first := h.streaming(t)

	h.svc.SetCreateError(cxr.NewError("create", cxr.ErrUnsupportedVersion))
	first.EmitState(cxr.StateDisconnected, cxr.ReasonNetworkError)
	h.client.Tick()

	assert.Equal(t, cxr.StateExiting, h.client.State())
	h.client.Tick()
	assert.Len(t, h.svc.Descs(), 2)
}

func TestTick_FailedAttemptRetriesArePaced(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectDelay = time.Second
	cfg.MaxReconnectDelay = 4 * time.Second
	h := newHarness(t, cfg)
	require.NoError(t, h.client.Start())
	r := h.svc.Last()

	r.EmitState(cxr.StateConnectionAttemptFailed, cxr.ReasonNetworkError)
	h.client.Tick()
	require.Len(t, r.Connects(), 2)

	r.EmitState(cxr.StateConnectionAttemptFailed, cxr.ReasonNetworkError)
	for i := 0; i < 10; i++ {
		h.client.Tick()
	}
	assert.Len(t, r.Connects(), 2, "retry must wait for the delay")
	assert.Equal(t, cxr.StateConnectionAttemptFailed, h.client.State())

	h.clock.Advance(time.Second)
	h.client.Tick()
	assert.Len(t, r.Connects(), 3)
	assert.Equal(t, cxr.StateConnectionAttemptInProgress, h.client.State())
}

func TestTick_HeartbeatCountsWhileWaiting(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.client.Start())

	for i := 0; i < heartbeatTicks*2; i++ {
		h.client.Tick()
	}
	assert.Equal(t, heartbeatTicks*2, h.client.ticks)
	assert.Equal(t, cxr.StateConnectionAttemptInProgress, h.client.State())

	h.svc.Last().EmitState(cxr.StateStreamingSessionInProgress, cxr.ReasonNoError)
	h.client.Tick()
	assert.Zero(t, h.client.ticks)
}

func TestTeardown_Idempotent(t *testing.T) {
	cfg := testConfig()
	cfg.SendAudio = true
	h := newHarness(t, cfg, WithTracker(tracking.New(tracking.DefaultConfig())))
	r := h.streaming(t)
	require.True(t, h.client.Tracker().ProcessButtonEvent(input.HandRight, input.EventButtonA, input.EventDown))
	require.NotZero(t, h.client.GetTrackingState().Controller[input.HandRight].BooleanComps)

	h.client.Teardown()
	h.client.Teardown()

	assert.Equal(t, 1, r.Destroyed())
	assert.False(t, h.client.HasReceiver())
	assert.Empty(t, h.client.SessionID())
	require.Len(t, h.audio.sinks, 1)
	assert.True(t, h.audio.sinks[0].Closed())
	require.Len(t, h.audio.sources, 1)
	assert.False(t, h.audio.sources[0].Stats().Running)
	ts := h.client.GetTrackingState()
	assert.Zero(t, ts.Controller[input.HandRight].BooleanComps, "tracking snapshot is reset")
}

func TestHandleStateChanges(t *testing.T) {
	h := newHarness(t, testConfig())

	// Nothing happens without a pause edge.
	h.client.HandleStateChanges(true)
	assert.False(t, h.client.HasReceiver())

	h.client.SetPaused(false)
	h.client.HandleStateChanges(false)
	assert.False(t, h.client.HasReceiver(), "runtime not running yet")

	h.client.HandleStateChanges(true)
	require.True(t, h.client.HasReceiver())
	assert.Equal(t, cxr.StateConnectionAttemptInProgress, h.client.State())

	h.client.SetPaused(true)
	h.client.HandleStateChanges(true)
	assert.False(t, h.client.HasReceiver())
	assert.Equal(t, cxr.StateReadyToConnect, h.client.State())
	assert.Equal(t, 1, h.svc.Last().Destroyed())
}

func TestListenerSeesStateChanges(t *testing.T) {
	l := &recordingListener{}
	h := newHarness(t, testConfig(), WithListener(l))
	r := h.streaming(t)

	h.client.Tick()
	r.EmitState(cxr.StateDisconnected, cxr.ReasonNetworkError)
	h.client.Tick()

	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotEmpty(t, l.states)
	assert.Equal(t, cxr.StateStreamingSessionInProgress, l.states[0])
	assert.Equal(t, cxr.StateConnectionAttemptInProgress, l.states[len(l.states)-1])
}

func TestStatsPolledOncePerInterval(t *testing.T) {
	l := &recordingListener{}
	h := newHarness(t, testConfig(), WithListener(l))
	r := h.streaming(t)
	r.SetStats(cxr.ConnectionStats{FramesPerSecond: 72, RoundTripDelayMs: 12}, nil)

	h.client.Tick()
	h.client.Tick()
	h.clock.Advance(500 * time.Millisecond)
	h.client.Tick()
	h.clock.Advance(600 * time.Millisecond)
	h.client.Tick()

	l.mu.Lock()
	assert.Len(t, l.stats, 2)
	l.mu.Unlock()

	st := h.client.Status()
	assert.InDelta(t, 72, st.Link.FramesPerSecond, 1e-6)
	assert.Equal(t, "streaming_session_in_progress", st.State)
	assert.Equal(t, h.client.SessionID(), st.SessionID)
}

func TestStatsNotPolledWhileConnecting(t *testing.T) {
	l := &recordingListener{}
	h := newHarness(t, testConfig(), WithListener(l))
	require.NoError(t, h.client.Start())

	h.clock.Advance(5 * time.Second)
	h.client.Tick()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.stats)
}

func TestNew_UsesProvidedTracker(t *testing.T) {
	agg := tracking.New(tracking.DefaultConfig())
	h := newHarness(t, testConfig(), WithTracker(agg))
	assert.Same(t, agg, h.client.Tracker())
	assert.InDelta(t, 0.063, h.client.GetTrackingState().HMD.IPD, 1e-4)
}
