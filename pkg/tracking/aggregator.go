// Package tracking assembles the per-poll tracking snapshot handed to the
// streaming boundary: headset pose and flags plus both controllers' poses,
// button masks and analog channels.
package tracking

import (
	"log/slog"
	"math"
	"sync"

	"github.com/teslashibe/go-xrstream/pkg/cxr"
	"github.com/teslashibe/go-xrstream/pkg/input"
	"github.com/teslashibe/go-xrstream/pkg/posemath"
)

// Poses is one pose sample for every tracked device.
type Poses struct {
	HMD         posemath.SensorState
	Controllers [cxr.NumControllers]posemath.SensorState
}

// Source is a full-state device polled on every tracking request.
type Source interface {
	// PollInputState reads the whole input frame for hand. ok is false when
	// the controller is not connected.
	PollInputState(hand input.Hand) (state input.NativeState, ok bool)
	// PollPose reads the latest pose of every device.
	PollPose() Poses
}

// Aggregator owns the tracking snapshot. Every read and write of the
// snapshot happens under one mutex; readers get a copy.
type Aggregator struct {
	cfg    Config
	remap  input.Remapper
	source Source
	logger *slog.Logger

	mu             sync.Mutex
	hmd            cxr.TrackedDevicePose
	controllers    [cxr.NumControllers]cxr.ControllerTrackingState
	connected      [cxr.NumControllers]bool
	ipd            float32
	refresh        float32
	refreshChanged bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRemapper replaces the stock mapping tables.
func WithRemapper(r input.Remapper) Option {
	return func(a *Aggregator) {
		a.remap = r
	}
}

// WithSource makes GetTrackingState poll src before building the snapshot.
func WithSource(src Source) Option {
	return func(a *Aggregator) {
		a.source = src
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an aggregator.
func New(cfg Config, opts ...Option) *Aggregator {
	a := &Aggregator{
		cfg:    cfg,
		remap:  input.NewRemapper(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.resetLocked()
	return a
}

func validHand(hand input.Hand) bool {
	return hand >= input.HandLeft && int(hand) < cxr.NumControllers
}

// GetTrackingState returns a copy of the current snapshot. When a Source is
// configured it is polled first, outside the lock.
func (a *Aggregator) GetTrackingState() cxr.TrackingState {
	if a.source != nil {
		a.poll()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var ts cxr.TrackingState
	ts.PoseTimeOffset = a.cfg.PoseTimeOffset

	// Dynamic flags are rebuilt every snapshot.
	ts.HMD.Pose = a.hmd
	ts.HMD.Flags = cxr.HmdFlagHasIPD
	ts.HMD.IPD = truncateIPD(a.ipd)
	if a.refreshChanged {
		ts.HMD.DisplayRefresh = a.refresh
		ts.HMD.Flags |= cxr.HmdFlagHasRefresh
		a.refreshChanged = false
	}

	for i := range ts.Controller {
		ts.Controller[i] = a.controllers[i]
		if !a.connected[i] {
			ts.Controller[i].Pose.DeviceIsConnected = false
			ts.Controller[i].Pose.PoseIsValid = false
		}
	}
	return ts
}

// truncateIPD keeps sub-millimeter precision so that sensor jitter does not
// look like a new IPD to the server every frame.
func truncateIPD(ipd float32) float32 {
	return float32(math.Trunc(float64(ipd*10000))) / 10000
}

func (a *Aggregator) poll() {
	poses := a.source.PollPose()
	a.SetHMDPose(poses.HMD)

	for hand := input.HandLeft; int(hand) < cxr.NumControllers; hand++ {
		st, ok := a.source.PollInputState(hand)
		a.SetControllerConnected(hand, ok)
		if !ok {
			continue
		}
		a.SetControllerPose(hand, poses.Controllers[hand])
		a.ProcessContinuousState(hand, st)
	}
}

// ProcessButtonEvent applies one edge event from an event device. Unmapped
// ids are ignored.
func (a *Aggregator) ProcessButtonEvent(hand input.Hand, id input.NativeID, ev input.EventType) bool {
	if !validHand(hand) {
		return false
	}
	a.mu.Lock()
	handled := a.remap.ApplyEvent(&a.controllers[hand], id, ev)
	a.mu.Unlock()

	if handled {
		a.logger.Debug("button event", "hand", hand, "native", id, "event", ev)
	}
	return handled
}

// ProcessContinuousState applies one full input frame from a polled device.
func (a *Aggregator) ProcessContinuousState(hand input.Hand, st input.NativeState) {
	if !validHand(hand) {
		return
	}
	a.mu.Lock()
	a.remap.ApplyState(&a.controllers[hand], hand, st)
	a.connected[hand] = true
	a.mu.Unlock()
}

// ProcessJoystick sets both controllers' joystick axes.
func (a *Aggregator) ProcessJoystick(leftX, leftY, rightX, rightY float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.controllers[input.HandLeft].ScalarComps[cxr.AnalogJoystickX] = leftX
	a.controllers[input.HandLeft].ScalarComps[cxr.AnalogJoystickY] = leftY
	a.controllers[input.HandRight].ScalarComps[cxr.AnalogJoystickX] = rightX
	a.controllers[input.HandRight].ScalarComps[cxr.AnalogJoystickY] = rightY
}

// SetHMDPose stores the latest headset sample.
func (a *Aggregator) SetHMDPose(s posemath.SensorState) {
	s.Pose.Position.Y += a.cfg.HeightOffset
	pose := posemath.ConvertPose(s, 0)

	a.mu.Lock()
	a.hmd = pose
	a.mu.Unlock()
}

// SetControllerPose stores the latest sample for hand.
func (a *Aggregator) SetControllerPose(hand input.Hand, s posemath.SensorState) {
	if !validHand(hand) {
		return
	}
	s.Pose.Position.Y += a.cfg.HeightOffset
	pose := posemath.ConvertPose(s, a.cfg.ControllerTilt)
	// A polled controller that reports a pose is connected even while the
	// runtime flags the sample as untracked.
	pose.DeviceIsConnected = true

	a.mu.Lock()
	a.controllers[hand].Pose = pose
	a.mu.Unlock()
}

// SetControllerTransform stores a controller pose already in wire layout.
func (a *Aggregator) SetControllerTransform(hand input.Hand, m cxr.Matrix34) {
	if !validHand(hand) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.controllers[hand].Pose = cxr.TrackedDevicePose{
		DeviceToAbsoluteTracking: m,
		TrackingResult:           cxr.TrackingRunningOK,
		PoseIsValid:              true,
		DeviceIsConnected:        true,
	}
	a.connected[hand] = true
}

// SetControllerConnected records the connect status for hand.
func (a *Aggregator) SetControllerConnected(hand input.Hand, connected bool) {
	if !validHand(hand) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected[hand] = connected
}

// SetIPD stores the inter-pupillary distance in meters.
func (a *Aggregator) SetIPD(ipd float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ipd = ipd
}

// SetDisplayRefresh reports a refresh-rate change. The next snapshot carries
// it once.
func (a *Aggregator) SetDisplayRefresh(hz float32) {
	if limit := a.cfg.MaxDisplayRefresh; limit > 0 && hz > limit {
		hz = limit
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refresh = hz
	a.refreshChanged = true
}

// Reset returns the snapshot to defaults. IPD is kept, it is a property of
// the user rather than the session.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Aggregator) resetLocked() {
	a.hmd = cxr.TrackedDevicePose{DeviceToAbsoluteTracking: cxr.Identity34()}
	for i := range a.controllers {
		a.controllers[i] = cxr.ControllerTrackingState{
			Pose: cxr.TrackedDevicePose{DeviceToAbsoluteTracking: cxr.Identity34()},
		}
		a.connected[i] = false
	}
	a.refresh = 0
	a.refreshChanged = false
}
