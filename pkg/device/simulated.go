package device

import (
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-xrstream/pkg/cxr"
	"github.com/teslashibe/go-xrstream/pkg/input"
	"github.com/teslashibe/go-xrstream/pkg/posemath"
	"github.com/teslashibe/go-xrstream/pkg/tracking"
)

// Simulated is a headset that sways its head slowly and holds both
// controllers in front of the user. Input frames are set by the caller.
type Simulated struct {
	desc  Descriptor
	start time.Time
	now   func() time.Time

	mu        sync.Mutex
	states    [cxr.NumControllers]input.NativeState
	connected [cxr.NumControllers]bool
	pulses    []Pulse
}

// DefaultDescriptor is a 90 Hz headset with 1832x1920 eyes.
func DefaultDescriptor() Descriptor {
	return Descriptor{
		Name:         "simulated",
		Width:        1832,
		Height:       1920,
		RefreshHz:    90,
		IPD:          0.063,
		Fov:          [2]Fov{SymmetricFov(100), SymmetricFov(100)},
		ReceiveAudio: true,
		SendAudio:    true,
	}
}

// NewSimulated creates a simulated headset with both controllers connected.
func NewSimulated(desc Descriptor) *Simulated {
	return &Simulated{
		desc:      desc,
		start:     time.Now(),
		now:       time.Now,
		connected: [cxr.NumControllers]bool{true, true},
	}
}

// Descriptor implements Adapter.
func (s *Simulated) Descriptor() Descriptor {
	return s.desc
}

// SetInput replaces the input frame returned for hand.
func (s *Simulated) SetInput(hand input.Hand, st input.NativeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[hand] = st
}

// SetConnected changes the connect status of hand.
func (s *Simulated) SetConnected(hand input.Hand, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected[hand] = connected
}

// PollInputState implements Adapter.
func (s *Simulated) PollInputState(hand input.Hand) (input.NativeState, bool) {
	if hand < input.HandLeft || int(hand) >= cxr.NumControllers {
		return input.NativeState{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[hand], s.connected[hand]
}

// PollPose implements Adapter. Positions are relative to eye level, like a
// real runtime's, and rely on the aggregator's height offset.
func (s *Simulated) PollPose() tracking.Poses {
	t := s.now().Sub(s.start).Seconds()
	yaw := 0.3 * math.Sin(t*0.5)

	head := posemath.SensorState{
		Pose: posemath.Pose{
			Orientation: posemath.AxisAngle(posemath.Vec3{Y: 1}, yaw),
			Position:    posemath.Vec3{},
		},
		// rad/s expressed in the runtime's milli units
		AngularVelocity: posemath.Vec3{Y: float32(0.15*math.Cos(t*0.5)) * 1000},
		Status:          1,
	}

	var poses tracking.Poses
	poses.HMD = head
	for hand, x := range [cxr.NumControllers]float32{-0.2, 0.2} {
		poses.Controllers[hand] = posemath.SensorState{
			Pose: posemath.Pose{
				Orientation: posemath.IdentityQuaternion,
				Position:    posemath.Vec3{X: x, Y: -0.5, Z: -0.35},
			},
			Status: 1,
		}
	}
	return poses
}

// Vibrate implements Vibrator by recording the pulse.
func (s *Simulated) Vibrate(p Pulse) error {
	if p.Hand < input.HandLeft || int(p.Hand) >= cxr.NumControllers {
		return ErrNotConnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected[p.Hand] {
		return ErrNotConnected
	}
	s.pulses = append(s.pulses, p)
	return nil
}

// Pulses returns every pulse played so far.
func (s *Simulated) Pulses() []Pulse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Pulse(nil), s.pulses...)
}
