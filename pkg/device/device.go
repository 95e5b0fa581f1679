// Package device defines the headset runtime adapter consumed by the session
// and a simulated headset for offline runs.
package device

import (
	"errors"
	"math"
	"time"

	"github.com/teslashibe/go-xrstream/pkg/input"
	"github.com/teslashibe/go-xrstream/pkg/tracking"
)

// Fov is one eye's field of view in radians. Left and Down are negative for
// a centred eye.
type Fov struct {
	Left, Right, Up, Down float64
}

// Extents returns the projection extents in wire order: tangents of left and
// right, then the negated tangents of up and down.
func (f Fov) Extents() [4]float32 {
	return [4]float32{
		float32(math.Tan(f.Left)),
		float32(math.Tan(f.Right)),
		float32(-math.Tan(f.Up)),
		float32(-math.Tan(f.Down)),
	}
}

// SymmetricFov returns a field of view spanning deg degrees in both axes.
func SymmetricFov(deg float64) Fov {
	half := deg / 2 * math.Pi / 180
	return Fov{Left: -half, Right: half, Up: half, Down: -half}
}

// Descriptor describes the headset to the session.
type Descriptor struct {
	Name         string
	Width        uint32 // per-eye recommended render width
	Height       uint32
	RefreshHz    float32
	IPD          float32 // meters
	Fov          [2]Fov
	ReceiveAudio bool
	SendAudio    bool
}

// Adapter is the runtime a session runs on.
type Adapter interface {
	tracking.Source

	// Descriptor returns the current hardware description.
	Descriptor() Descriptor
}

// Connected reports whether hand is connected on a.
func Connected(a Adapter, hand input.Hand) bool {
	_, ok := a.PollInputState(hand)
	return ok
}

// ErrNotConnected is returned when a pulse targets a disconnected controller.
var ErrNotConnected = errors.New("device: controller not connected")

// Pulse is one haptic vibration.
type Pulse struct {
	Hand      input.Hand
	Amplitude float32
	Duration  time.Duration
}

// Vibrator is implemented by adapters whose controllers can vibrate.
type Vibrator interface {
	Vibrate(p Pulse) error
}
