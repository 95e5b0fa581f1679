package cxr

import "time"

// DeliveryType tells the server the frame layout the client expects.
type DeliveryType int32

const (
	DeliveryMonoRGB DeliveryType = iota
	DeliveryMonoRGBA
	DeliveryStereoRGB
)

// ControllerType selects the controller model the server emulates.
type ControllerType int32

const (
	ControllerHtcVive ControllerType = iota
	ControllerValveIndex
	ControllerOculusTouch
	ControllerNone
)

// UniverseOrigin is the chaperone reference origin.
type UniverseOrigin int32

const (
	UniverseSeated UniverseOrigin = iota
	UniverseStanding
)

// Chaperone describes the play space.
type Chaperone struct {
	Universe UniverseOrigin
	Origin   Matrix34
	PlayArea Vector2
}

// DeviceDesc describes the client hardware to the server.
type DeviceDesc struct {
	DeliveryType DeliveryType
	Width        uint32
	Height       uint32
	MaxResFactor float32
	FPS          float32
	IPD          float32
	// Proj holds per-eye projection extents: tangents of the half angles for
	// the left, right, top and bottom edges.
	Proj                         [2][4]float32
	PredOffset                   float32
	ReceiveAudio                 bool
	SendAudio                    bool
	EmbedInfoInVideo             bool
	DisablePosePrediction        bool
	AngularVelocityInDeviceSpace bool
	DisableVVSync                bool
	FoveatedScaleFactor          uint32 // percent of display resolution, 0 disables
	PosePollFreq                 uint32 // 0 uses the boundary default
	CtrlType                     ControllerType
	Chaperone                    Chaperone
}

// ReceiverDesc is everything the boundary needs to create a receiver.
type ReceiverDesc struct {
	SessionID     string
	Device        DeviceDesc
	Callbacks     Callbacks
	NumStreams    uint32
	DebugFlags    uint32
	LogMaxSizeKB  int32
	LogMaxAgeDays int32
}

// ConnectionDesc controls a connection attempt.
type ConnectionDesc struct {
	Async               bool
	MaxVideoBitrateKbps uint32
	ClientNetwork       string
	Topology            string
}

// Callbacks is implemented by the session and registered with the boundary.
// The boundary invokes it from its own goroutines; implementations must not
// block on I/O.
type Callbacks interface {
	GetTrackingState() TrackingState
	TriggerHaptic(h HapticFeedback)
	RenderAudio(f AudioFrame) bool
	OnStateChanged(state ClientState, reason StateReason)
}

// Surface is the currently bound render target for one eye.
type Surface interface {
	// Clear fills the target with a solid colour.
	Clear(r, g, b, a float32)
	// Draw renders a latched eye frame into the target.
	Draw(eye int, frame VideoFrame) error
}

// Receiver is an opaque streaming session handle.
type Receiver interface {
	// Connect starts a connection attempt. With desc.Async the call returns
	// immediately and progress is reported through Callbacks.OnStateChanged.
	Connect(address string, desc ConnectionDesc) error

	// LatchFrame blocks up to timeout for a decoded frame set. A latch must be
	// released before the next one.
	LatchFrame(mask uint32, timeout time.Duration) (*FramesLatched, error)

	// BlitFrame draws the masked eyes of a latched frame set into target.
	BlitFrame(frames *FramesLatched, mask uint32, target Surface) error

	// ReleaseFrame returns a latched frame set to the boundary.
	ReleaseFrame(frames *FramesLatched) error

	// SendAudio forwards captured microphone audio to the server.
	SendAudio(f AudioFrame) error

	// ConnectionStats reports the latest link statistics.
	ConnectionStats() (ConnectionStats, error)

	// Destroy terminates the session. The receiver is unusable afterwards.
	Destroy()
}

// Service creates receivers.
type Service interface {
	CreateReceiver(desc ReceiverDesc) (Receiver, error)
}
