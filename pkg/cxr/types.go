// Package cxr defines the contract between the streaming client core and the
// remote-rendering SDK boundary.
//
// The wire types in this package mirror the SDK's ABI: matrix layout, button
// bitmask layout and analog channel order are dictated by the server and must
// not be redesigned.
package cxr

// Frame masks select eye streams when latching or blitting.
const (
	FrameMaskLeft  uint32 = 0x01
	FrameMaskRight uint32 = 0x02
	FrameMaskAll   uint32 = 0xFFFFFFFF
)

// NumControllers is the number of tracked controllers in a snapshot.
const NumControllers = 2

// MaxVideoStreams is the maximum number of frames carried by one latch.
const MaxVideoStreams = 6

// Audio format used by the boundary in both directions.
const (
	AudioChannelCount  = 2
	AudioSampleSize    = 2 // signed 16-bit, little-endian
	AudioSamplingRate  = 48000
	AudioFrameLengthMs = 5
	AudioBytesPerMs    = AudioChannelCount * AudioSampleSize * AudioSamplingRate / 1000
)

// Matrix34 is a row-major 3x4 transform (+y up, +x right, -z forward, meters).
type Matrix34 struct {
	M [3][4]float32
}

// Identity34 returns the identity transform.
func Identity34() Matrix34 {
	return Matrix34{M: [3][4]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}}
}

// Vector3 is a wire-format 3-vector.
type Vector3 struct {
	V [3]float32
}

// Vector2 is a wire-format 2-vector.
type Vector2 struct {
	V [2]float32
}

// TrackingResult reports the runtime's tracking quality for a device.
type TrackingResult int32

const (
	TrackingUninitialized         TrackingResult = 1
	TrackingCalibratingInProgress TrackingResult = 100
	TrackingCalibratingOutOfRange TrackingResult = 101
	TrackingRunningOK             TrackingResult = 200
	TrackingRunningOutOfRange     TrackingResult = 201
	TrackingFallbackRotationOnly  TrackingResult = 300
)

// TrackedDevicePose is the pose of one tracked device in tracker space.
type TrackedDevicePose struct {
	DeviceToAbsoluteTracking Matrix34
	Velocity                 Vector3 // m/s
	AngularVelocity          Vector3 // rad/s
	TrackingResult           TrackingResult
	PoseIsValid              bool
	DeviceIsConnected        bool
}

// HMD tracking flags, reset every snapshot.
const (
	HmdFlagHasIPD     uint32 = 1 << 0
	HmdFlagHasRefresh uint32 = 1 << 1
)

// HmdTrackingState is the headset part of a tracking snapshot.
type HmdTrackingState struct {
	Pose           TrackedDevicePose
	IPD            float32
	DisplayRefresh float32
	Flags          uint32
}

// ControllerTrackingState is the controller part of a tracking snapshot.
//
// BooleanCompsChanged holds the bits that flipped during the last update and
// always equals the XOR of the masks before and after that update.
type ControllerTrackingState struct {
	Pose                TrackedDevicePose
	BooleanComps        uint64
	BooleanCompsChanged uint64
	ScalarComps         [AnalogNum]float32
}

// TrackingState is the full snapshot handed to the boundary on every pose poll.
type TrackingState struct {
	HMD            HmdTrackingState
	Controller     [NumControllers]ControllerTrackingState
	PoseTimeOffset float32
}

// HapticFeedback is a vibration request from the server.
type HapticFeedback struct {
	ControllerIndex int
	Amplitude       float32
	Seconds         float32
}

// AudioFrame is a block of interleaved PCM16 stereo audio.
type AudioFrame struct {
	Buffer []byte
}

// Milliseconds returns the playback length of the frame.
func (f AudioFrame) Milliseconds() int {
	return len(f.Buffer) / AudioBytesPerMs
}

// SampleFrames returns the number of per-channel sample frames.
func (f AudioFrame) SampleFrames() int {
	return f.Milliseconds() * AudioSamplingRate / 1000
}

// VideoFrame is one decoded eye image owned by the boundary until release.
type VideoFrame struct {
	Texture   uintptr
	Width     uint32
	Height    uint32
	StreamIdx uint32
	TimeStamp uint64
	Payload   []byte
}

// FramesLatched is the handle returned by a successful latch. It stays valid
// until ReleaseFrame.
type FramesLatched struct {
	Count      uint32
	Frames     [MaxVideoStreams]VideoFrame
	PoseMatrix Matrix34
}

// ConnectionStats is a periodic quality report from the boundary.
type ConnectionStats struct {
	FramesPerSecond          float32 `json:"fps"`
	FrameDeliveryTime        float32 `json:"frame_delivery_ms"`
	FrameQueueTime           float32 `json:"frame_queue_ms"`
	FrameLatchTime           float32 `json:"frame_latch_ms"`
	BandwidthAvailableKbps   uint32  `json:"bandwidth_available_kbps"`
	BandwidthUtilizationKbps uint32  `json:"bandwidth_utilization_kbps"`
	RoundTripDelayMs         uint32  `json:"rtt_ms"`
	JitterUs                 uint32  `json:"jitter_us"`
	TotalPacketsReceived     uint32  `json:"packets_received"`
	TotalPacketsLost         uint32  `json:"packets_lost"`
	TotalPacketsDropped      uint32  `json:"packets_dropped"`
	Quality                  uint32  `json:"quality"`
}
