package input

// NativeID is a runtime-specific input identifier. Event devices and polled
// devices use separate id spaces.
type NativeID int32

// Event-device input ids.
const (
	EventHome       NativeID = 0
	EventApp        NativeID = 1
	EventClick      NativeID = 2
	EventVolumeUp   NativeID = 3
	EventVolumeDown NativeID = 4
	EventButtonA    NativeID = 5
	EventButtonB    NativeID = 6
	EventButtonX    NativeID = 7
	EventButtonY    NativeID = 8
	EventGrip       NativeID = 9
	EventTrigger    NativeID = 10
)

// Polled-device input ids.
const (
	PolledNone         NativeID = -1
	PolledHome         NativeID = 0
	PolledX            NativeID = 1
	PolledY            NativeID = 2
	PolledA            NativeID = 3
	PolledB            NativeID = 4
	PolledTrigger      NativeID = 5
	PolledGrip         NativeID = 6
	PolledJoystick     NativeID = 7
	PolledTouchTrigger NativeID = 8
	PolledTouchpad     NativeID = 9
	PolledMenu         NativeID = 10
)

// EventType is the edge reported by an event device.
type EventType uint8

const (
	EventDown EventType = iota
	EventUp
)

func (e EventType) String() string {
	if e == EventDown {
		return "down"
	}
	return "up"
}

// Hand selects a controller.
type Hand int

const (
	HandLeft  Hand = 0
	HandRight Hand = 1
)

func (h Hand) String() string {
	if h == HandLeft {
		return "left"
	}
	return "right"
}

// NativeState is one full input frame read from a polled device.
//
// Only the boolean fields drive button bits. The analog fields are copied to
// scalar channels and never thresholded into presses.
type NativeState struct {
	Home         bool
	Menu         bool
	Touchpad     bool
	AX           bool // A on the right hand, X on the left
	BY           bool // B on the right hand, Y on the left
	TriggerTouch bool
	TriggerClick bool
	GripClick    bool

	Trigger   float32
	Grip      float32
	JoystickX float32
	JoystickY float32
}

// NativeSet is a set of polled native ids.
type NativeSet uint32

// Has reports whether id is in the set.
func (s NativeSet) Has(id NativeID) bool {
	if id < 0 || id > 31 {
		return false
	}
	return s&(1<<uint32(id)) != 0
}

// With returns s plus id.
func (s NativeSet) With(id NativeID) NativeSet {
	if id < 0 || id > 31 {
		return s
	}
	return s | 1<<uint32(id)
}

// Pressed returns the polled ids asserted by the discrete flags of st.
func (st NativeState) Pressed(hand Hand) NativeSet {
	var s NativeSet
	if st.Home {
		s = s.With(PolledHome)
	}
	if st.Menu {
		s = s.With(PolledMenu)
	}
	if st.Touchpad {
		s = s.With(PolledTouchpad)
	}
	if st.TriggerTouch {
		s = s.With(PolledTouchTrigger)
	}
	if st.TriggerClick {
		s = s.With(PolledTrigger)
	}
	if st.GripClick {
		s = s.With(PolledGrip)
	}
	if st.AX {
		if hand == HandLeft {
			s = s.With(PolledX)
		} else {
			s = s.With(PolledA)
		}
	}
	if st.BY {
		if hand == HandLeft {
			s = s.With(PolledY)
		} else {
			s = s.With(PolledB)
		}
	}
	return s
}
