package cxr

// ButtonID is a normalized button identifier. Its value is the bit index in
// ControllerTrackingState.BooleanComps.
type ButtonID uint8

const (
	ButtonSystem ButtonID = iota
	ButtonApplicationMenu
	ButtonGripTouch
	ButtonGripClick
	ButtonTriggerTouch
	ButtonTriggerClick
	ButtonTouchpadTouch
	ButtonTouchpadClick
	ButtonJoystickTouch
	ButtonJoystickClick
	ButtonA
	ButtonB
	ButtonNum

	// X and Y share bits with A and B; the hand disambiguates.
	ButtonX = ButtonA
	ButtonY = ButtonB
)

// Mask returns the bitmask for the button.
func (b ButtonID) Mask() uint64 {
	return 1 << uint64(b)
}

var buttonNames = [ButtonNum]string{
	"system", "app_menu",
	"grip_touch", "grip_click",
	"trigger_touch", "trigger_click",
	"touchpad_touch", "touchpad_click",
	"joystick_touch", "joystick_click",
	"a", "b",
}

func (b ButtonID) String() string {
	if b < ButtonNum {
		return buttonNames[b]
	}
	return "unknown"
}

// AnalogID indexes ControllerTrackingState.ScalarComps.
type AnalogID uint8

const (
	AnalogTrigger AnalogID = iota
	AnalogTouchpadX
	AnalogTouchpadY
	AnalogJoystickX
	AnalogJoystickY
	AnalogGrip
	AnalogGripForce
	AnalogNum
)

// Controller indices.
const (
	ControllerLeft  = 0
	ControllerRight = 1
)
