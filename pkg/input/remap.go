// Package input maps device-native button ids onto the normalized controller
// layout and maintains the pressed and changed bitmasks.
package input

import "github.com/teslashibe/go-xrstream/pkg/cxr"

// Remapper applies mapping tables to controller state. The zero value maps
// nothing; use NewRemapper for the stock tables.
type Remapper struct {
	// Event is consulted for edge-triggered devices.
	Event Table
	// Polled holds the per-hand tables for full-state devices.
	Polled [cxr.NumControllers]Table
}

// NewRemapper returns a remapper with the generic event table and the Neo3
// polled tables.
func NewRemapper() Remapper {
	return Remapper{
		Event: GenericEventTable,
		Polled: [cxr.NumControllers]Table{
			Neo3LeftTable.Concat(Neo3SharedTable),
			Neo3RightTable.Concat(Neo3SharedTable),
		},
	}
}

// ApplyEvent applies one edge event. It reports false, leaving ctl untouched,
// when id has no mapping.
//
// Trigger and grip clicks also drive their analog channels to 1 or 0 so
// consumers see pressure from devices without an analog sensor.
func (r Remapper) ApplyEvent(ctl *cxr.ControllerTrackingState, id NativeID, ev EventType) bool {
	m, ok := r.Event.Lookup(id)
	if !ok {
		return false
	}

	prior := ctl.BooleanComps
	mask := m.Button.Mask()
	var level float32
	switch ev {
	case EventDown:
		ctl.BooleanComps |= mask
		level = 1
	case EventUp:
		ctl.BooleanComps &^= mask
	default:
		return false
	}

	switch m.Button {
	case cxr.ButtonTriggerClick:
		ctl.ScalarComps[cxr.AnalogTrigger] = level
	case cxr.ButtonGripClick:
		ctl.ScalarComps[cxr.AnalogGrip] = level
	}

	ctl.BooleanCompsChanged = prior ^ ctl.BooleanComps
	return true
}

// ApplyState applies a full polled input frame for hand. The prior mask is
// captured once before any bit is touched and diffed once after the pass.
func (r Remapper) ApplyState(ctl *cxr.ControllerTrackingState, hand Hand, st NativeState) {
	prior := ctl.BooleanComps
	pressed := st.Pressed(hand)

	if hand >= HandLeft && int(hand) < len(r.Polled) {
		for _, m := range r.Polled[hand] {
			if m.Button >= cxr.ButtonNum {
				continue
			}
			if pressed.Has(m.Native) {
				ctl.BooleanComps |= m.Button.Mask()
			} else {
				ctl.BooleanComps &^= m.Button.Mask()
			}
		}
	}

	ctl.ScalarComps[cxr.AnalogTrigger] = st.Trigger
	ctl.ScalarComps[cxr.AnalogGrip] = st.Grip
	ctl.ScalarComps[cxr.AnalogJoystickX] = st.JoystickX
	ctl.ScalarComps[cxr.AnalogJoystickY] = st.JoystickY

	ctl.BooleanCompsChanged = prior ^ ctl.BooleanComps
}
