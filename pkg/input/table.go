package input

import "github.com/teslashibe/go-xrstream/pkg/cxr"

// Mapping binds a native id to a normalized button.
type Mapping struct {
	Native NativeID
	Button cxr.ButtonID
	Name   string
}

// Table is an ordered set of mappings. Tables are small, so lookup is a
// linear scan and the first match wins.
type Table []Mapping

// Lookup finds the mapping for id.
func (t Table) Lookup(id NativeID) (Mapping, bool) {
	for _, m := range t {
		if m.Native == id {
			return m, true
		}
	}
	return Mapping{}, false
}

// Concat returns a new table with the entries of t followed by others.
func (t Table) Concat(others ...Table) Table {
	out := make(Table, 0, len(t))
	out = append(out, t...)
	for _, o := range others {
		out = append(out, o...)
	}
	return out
}

// GenericEventTable maps event-device ids for both hands.
var GenericEventTable = Table{
	{EventApp, cxr.ButtonSystem, "Menu"},
	{EventTrigger, cxr.ButtonTriggerClick, "Trig"},
	{EventGrip, cxr.ButtonGripClick, "Grip"},
	{EventClick, cxr.ButtonTouchpadClick, "Touch-Click"},
	{EventButtonA, cxr.ButtonA, "Btn_A"},
	{EventButtonB, cxr.ButtonB, "Btn_B"},
	{EventButtonX, cxr.ButtonX, "Btn_X"},
	{EventButtonY, cxr.ButtonY, "Btn_Y"},
}

// Neo3 polled-device tables.
var (
	Neo3LeftTable = Table{
		{PolledX, cxr.ButtonX, "BtnX"},
		{PolledY, cxr.ButtonY, "BtnY"},
	}
	Neo3RightTable = Table{
		{PolledA, cxr.ButtonA, "BtnA"},
		{PolledB, cxr.ButtonB, "BtnB"},
	}
	Neo3SharedTable = Table{
		{PolledMenu, cxr.ButtonSystem, "BtnSystem"},
		{PolledTouchTrigger, cxr.ButtonTriggerTouch, "TouchTrig"},
		{PolledTrigger, cxr.ButtonTriggerClick, "BtnTrig"},
		{PolledTouchpad, cxr.ButtonTouchpadClick, "TouchTrack"},
		{PolledGrip, cxr.ButtonGripClick, "BtnGrip"},
	}
)
