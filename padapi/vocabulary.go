package padapi

// buttonLabels is the wire vocabulary for discrete events. Press and release labels are
// independent strings; the release label of the right d-pad direction is "DroiteR".
var buttonLabels = map[Button]struct {
	press   string
	release string
}{
	ButtonA:             {"CroixP", "CroixR"},
	ButtonB:             {"RondP", "RondR"},
	ButtonX:             {"CarreP", "CarreR"},
	ButtonY:             {"TriangleP", "TriangleR"},
	ButtonBack:          {"SelectP", "SelectR"},
	ButtonStart:         {"StartP", "StartR"},
	ButtonLeftShoulder:  {"L1P", "L1R"},
	ButtonRightShoulder: {"R1P", "R1R"},
	ButtonLeftStick:     {"L3P", "L3R"},
	ButtonRightStick:    {"R3P", "R3R"},
	ButtonDPadUp:        {"HautP", "HautR"},
	ButtonDPadDown:      {"BasP", "BasR"},
	ButtonDPadLeft:      {"GaucheP", "GaucheR"},
	ButtonDPadRight:     {"DroitP", "DroiteR"},
	ButtonGuide:         {"PsP", "PsR"},
	ButtonMisc1:         {"TouchpadP", "TouchpadR"},
}

var axisWireNames = map[Axis]string{
	AxisLeftX:        "JGX",
	AxisLeftY:        "JGY",
	AxisRightX:       "JDX",
	AxisRightY:       "JDY",
	AxisTriggerLeft:  "GG",
	AxisTriggerRight: "GD",
}

func PressLabel(b Button) (string, bool) {
	l, ok := buttonLabels[b]
	return l.press, ok
}

func ReleaseLabel(b Button) (string, bool) {
	l, ok := buttonLabels[b]
	return l.release, ok
}

// AxisName returns the wire name of a.
func AxisName(a Axis) (string, bool) {
	name, ok := axisWireNames[a]
	return name, ok
}

// Buttons lists every button that has wire labels, in id order.
func Buttons() []Button {
	buttons := make([]Button, 0, len(buttonLabels))
	for b := ButtonA; b <= ButtonMisc1; b++ {
		if _, ok := buttonLabels[b]; ok {
			buttons = append(buttons, b)
		}
	}
	return buttons
}

// Axes lists every named axis, in id order.
func Axes() []Axis {
	axes := make([]Axis, 0, len(axisWireNames))
	for a := AxisLeftX; a <= AxisTriggerRight; a++ {
		axes = append(axes, a)
	}
	return axes
}
