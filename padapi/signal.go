package padapi

import "fmt"

// Button identifies a controller button. Values follow the SDL GameController numbering.
type Button uint8

const (
	ButtonA Button = iota
	ButtonB
	ButtonX
	ButtonY
	ButtonBack
	ButtonGuide
	ButtonStart
	ButtonLeftStick
	ButtonRightStick
	ButtonLeftShoulder
	ButtonRightShoulder
	ButtonDPadUp
	ButtonDPadDown
	ButtonDPadLeft
	ButtonDPadRight
	ButtonMisc1
)

var buttonNames = map[Button]string{
	ButtonA:             "a",
	ButtonB:             "b",
	ButtonX:             "x",
	ButtonY:             "y",
	ButtonBack:          "back",
	ButtonGuide:         "guide",
	ButtonStart:         "start",
	ButtonLeftStick:     "leftStick",
	ButtonRightStick:    "rightStick",
	ButtonLeftShoulder:  "leftShoulder",
	ButtonRightShoulder: "rightShoulder",
	ButtonDPadUp:        "dpadUp",
	ButtonDPadDown:      "dpadDown",
	ButtonDPadLeft:      "dpadLeft",
	ButtonDPadRight:     "dpadRight",
	ButtonMisc1:         "misc1",
}

func (b Button) String() string {
	if name, ok := buttonNames[b]; ok {
		return name
	}
	return fmt.Sprintf("button(%d)", uint8(b))
}

// Axis identifies an analog controller axis.
type Axis uint8

const (
	AxisLeftX Axis = iota
	AxisLeftY
	AxisRightX
	AxisRightY
	AxisTriggerLeft
	AxisTriggerRight
)

var axisNames = map[Axis]string{
	AxisLeftX:        "leftX",
	AxisLeftY:        "leftY",
	AxisRightX:       "rightX",
	AxisRightY:       "rightY",
	AxisTriggerLeft:  "triggerLeft",
	AxisTriggerRight: "triggerRight",
}

func (a Axis) String() string {
	if name, ok := axisNames[a]; ok {
		return name
	}
	return fmt.Sprintf("axis(%d)", uint8(a))
}

type SignalKind uint8

const (
	SignalButton SignalKind = iota
	SignalAxis
)

// Signal is one physical input source.
type Signal struct {
	Kind SignalKind
	ID   uint8
}

func ButtonSignal(b Button) Signal {
	return Signal{Kind: SignalButton, ID: uint8(b)}
}

func AxisSignal(a Axis) Signal {
	return Signal{Kind: SignalAxis, ID: uint8(a)}
}

func (s Signal) String() string {
	if s.Kind == SignalAxis {
		return Axis(s.ID).String()
	}
	return Button(s.ID).String()
}
