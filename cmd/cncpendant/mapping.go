package main

import (
	"fmt"
	"math"
	"strings"
)

// ============================================================================
// Mapping Model
// ============================================================================
// A mapping table is an ordered list of MappedCommand values built once at
// startup and never mutated. Order matters only for fixed-command priority.
// ============================================================================

// MovementAxis is a machine motion direction. The zero value means "none".
type MovementAxis int

const (
	NoMovement MovementAxis = iota
	MoveX
	MoveY
	MoveZ
)

func (a MovementAxis) String() string {
	switch a {
	case MoveX:
		return "X"
	case MoveY:
		return "Y"
	case MoveZ:
		return "Z"
	default:
		return ""
	}
}

// ParseMovementAxis parses "X", "Y" or "Z" (case-insensitive).
func ParseMovementAxis(s string) (MovementAxis, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "X":
		return MoveX, nil
	case "Y":
		return MoveY, nil
	case "Z":
		return MoveZ, nil
	default:
		return NoMovement, fmt.Errorf("invalid movement axis %q (want X, Y or Z)", s)
	}
}

// Direction is the sign of a button-driven move. The zero value means "none".
type Direction int

const (
	Positive Direction = 1
	Negative Direction = -1
)

// ParseDirection accepts "+", "positive", "-" and "negative".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "+", "positive", "pos":
		return Positive, nil
	case "-", "negative", "neg":
		return Negative, nil
	default:
		return 0, fmt.Errorf("invalid direction %q (want positive or negative)", s)
	}
}

// Magnitude step defaults
const (
	defaultSlowStep  = 0.1
	defaultMidStep   = 1.0
	defaultFastStep  = 10.0
	defaultSlowBelow = 0.0
	defaultFastAbove = 0.8
)

// MagnitudeAxis converts an analog input into one of three travel distances.
//
// SlowBelow <= FastAbove is expected but not enforced; inverted thresholds
// produce inverted bands.
type MagnitudeAxis struct {
	Label string

	SlowStep float64
	MidStep  float64
	FastStep float64

	SlowBelow float64
	FastAbove float64

	// TriggerAbove defaults to -Inf, i.e. always triggered.
	TriggerAbove float64

	// UseAbsoluteInput folds negative inputs before comparing. Set it for stick
	// axes where the sign carries direction and the magnitude carries speed.
	UseAbsoluteInput bool
}

// NewMagnitudeAxis returns an axis profile with the default steps and thresholds.
func NewMagnitudeAxis(label string) MagnitudeAxis {
	return MagnitudeAxis{
		Label:        label,
		SlowStep:     defaultSlowStep,
		MidStep:      defaultMidStep,
		FastStep:     defaultFastStep,
		SlowBelow:    defaultSlowBelow,
		FastAbove:    defaultFastAbove,
		TriggerAbove: math.Inf(-1),
	}
}

func (m MagnitudeAxis) fold(x float64) float64 {
	if m.UseAbsoluteInput {
		return math.Abs(x)
	}
	return x
}

// HasTriggered reports whether x passes the trigger threshold.
func (m MagnitudeAxis) HasTriggered(x float64) bool {
	return m.fold(x) > m.TriggerAbove
}

// TravelDistance maps x to the slow, mid or fast step.
func (m MagnitudeAxis) TravelDistance(x float64) float64 {
	x = m.fold(x)
	if x < m.SlowBelow {
		return m.SlowStep
	}
	if x > m.FastAbove {
		return m.FastStep
	}
	return m.MidStep
}

// MappedKind discriminates the shapes a MappedCommand can take.
type MappedKind int

const (
	InvalidMapping MappedKind = iota
	FixedCommandMapping
	DirectionalMapping
	AxisMoveMapping
)

func (k MappedKind) String() string {
	switch k {
	case FixedCommandMapping:
		return "fixed"
	case DirectionalMapping:
		return "directional"
	case AxisMoveMapping:
		return "axis"
	default:
		return "invalid"
	}
}

// MappedCommand binds a button or axis to an effect.
//
// Exactly one shape is populated:
//   - fixed command: Button and Commands
//   - directional button: Button, MovementAxis, Direction and Magnitude
//   - axis move: Axis and MovementAxis
type MappedCommand struct {
	Button          string
	Commands        []Command
	RepeatIfPressed bool

	MovementAxis MovementAxis
	Direction    Direction
	Magnitude    *MagnitudeAxis

	Axis                 *MagnitudeAxis
	ReverseAxisDirection bool
}

// Kind reports which shape the entry has.
func (m MappedCommand) Kind() MappedKind {
	switch {
	case m.Button != "" && len(m.Commands) > 0:
		return FixedCommandMapping
	case m.Button != "" && m.MovementAxis != NoMovement && m.Direction != 0:
		return DirectionalMapping
	case m.Axis != nil && m.MovementAxis != NoMovement:
		return AxisMoveMapping
	default:
		return InvalidMapping
	}
}

// AxisDirectionMultiplier returns -1 for reversed axes and +1 otherwise.
func (m MappedCommand) AxisDirectionMultiplier() int {
	if m.ReverseAxisDirection {
		return -1
	}
	return 1
}

func (m MappedCommand) String() string {
	switch m.Kind() {
	case FixedCommandMapping:
		return fmt.Sprintf("button %s -> %v", m.Button, m.Commands)
	case DirectionalMapping:
		sign := "+"
		if m.Direction == Negative {
			sign = "-"
		}
		label := ""
		if m.Magnitude != nil {
			label = m.Magnitude.Label
		}
		repeat := ""
		if m.RepeatIfPressed {
			repeat = " (repeat)"
		}
		return fmt.Sprintf("button %s -> %s%s by %s%s", m.Button, m.MovementAxis, sign, label, repeat)
	case AxisMoveMapping:
		rev := ""
		if m.ReverseAxisDirection {
			rev = " (reversed)"
		}
		return fmt.Sprintf("axis %s -> %s%s", m.Axis.Label, m.MovementAxis, rev)
	default:
		return "invalid mapping"
	}
}

// ============================================================================
// Factories
// ============================================================================

// HomingButton runs the homing cycle once per press.
func HomingButton(button string) MappedCommand {
	return MappedCommand{Button: button, Commands: []Command{Homing()}}
}

// ZeroPositionButton moves to work X0 Y0 and then lowers to Z0.
func ZeroPositionButton(button string) MappedCommand {
	return MappedCommand{
		Button: button,
		Commands: []Command{
			GCode("G90 G0 X0 Y0"),
			GCode("G90 G0 Z0"),
		},
	}
}

// SetOriginButton sets the work coordinate origin at the current position.
func SetOriginButton(button string) MappedCommand {
	return MappedCommand{
		Button:   button,
		Commands: []Command{GCode("G10 L20 P1 X0 Y0 Z0")},
	}
}

// MacroButton runs a CNCjs macro once per press.
func MacroButton(button, macroID string) MappedCommand {
	return MappedCommand{Button: button, Commands: []Command{MacroRun(macroID)}}
}

// FixedButton fires an arbitrary command sequence once per press.
func FixedButton(button string, cmds ...Command) MappedCommand {
	return MappedCommand{Button: button, Commands: cmds}
}

// DirectionalButtonPair returns two level-triggered buttons moving the same
// axis in opposite directions and sharing one magnitude profile.
func DirectionalButtonPair(positive, negative string, axis MovementAxis, magnitude MagnitudeAxis) [2]MappedCommand {
	mk := func(button string, dir Direction) MappedCommand {
		m := magnitude
		return MappedCommand{
			Button:          button,
			MovementAxis:    axis,
			Direction:       dir,
			Magnitude:       &m,
			RepeatIfPressed: true,
		}
	}
	return [2]MappedCommand{mk(positive, Positive), mk(negative, Negative)}
}

// AxisMove binds an analog axis to a movement axis. The axis value decides both
// direction (its sign) and distance (its magnitude).
func AxisMove(axis MagnitudeAxis, movement MovementAxis, reverse bool) MappedCommand {
	a := axis
	return MappedCommand{Axis: &a, MovementAxis: movement, ReverseAxisDirection: reverse}
}
