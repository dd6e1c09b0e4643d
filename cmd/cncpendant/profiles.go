package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownMapping is returned for (gamepad, machine) pairs with no registered table.
var ErrUnknownMapping = errors.New("unknown mapping")

// ErrInvalidMapping is returned by ValidateMapping.
var ErrInvalidMapping = errors.New("invalid mapping")

// MachineProfile selects step sizes for a family of machines.
type MachineProfile string

const (
	MachineShapeoko MachineProfile = "Shapeoko"
	MachineGeneric  MachineProfile = "Generic"
)

// MachineProfiles lists the registered machine profiles.
func MachineProfiles() []MachineProfile {
	return []MachineProfile{MachineShapeoko, MachineGeneric}
}

// ParseMachineProfile resolves a profile name case-insensitively.
func ParseMachineProfile(s string) (MachineProfile, error) {
	for _, p := range MachineProfiles() {
		if strings.EqualFold(string(p), s) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: machine %q", ErrUnknownMapping, s)
}

// stepSet is the slow/mid/fast triple of a machine profile (in mm).
type stepSet struct {
	slow, mid, fast float64
}

func machineSteps(p MachineProfile) (stepSet, bool) {
	switch p {
	case MachineShapeoko:
		return stepSet{slow: 0.1, mid: 1, fast: 10}, true
	case MachineGeneric:
		return stepSet{slow: 0.01, mid: 0.1, fast: 1}, true
	default:
		return stepSet{}, false
	}
}

// stick returns a thumbstick profile: sign gives direction, magnitude gives speed.
func (s stepSet) stick(label string) MagnitudeAxis {
	m := NewMagnitudeAxis(label)
	m.SlowStep, m.MidStep, m.FastStep = s.slow, s.mid, s.fast
	m.SlowBelow = 0.4
	m.FastAbove = 0.8
	m.TriggerAbove = 0.1
	m.UseAbsoluteInput = true
	return m
}

// trigger returns an analog trigger profile used as a speed source for buttons.
// Triggers rest at -1 and reach +1 fully pressed.
func (s stepSet) trigger(label string) MagnitudeAxis {
	m := NewMagnitudeAxis(label)
	m.SlowStep, m.MidStep, m.FastStep = s.slow, s.mid, s.fast
	return m
}

// hat returns a digital d-pad axis profile, always mid speed once pushed.
func (s stepSet) hat(label string) MagnitudeAxis {
	m := NewMagnitudeAxis(label)
	m.SlowStep, m.MidStep, m.FastStep = s.mid, s.mid, s.mid
	m.TriggerAbove = 0.5
	m.UseAbsoluteInput = true
	return m
}

// LookupMapping returns the ordered mapping table for a gamepad and machine.
// Fixed-command buttons come first so they win over motion in the same tick.
func LookupMapping(gamepad GamepadModel, machine MachineProfile) ([]MappedCommand, error) {
	steps, ok := machineSteps(machine)
	if !ok {
		return nil, fmt.Errorf("%w: machine %q", ErrUnknownMapping, string(machine))
	}

	var out []MappedCommand
	add := func(m ...MappedCommand) { out = append(out, m...) }
	pair := func(p [2]MappedCommand) { out = append(out, p[0], p[1]) }

	switch gamepad {
	case GamepadPS3:
		add(HomingButton("PS"), ZeroPositionButton("START"), SetOriginButton("SELECT"))
		pair(DirectionalButtonPair("DPAD-RIGHT", "DPAD-LEFT", MoveX, steps.trigger("R2")))
		pair(DirectionalButtonPair("DPAD-UP", "DPAD-DOWN", MoveY, steps.trigger("R2")))
		pair(DirectionalButtonPair("R1", "L1", MoveZ, steps.trigger("R2")))
		add(
			AxisMove(steps.stick("LEFT-X"), MoveX, false),
			AxisMove(steps.stick("LEFT-Y"), MoveY, true),
			AxisMove(steps.stick("RIGHT-Y"), MoveZ, true),
		)

	case GamepadPS4:
		add(HomingButton("PS"), ZeroPositionButton("OPTIONS"), SetOriginButton("SHARE"))
		pair(DirectionalButtonPair("R1", "L1", MoveZ, steps.trigger("R2")))
		add(
			AxisMove(steps.hat("DPAD-X"), MoveX, false),
			AxisMove(steps.hat("DPAD-Y"), MoveY, true),
			AxisMove(steps.stick("LEFT-X"), MoveX, false),
			AxisMove(steps.stick("LEFT-Y"), MoveY, true),
			AxisMove(steps.stick("RIGHT-Y"), MoveZ, true),
		)

	case GamepadXbox360:
		add(HomingButton("XBOX"), ZeroPositionButton("START"), SetOriginButton("BACK"))
		pair(DirectionalButtonPair("RB", "LB", MoveZ, steps.trigger("RT")))
		add(
			AxisMove(steps.stick("LEFT-X"), MoveX, false),
			AxisMove(steps.stick("LEFT-Y"), MoveY, true),
			AxisMove(steps.stick("RIGHT-Y"), MoveZ, true),
		)

	case GamepadMMP1251:
		add(HomingButton("HOME"), ZeroPositionButton("START"), SetOriginButton("SELECT"))
		pair(DirectionalButtonPair("R1", "L1", MoveZ, steps.trigger("R2")))
		add(
			AxisMove(steps.hat("DPAD-X"), MoveX, false),
			AxisMove(steps.hat("DPAD-Y"), MoveY, true),
			AxisMove(steps.stick("LEFT-X"), MoveX, false),
			AxisMove(steps.stick("LEFT-Y"), MoveY, true),
			AxisMove(steps.stick("RIGHT-Y"), MoveZ, true),
		)

	case GamepadGeneric:
		// Numeric indices only. Most pads put the left stick on axes 0/1.
		add(HomingButton("8"), ZeroPositionButton("9"))
		add(
			AxisMove(steps.stick("0"), MoveX, false),
			AxisMove(steps.stick("1"), MoveY, true),
		)

	default:
		return nil, fmt.Errorf("%w: gamepad %q", ErrUnknownMapping, string(gamepad))
	}

	return out, nil
}

// ValidateMapping checks a mapping table against a device's name tables once at
// startup. Labels must be known names or numeric indices, and each entry must
// have exactly one complete shape.
func ValidateMapping(mapping []MappedCommand, names ControlNames) error {
	buttons := make(map[string]bool, len(names.Buttons))
	for _, n := range names.Buttons {
		buttons[n] = true
	}
	axes := make(map[string]bool, len(names.Axes))
	for _, n := range names.Axes {
		axes[n] = true
	}

	var errs []error
	for i, mc := range mapping {
		if mc.Button != "" && !knownLabel(buttons, mc.Button) {
			errs = append(errs, fmt.Errorf("entry %d: button %q: %w", i, mc.Button, ErrUnknownControl))
		}
		if mc.Axis != nil && !knownLabel(axes, mc.Axis.Label) {
			errs = append(errs, fmt.Errorf("entry %d: axis %q: %w", i, mc.Axis.Label, ErrUnknownControl))
		}
		if mc.Magnitude != nil && !knownLabel(axes, mc.Magnitude.Label) {
			errs = append(errs, fmt.Errorf("entry %d: magnitude axis %q: %w", i, mc.Magnitude.Label, ErrUnknownControl))
		}

		switch mc.Kind() {
		case InvalidMapping:
			errs = append(errs, fmt.Errorf("%w: entry %d has no complete shape (%+v)", ErrInvalidMapping, i, mc))
		case DirectionalMapping:
			if mc.Magnitude == nil {
				errs = append(errs, fmt.Errorf("%w: entry %d: directional button %q has no magnitude axis", ErrInvalidMapping, i, mc.Button))
			}
		case FixedCommandMapping:
			for _, c := range mc.Commands {
				if c.Len() == 0 {
					errs = append(errs, fmt.Errorf("%w: entry %d: %w", ErrInvalidMapping, i, ErrEmptyCommand))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func knownLabel(names map[string]bool, label string) bool {
	if names[label] {
		return true
	}
	n, err := strconv.Atoi(label)
	return err == nil && n >= 0 && n <= 255
}
