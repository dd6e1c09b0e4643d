package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownGamepad is returned for gamepad model names with no name table.
var ErrUnknownGamepad = errors.New("unknown gamepad model")

// GamepadModel identifies a physical gamepad layout.
type GamepadModel string

const (
	GamepadPS3     GamepadModel = "PS3"
	GamepadPS4     GamepadModel = "PS4"
	GamepadXbox360 GamepadModel = "Xbox360"
	GamepadMMP1251 GamepadModel = "MMP1251"
	GamepadGeneric GamepadModel = "Generic"
)

// GamepadModels lists every supported model in display order.
func GamepadModels() []GamepadModel {
	return []GamepadModel{GamepadPS3, GamepadPS4, GamepadXbox360, GamepadMMP1251, GamepadGeneric}
}

// ParseGamepadModel resolves a model name case-insensitively.
func ParseGamepadModel(s string) (GamepadModel, error) {
	for _, m := range GamepadModels() {
		if strings.EqualFold(string(m), s) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGamepad, s)
}

// FullName is the human readable product name.
func (m GamepadModel) FullName() string {
	switch m {
	case GamepadPS3:
		return "PlayStation 3 controller"
	case GamepadPS4:
		return "PlayStation 4 controller"
	case GamepadXbox360:
		return "Xbox 360 controller"
	case GamepadMMP1251:
		return "ModMyPi Raspberry Pi Wireless USB Gamepad"
	case GamepadGeneric:
		return "Generic (numbers only)"
	default:
		return string(m)
	}
}

// ControlNames maps raw button/axis indices to logical labels.
type ControlNames struct {
	Buttons map[uint8]string
	Axes    map[uint8]string
}

// SortedButtons returns button labels ordered by index.
func (c ControlNames) SortedButtons() []string { return sortedLabels(c.Buttons) }

// SortedAxes returns axis labels ordered by index.
func (c ControlNames) SortedAxes() []string { return sortedLabels(c.Axes) }

func sortedLabels(m map[uint8]string) []string {
	idx := make([]int, 0, len(m))
	for i := range m {
		idx = append(idx, int(i))
	}
	sort.Ints(idx)
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, m[uint8(i)])
	}
	return out
}

// NameTables returns the static name tables for a gamepad model.
// A fresh copy is returned on every call.
func NameTables(model GamepadModel) (ControlNames, error) {
	switch model {
	case GamepadPS3:
		return ControlNames{
			Axes: map[uint8]string{
				0: "LEFT-X",
				1: "LEFT-Y",
				2: "L2",
				3: "RIGHT-X",
				4: "RIGHT-Y",
				5: "R2",
			},
			Buttons: map[uint8]string{
				0:  "CROSS",
				1:  "CIRCLE",
				2:  "TRIANGLE",
				3:  "SQUARE",
				4:  "L1",
				5:  "R1",
				6:  "L2",
				7:  "R2",
				8:  "SELECT",
				9:  "START",
				10: "PS",
				11: "L3",
				12: "R3",
				13: "DPAD-UP",
				14: "DPAD-DOWN",
				15: "DPAD-LEFT",
				16: "DPAD-RIGHT",
			},
		}, nil

	case GamepadPS4:
		return ControlNames{
			Axes: map[uint8]string{
				0: "LEFT-X",
				1: "LEFT-Y",
				2: "L2",
				3: "RIGHT-X",
				4: "RIGHT-Y",
				5: "R2",
				6: "DPAD-X",
				7: "DPAD-Y",
			},
			Buttons: map[uint8]string{
				0:  "CROSS",
				1:  "CIRCLE",
				2:  "TRIANGLE",
				3:  "SQUARE",
				4:  "L1",
				5:  "R1",
				6:  "L2",
				7:  "R2",
				8:  "SHARE",
				9:  "OPTIONS",
				10: "PS",
				11: "L3",
				12: "R3",
			},
		}, nil

	case GamepadXbox360:
		return ControlNames{
			Axes: map[uint8]string{
				0: "LEFT-X",
				1: "LEFT-Y",
				2: "LT",
				3: "RIGHT-X",
				4: "RIGHT-Y",
				5: "RT",
			},
			Buttons: map[uint8]string{
				0:  "A",
				1:  "B",
				2:  "X",
				3:  "Y",
				4:  "LB",
				5:  "RB",
				6:  "BACK",
				7:  "START",
				8:  "XBOX",
				9:  "LA",
				10: "RA",
			},
		}, nil

	case GamepadMMP1251:
		return ControlNames{
			Axes: map[uint8]string{
				0: "LEFT-X",
				1: "LEFT-Y",
				2: "L2",
				3: "RIGHT-X",
				4: "RIGHT-Y",
				5: "R2",
				6: "DPAD-X",
				7: "DPAD-Y",
			},
			Buttons: map[uint8]string{
				0:  "A",
				1:  "B",
				2:  "X",
				3:  "Y",
				4:  "L1",
				5:  "R1",
				6:  "SELECT",
				7:  "START",
				8:  "HOME",
				9:  "L3",
				10: "R3",
			},
		}, nil

	case GamepadGeneric:
		return ControlNames{
			Axes:    map[uint8]string{},
			Buttons: map[uint8]string{},
		}, nil

	default:
		return ControlNames{}, fmt.Errorf("%w: %q", ErrUnknownGamepad, string(model))
	}
}
