package main

import (
	"fmt"
	"strconv"
	"strings"
)

// InputReader is the query contract the synthesizer depends on. Tracker satisfies it.
type InputReader interface {
	IsPressed(control string) (bool, error)
	WasPressed(control string) (bool, error)
	AxisValue(control string) (float64, error)
}

// Relative/absolute positioning directives bracketing each move.
const (
	gcodeRelative = "G91"
	gcodeAbsolute = "G90"
)

// move accumulates the contributions to one movement axis during a tick.
type move struct {
	axis      MovementAxis
	direction int
	magnitude *MagnitudeAxis
}

// Synthesize evaluates mapping in order against in and returns the tick's commands.
//
// Rules:
//   - Must not perform I/O beyond querying in.
//   - Must not block.
//   - A pressed fixed-command button returns its commands unchanged and
//     suppresses all motion for the tick.
//
// Lookup errors abort the tick; they mean the mapping table and the device name
// tables disagree.
func Synthesize(in InputReader, mapping []MappedCommand) ([]Command, error) {
	// Moves are kept in first-touched order so the emitted G-code is stable.
	var moves []*move
	touch := func(axis MovementAxis) *move {
		for _, m := range moves {
			if m.axis == axis {
				return m
			}
		}
		m := &move{axis: axis}
		moves = append(moves, m)
		return m
	}

	for i := range mapping {
		mc := &mapping[i]

		if mc.Button != "" {
			var (
				pressed bool
				err     error
			)
			if mc.RepeatIfPressed {
				pressed, err = in.IsPressed(mc.Button)
			} else {
				pressed, err = in.WasPressed(mc.Button)
			}
			if err != nil {
				return nil, fmt.Errorf("mapping entry %d: %w", i, err)
			}

			if pressed {
				if len(mc.Commands) > 0 {
					return append([]Command(nil), mc.Commands...), nil
				}
				if mc.MovementAxis != NoMovement && mc.Direction != 0 {
					m := touch(mc.MovementAxis)
					m.direction += int(mc.Direction)
					m.magnitude = mc.Magnitude
				}
			}
		}

		if mc.Axis != nil {
			v, err := in.AxisValue(mc.Axis.Label)
			if err != nil {
				return nil, fmt.Errorf("mapping entry %d: %w", i, err)
			}
			if !mc.Axis.HasTriggered(v) {
				continue
			}
			m := touch(mc.MovementAxis)
			m.direction += sign(v) * mc.AxisDirectionMultiplier()
			m.magnitude = mc.Axis
		}
	}

	parts := make([]string, 0, len(moves))
	for _, m := range moves {
		if m.direction == 0 || m.magnitude == nil {
			continue
		}
		v, err := in.AxisValue(m.magnitude.Label)
		if err != nil {
			return nil, fmt.Errorf("magnitude for %s: %w", m.axis, err)
		}
		// The raw direction sum scales the distance, so two inputs on one axis double it.
		dist := m.magnitude.TravelDistance(v) * float64(m.direction)
		parts = append(parts, m.axis.String()+formatDistance(dist))
	}
	if len(parts) == 0 {
		return nil, nil
	}

	return []Command{
		GCode(gcodeRelative + " " + strings.Join(parts, " ")),
		GCode(gcodeAbsolute),
	}, nil
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// formatDistance renders the shortest exact decimal form ("1", "0.1", "-10").
func formatDistance(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
