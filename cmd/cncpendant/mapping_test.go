package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagnitudeAxis_Defaults(t *testing.T) {
	m := NewMagnitudeAxis("R2")
	assert.Equal(t, 0.1, m.SlowStep)
	assert.Equal(t, 1.0, m.MidStep)
	assert.Equal(t, 10.0, m.FastStep)
	assert.Equal(t, 0.0, m.SlowBelow)
	assert.Equal(t, 0.8, m.FastAbove)
	assert.True(t, math.IsInf(m.TriggerAbove, -1))
	assert.False(t, m.UseAbsoluteInput)
}

func TestMagnitudeAxis_HasTriggered(t *testing.T) {
	always := NewMagnitudeAxis("a")
	for _, v := range []float64{-1, -0.5, 0, 0.5, 1} {
		assert.True(t, always.HasTriggered(v), "default threshold triggers for %v", v)
	}

	m := NewMagnitudeAxis("a")
	m.TriggerAbove = 0.1
	m.UseAbsoluteInput = true

	tests := []struct {
		name string
		in   float64
		want bool
	}{
		{name: "above", in: 0.5, want: true},
		{name: "negative folded", in: -0.5, want: true},
		{name: "below", in: 0.05, want: false},
		{name: "at threshold", in: 0.1, want: false},
		{name: "zero", in: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.HasTriggered(tt.in))
		})
	}

	signed := NewMagnitudeAxis("a")
	signed.TriggerAbove = 0.1
	assert.False(t, signed.HasTriggered(-0.5), "no folding without absolute input")

	zero := NewMagnitudeAxis("a")
	zero.TriggerAbove = 0
	assert.False(t, zero.HasTriggered(0))
	assert.True(t, zero.HasTriggered(0.001))
}

func TestMagnitudeAxis_TravelDistance(t *testing.T) {
	m := NewMagnitudeAxis("LEFT-X")
	m.SlowBelow = 0.4
	m.FastAbove = 0.8
	m.UseAbsoluteInput = true

	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "slow", in: 0.2, want: 0.1},
		{name: "slow boundary is mid", in: 0.4, want: 1},
		{name: "mid", in: 0.5, want: 1},
		{name: "fast boundary is mid", in: 0.8, want: 1},
		{name: "fast", in: 0.9, want: 10},
		{name: "negative folded", in: -0.95, want: 10},
		{name: "zero", in: 0, want: 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.TravelDistance(tt.in))
		})
	}
}

func TestMagnitudeAxis_TravelDistanceIsOneOfThreeSteps(t *testing.T) {
	m := NewMagnitudeAxis("x")
	m.SlowBelow = -0.3
	m.FastAbove = 0.6
	for v := -1.0; v <= 1.0; v += 0.01 {
		d := m.TravelDistance(v)
		assert.Contains(t, []float64{m.SlowStep, m.MidStep, m.FastStep}, d)
		assert.Equal(t, d, m.TravelDistance(v), "pure in v")
	}
}

func TestMappedCommand_Kind(t *testing.T) {
	pair := DirectionalButtonPair("DPAD-RIGHT", "DPAD-LEFT", MoveX, NewMagnitudeAxis("R2"))

	tests := []struct {
		name string
		mc   MappedCommand
		want MappedKind
	}{
		{name: "homing", mc: HomingButton("PS"), want: FixedCommandMapping},
		{name: "zero", mc: ZeroPositionButton("START"), want: FixedCommandMapping},
		{name: "directional", mc: pair[0], want: DirectionalMapping},
		{name: "axis", mc: AxisMove(NewMagnitudeAxis("LEFT-X"), MoveX, false), want: AxisMoveMapping},
		{name: "empty", mc: MappedCommand{}, want: InvalidMapping},
		{name: "button without effect", mc: MappedCommand{Button: "A"}, want: InvalidMapping},
		{name: "axis without movement", mc: MappedCommand{Axis: &MagnitudeAxis{Label: "x"}}, want: InvalidMapping},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.mc.Kind())
		})
	}
}

func TestMappedCommand_AxisDirectionMultiplier(t *testing.T) {
	assert.Equal(t, 1, AxisMove(NewMagnitudeAxis("a"), MoveX, false).AxisDirectionMultiplier())
	assert.Equal(t, -1, AxisMove(NewMagnitudeAxis("a"), MoveX, true).AxisDirectionMultiplier())
}

func TestFactories(t *testing.T) {
	assert.Equal(t, []Command{NewCommand("homing")}, HomingButton("PS").Commands)
	assert.Equal(t, []Command{
		NewCommand("gcode", "G90 G0 X0 Y0"),
		NewCommand("gcode", "G90 G0 Z0"),
	}, ZeroPositionButton("START").Commands)
	assert.Equal(t, []Command{NewCommand("gcode", "G10 L20 P1 X0 Y0 Z0")}, SetOriginButton("SELECT").Commands)
	assert.Equal(t, []Command{NewCommand("macro:run", "abc-123")}, MacroButton("TRIANGLE", "abc-123").Commands)
	assert.False(t, HomingButton("PS").RepeatIfPressed, "one-shot commands are edge triggered")

	mag := NewMagnitudeAxis("R2")
	pair := DirectionalButtonPair("R1", "L1", MoveZ, mag)
	assert.Equal(t, Positive, pair[0].Direction)
	assert.Equal(t, Negative, pair[1].Direction)
	assert.True(t, pair[0].RepeatIfPressed)
	assert.Equal(t, "R2", pair[0].Magnitude.Label)
	assert.NotSame(t, pair[0].Magnitude, pair[1].Magnitude)

	mag.SlowStep = 99
	assert.Equal(t, 0.1, pair[0].Magnitude.SlowStep, "factories copy the magnitude profile")
}

func TestParseMovementAxisAndDirection(t *testing.T) {
	a, err := ParseMovementAxis("z")
	require.NoError(t, err)
	assert.Equal(t, MoveZ, a)
	_, err = ParseMovementAxis("W")
	assert.Error(t, err)

	d, err := ParseDirection("negative")
	require.NoError(t, err)
	assert.Equal(t, Negative, d)
	d, err = ParseDirection("+")
	require.NoError(t, err)
	assert.Equal(t, Positive, d)
	_, err = ParseDirection("up")
	assert.Error(t, err)
}

func TestCommand(t *testing.T) {
	args := []string{"gcode", "G90"}
	c := NewCommand(args...)
	args[1] = "mutated"
	assert.Equal(t, []string{"gcode", "G90"}, c.Arguments(), "constructor copies")

	out := c.Arguments()
	out[0] = "mutated"
	assert.Equal(t, "gcode", c.Kind(), "accessor copies")

	assert.True(t, c.Equal(GCode("G90")))
	assert.Equal(t, `("gcode", "G90")`, c.String())

	data, err := c.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["gcode","G90"]`, string(data))

	var back Command
	require.NoError(t, back.UnmarshalJSON([]byte(`["homing"]`)))
	assert.True(t, back.Equal(Homing()))
	assert.ErrorIs(t, back.UnmarshalJSON([]byte(`[]`)), ErrEmptyCommand)
}
