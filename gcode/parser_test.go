package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineBasicMove(t *testing.T) {
	p := NewParser()
	cmd, err := p.ParseLine("G1 X10.5 Y-2 F3000")
	require.NoError(t, err)
	require.NotNil(t, cmd)

	assert.Equal(t, byte('G'), cmd.Type)
	assert.Equal(t, 1, cmd.Number)
	assert.True(t, cmd.HasParameter('X'))
	assert.InDelta(t, 10.5, cmd.GetParameter('X', 0), 1e-9)
	assert.InDelta(t, -2, cmd.GetParameter('Y', 0), 1e-9)
	assert.InDelta(t, 3000, cmd.GetParameter('F', 0), 1e-9)
	assert.False(t, cmd.HasParameter('Z'))
}

func TestParseLineBlankReturnsNil(t *testing.T) {
	p := NewParser()
	cmd, err := p.ParseLine("")
	require.NoError(t, err)
	assert.Nil(t, cmd)
}

func TestParseLineComment(t *testing.T) {
	p := NewParser()
	cmd, err := p.ParseLine("; just a comment")
	require.NoError(t, err)
	require.NotNil(t, cmd)
	assert.NotEmpty(t, cmd.Comment)
}

func TestParseLineNamedCommand(t *testing.T) {
	p := NewParser()
	cmd, err := p.ParseLine("SET_VELOCITY_LIMIT VELOCITY=250 ACCEL=2500")
	require.NoError(t, err)
	require.NotNil(t, cmd)

	assert.Equal(t, "SET_VELOCITY_LIMIT", cmd.Name)
	v, ok := cmd.WordFloat("VELOCITY")
	require.True(t, ok)
	assert.InDelta(t, 250, v, 1e-9)
	a, ok := cmd.WordFloat("ACCEL")
	require.True(t, ok)
	assert.InDelta(t, 2500, a, 1e-9)
	assert.False(t, cmd.HasWord("SQUARE_CORNER_VELOCITY"))
}

func TestParseLineNamedCommandWithStringWord(t *testing.T) {
	p := NewParser()
	cmd, err := p.ParseLine("MANUAL_STEPPER STEPPER=extra_z MOVE=10 SPEED=5 STOP_ON_ENDSTOP=1")
	require.NoError(t, err)
	require.NotNil(t, cmd)

	assert.Equal(t, "MANUAL_STEPPER", cmd.Name)
	assert.Equal(t, "extra_z", cmd.WordString("STEPPER", ""))
	move, ok := cmd.WordFloat("MOVE")
	require.True(t, ok)
	assert.InDelta(t, 10, move, 1e-9)
	stop, ok := cmd.WordInt("STOP_ON_ENDSTOP")
	require.True(t, ok)
	assert.Equal(t, 1, stop)
}
