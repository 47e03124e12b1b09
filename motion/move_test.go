package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMoveClassifiesKinematicVsExtrudeOnly(t *testing.T) {
	kinematic := NewMove(MoveParams{
		StartPos:     []float64{0, 0, 0, 0},
		EndPos:       []float64{10, 0, 0, 0},
		Speed:        50,
		Accel:        3000,
		MaxVelocity:  300,
		ExtruderSlot: 3,
		AxisCount:    3,
	})
	assert.True(t, kinematic.Kinematic)
	assert.InDelta(t, 10, kinematic.MoveD, 1e-9)

	extrudeOnly := NewMove(MoveParams{
		StartPos:     []float64{0, 0, 0, 0},
		EndPos:       []float64{0, 0, 0, 5},
		Speed:        50,
		Accel:        3000,
		MaxVelocity:  300,
		ExtruderSlot: 3,
		AxisCount:    3,
	})
	assert.False(t, extrudeOnly.Kinematic)
	assert.InDelta(t, 5, extrudeOnly.MoveD, 1e-9)
}

func TestLimitSpeedOnlyTightens(t *testing.T) {
	m := NewMove(MoveParams{
		StartPos:     []float64{0, 0, 0, 0},
		EndPos:       []float64{100, 0, 0, 0},
		Speed:        200,
		Accel:        3000,
		MaxVelocity:  300,
		ExtruderSlot: 3,
		AxisCount:    3,
	})
	before := m.MaxCruiseV2

	m.LimitSpeed(500, 5000) // looser than current caps: no-op
	assert.Equal(t, before, m.MaxCruiseV2)

	m.LimitSpeed(50, 1000) // tighter: takes effect
	assert.InDelta(t, 2500, m.MaxCruiseV2, 1e-6)
	assert.Equal(t, 1000.0, m.Accel)
}

func TestSetJunctionTrapezoidIdentities(t *testing.T) {
	m := NewMove(MoveParams{
		StartPos:     []float64{0, 0, 0, 0},
		EndPos:       []float64{100, 0, 0, 0},
		Speed:        50,
		Accel:        1000,
		MaxVelocity:  300,
		ExtruderSlot: 3,
		AxisCount:    3,
	})
	m.SetJunction(0, m.MaxCruiseV2, 0)

	assert.True(t, m.Planned)
	totalD := m.AccelD + m.CruiseD + m.DecelD
	assert.InDelta(t, m.MoveD, totalD, 1e-6)
}
