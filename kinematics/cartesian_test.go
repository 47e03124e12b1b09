package kinematics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trapcore/motion"
)

func newTestRail(t *testing.T, name string, min, max, endstop float64) *motion.Rail {
	t.Helper()
	rail, err := motion.NewRail(motion.RailParams{
		PositionMin:     min,
		PositionMax:     max,
		PositionEndstop: endstop,
	})
	require.NoError(t, err)
	compress := motion.NewStepCompress(0, func(int, int64, int64) error { return nil })
	kin := motion.NewCartesianAxisKinematics(0, 'x')
	rail.AddStepper(motion.NewStepper(name, 0.01, false, kin, compress))
	return rail
}

func TestNewCartesianRequiresOneRailPerLetter(t *testing.T) {
	rail := newTestRail(t, "x", 0, 200, 0)
	_, err := NewCartesian(CartesianParams{
		Letters: []string{"x", "y"},
		Rails:   []*motion.Rail{rail},
	})
	assert.Error(t, err)
}

func TestCartesianCheckMoveRejectsUnhomedRail(t *testing.T) {
	rail := newTestRail(t, "x", 0, 200, 0)
	c, err := NewCartesian(CartesianParams{
		Letters:     []string{"x"},
		MaxVelocity: 300,
		MaxAccel:    3000,
		Rails:       []*motion.Rail{rail},
	})
	require.NoError(t, err)

	m := motion.NewMove(motion.MoveParams{
		StartPos:     []float64{0, 0},
		EndPos:       []float64{100, 0},
		Speed:        50,
		Accel:        3000,
		MaxVelocity:  300,
		ExtruderSlot: 1,
		AxisCount:    1,
	})
	assert.Error(t, c.CheckMove(m))

	rail.SetHomed(true)
	assert.NoError(t, c.CheckMove(m))
}

func TestCartesianCheckMoveRejectsOutOfRange(t *testing.T) {
	rail := newTestRail(t, "x", 0, 200, 0)
	rail.SetHomed(true)
	c, err := NewCartesian(CartesianParams{
		Letters:     []string{"x"},
		MaxVelocity: 300,
		MaxAccel:    3000,
		Rails:       []*motion.Rail{rail},
	})
	require.NoError(t, err)

	m := motion.NewMove(motion.MoveParams{
		StartPos:     []float64{0, 0},
		EndPos:       []float64{500, 0},
		Speed:        50,
		Accel:        3000,
		MaxVelocity:  300,
		ExtruderSlot: 1,
		AxisCount:    1,
	})
	assert.Error(t, c.CheckMove(m))
}
