package kinematics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trapcore/motion"
)

func newDeltaRail(t *testing.T, name string) *motion.Rail {
	t.Helper()
	rail, err := motion.NewRail(motion.RailParams{
		PositionMin:     0,
		PositionMax:     400,
		PositionEndstop: 400,
	})
	require.NoError(t, err)
	compress := motion.NewStepCompress(0, func(int, int64, int64) error { return nil })
	kin := motion.NewCartesianAxisKinematics(0, 'x')
	rail.AddStepper(motion.NewStepper(name, 0.01, false, kin, compress))
	return rail
}

func TestDeltaCalcPositionInvertsForward(t *testing.T) {
	rails := []*motion.Rail{
		newDeltaRail(t, "tower0"),
		newDeltaRail(t, "tower1"),
		newDeltaRail(t, "tower2"),
	}
	d, err := NewDelta(DeltaParams{
		ArmLength:   250,
		TowerRadius: 150,
		MaxVelocity: 300,
		MaxAccel:    3000,
		Rails:       rails,
	})
	require.NoError(t, err)

	want := [3]float64{10, -5, 120}
	carriage := d.forward(want)

	kinSpos := map[string]float64{
		"tower0": carriage[0],
		"tower1": carriage[1],
		"tower2": carriage[2],
	}
	got := d.CalcPosition(kinSpos)
	require.Len(t, got, 3)
	assert.InDelta(t, want[0], got[0], 1e-4)
	assert.InDelta(t, want[1], got[1], 1e-4)
	assert.InDelta(t, want[2], got[2], 1e-4)
}

func TestNewDeltaRequiresThreeRails(t *testing.T) {
	rails := []*motion.Rail{newDeltaRail(t, "tower0"), newDeltaRail(t, "tower1")}
	_, err := NewDelta(DeltaParams{ArmLength: 250, TowerRadius: 150, Rails: rails})
	assert.Error(t, err)
}
