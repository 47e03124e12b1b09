package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trapcore/events"
	"trapcore/homing"
	"trapcore/kinematics"
	"trapcore/motion"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	rail, err := motion.NewRail(motion.RailParams{PositionMin: 0, PositionMax: 200, PositionEndstop: 0})
	require.NoError(t, err)
	compress := motion.NewStepCompress(0, func(int, int64, int64) error { return nil })
	kin := motion.NewCartesianAxisKinematics(0, 'x')
	s := motion.NewStepper("x", 0.01, false, kin, compress)
	rail.AddStepper(s)
	rail.SetHomed(true)

	cart, err := kinematics.NewCartesian(kinematics.CartesianParams{
		Letters:     []string{"x"},
		MaxVelocity: 300,
		MaxAccel:    3000,
		Rails:       []*motion.Rail{rail},
	})
	require.NoError(t, err)
	s.SetTrapq(cart.Trapq())

	bus := events.New()
	toolhead := motion.NewToolhead(motion.ToolheadParams{
		Kinematics:           map[string]motion.Kinematics{"xyz": cart},
		KinematicOrder:       []string{"xyz"},
		AxisCount:            1,
		MaxVelocity:          300,
		MaxAccel:             3000,
		SquareCornerVelocity: 5,
		EstPrintTime:         func() motion.PrintTime { return 0 },
		Bus:                  bus,
	})

	homingCtl := homing.NewHomingController(toolhead, bus, func(pt motion.PrintTime) int64 { return int64(pt * 1e6) }, nil)
	rails := map[byte]RailBinding{'X': {Rail: rail}}
	return NewDispatcher(toolhead, homingCtl, rails, nil, nil)
}

// newTestDispatcherWithManualStepper is newTestDispatcher plus one
// MANUAL_STEPPER-addressable axis tacked onto the end of the position
// vector, for exercising MANUAL_STEPPER/HOME_EXTRUDER dispatch.
func newTestDispatcherWithManualStepper(t *testing.T) *Dispatcher {
	t.Helper()
	rail, err := motion.NewRail(motion.RailParams{PositionMin: 0, PositionMax: 200, PositionEndstop: 0})
	require.NoError(t, err)
	compress := motion.NewStepCompress(0, func(int, int64, int64) error { return nil })
	kin := motion.NewCartesianAxisKinematics(0, 'x')
	s := motion.NewStepper("x", 0.01, false, kin, compress)
	rail.AddStepper(s)
	rail.SetHomed(true)

	cart, err := kinematics.NewCartesian(kinematics.CartesianParams{
		Letters:     []string{"x"},
		MaxVelocity: 300,
		MaxAccel:    3000,
		Rails:       []*motion.Rail{rail},
	})
	require.NoError(t, err)
	s.SetTrapq(cart.Trapq())

	manualRail, err := motion.NewRail(motion.RailParams{PositionMin: -50, PositionMax: 50, PositionEndstop: 0})
	require.NoError(t, err)
	manualCompress := motion.NewStepCompress(1, func(int, int64, int64) error { return nil })
	manualKin := motion.NewCartesianAxisKinematics(0, 'u')
	manualStepper := motion.NewStepper("manual", 0.01, false, manualKin, manualCompress)
	manualRail.AddStepper(manualStepper)
	manualRail.SetHomed(true)

	manualGroup, err := kinematics.NewCartesian(kinematics.CartesianParams{
		Letters:     []string{"u"},
		AxisOffset:  1,
		MaxVelocity: 300,
		MaxAccel:    3000,
		Rails:       []*motion.Rail{manualRail},
	})
	require.NoError(t, err)
	manualStepper.SetTrapq(manualGroup.Trapq())

	bus := events.New()
	toolhead := motion.NewToolhead(motion.ToolheadParams{
		Kinematics:           map[string]motion.Kinematics{"xyz": cart, "manual_m": manualGroup},
		KinematicOrder:       []string{"xyz", "manual_m"},
		AxisCount:            2,
		MaxVelocity:          300,
		MaxAccel:             3000,
		SquareCornerVelocity: 5,
		EstPrintTime:         func() motion.PrintTime { return 0 },
		Bus:                  bus,
	})

	homingCtl := homing.NewHomingController(toolhead, bus, func(pt motion.PrintTime) int64 { return int64(pt * 1e6) }, nil)
	rails := map[byte]RailBinding{'X': {Rail: rail}}
	manualSteppers := map[string]ManualStepperBinding{
		"m": {Rail: manualRail, AxisIndex: 1, Velocity: 5, Accel: 500},
	}
	return NewDispatcher(toolhead, homingCtl, rails, manualSteppers, nil)
}

func TestDispatchMoveAbsolute(t *testing.T) {
	d := newTestDispatcher(t)
	p := NewParser()

	cmd, err := p.ParseLine("G1 X50 F3000")
	require.NoError(t, err)
	require.NoError(t, d.Dispatch(cmd, "G1 X50 F3000"))

	assert.InDelta(t, 50, d.toolhead.GetPosition()[0], 1e-6)
}

func TestDispatchMoveRelative(t *testing.T) {
	d := newTestDispatcher(t)
	p := NewParser()

	require.NoError(t, dispatchLine(t, d, p, "G1 X50 F3000"))
	require.NoError(t, dispatchLine(t, d, p, "G91"))
	require.NoError(t, dispatchLine(t, d, p, "G1 X10"))

	assert.InDelta(t, 60, d.toolhead.GetPosition()[0], 1e-6)
}

func TestDispatchSetPositionG92(t *testing.T) {
	d := newTestDispatcher(t)
	p := NewParser()

	require.NoError(t, dispatchLine(t, d, p, "G92 X5"))
	assert.InDelta(t, 5, d.toolhead.GetPosition()[0], 1e-6)
}

func TestDispatchSetVelocityLimit(t *testing.T) {
	d := newTestDispatcher(t)
	p := NewParser()

	require.NoError(t, dispatchLine(t, d, p, "SET_VELOCITY_LIMIT VELOCITY=250 ACCEL=2500"))

	maxVelocity, maxAccel, _, _ := d.toolhead.VelocityLimits()
	assert.InDelta(t, 250, maxVelocity, 1e-9)
	assert.InDelta(t, 2500, maxAccel, 1e-9)
}

func TestDispatchM204SetsMaxAccel(t *testing.T) {
	d := newTestDispatcher(t)
	p := NewParser()

	require.NoError(t, dispatchLine(t, d, p, "M204 S1500"))

	_, maxAccel, _, accelToDecel := d.toolhead.VelocityLimits()
	assert.InDelta(t, 1500, maxAccel, 1e-9)
	assert.LessOrEqual(t, accelToDecel, maxAccel)
}

func TestDispatchManualStepperMove(t *testing.T) {
	d := newTestDispatcherWithManualStepper(t)
	p := NewParser()

	require.NoError(t, dispatchLine(t, d, p, "MANUAL_STEPPER STEPPER=m MOVE=10 SPEED=5"))

	assert.InDelta(t, 10, d.toolhead.GetPosition()[1], 1e-6)
}

func TestDispatchManualStepperUnknownName(t *testing.T) {
	d := newTestDispatcherWithManualStepper(t)
	p := NewParser()

	cmd, err := p.ParseLine("MANUAL_STEPPER STEPPER=nope MOVE=10")
	require.NoError(t, err)
	assert.Error(t, d.Dispatch(cmd, "MANUAL_STEPPER STEPPER=nope MOVE=10"))
}

func dispatchLine(t *testing.T, d *Dispatcher, p *Parser, line string) error {
	t.Helper()
	cmd, err := p.ParseLine(line)
	require.NoError(t, err)
	return d.Dispatch(cmd, line)
}
