package kinematics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"trapcore/errs"
	"trapcore/motion"
)

// Delta is a non-cartesian kinematics: three towers at fixed angular
// offsets drive carriages whose positions combine through an
// arm-length constraint to place the effector. Unlike Cartesian's
// closed-form identity map, a deltabot's CalcPosition has no closed
// form for the inverse (stepper-position -> cartesian) direction, so it
// iterates a Newton step on the forward kinematics' Jacobian until the
// residual converges - the "deltabot/corexy implementations are
// iterative" variant the core spec's design notes call out. There is no
// teacher source for this; the iteration shape follows the spec's
// itersolve description ("converges by guessing, evaluating, refining").
type Delta struct {
	armLength     float64
	towerAngles   [3]float64 // radians, tower i's angular position
	towerRadius   float64
	maxVelocity   float64
	maxAccel      float64

	rails []*motion.Rail
	trapq *motion.Trapq
}

// DeltaParams configures a new Delta kinematics group. Rails must be
// given in tower order.
type DeltaParams struct {
	ArmLength   float64
	TowerRadius float64
	MaxVelocity float64
	MaxAccel    float64
	Rails       []*motion.Rail
}

// NewDelta returns a ready Delta kinematics group with three towers at
// 0/120/240 degrees.
func NewDelta(p DeltaParams) (*Delta, error) {
	if len(p.Rails) != 3 {
		return nil, errs.NewConfig("delta kinematics needs exactly 3 rails, got %d", len(p.Rails))
	}
	return &Delta{
		armLength:   p.ArmLength,
		towerAngles: [3]float64{0, 2 * math.Pi / 3, 4 * math.Pi / 3},
		towerRadius: p.TowerRadius,
		maxVelocity: p.MaxVelocity,
		maxAccel:    p.MaxAccel,
		rails:       p.Rails,
		trapq:       motion.NewTrapq(),
	}, nil
}

func (d *Delta) Trapq() *motion.Trapq  { return d.trapq }
func (d *Delta) Rails() []*motion.Rail { return d.rails }
func (d *Delta) AxisNames() []string   { return []string{"x", "y", "z"} }

// towerPos returns the (x, y) position of tower i's column.
func (d *Delta) towerPos(i int) (float64, float64) {
	return d.towerRadius * math.Cos(d.towerAngles[i]), d.towerRadius * math.Sin(d.towerAngles[i])
}

// forward computes each tower's carriage height given an effector
// position, the well-defined direction for a delta (cartesian ->
// stepper), used both to drive steppers directly and as the residual
// function the inverse solve refines against.
func (d *Delta) forward(pos [3]float64) [3]float64 {
	var carriage [3]float64
	for i := 0; i < 3; i++ {
		tx, ty := d.towerPos(i)
		dx := pos[0] - tx
		dy := pos[1] - ty
		horiz2 := dx*dx + dy*dy
		vert := math.Sqrt(math.Max(d.armLength*d.armLength-horiz2, 0))
		carriage[i] = pos[2] + vert
	}
	return carriage
}

// CalcPosition inverts carriage heights back to an effector position by
// Newton iteration on the forward map's Jacobian, seeded from the
// first tower's carriage height projected straight down.
func (d *Delta) CalcPosition(kinSpos map[string]float64) []float64 {
	var carriage [3]float64
	for i, rail := range d.rails {
		if len(rail.Steppers()) == 0 {
			continue
		}
		carriage[i] = kinSpos[rail.Steppers()[0].Name]
	}

	pos := [3]float64{0, 0, carriage[0]}
	for iter := 0; iter < 20; iter++ {
		guess := d.forward(pos)
		residual := mat.NewVecDense(3, []float64{
			guess[0] - carriage[0],
			guess[1] - carriage[1],
			guess[2] - carriage[2],
		})
		if mat.Norm(residual, 2) < 1e-7 {
			break
		}
		j := d.jacobian(pos)
		var jInv mat.Dense
		if err := jInv.Inverse(j); err != nil {
			break
		}
		var delta mat.VecDense
		delta.MulVec(&jInv, residual)
		pos[0] -= delta.AtVec(0)
		pos[1] -= delta.AtVec(1)
		pos[2] -= delta.AtVec(2)
	}
	return []float64{pos[0], pos[1], pos[2]}
}

// jacobian numerically differentiates forward() around pos.
func (d *Delta) jacobian(pos [3]float64) *mat.Dense {
	const h = 1e-5
	j := mat.NewDense(3, 3, nil)
	base := d.forward(pos)
	for axis := 0; axis < 3; axis++ {
		perturbed := pos
		perturbed[axis] += h
		fwd := d.forward(perturbed)
		for row := 0; row < 3; row++ {
			j.Set(row, axis, (fwd[row]-base[row])/h)
		}
	}
	return j
}

// CheckMove verifies the move's effector endpoint stays within each
// tower's carriage travel range.
func (d *Delta) CheckMove(m *motion.Move) error {
	if !m.Kinematic {
		return nil
	}
	var end [3]float64
	copy(end[:], m.EndPos)
	carriage := d.forward(end)
	for i, rail := range d.rails {
		lo, hi := rail.GetRange()
		if lo > hi {
			return errs.NewMustHomeFirst(d.AxisNames()[i])
		}
		if carriage[i] < lo || carriage[i] > hi {
			var pos [4]float64
			copy(pos[:], m.EndPos)
			return errs.NewMoveOutOfRange(pos)
		}
	}
	return nil
}

// SetPosition computes each tower's carriage height for pos and forwards
// it to the corresponding rail.
func (d *Delta) SetPosition(pos []float64, homingAxes map[int]bool) {
	var pos3 [3]float64
	copy(pos3[:], pos)
	carriage := d.forward(pos3)
	for i, rail := range d.rails {
		rail.SetPosition([3]float64{carriage[i], 0, 0})
		if homingAxes[i] {
			rail.SetHomed(true)
		}
	}
}
