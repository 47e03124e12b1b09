package motion

import (
	"math"

	"trapcore/errs"
)

// Extruder is its own kinematic: a single axis with a dedicated Trapq,
// sharing the trapezoid shape of the cartesian groups but stepping
// through pressure-advance-aware kinematics instead of a plain cartesian
// solver. Generalized from the teacher's standalone, which folded
// extrusion into the single Position.E field with no independent
// trapq/junction handling at all.
type Extruder struct {
	Name string

	trapq    *Trapq
	stepper  *Stepper
	slot     int // index of this extruder's axis in move position vectors

	maxExtrudeOnlyDistance float64
	maxExtrudeOnlyVelocity float64
	maxExtrudeOnlyAccel    float64
	instantCornerV         float64
	pressureAdvance        float64

	canExtrude bool

	commandedPos float64
}

// ExtruderParams configures a new Extruder.
type ExtruderParams struct {
	Slot                   int
	MaxExtrudeOnlyDistance float64
	MaxExtrudeOnlyVelocity float64
	MaxExtrudeOnlyAccel    float64
	InstantCornerV         float64
	PressureAdvance        float64
}

// NewExtruder returns an Extruder bound to stepper, which must already
// have its Trapq set.
func NewExtruder(name string, stepper *Stepper, p ExtruderParams) *Extruder {
	return &Extruder{
		Name:                   name,
		trapq:                  NewTrapq(),
		stepper:                stepper,
		slot:                   p.Slot,
		maxExtrudeOnlyDistance: p.MaxExtrudeOnlyDistance,
		maxExtrudeOnlyVelocity: p.MaxExtrudeOnlyVelocity,
		maxExtrudeOnlyAccel:    p.MaxExtrudeOnlyAccel,
		instantCornerV:         p.InstantCornerV,
		pressureAdvance:        p.PressureAdvance,
	}
}

// Trapq returns the extruder's own, separately-finalized trapq.
func (e *Extruder) Trapq() *Trapq { return e.trapq }

// Slot returns the position-vector index assigned to this extruder. Per
// the core spec's resolved open question, this is always axis_count
// (3 for XYZ-only, 6 once ABC is enabled), never a hardcoded 3.
func (e *Extruder) Slot() int { return e.slot }

// SetCanExtrude toggles whether extrude moves are currently permitted,
// set by the (out-of-scope) heater/temperature layer via an external
// call; ExtruderColdExtrude is raised when a move extrudes while false.
func (e *Extruder) SetCanExtrude(can bool) { e.canExtrude = can }

// CheckMove validates an extrude-only move's distance/rate against the
// configured maxima, mirroring the extruder's own check_move in
// Toolhead.move for moves with no kinematic displacement.
func (e *Extruder) CheckMove(m *Move) error {
	if m.Kinematic {
		return nil
	}
	if !e.canExtrude {
		return errs.NewExtruderColdExtrude()
	}
	if e.maxExtrudeOnlyDistance > 0 && m.MoveD > e.maxExtrudeOnlyDistance {
		return errs.NewExtrudeLimit("extrude only move too long")
	}
	return nil
}

// JunctionBound implements Move.ExtruderJunction: the extruder's own
// limit on junction velocity, (instant_corner_v / |delta axes_r[slot]|)^2,
// applied only when the extrude ratio actually changes between moves.
func (e *Extruder) JunctionBound(cur, prev *Move) float64 {
	diff := cur.AxesR[e.slot] - prev.AxesR[e.slot]
	if math.Abs(diff) < 1e-9 {
		return math.Inf(1)
	}
	return (e.instantCornerV / math.Abs(diff)) * (e.instantCornerV / math.Abs(diff))
}

// Move appends the extruder's share of m to its own Trapq: a one-axis
// segment whose AxesR[0] is the sign of extrusion.
func (e *Extruder) Move(m *Move) {
	d := m.AxesD[e.slot]
	r := 1.0
	if d < 0 {
		r = -1.0
	}
	seg := Segment{
		PrintTime: 0, // caller (Toolhead) overwrites with the move's actual start print_time
		AccelT:    m.AccelT,
		CruiseT:   m.CruiseT,
		DecelT:    m.DecelT,
		StartPos:  [3]float64{e.commandedPos, 0, 0},
		AxesR:     [3]float64{r, 0, 0},
		StartV:    m.StartV,
		CruiseV:   m.CruiseV,
		Accel:     m.Accel,
	}
	e.trapq.Append(seg)
	e.commandedPos += d
}

// SetPosition teleports the extruder's commanded position.
func (e *Extruder) SetPosition(pos float64) {
	e.commandedPos = pos
	e.stepper.SetPosition([3]float64{pos, 0, 0})
}

// CommandedPosition returns the extruder's current commanded position.
func (e *Extruder) CommandedPosition() float64 { return e.commandedPos }

// Stepper returns the extruder's bound stepper.
func (e *Extruder) Stepper() *Stepper { return e.stepper }
