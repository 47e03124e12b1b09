package motion

import "trapcore/errs"

// RailEndstop pairs an endstop handle (opaque to motion; homing owns the
// concrete type) with the name of the stepper it is wired to, per §3's
// Rail.endstops[(endstop, stepper_name)].
type RailEndstop struct {
	Endstop  any
	Stepper  string
}

// HomingInfo carries a rail's homing parameters, read by HomingController.
type HomingInfo struct {
	Speed             float64
	SecondHomingSpeed float64
	RetractDist       float64
	RetractSpeed      float64
	PositiveDir       bool
	PositionEndstop   float64
}

// Rail is a group of steppers sharing one endstop group and homing
// parameters: the unit of axis configuration. Constructed from config by
// the caller (config package); generalized from the teacher's flat
// per-axis AxisConfig, which had no notion of multiple steppers sharing
// one logical axis.
type Rail struct {
	name string

	steppers  []*Stepper
	endstops  []RailEndstop

	positionMin     float64
	positionMax     float64
	positionEndstop float64
	homing          HomingInfo

	homed bool
}

// RailParams configures a new Rail. PositionMin/Max/Endstop must satisfy
// positionMin <= positionEndstop <= positionMax.
type RailParams struct {
	PositionMin     float64
	PositionMax     float64
	PositionEndstop float64
	Homing          HomingInfo
}

// NewRail validates the rail invariant and returns an empty Rail ready
// for AddStepper calls.
func NewRail(p RailParams) (*Rail, error) {
	if !(p.PositionMin <= p.PositionEndstop && p.PositionEndstop <= p.PositionMax) {
		return nil, errs.NewConfig("rail endstop %.3f not within [%.3f, %.3f]", p.PositionEndstop, p.PositionMin, p.PositionMax)
	}
	return &Rail{
		positionMin:     p.PositionMin,
		positionMax:     p.PositionMax,
		positionEndstop: p.PositionEndstop,
		homing:          p.Homing,
	}, nil
}

// AddStepper appends a stepper to the rail; the first stepper added
// becomes the rail's name.
func (r *Rail) AddStepper(s *Stepper) {
	r.steppers = append(r.steppers, s)
	if r.name == "" {
		r.name = s.Name
	}
}

// AddEndstop wires an endstop (opaque here; the homing package's Endstop
// type satisfies this) to stepperName.
func (r *Rail) AddEndstop(endstop any, stepperName string) {
	r.endstops = append(r.endstops, RailEndstop{Endstop: endstop, Stepper: stepperName})
}

func (r *Rail) Name() string             { return r.name }
func (r *Rail) Steppers() []*Stepper     { return r.steppers }
func (r *Rail) Endstops() []RailEndstop  { return r.endstops }
func (r *Rail) HomingInfo() HomingInfo   { return r.homing }

// GetRange returns (min, max); an unhomed rail reports (1, -1), the
// sentinel MustHomeFirst checks against.
func (r *Rail) GetRange() (float64, float64) {
	if !r.homed {
		return 1, -1
	}
	return r.positionMin, r.positionMax
}

// SetHomed marks whether this rail's range is currently trustworthy.
func (r *Rail) SetHomed(homed bool) { r.homed = homed }

// SetPosition forwards pos to every stepper on the rail.
func (r *Rail) SetPosition(pos [3]float64) {
	for _, s := range r.steppers {
		s.SetPosition(pos)
	}
}
