package kinematics

import (
	"trapcore/errs"
	"trapcore/motion"
)

// Cartesian is the canonical kinematics: an identity mapping between
// stepper position and cartesian coordinate, used for both the XYZ group
// and (when enabled) the ABC group, which is identical code over a
// different axis-id slice per the core spec's §4.5.
type Cartesian struct {
	letters     []string // e.g. ["x","y","z"] or ["a","b","c"]
	axisOffset  int       // index of this group's first axis in the toolhead position vector
	maxVelocity float64
	maxAccel    float64

	rails []*motion.Rail
	trapq *motion.Trapq

	// perAxisMaxVelocity/perAxisMaxAccel optionally clamp an individual
	// axis tighter than the group default (e.g. a slower Z).
	perAxisMaxVelocity []float64
	perAxisMaxAccel    []float64
}

// CartesianParams configures a new Cartesian kinematics group.
type CartesianParams struct {
	Letters            []string
	AxisOffset         int
	MaxVelocity        float64
	MaxAccel           float64
	Rails              []*motion.Rail
	PerAxisMaxVelocity []float64 // optional, same length as Letters
	PerAxisMaxAccel    []float64
}

// NewCartesian validates that one rail exists per letter and returns a
// ready Cartesian kinematics group with its own Trapq.
func NewCartesian(p CartesianParams) (*Cartesian, error) {
	if len(p.Rails) != len(p.Letters) {
		return nil, errs.NewConfig("cartesian kinematics needs one rail per axis (%d letters, %d rails)", len(p.Letters), len(p.Rails))
	}
	return &Cartesian{
		letters:            p.Letters,
		axisOffset:          p.AxisOffset,
		maxVelocity:         p.MaxVelocity,
		maxAccel:            p.MaxAccel,
		rails:               p.Rails,
		trapq:               motion.NewTrapq(),
		perAxisMaxVelocity:  p.PerAxisMaxVelocity,
		perAxisMaxAccel:     p.PerAxisMaxAccel,
	}, nil
}

func (c *Cartesian) Trapq() *motion.Trapq      { return c.trapq }
func (c *Cartesian) Rails() []*motion.Rail     { return c.rails }
func (c *Cartesian) AxisNames() []string       { return c.letters }

// CheckMove verifies each axis's end position lies within the owning
// rail's [min,max] (raising MustHomeFirst if the rail reports the
// unhomed sentinel range) and applies any configured per-axis
// velocity/accel clamp (e.g. a slower Z).
func (c *Cartesian) CheckMove(m *motion.Move) error {
	if !m.Kinematic {
		return nil
	}
	for i, rail := range c.rails {
		axis := c.axisOffset + i
		lo, hi := rail.GetRange()
		if lo > hi {
			return errs.NewMustHomeFirst(c.letters[i])
		}
		end := m.EndPos[axis]
		if end < lo || end > hi {
			var pos [4]float64
			copy(pos[:], m.EndPos)
			return errs.NewMoveOutOfRange(pos)
		}
		if c.perAxisMaxVelocity != nil && i < len(c.perAxisMaxVelocity) && c.perAxisMaxVelocity[i] > 0 {
			if m.AxesR[axis] != 0 {
				m.LimitSpeed(c.perAxisMaxVelocity[i]/absf(m.AxesR[axis]), c.maxAccel)
			}
		}
		if c.perAxisMaxAccel != nil && i < len(c.perAxisMaxAccel) && c.perAxisMaxAccel[i] > 0 {
			if m.AxesR[axis] != 0 {
				m.LimitSpeed(c.maxVelocity, c.perAxisMaxAccel[i]/absf(m.AxesR[axis]))
			}
		}
	}
	return nil
}

// SetPosition forwards to every rail; for each axis id present in
// homingAxes, also marks that rail's range as trustworthy.
func (c *Cartesian) SetPosition(pos []float64, homingAxes map[int]bool) {
	var pos3 [3]float64
	for i := range c.letters {
		axis := c.axisOffset + i
		copy(pos3[:], pos[axis:])
		c.rails[i].SetPosition(pos3)
		if homingAxes[axis] {
			c.rails[i].SetHomed(true)
		}
	}
}

// CalcPosition is the identity map for cartesian: each axis's cartesian
// coordinate equals its own stepper's commanded position.
func (c *Cartesian) CalcPosition(kinSpos map[string]float64) []float64 {
	out := make([]float64, len(c.letters))
	for i, rail := range c.rails {
		if len(rail.Steppers()) == 0 {
			continue
		}
		name := rail.Steppers()[0].Name
		out[i] = kinSpos[name]
	}
	return out
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
