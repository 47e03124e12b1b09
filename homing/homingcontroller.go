package homing

import (
	"trapcore/errs"
	"trapcore/events"
	"trapcore/motion"
)

// HomingController is the high-level entry point G28, manual-home
// G-code, and G38 probing dispatch against: it wraps one or more
// HomingMove attempts with the retract-and-second-pass policy rails
// configure for precision homing.
type HomingController struct {
	toolhead *motion.Toolhead
	bus      *events.Bus
	clockOf  func(motion.PrintTime) int64
	sync     StepperSync
}

// NewHomingController returns a HomingController driving toolhead. sync
// may be nil (see NewHomingMove).
func NewHomingController(toolhead *motion.Toolhead, bus *events.Bus, clockOf func(motion.PrintTime) int64, sync StepperSync) *HomingController {
	return &HomingController{toolhead: toolhead, bus: bus, clockOf: clockOf, sync: sync}
}

// ManualHome runs a single HomingMove toward pos without any retract
// pass, the shape a manual jog-to-endstop command uses.
func (hc *HomingController) ManualHome(groups []EndstopGroup, pos []float64, speed float64, triggered bool, checkTriggered bool) error {
	hm := NewHomingMove(hc.toolhead, hc.bus, hc.clockOf, hc.sync, groups, false)
	_, err := hm.Run(pos, speed, triggered, checkTriggered)
	return err
}

// ProbingMove runs a HomingMove with probe_pos=true and always checks
// for a pre-triggered probe, the G38.2-style entry point.
func (hc *HomingController) ProbingMove(groups []EndstopGroup, pos []float64, speed float64, triggered bool, checkTriggered bool, probeAxes map[string]bool) ([]float64, error) {
	hm := NewHomingMove(hc.toolhead, hc.bus, hc.clockOf, hc.sync, groups, true)
	result, err := hm.Run(pos, speed, triggered, checkTriggered)
	if err != nil {
		return result, err
	}
	if _, found := hm.CheckNoMovement(probeAxes); found {
		return result, errs.NewEndstopEarlyTrigger()
	}
	return result, nil
}

// HomeRails runs the full home_rails sequence for a set of rails sharing
// one homing attempt: an initial contact move, an optional retract and
// precision second pass, and a post-home adjustment hook. axes carries
// each rail's global kinematic axis index (rails[i] moves axis axes[i]),
// since a rail's position within this call's slice says nothing about
// which axis it actually drives in the owning kinematics group.
func (hc *HomingController) HomeRails(rails []*motion.Rail, axes []int, groups []EndstopGroup, forcepos, movepos []*float64) error {
	var names []string
	for _, g := range groups {
		for _, s := range g.Steppers {
			names = append(names, s.Name)
		}
	}
	hc.bus.Publish(events.HomeRailsBegin, events.HomeRailsPayload{RailNames: names})

	cur := hc.toolhead.GetPosition()
	startpos := fillNil(forcepos, cur)
	homepos := fillNil(movepos, cur)

	homingAxes := make(map[int]bool, len(axes))
	for _, ax := range axes {
		homingAxes[ax] = true
	}

	if err := hc.toolhead.SetPosition(startpos, homingAxes); err != nil {
		return err
	}

	hi := rails[0].HomingInfo()
	hm := NewHomingMove(hc.toolhead, hc.bus, hc.clockOf, hc.sync, groups, false)
	if _, err := hm.Run(homepos, hi.Speed, true, true); err != nil {
		return err
	}

	if hi.RetractDist > 0 {
		moveD := vectorDistance(startpos, homepos)
		r := 1.0
		if moveD > 0 && hi.RetractDist/moveD < 1 {
			r = hi.RetractDist / moveD
		}
		retractPos := make([]float64, len(homepos))
		for i := range homepos {
			axesD := homepos[i] - startpos[i]
			retractPos[i] = homepos[i] - axesD*r
		}
		if err := hc.toolhead.Move(retractPos, hi.RetractSpeed); err != nil {
			return err
		}
		if err := hc.toolhead.SetPosition(startpos, homingAxes); err != nil {
			return err
		}

		hm2 := NewHomingMove(hc.toolhead, hc.bus, hc.clockOf, hc.sync, groups, false)
		if _, err := hm2.Run(homepos, hi.SecondHomingSpeed, true, true); err != nil {
			return err
		}
		if name, found := hm2.CheckNoMovement(nil); found {
			return errs.NewEndstopStillTriggered(name)
		}
		hm = hm2
	}

	for _, rail := range rails {
		rail.SetHomed(true)
	}

	hc.bus.Publish(events.HomeRailsEnd, events.HomeRailsPayload{RailNames: names, TriggerMCUPos: hm.TriggerMCUPos()})
	return nil
}

// fillNil returns a copy of vals with nil entries replaced by the
// corresponding entry of fallback.
func fillNil(vals []*float64, fallback []float64) []float64 {
	out := make([]float64, len(fallback))
	copy(out, fallback)
	for i, v := range vals {
		if i < len(out) && v != nil {
			out[i] = *v
		}
	}
	return out
}
