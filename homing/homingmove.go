package homing

import (
	"trapcore/errs"
	"trapcore/events"
	"trapcore/motion"
)

// EndstopGroup pairs one armed Endstop with the steppers that trigger
// synchronously on its contact (a Rail's steppers sharing one endstop
// group, per §4.3's "the MCU enforces this via a tri-synchronization
// object").
type EndstopGroup struct {
	Endstop  *Endstop
	Steppers []*motion.Stepper
}

// StepperPosition is a per-stepper snapshot taken at the start of a
// homing attempt: the endstop it is homing against and its MCU position
// before the move began.
type StepperPosition struct {
	Stepper     *motion.Stepper
	EndstopName string
	StartPos    int64
	HaltPos     int64
	TrigPos     int64
}

const (
	defaultSampleTime  = 0.000015
	defaultSampleCount = 4
	minRestTime        = 0.001
)

// StepperSync is the MCU-facing operations HomingMove needs to
// reconcile each stepper's step-compress stream after a homing attempt:
// resetting its clock and re-querying its authoritative MCU position.
// Satisfied by host/mcu.MCU.
type StepperSync interface {
	ResetStepClock(oid int, clock int64) error
	GetStepperPosition(oid int) (int64, error)
}

// HomingMove is the one-shot coordinator for a single homing/probing
// attempt, per §4.10.
type HomingMove struct {
	toolhead *motion.Toolhead
	bus      *events.Bus
	clockOf  func(motion.PrintTime) int64
	sync     StepperSync

	groups   []EndstopGroup
	stepPos  []*StepperPosition
	probePos bool
}

// NewHomingMove returns a HomingMove ready to Run against groups. sync
// may be nil, in which case note_homing_end's MCU reconciliation step is
// skipped (useful in tests that don't wire a real MCU link).
func NewHomingMove(toolhead *motion.Toolhead, bus *events.Bus, clockOf func(motion.PrintTime) int64, sync StepperSync, groups []EndstopGroup, probePos bool) *HomingMove {
	return &HomingMove{toolhead: toolhead, bus: bus, clockOf: clockOf, sync: sync, groups: groups, probePos: probePos}
}

// Run executes the homing/probing attempt toward movePos at speed,
// arming every endstop, driving a drip move, and computing the halt and
// trigger positions. Returns the toolhead position the caller should
// treat as the result (trigpos for probing, haltpos for homing).
func (h *HomingMove) Run(movePos []float64, speed float64, triggered bool, checkTriggered bool) ([]float64, error) {
	var movingNames []string
	for _, g := range h.groups {
		for _, s := range g.Steppers {
			movingNames = append(movingNames, s.Name)
		}
	}
	h.bus.Publish(events.HomingMoveBegin, events.HomingMovePayload{Moving: movingNames})

	kinSpos := h.toolhead.KinSpos()

	h.stepPos = nil
	for _, g := range h.groups {
		for _, s := range g.Steppers {
			h.stepPos = append(h.stepPos, &StepperPosition{
				Stepper:     s,
				EndstopName: g.Endstop.Name,
				StartPos:    s.GetMCUPosition(),
			})
		}
	}

	startPos := h.toolhead.GetPosition()
	moveD := vectorDistance(startPos, movePos)
	moveT := 0.0
	if speed > 0 {
		moveT = moveD / speed
	}

	completions := make([]*Completion, 0, len(h.groups))
	printTime := h.toolhead.PrintTime()
	for _, g := range h.groups {
		maxSteps := 1.0
		for _, s := range g.Steppers {
			if s.StepDist() <= 0 {
				continue
			}
			steps := moveD / s.StepDist()
			if steps > maxSteps {
				maxSteps = steps
			}
		}
		restTime := moveT / maxSteps
		if restTime < minRestTime {
			restTime = minRestTime
		}
		completion, err := g.Endstop.HomeStart(printTime, defaultSampleTime, defaultSampleCount, restTime, triggered)
		if err != nil {
			return nil, err
		}
		completions = append(completions, completion)
	}

	if err := h.toolhead.Dwell(motion.HomingStartDelay); err != nil {
		return nil, err
	}

	allTrigger := MultiComplete(completions, moveT+10.0)
	if err := h.toolhead.DripMove(movePos, speed, allTrigger); err != nil {
		return nil, err
	}
	moveEndPT := h.toolhead.PrintTime()

	var firstErr error
	triggerTimes := make(map[string]float64)
	for _, g := range h.groups {
		t, err := g.Endstop.HomeWait(moveEndPT)
		switch {
		case err != nil:
			if firstErr == nil {
				firstErr = err
			}
		case t > 0:
			triggerTimes[g.Endstop.Name] = t
		case t == 0 && checkTriggered:
			if firstErr == nil {
				firstErr = errs.NewEndstopNoTrigger(g.Endstop.Name)
			}
		}
	}

	if err := h.toolhead.FlushStepGeneration(); err != nil {
		return nil, err
	}
	if h.sync != nil {
		for _, sp := range h.stepPos {
			if err := sp.Stepper.NoteHomingEnd(func(oid int) error {
				return h.sync.ResetStepClock(oid, 0)
			}); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			pos, err := h.sync.GetStepperPosition(sp.Stepper.OID())
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			sp.Stepper.SyncMCUPosition(0, pos)
		}
	}
	for _, sp := range h.stepPos {
		sp.HaltPos = sp.Stepper.GetMCUPosition()
		if t, ok := triggerTimes[sp.EndstopName]; ok {
			sp.TrigPos = sp.Stepper.GetPastMCUPosition(h.clockOf(motion.PrintTime(t)))
		} else {
			sp.TrigPos = sp.HaltPos
		}
	}

	var result []float64
	if h.probePos {
		offsets := make(map[string]int64, len(h.stepPos))
		for _, sp := range h.stepPos {
			offsets[sp.Stepper.Name] = sp.TrigPos - sp.StartPos
		}
		result = h.calcToolheadPos(kinSpos, offsets)
	} else {
		haltpos := append([]float64(nil), movePos...)
		overshoot := false
		for _, sp := range h.stepPos {
			if sp.HaltPos != sp.TrigPos {
				overshoot = true
				break
			}
		}
		if overshoot {
			if err := h.toolhead.SetPosition(movePos, nil); err != nil {
				return nil, err
			}
			haltKinSpos := h.toolhead.KinSpos()
			overOffsets := make(map[string]int64, len(h.stepPos))
			for _, sp := range h.stepPos {
				overOffsets[sp.Stepper.Name] = sp.HaltPos - sp.TrigPos
			}
			haltpos = h.calcToolheadPos(haltKinSpos, overOffsets)
		}
		result = haltpos
	}

	if err := h.toolhead.SetPosition(result, nil); err != nil {
		return nil, err
	}
	h.bus.Publish(events.HomingMoveEnd, events.HomingMovePayload{Moving: movingNames})
	return result, firstErr
}

// calcToolheadPos applies offsets[name]*step_dist to kinSpos[name] for
// every stepper on every kinematic and every extruder rail, then asks
// each Kinematics to invert the result back to cartesian coordinates.
func (h *HomingMove) calcToolheadPos(kinSpos map[string]float64, offsets map[string]int64) []float64 {
	adjusted := make(map[string]float64, len(kinSpos))
	for name, pos := range kinSpos {
		adjusted[name] = pos
	}
	for name, off := range offsets {
		for _, s := range h.toolhead.Steppers() {
			if s.Name == name {
				adjusted[name] += float64(off) * s.StepDist()
			}
		}
	}

	out := make([]float64, h.toolhead.AxisCount()+1)
	for _, name := range h.toolhead.KinematicOrder() {
		k := h.toolhead.Kinematics()[name]
		vals := k.CalcPosition(adjusted)
		for i, rail := range k.Rails() {
			if len(rail.Steppers()) == 0 {
				continue
			}
			axisIdx := axisIndexOf(h.toolhead, name, i)
			if axisIdx >= 0 && axisIdx < len(out) {
				out[axisIdx] = vals[i]
			}
		}
	}
	if e := h.toolhead.ActiveExtruder(); e != nil {
		out[e.Slot()] = adjusted[e.Stepper().Name]
	}
	return out
}

// axisIndexOf maps a kinematics group's local axis index back to the
// toolhead's global position-vector index. Cartesian XYZ occupies [0,3);
// ABC, when present, occupies [3,6).
func axisIndexOf(t *motion.Toolhead, groupName string, localIdx int) int {
	offset := 0
	for _, name := range t.KinematicOrder() {
		if name == groupName {
			return offset + localIdx
		}
		offset += len(t.Kinematics()[name].AxisNames())
	}
	return -1
}

// CheckNoMovement reports the name of the first endstop among axes (or
// any, if axes is nil) whose stepper's start and trigger positions are
// identical, meaning it was already triggered before the move began.
func (h *HomingMove) CheckNoMovement(axes map[string]bool) (string, bool) {
	for _, sp := range h.stepPos {
		if axes != nil && !axes[sp.EndstopName] {
			continue
		}
		if sp.StartPos == sp.TrigPos {
			return sp.EndstopName, true
		}
	}
	return "", false
}

// TriggerMCUPos returns each stepper's trig_pos keyed by name, the
// record home_rails collects to pass along on home_rails_end.
func (h *HomingMove) TriggerMCUPos() map[string]int64 {
	out := make(map[string]int64, len(h.stepPos))
	for _, sp := range h.stepPos {
		out[sp.Stepper.Name] = sp.TrigPos
	}
	return out
}

func vectorDistance(a, b []float64) float64 {
	var sumSq float64
	for i := range a {
		if i >= len(b) {
			break
		}
		d := b[i] - a[i]
		sumSq += d * d
	}
	return sqrt(sumSq)
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 30; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}
