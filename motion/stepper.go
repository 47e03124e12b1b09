package motion

import "math"

// Stepper is the logical stepper named by the core spec's data model:
// direction, step distance, commanded position, the offset reconciling
// that commanded position with the MCU's integer step count, and the
// StepCompress queue and kinematic solver it binds together. Generalized
// from the teacher's standalone/stepgen.Stepper, which drove a pin
// directly off a constant-velocity timer instead of a trapq-fed solver.
type Stepper struct {
	Name string

	stepDist   float64
	invertDir  bool
	kinematics StepperKinematics
	compress   *StepCompress
	trapq      *Trapq

	// mcuPositionOffset reconciles the solver's floating-point
	// commanded position with the integer MCU step count, exactly as
	// klippy's MCU_stepper._mcu_position_offset does: set whenever
	// SetPosition or SyncMCUPosition run.
	mcuPositionOffset float64

	activeCallbacks []func(atTime PrintTime)
}

// NewStepper returns a Stepper bound to a solver and step-compress
// queue. stepDist is the physical distance (mm, or radians for a
// rotational axis) of one MCU step.
func NewStepper(name string, stepDist float64, invertDir bool, kin StepperKinematics, compress *StepCompress) *Stepper {
	return &Stepper{
		Name:       name,
		stepDist:   stepDist,
		invertDir:  invertDir,
		kinematics: kin,
		compress:   compress,
	}
}

// SetTrapq binds the (non-owning) Trapq this stepper's solver reads.
func (s *Stepper) SetTrapq(t *Trapq) {
	s.trapq = t
	if sk, ok := s.kinematics.(interface{ SetTrapq(*Trapq) }); ok {
		sk.SetTrapq(t)
	}
}

// Trapq returns the non-owning Trapq reference.
func (s *Stepper) Trapq() *Trapq { return s.trapq }

// SetPosition writes the solver's commanded position to pos and adjusts
// mcuPositionOffset so the MCU-visible step count is preserved.
func (s *Stepper) SetPosition(pos [3]float64) {
	mcuPos := s.mcuPosition()
	s.kinematics.SetPosition(pos)
	s.syncOffset(mcuPos)
}

// CommandedPosition reads the solver's current commanded position.
func (s *Stepper) CommandedPosition() float64 {
	return s.kinematics.CommandedPosition()
}

// mcuPosition is the internal float64 form of get_mcu_position before
// rounding, shared by GetMCUPosition and the offset-preserving SetPosition.
func (s *Stepper) mcuPosition() int64 {
	dist := s.CommandedPosition() + s.mcuPositionOffset
	raw := dist / s.stepDist
	if raw >= 0 {
		return int64(raw + 0.5)
	}
	return int64(raw - 0.5)
}

// GetMCUPosition returns the integer MCU step count, via
// (commanded+offset)/step_dist rounded half-away-from-zero.
func (s *Stepper) GetMCUPosition() int64 {
	return s.mcuPosition()
}

func (s *Stepper) syncOffset(mcuPos int64) {
	mcuPosDist := float64(mcuPos) * s.stepDist
	s.mcuPositionOffset = mcuPosDist - s.CommandedPosition()
}

// GetPastMCUPosition searches the step-compress history for the
// stepper's MCU position at the given clock.
func (s *Stepper) GetPastMCUPosition(clock int64) int64 {
	return s.compress.FindPastPosition(clock)
}

// SyncMCUPosition reconciles this stepper's offset against a freshly
// queried MCU position (a stepper_get_position response), after
// note_homing_end resets the step-compress stream.
func (s *Stepper) SyncMCUPosition(clock int64, lastPos int64) {
	if s.invertDir {
		lastPos = -lastPos
	}
	s.compress.SetLastPosition(clock, lastPos)
	s.syncOffset(lastPos)
}

// NoteHomingEnd resets the step-compress stream to clock 0 and emits a
// reset_step_clock via resetFn, mirroring MCU_stepper.note_homing_end.
func (s *Stepper) NoteHomingEnd(resetFn func(oid int) error) error {
	s.compress.Reset(0)
	return resetFn(s.compress.OID())
}

// GenerateSteps drives the solver to produce step events on this
// stepper's trapq up to flushTime, queueing each via StepCompress. It
// also fires any registered active-axis callbacks first, matching
// MCU_stepper.generate_steps's ordering.
func (s *Stepper) GenerateSteps(fromTime, flushTime PrintTime, clockOf func(PrintTime) int64) error {
	if len(s.activeCallbacks) > 0 && s.trapq != nil {
		if segs := s.trapq.Segments(); len(segs) > 0 {
			cbs := s.activeCallbacks
			s.activeCallbacks = nil
			for _, cb := range cbs {
				cb(flushTime)
			}
		}
	}

	var lastDir int64 = math.MaxInt64
	var firstErr error
	err := s.kinematics.GenerateSteps(fromTime, flushTime, s.stepDist, func(t PrintTime, dir int64) {
		if dir != lastDir {
			s.compress.SetDirection(dir)
			lastDir = dir
		}
		if appendErr := s.compress.Append(clockOf(t)); appendErr != nil && firstErr == nil {
			firstErr = appendErr
		}
	})
	if err != nil {
		return err
	}
	return firstErr
}

// AddActiveCallback registers cb to be invoked (once) the next time this
// stepper's generator observes trapq activity.
func (s *Stepper) AddActiveCallback(cb func(atTime PrintTime)) {
	s.activeCallbacks = append(s.activeCallbacks, cb)
}

// IsActiveAxis reports whether this stepper's solver drives axis.
func (s *Stepper) IsActiveAxis(axis byte) bool {
	return s.kinematics.IsActiveAxis(axis)
}

// StepDist returns the physical distance of one MCU step.
func (s *Stepper) StepDist() float64 { return s.stepDist }

// OID returns the MCU object-id of this stepper's step-compress queue.
func (s *Stepper) OID() int { return s.compress.OID() }

// Flush transmits this stepper's queued step clocks up to uptoClock to
// its bound MCU link, the per-stepper half of ToolheadParams.FlushMCU.
func (s *Stepper) Flush(uptoClock int64) error { return s.compress.Flush(uptoClock) }
