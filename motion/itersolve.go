package motion

import "math"

// StepperKinematics is the opaque solver trait referenced by the core
// spec's Design Notes: a closed-form or iterative root-finder that turns
// a Trapq's position-vs-time function into integer step times for one
// stepper. The cartesian implementation below is closed-form (each
// trapezoid phase inverts algebraically); a deltabot/corexy
// implementation would instead bisect, but both share the same
// interface and the same Trapq-reading contract.
type StepperKinematics interface {
	SetPosition(pos [3]float64)
	CommandedPosition() float64
	IsActiveAxis(axis byte) bool
	// GenerateSteps scans the stepper's trapq for segments overlapping
	// [fromTime, uptoTime) and calls emit(t, dir) for every integer
	// multiple of stepDist crossed, in time order. dir is +1 or -1.
	GenerateSteps(fromTime, uptoTime PrintTime, stepDist float64, emit func(t PrintTime, dir int64)) error
}

// CartesianAxisKinematics projects a 3-axis Trapq segment onto a single
// stepper axis (x, y, or z) and inverts each trapezoid phase in closed
// form to find step crossing times. This is the "cartesian_stepper_alloc"
// analog named by the core spec's component design.
type CartesianAxisKinematics struct {
	axis         int // 0=x, 1=y, 2=z
	letter       byte
	commandedPos float64
	trapq        *Trapq
}

// NewCartesianAxisKinematics returns a solver bound to one of x/y/z.
func NewCartesianAxisKinematics(axis int, letter byte) *CartesianAxisKinematics {
	return &CartesianAxisKinematics{axis: axis, letter: letter}
}

func (k *CartesianAxisKinematics) SetPosition(pos [3]float64) { k.commandedPos = pos[k.axis] }
func (k *CartesianAxisKinematics) CommandedPosition() float64 { return k.commandedPos }
func (k *CartesianAxisKinematics) IsActiveAxis(axis byte) bool { return axis == k.letter }
func (k *CartesianAxisKinematics) SetTrapq(t *Trapq)           { k.trapq = t }

func (k *CartesianAxisKinematics) GenerateSteps(fromTime, uptoTime PrintTime, stepDist float64, emit func(t PrintTime, dir int64)) error {
	if k.trapq == nil {
		return nil
	}
	for _, seg := range k.trapq.Segments() {
		segEnd := seg.EndTime()
		if segEnd <= fromTime {
			continue
		}
		if seg.PrintTime >= uptoTime {
			break
		}
		r := seg.AxesR[k.axis]
		if r == 0 {
			continue
		}
		dtLo := math.Max(0, float64(fromTime-seg.PrintTime))
		dtHi := math.Min(float64(seg.AccelT+seg.CruiseT+seg.DecelT), float64(uptoTime-seg.PrintTime))
		if dtHi <= dtLo {
			continue
		}
		dir := int64(1)
		if r < 0 {
			dir = -1
		}

		posAt := func(dt float64) float64 {
			return seg.StartPos[k.axis] + r*segmentDistAt(seg, dt)
		}
		distLo := (posAt(dtLo) - seg.StartPos[k.axis]) / r
		distHi := (posAt(dtHi) - seg.StartPos[k.axis]) / r

		// Step forward by stepDist (in absolute axis units) from the
		// stepper's last commanded position, emitting a crossing every
		// time we cross a multiple of stepDist between distLo/distHi.
		step := stepDist
		nextTarget := math.Floor(k.commandedPos/stepDist)*stepDist + step
		if dir < 0 {
			step = -stepDist
			nextTarget = math.Ceil(k.commandedPos/stepDist)*stepDist + step
		}
		for {
			targetDist := (nextTarget - seg.StartPos[k.axis]) / r
			if dir > 0 && targetDist > distHi {
				break
			}
			if dir < 0 && targetDist < distHi {
				break
			}
			if dir > 0 && targetDist < distLo {
				nextTarget += step
				continue
			}
			if dir < 0 && targetDist > distLo {
				nextTarget += step
				continue
			}
			dt, ok := invertSegmentDist(seg, targetDist)
			if !ok {
				nextTarget += step
				continue
			}
			emit(seg.PrintTime+PrintTime(dt), dir)
			k.commandedPos = nextTarget
			nextTarget += step
		}
	}
	return nil
}

// segmentDistAt returns the scalar distance travelled along the move's
// axes_r direction at offset dt into the segment.
func segmentDistAt(s Segment, dt float64) float64 {
	if dt < 0 {
		dt = 0
	}
	switch {
	case dt < s.AccelT:
		return s.StartV*dt + 0.5*s.Accel*dt*dt
	case dt < s.AccelT+s.CruiseT:
		accelDist := s.StartV*s.AccelT + 0.5*s.Accel*s.AccelT*s.AccelT
		return accelDist + s.CruiseV*(dt-s.AccelT)
	default:
		accelDist := s.StartV*s.AccelT + 0.5*s.Accel*s.AccelT*s.AccelT
		cruiseDist := accelDist + s.CruiseV*s.CruiseT
		decelDt := dt - s.AccelT - s.CruiseT
		if decelDt > s.DecelT {
			decelDt = s.DecelT
		}
		return cruiseDist + s.CruiseV*decelDt - 0.5*s.Accel*decelDt*decelDt
	}
}

// invertSegmentDist finds dt such that segmentDistAt(s, dt) == targetDist,
// by inverting whichever trapezoid phase targetDist falls in. Returns
// ok=false if targetDist lies outside the segment's travelled range.
func invertSegmentDist(s Segment, targetDist float64) (float64, bool) {
	accelDist := s.StartV*s.AccelT + 0.5*s.Accel*s.AccelT*s.AccelT
	cruiseDist := accelDist + s.CruiseV*s.CruiseT
	totalDist := cruiseDist + s.CruiseV*s.DecelT - 0.5*s.Accel*s.DecelT*s.DecelT

	switch {
	case targetDist < 0 || targetDist > totalDist+1e-9:
		return 0, false
	case targetDist <= accelDist:
		// s.StartV*t + 0.5*accel*t^2 = targetDist
		if s.Accel == 0 {
			if s.StartV == 0 {
				return 0, targetDist == 0
			}
			return targetDist / s.StartV, true
		}
		disc := s.StartV*s.StartV + 2*s.Accel*targetDist
		if disc < 0 {
			disc = 0
		}
		t := (-s.StartV + math.Sqrt(disc)) / s.Accel
		return t, true
	case targetDist <= cruiseDist:
		if s.CruiseV == 0 {
			return s.AccelT, true
		}
		return s.AccelT + (targetDist-accelDist)/s.CruiseV, true
	default:
		// cruiseDist + cruiseV*t - 0.5*accel*t^2 = targetDist, t in [0, decelT]
		rem := targetDist - cruiseDist
		if s.Accel == 0 {
			if s.CruiseV == 0 {
				return s.AccelT + s.CruiseT, true
			}
			return s.AccelT + s.CruiseT + rem/s.CruiseV, true
		}
		disc := s.CruiseV*s.CruiseV - 2*s.Accel*rem
		if disc < 0 {
			disc = 0
		}
		t := (s.CruiseV - math.Sqrt(disc)) / s.Accel
		return s.AccelT + s.CruiseT + t, true
	}
}
