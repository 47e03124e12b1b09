package motion

// Segment is one planned trapezoid slice living in a Trapq: a constant
// accel / constant velocity / constant decel run starting at PrintTime
// with StartPos as of the segment's start. AxesR is the unit direction
// vector of the underlying move (3 kinematic axes for a cartesian group,
// 1 for an extruder).
type Segment struct {
	PrintTime PrintTime
	AccelT    float64
	CruiseT   float64
	DecelT    float64
	StartPos  [3]float64
	AxesR     [3]float64
	StartV    float64
	CruiseV   float64
	Accel     float64
}

// EndTime returns the PrintTime at which this segment finishes.
func (s Segment) EndTime() PrintTime {
	return s.PrintTime + PrintTime(s.AccelT+s.CruiseT+s.DecelT)
}

// Trapq is a time-ordered deque of planned segments per kinematic group
// (cartesian XYZ, ABC) or per extruder. Segments between finalizations
// are immutable; the caller guarantees append-time monotonicity.
type Trapq struct {
	segments []Segment
}

// NewTrapq returns an empty Trapq.
func NewTrapq() *Trapq {
	return &Trapq{}
}

// Append pushes seg onto the back of the deque. The caller (Toolhead's
// per-kinematic-group dispatch) guarantees seg.PrintTime is >= the last
// appended segment's start time.
func (t *Trapq) Append(seg Segment) {
	t.segments = append(t.segments, seg)
}

// SetPosition inserts a zero-duration "teleport" segment at printTime:
// start_pos = pos, zero ratios/velocities/accel. Every segment appended
// after this one interprets its own StartPos relative to this pin.
func (t *Trapq) SetPosition(printTime PrintTime, pos [3]float64) {
	t.segments = append(t.segments, Segment{
		PrintTime: printTime,
		StartPos:  pos,
	})
}

// FinalizeMoves drops every segment whose end time is <= beforeTime,
// releasing their storage. Passing +Inf purges all pending segments
// (drip-mode cancellation).
func (t *Trapq) FinalizeMoves(beforeTime PrintTime) {
	kept := t.segments[:0:0]
	for _, s := range t.segments {
		if s.EndTime() > beforeTime {
			kept = append(kept, s)
		}
	}
	t.segments = kept
}

// Segments returns the live segment slice for a step generator to scan.
// Callers must not retain it across a FinalizeMoves/Append.
func (t *Trapq) Segments() []Segment {
	return t.segments
}

// Empty reports whether the Trapq holds no pending segments, used by the
// drip-cancellation invariant (§8.10).
func (t *Trapq) Empty() bool {
	return len(t.segments) == 0
}

// PositionAt evaluates the position function for the segment containing
// printTime, used by the cartesian itersolve. Returns the last segment's
// end position if printTime is past every segment (holding still).
func (t *Trapq) PositionAt(printTime PrintTime) [3]float64 {
	if len(t.segments) == 0 {
		return [3]float64{}
	}
	for i := len(t.segments) - 1; i >= 0; i-- {
		s := t.segments[i]
		if printTime >= s.PrintTime {
			return s.positionAtOffset(float64(printTime - s.PrintTime))
		}
	}
	return t.segments[0].StartPos
}

func (s Segment) positionAtOffset(dt float64) [3]float64 {
	if dt < 0 {
		dt = 0
	}
	var dist float64
	switch {
	case dt < s.AccelT:
		dist = s.StartV*dt + 0.5*s.Accel*dt*dt
	case dt < s.AccelT+s.CruiseT:
		accelDist := s.StartV*s.AccelT + 0.5*s.Accel*s.AccelT*s.AccelT
		dist = accelDist + s.CruiseV*(dt-s.AccelT)
	default:
		accelDist := s.StartV*s.AccelT + 0.5*s.Accel*s.AccelT*s.AccelT
		cruiseDist := accelDist + s.CruiseV*s.CruiseT
		decelDt := dt - s.AccelT - s.CruiseT
		if decelDt > s.DecelT {
			decelDt = s.DecelT
		}
		dist = cruiseDist + s.CruiseV*decelDt - 0.5*s.Accel*decelDt*decelDt
	}
	return [3]float64{
		s.StartPos[0] + s.AxesR[0]*dist,
		s.StartPos[1] + s.AxesR[1]*dist,
		s.StartPos[2] + s.AxesR[2]*dist,
	}
}
