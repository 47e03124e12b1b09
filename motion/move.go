package motion

import (
	"math"

	"github.com/google/uuid"
)

// unbounded stands in for "acceleration effectively unbounded" on
// extrude-only moves; large enough that no real axis accel or speed will
// ever compare against it, small enough to stay inside float64 precision
// for the derived v2 products.
const unbounded = 1e12

// Move is an immutable description of one commanded motion, with a set of
// trapezoid fields filled in later by the look-ahead planner. Everything
// computed at construction time never changes again; SetJunction is the
// only method that mutates planned fields, and it is only ever called
// once per move by MoveQueue.flush.
type Move struct {
	ID uuid.UUID

	StartPos []float64 // length axisCount+1 (extruder slot included)
	EndPos   []float64
	AxesD    []float64
	AxesR    []float64

	ExtruderSlot int
	AxisCount    int // kinematic axes counted into MoveD (extruder excluded)
	Kinematic    bool

	Accel             float64
	JunctionDeviation float64

	MoveD         float64
	MaxCruiseV2   float64
	DeltaV2       float64
	SmoothDeltaV2 float64
	MinMoveT      float64

	MaxStartV2    float64
	MaxSmoothedV2 float64

	// Planned fields, assigned by SetJunction.
	StartV, CruiseV, EndV          float64
	AccelD, CruiseD, DecelD        float64
	AccelT, CruiseT, DecelT        float64
	Planned                        bool

	// TimingCallbacks are invoked with the PrintTime the move ends at,
	// once the move has actually been processed by the Toolhead.
	TimingCallbacks []func(PrintTime)

	// ExtruderJunction, if set, supplies the extruder's own junction
	// bound against the previous move: (instant_corner_v / |delta
	// extruder axes_r|)^2. Wired by Toolhead at move construction so
	// Move never needs a back-reference to the Extruder; takes (cur,
	// prev) rather than capturing cur by closure since cur does not
	// exist yet at the point MoveParams is built.
	ExtruderJunction func(cur, prev *Move) float64
}

// MoveParams is everything needed to construct a Move without the
// resulting type holding a pointer back to its owner.
type MoveParams struct {
	StartPos          []float64
	EndPos            []float64
	Speed             float64
	Accel             float64
	MaxAccelToDecel   float64
	MaxVelocity       float64
	JunctionDeviation float64
	ExtruderSlot      int
	AxisCount         int
	ExtruderJunction  func(cur, prev *Move) float64
}

// NewMove constructs a Move, classifying it extrude-only when its
// kinematic displacement is negligible (§3: move_d < 1e-9).
func NewMove(p MoveParams) *Move {
	n := len(p.StartPos)
	axesD := make([]float64, n)
	for i := range axesD {
		axesD[i] = p.EndPos[i] - p.StartPos[i]
	}

	var sumSq float64
	for i := 0; i < p.AxisCount; i++ {
		sumSq += axesD[i] * axesD[i]
	}
	moveD := math.Sqrt(sumSq)

	kinematic := true
	accel := p.Accel
	if moveD < 1e-9 {
		kinematic = false
		moveD = math.Abs(axesD[p.ExtruderSlot])
		accel = unbounded
	}

	axesR := make([]float64, n)
	if moveD > 0 {
		for i := range axesR {
			axesR[i] = axesD[i] / moveD
		}
	}

	speed := p.Speed
	if speed <= 0 || speed > p.MaxVelocity {
		speed = p.MaxVelocity
	}
	maxCruiseV2 := speed * speed

	m := &Move{
		ID:                uuid.New(),
		StartPos:          append([]float64(nil), p.StartPos...),
		EndPos:            append([]float64(nil), p.EndPos...),
		AxesD:             axesD,
		AxesR:             axesR,
		ExtruderSlot:      p.ExtruderSlot,
		AxisCount:         p.AxisCount,
		Kinematic:         kinematic,
		Accel:             accel,
		JunctionDeviation: p.JunctionDeviation,
		MoveD:             moveD,
		MaxCruiseV2:       maxCruiseV2,
		DeltaV2:           2.0 * moveD * accel,
		SmoothDeltaV2:     2.0 * moveD * p.MaxAccelToDecel,
		ExtruderJunction:  p.ExtruderJunction,
	}
	if moveD > 0 && speed > 0 {
		m.MinMoveT = moveD / speed
	}
	// A move with no predecessor starts from rest; CalcJunction raises
	// these against the previous move when there is one.
	m.MaxStartV2 = 0
	m.MaxSmoothedV2 = 0
	return m
}

// LimitSpeed monotonically tightens the move's speed/accel caps. Safe to
// call multiple times before planning (e.g. from kinematics clamping Z,
// then again from SET_VELOCITY_LIMIT handling).
func (m *Move) LimitSpeed(speed, accel float64) {
	speed2 := speed * speed
	if speed2 < m.MaxCruiseV2 {
		m.MaxCruiseV2 = speed2
		if m.MoveD > 0 && speed > 0 {
			m.MinMoveT = m.MoveD / speed
		}
	}
	if accel < m.Accel {
		m.Accel = accel
	}
	m.DeltaV2 = 2.0 * m.MoveD * m.Accel
	if m.DeltaV2 < m.SmoothDeltaV2 {
		m.SmoothDeltaV2 = m.DeltaV2
	}
}

// CalcJunction computes max_start_v2/max_smoothed_v2 against prev, the
// minimum of: the junction-deviation bound for each move's own accel, the
// centripetal bound from both moves' half-lengths, both moves' cruise
// caps, reachability from prev's own start/delta, and the extruder's own
// junction bound if the extruder ratio changes. Near-collinear junctions
// (cos theta > 0.999999) skip only the geometric terms.
func (m *Move) CalcJunction(prev *Move) {
	if !m.Kinematic || !prev.Kinematic {
		m.MaxStartV2 = 0
		m.MaxSmoothedV2 = 0
		return
	}

	var dot float64
	for i := 0; i < m.AxisCount; i++ {
		dot += m.AxesR[i] * prev.AxesR[i]
	}
	cosTheta := -dot

	rJDSelf := math.Inf(1)
	rJDPrev := math.Inf(1)
	moveCentripetal := math.Inf(1)
	prevCentripetal := math.Inf(1)

	if cosTheta <= 0.999999 {
		if cosTheta < -0.999999 {
			cosTheta = -0.999999
		}
		sinThetaD2 := math.Sqrt(0.5 * (1.0 - cosTheta))
		rJD := sinThetaD2 / (1.0 - sinThetaD2)
		tanThetaD2 := sinThetaD2 / math.Sqrt(0.5*(1.0+cosTheta))

		rJDSelf = rJD * m.JunctionDeviation * m.Accel
		rJDPrev = rJD * prev.JunctionDeviation * prev.Accel
		moveCentripetal = 0.5 * m.MoveD * tanThetaD2 * m.Accel
		prevCentripetal = 0.5 * prev.MoveD * tanThetaD2 * prev.Accel
	}

	extruderV2 := math.Inf(1)
	if m.ExtruderJunction != nil {
		extruderV2 = m.ExtruderJunction(m, prev)
	}

	maxStartV2 := math.Min(rJDSelf, rJDPrev)
	maxStartV2 = math.Min(maxStartV2, moveCentripetal)
	maxStartV2 = math.Min(maxStartV2, prevCentripetal)
	maxStartV2 = math.Min(maxStartV2, extruderV2)
	maxStartV2 = math.Min(maxStartV2, m.MaxCruiseV2)
	maxStartV2 = math.Min(maxStartV2, prev.MaxCruiseV2)
	maxStartV2 = math.Min(maxStartV2, prev.MaxStartV2+prev.DeltaV2)

	m.MaxStartV2 = maxStartV2
	m.MaxSmoothedV2 = math.Min(maxStartV2, prev.MaxSmoothedV2+prev.SmoothDeltaV2)
}

// SetJunction assigns the trapezoid's accel/cruise/decel distances and
// durations from the planned start/cruise/end velocities-squared,
// satisfying the standard trapezoid identities.
func (m *Move) SetJunction(startV2, cruiseV2, endV2 float64) {
	m.StartV = math.Sqrt(startV2)
	m.CruiseV = math.Sqrt(cruiseV2)
	m.EndV = math.Sqrt(endV2)

	halfInvAccel := 0.0
	if m.Accel > 0 {
		halfInvAccel = 0.5 / m.Accel
	}
	m.AccelD = (cruiseV2 - startV2) * halfInvAccel
	m.DecelD = (cruiseV2 - endV2) * halfInvAccel
	m.CruiseD = m.MoveD - m.AccelD - m.DecelD
	if m.CruiseD < 0 {
		// Triangle profile: no room for any cruise segment.
		m.CruiseD = 0
	}

	if m.StartV+m.CruiseV > 0 {
		m.AccelT = m.AccelD / ((m.StartV + m.CruiseV) / 2.0)
	}
	if m.CruiseV > 0 {
		m.CruiseT = m.CruiseD / m.CruiseV
	}
	if m.EndV+m.CruiseV > 0 {
		m.DecelT = m.DecelD / ((m.EndV + m.CruiseV) / 2.0)
	}
	m.Planned = true
}
