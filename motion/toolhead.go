package motion

import (
	"math"
	"time"

	"trapcore/events"
)

// QueuingState is one of the Toolhead's four queuing states.
type QueuingState int

const (
	Main QueuingState = iota
	Priming
	Flushed
	Drip
)

func (q QueuingState) String() string {
	switch q {
	case Main:
		return "main"
	case Priming:
		return "priming"
	case Flushed:
		return "flushed"
	case Drip:
		return "drip"
	default:
		return "unknown"
	}
}

// DripStep is returned from one drip-move iteration, replacing the
// source's DripModeEndSignal exception-as-control-flow with an explicit
// result the caller branches on.
type DripStep int

const (
	DripAdvanced DripStep = iota
	DripCompletionFired
	DripMoveEnded
)

// Completion is a cross-task future-like primitive that fires once; the
// homing package's Endstop/HomingMove implement it. Defined here (rather
// than imported from homing) so motion has no dependency on homing,
// keeping the dependency direction homing -> motion one-way.
type Completion interface {
	Fired() bool
	Wait(timeout float64) bool
}

// Kinematics maps a cartesian target to per-stepper targets, validates
// moves against soft limits, and owns its Trapq and Rails. Cartesian XYZ
// and cartesian ABC are identical implementations over different axis-id
// slices; Extruder is not a Kinematics (it is handled separately by
// Toolhead, since it shares trapezoid shape but not cartesian geometry).
type Kinematics interface {
	Trapq() *Trapq
	Rails() []*Rail
	AxisNames() []string
	CheckMove(m *Move) error
	SetPosition(pos []float64, homingAxes map[int]bool)
	CalcPosition(kinSpos map[string]float64) []float64
}

// ToolheadParams wires every collaborator the Toolhead needs at
// construction, per the core spec's "no global registry" design note:
// every component receives its references explicitly.
type ToolheadParams struct {
	Kinematics     map[string]Kinematics
	KinematicOrder []string // deterministic iteration order, e.g. ["xyz", "abc"]
	Extruders      map[string]*Extruder
	ActiveExtruder string

	AxisCount            int // kinematic axes across all groups (3, or 6 with ABC)
	MaxVelocity          float64
	MaxAccel             float64
	MaxAccelToDecel      float64
	SquareCornerVelocity float64

	// FlushMCU transmits queued step-compress state up to uptoTime for
	// every MCU link the toolhead drives; the motion-to-wire boundary
	// the core spec treats as an external collaborator.
	FlushMCU func(uptoTime PrintTime) error
	// EstPrintTime returns the MCU's current estimated print time,
	// supplied by the host link.
	EstPrintTime func() PrintTime

	Bus *events.Bus
}

// Toolhead is the state machine over queuing states, global print-clock
// advancement, move dispatch to trapqs and the extruder, and the owner
// of the kinematics map. Generalized from the teacher's
// standalone.Manager + standalone/planner.Planner, which combined a
// thin state holder with a no-lookahead planner; Toolhead restores the
// full queuing-state lifecycle the core spec requires.
type Toolhead struct {
	p ToolheadParams

	commandedPos []float64
	printTime    PrintTime
	state        QueuingState

	moveQueue *MoveQueue

	printStall      int
	bufferTimeLow   float64
	bufferTimeHigh  float64
	bufferTimeStart float64
	moveFlushTime   float64
	kinFlushDelay   float64
	forceFlushTime  PrintTime
	lastKinMoveTime PrintTime

	dripCompletion Completion

	steppers []*Stepper
}

// NewToolhead constructs a Toolhead in the Flushed state (matching a
// freshly connected printer, which must resync its print_time before
// the first move).
func NewToolhead(p ToolheadParams) *Toolhead {
	n := p.AxisCount + 1
	pos := make([]float64, n)

	var steppers []*Stepper
	for _, k := range p.Kinematics {
		for _, r := range k.Rails() {
			steppers = append(steppers, r.Steppers()...)
		}
	}
	for _, e := range p.Extruders {
		steppers = append(steppers, e.Stepper())
	}

	th := &Toolhead{
		p:               p,
		commandedPos:    pos,
		state:           Flushed,
		bufferTimeLow:   BufferTimeLow,
		bufferTimeHigh:  BufferTimeHigh,
		bufferTimeStart: BufferTimeStart,
		moveFlushTime:   MoveFlushTime,
		kinFlushDelay:   SDSCheckTime,
		steppers:        steppers,
	}
	th.moveQueue = NewMoveQueue(th.processMove)
	return th
}

// JunctionDeviation converts the configured square_corner_velocity into
// the junction_deviation constant Move.CalcJunction consumes:
// square_corner_velocity^2 * (sqrt(2)-1) / max_accel.
func (t *Toolhead) JunctionDeviation() float64 {
	scv := t.p.SquareCornerVelocity
	return scv * scv * (math.Sqrt2 - 1) / t.p.MaxAccel
}

// SetVelocityLimit applies SET_VELOCITY_LIMIT/M204: a nil argument
// leaves that limit unchanged, mirroring cmd_SET_VELOCITY_LIMIT's
// optional-parameter semantics. max_accel_to_decel is clamped to never
// exceed max_accel, same as _calc_junction_deviation.
func (t *Toolhead) SetVelocityLimit(maxVelocity, maxAccel, squareCornerVelocity, accelToDecel *float64) {
	if maxVelocity != nil {
		t.p.MaxVelocity = *maxVelocity
	}
	if maxAccel != nil {
		t.p.MaxAccel = *maxAccel
	}
	if squareCornerVelocity != nil {
		t.p.SquareCornerVelocity = *squareCornerVelocity
	}
	if accelToDecel != nil {
		t.p.MaxAccelToDecel = *accelToDecel
	}
	if t.p.MaxAccelToDecel > t.p.MaxAccel {
		t.p.MaxAccelToDecel = t.p.MaxAccel
	}
}

// VelocityLimits returns the toolhead's current max_velocity, max_accel,
// square_corner_velocity, max_accel_to_decel, for status reporting.
func (t *Toolhead) VelocityLimits() (maxVelocity, maxAccel, squareCornerVelocity, accelToDecel float64) {
	return t.p.MaxVelocity, t.p.MaxAccel, t.p.SquareCornerVelocity, t.p.MaxAccelToDecel
}

// GetPosition returns the toolhead's current commanded position vector.
func (t *Toolhead) GetPosition() []float64 {
	return append([]float64(nil), t.commandedPos...)
}

// PrintTime returns the toolhead's current print-clock position.
func (t *Toolhead) PrintTime() PrintTime { return t.printTime }

// PrintStall returns the stall counter, a metric (not a fault) tracking
// how many times the buffered print-time ran dry of new submissions.
func (t *Toolhead) PrintStall() int { return t.printStall }

// Kinematics returns the toolhead's owned kinematics groups by name.
func (t *Toolhead) Kinematics() map[string]Kinematics { return t.p.Kinematics }

// KinematicOrder returns the deterministic iteration order over
// Kinematics groups.
func (t *Toolhead) KinematicOrder() []string { return t.p.KinematicOrder }

// Extruders returns every configured extruder by name.
func (t *Toolhead) Extruders() map[string]*Extruder { return t.p.Extruders }

// ActiveExtruder returns the currently active extruder, or nil.
func (t *Toolhead) ActiveExtruder() *Extruder { return t.activeExtruder() }

// SetActiveExtruder switches which extruder subsequent moves' extrude
// axis applies to, the effect of HOME_ACTIVE_EXTRUDER/T-command dispatch.
func (t *Toolhead) SetActiveExtruder(name string) { t.p.ActiveExtruder = name }

// AxisCount returns the total kinematic axis count (3, or 6 with ABC).
func (t *Toolhead) AxisCount() int { return t.p.AxisCount }

// Steppers returns every stepper across every kinematics group and
// extruder, the set a homing attempt snapshots kin_spos over.
func (t *Toolhead) Steppers() []*Stepper { return t.steppers }

// KinSpos snapshots every stepper's current commanded position keyed by
// name, per HomingMove step 2.
func (t *Toolhead) KinSpos() map[string]float64 {
	out := make(map[string]float64, len(t.steppers))
	for _, s := range t.steppers {
		out[s.Name] = s.CommandedPosition()
	}
	return out
}

// SetPosition flushes pending steps, teleports every owned Trapq (and
// the active extruder's), forwards to each Kinematics' SetPosition, and
// updates commanded_pos. homingAxes names which kinematic axis indices
// just finished homing, so their rail's [min,max] becomes the current
// soft limit.
func (t *Toolhead) SetPosition(pos []float64, homingAxes map[int]bool) error {
	if err := t.FlushStepGeneration(); err != nil {
		return err
	}
	var pos3 [3]float64
	copy(pos3[:], pos)
	for _, name := range t.p.KinematicOrder {
		k := t.p.Kinematics[name]
		k.Trapq().SetPosition(t.printTime, pos3)
		k.SetPosition(pos, homingAxes)
	}
	if e := t.activeExtruder(); e != nil {
		e.SetPosition(pos[e.Slot()])
	}
	copy(t.commandedPos, pos)
	t.p.Bus.Publish(events.SetPosition, nil)
	return nil
}

func (t *Toolhead) activeExtruder() *Extruder {
	return t.p.Extruders[t.p.ActiveExtruder]
}

// Move constructs a Move toward newPos at speed, validates it against
// every Kinematics' CheckMove and the active extruder's CheckMove,
// updates commanded_pos, and enqueues it on the look-ahead MoveQueue.
func (t *Toolhead) Move(newPos []float64, speed float64) error {
	extSlot := t.p.AxisCount
	m := NewMove(MoveParams{
		StartPos:          t.commandedPos,
		EndPos:            newPos,
		Speed:             speed,
		Accel:             t.p.MaxAccel,
		MaxAccelToDecel:   t.p.MaxAccelToDecel,
		MaxVelocity:       t.p.MaxVelocity,
		JunctionDeviation: t.JunctionDeviation(),
		ExtruderSlot:      extSlot,
		AxisCount:         t.p.AxisCount,
		ExtruderJunction:  t.extruderJunctionFunc(),
	})

	for _, name := range t.p.KinematicOrder {
		if err := t.p.Kinematics[name].CheckMove(m); err != nil {
			return err
		}
	}
	if e := t.activeExtruder(); e != nil {
		if err := e.CheckMove(m); err != nil {
			return err
		}
	}

	copy(t.commandedPos, newPos)
	t.moveQueue.AddMove(m)
	t.lastKinMoveTime = t.printTime
	return nil
}

func (t *Toolhead) extruderJunctionFunc() func(cur, prev *Move) float64 {
	e := t.activeExtruder()
	if e == nil {
		return nil
	}
	return e.JunctionBound
}

// processMove is the MoveQueue's release callback: it dispatches one
// planned move into every owned Trapq and the extruder, advancing
// print_time, mirroring _process_moves.
func (t *Toolhead) processMove(m *Move) {
	moveStart := t.printTime
	if m.Kinematic {
		var pos3 [3]float64
		copy(pos3[:], m.StartPos)
		var r3 [3]float64
		copy(r3[:], m.AxesR)
		seg := Segment{
			PrintTime: moveStart,
			AccelT:    m.AccelT,
			CruiseT:   m.CruiseT,
			DecelT:    m.DecelT,
			StartPos:  pos3,
			AxesR:     r3,
			StartV:    m.StartV,
			CruiseV:   m.CruiseV,
			Accel:     m.Accel,
		}
		for _, name := range t.p.KinematicOrder {
			t.p.Kinematics[name].Trapq().Append(seg)
		}
	}
	if e := t.activeExtruder(); e != nil && m.AxesD[e.Slot()] != 0 {
		e.Move(m)
		// Move() above appended with PrintTime zero; patch it now that
		// we know the move's actual start time.
		patchLastSegmentStart(e.Trapq(), moveStart)
	}
	moveEnd := moveStart + PrintTime(m.AccelT+m.CruiseT+m.DecelT)
	t.printTime = moveEnd
	for _, cb := range m.TimingCallbacks {
		cb(moveEnd)
	}
}

func patchLastSegmentStart(tq *Trapq, start PrintTime) {
	segs := tq.Segments()
	if len(segs) == 0 {
		return
	}
	segs[len(segs)-1].PrintTime = start
}

// Dwell inserts a pause of delay seconds after the last queued move.
func (t *Toolhead) Dwell(delay float64) error {
	last := t.getLastMoveTime()
	if err := t.updateMoveTime(last + PrintTime(delay)); err != nil {
		return err
	}
	return t.checkStall()
}

func (t *Toolhead) getLastMoveTime() PrintTime {
	if !t.moveQueue.Empty() {
		t.moveQueue.Flush(false)
	}
	return t.printTime
}

// WaitMoves drains the look-ahead queue and busy-waits (in <=0.1s
// reactor slices) until the toolhead's print_time is no longer ahead of
// the MCU's estimated print time.
func (t *Toolhead) WaitMoves() {
	t.moveQueue.Flush(false)
	for {
		est := t.p.EstPrintTime()
		if t.printTime <= est {
			return
		}
		wait := float64(t.printTime - est)
		if wait > 0.1 {
			wait = 0.1
		}
		time.Sleep(time.Duration(wait * float64(time.Second)))
	}
}

// FlushStepGeneration drains the MoveQueue, transitions to Flushed, and
// advances print_time in MOVE_BATCH_TIME chunks up to
// last_kin_move_time + kin_flush_delay, finalizing trapqs and flushing
// MCU step buffers along the way.
func (t *Toolhead) FlushStepGeneration() error {
	t.moveQueue.Flush(false)
	target := t.lastKinMoveTime + PrintTime(t.kinFlushDelay)
	if err := t.updateMoveTime(target); err != nil {
		return err
	}
	t.state = Flushed
	return nil
}

// updateMoveTime is _update_move_time: loop advancing print_time by at
// most MOVE_BATCH_TIME per iteration, generating steps for every stepper
// up to sgFlushTime, finalizing trapqs, and flushing MCU buffers.
func (t *Toolhead) updateMoveTime(nextPT PrintTime) error {
	for t.printTime < nextPT {
		batchEnd := t.printTime + MoveBatchTime
		if batchEnd > nextPT {
			batchEnd = nextPT
		}
		t.printTime = batchEnd

		sgFlushTime := t.printTime - PrintTime(t.kinFlushDelay)
		if sgFlushTime < t.forceFlushTime {
			sgFlushTime = t.forceFlushTime
		}

		for _, s := range t.steppers {
			if err := s.GenerateSteps(0, sgFlushTime, t.clockOf); err != nil {
				return err
			}
		}

		finalizeBefore := sgFlushTime - PrintTime(t.kinFlushDelay)
		if finalizeBefore < t.forceFlushTime {
			finalizeBefore = t.forceFlushTime
		}
		for _, name := range t.p.KinematicOrder {
			t.p.Kinematics[name].Trapq().FinalizeMoves(finalizeBefore)
		}
		if e := t.activeExtruder(); e != nil {
			e.Trapq().FinalizeMoves(finalizeBefore)
		}

		mcuFlushUpto := sgFlushTime - PrintTime(t.moveFlushTime)
		if mcuFlushUpto < t.forceFlushTime {
			mcuFlushUpto = t.forceFlushTime
		}
		if t.p.FlushMCU != nil {
			if err := t.p.FlushMCU(mcuFlushUpto); err != nil {
				return err
			}
		}
	}
	return nil
}

// clockOf is a placeholder PrintTime->MCU clock conversion; callers that
// need real clock arithmetic (host/mcu) wrap Toolhead with their own MCU
// frequency. Kept here so Stepper.GenerateSteps has a conversion to call
// during tests that never reach a real MCU link.
func (t *Toolhead) clockOf(pt PrintTime) int64 {
	return int64(float64(pt) * 1e6) // microsecond-resolution logical clock
}

// calcPrintTime resyncs print_time to the MCU clock when leaving a
// special state (Flushed -> Main), per _calc_print_time.
func (t *Toolhead) calcPrintTime() {
	est := t.p.EstPrintTime()
	a := est + PrintTime(t.bufferTimeStart)
	b := est + PrintTime(MinKinTime+t.kinFlushDelay)
	c := t.forceFlushTime + PrintTime(t.kinFlushDelay)
	pt := a
	if b > pt {
		pt = b
	}
	if c > pt {
		pt = c
	}
	t.printTime = pt
	t.state = Main
	t.p.Bus.Publish(events.SyncPrintTime, events.SyncPrintTimePayload{
		CurTime:      nowSeconds(),
		EstPrintTime: float64(est),
		PrintTime:    float64(t.printTime),
	})
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// checkStall implements the buffer-time stall policy: if print_time runs
// further ahead of the MCU's estimated time than buffer_time_high, sleep
// until it falls back under buffer_time_low, counting a stall.
func (t *Toolhead) checkStall() error {
	if t.state != Main {
		if t.state == Flushed {
			t.calcPrintTime()
		}
		return nil
	}
	est := t.p.EstPrintTime()
	bufferTime := float64(t.printTime - est)
	if bufferTime < t.bufferTimeHigh {
		return nil
	}
	for bufferTime > t.bufferTimeLow {
		waitTime := bufferTime - t.bufferTimeLow
		if waitTime > 1 {
			waitTime = 1
		}
		time.Sleep(time.Duration(waitTime * float64(time.Second)))
		est = t.p.EstPrintTime()
		bufferTime = float64(t.printTime - est)
	}
	t.printStall++
	return nil
}

// DripMove enters Drip state and submits one move, releasing it in
// <=DRIP_SEGMENT_TIME slices paced against the MCU clock, until either
// completion fires or the move itself ends. Each call to the inner step
// function returns a DripStep the caller uses to decide whether to keep
// draining; StepDrip replaces the source's DripModeEndSignal exception.
func (t *Toolhead) DripMove(newPos []float64, speed float64, completion Completion) error {
	t.state = Drip
	t.dripCompletion = completion
	if err := t.Move(newPos, speed); err != nil {
		t.state = Flushed
		return err
	}
	t.moveQueue.Flush(false)
	endTime := t.printTime

	for {
		step := t.stepDrip(endTime)
		switch step {
		case DripMoveEnded:
			return t.endDrip()
		case DripCompletionFired:
			return t.endDrip()
		case DripAdvanced:
			continue
		}
	}
}

// stepDrip is one iteration of _update_drip_move_time: advance print_time
// by at most DRIP_SEGMENT_TIME, pacing against the MCU's estimated
// print_time plus DRIP_TIME, and generate steps for that slice.
func (t *Toolhead) stepDrip(endTime PrintTime) DripStep {
	if t.dripCompletion != nil && t.dripCompletion.Fired() {
		return DripCompletionFired
	}
	if t.printTime >= endTime {
		return DripMoveEnded
	}

	flushDelay := DripTime + t.moveFlushTime + t.kinFlushDelay
	next := t.printTime + DripSegmentTime
	if next > endTime {
		next = endTime
	}

	est := t.p.EstPrintTime()
	waitTime := float64(next) - float64(est) - flushDelay
	if waitTime > 0 && t.dripCompletion != nil {
		if t.dripCompletion.Wait(waitTime) {
			return DripCompletionFired
		}
	}

	_ = t.updateMoveTime(next)
	return DripAdvanced
}

// endDrip is the cleanup branch the caller runs after a DripModeEndSignal
// in the source: reset the MoveQueue, finalize every trapq at +Inf
// (purging all pending segments), advance the extruder similarly, and
// return to Flushed.
func (t *Toolhead) endDrip() error {
	t.moveQueue.Reset()
	inf := PrintTime(math.Inf(1))
	for _, name := range t.p.KinematicOrder {
		t.p.Kinematics[name].Trapq().FinalizeMoves(inf)
	}
	for _, e := range t.p.Extruders {
		e.Trapq().FinalizeMoves(inf)
	}
	t.dripCompletion = nil
	return t.FlushStepGeneration()
}

// NoteStepGenerationScanTime updates kin_flush_delay to the max of every
// registered step generator's lookback requirement and SDS_CHECK_TIME,
// mirroring toolhead.py's note_step_generation_scan_time.
func (t *Toolhead) NoteStepGenerationScanTime(scanTime float64) {
	if scanTime > t.kinFlushDelay {
		t.kinFlushDelay = scanTime
	}
}
