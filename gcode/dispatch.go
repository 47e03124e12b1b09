package gcode

import (
	"fmt"
	"strings"

	"trapcore/homing"
	"trapcore/motion"
)

// axisLetters is the fixed letter->position-vector-index mapping: XYZ are
// always present, ABC are the optional second kinematic group, E is the
// extruder slot (handled separately since its index depends on
// axis_count).
var axisLetters = map[byte]int{'X': 0, 'Y': 1, 'Z': 2, 'A': 3, 'B': 4, 'C': 5}

// probeVariant is one row of the G38.2/.3/.4/.5 error_out/trigger_invert
// table.
type probeVariant struct {
	errorOut      bool
	triggerInvert bool
}

var probeVariants = map[string]probeVariant{
	"G38.2": {errorOut: true, triggerInvert: true},
	"G38.3": {errorOut: false, triggerInvert: true},
	"G38.4": {errorOut: true, triggerInvert: false},
	"G38.5": {errorOut: false, triggerInvert: false},
}

// RailBinding pairs a configured Rail with the EndstopGroup HomingMove
// arms against it, keyed by axis letter.
type RailBinding struct {
	Rail     *motion.Rail
	Endstops []homing.EndstopGroup
}

// ManualStepperBinding is one MANUAL_STEPPER-addressable axis: a rail
// outside any kinematics group's safety checks, jogged directly by name
// rather than by G28/G1. Grounded on extras/manual_stepper.py.
type ManualStepperBinding struct {
	Rail      *motion.Rail
	Endstops  []homing.EndstopGroup
	AxisIndex int
	Velocity  float64
	Accel     float64
}

// ExtruderHomingBinding is one HOME_EXTRUDER-addressable extruder: the
// endstop group wired to its stepper plus the rail-style homing
// parameters extras/extruder_home.py reads off a PrinterRail.
type ExtruderHomingBinding struct {
	Endstop         homing.EndstopGroup
	Speed           float64
	PositionMin     float64
	PositionMax     float64
	PositionEndstop float64
	PositiveDir     bool
}

// Dispatcher maps parsed G-code commands onto Toolhead/HomingController
// operations, replacing the teacher's stateful Interpreter (which tracked
// machine position itself) with a thin mapping, since Toolhead now owns
// that state.
type Dispatcher struct {
	toolhead  *motion.Toolhead
	homingCtl *homing.HomingController
	rails     map[byte]RailBinding

	manualSteppers map[string]ManualStepperBinding
	extruderHoming map[string]ExtruderHomingBinding

	absoluteMode    bool
	extrudeAbsolute bool
	feedRate        float64 // mm/s, last F value seen
	lastExtrudePos  float64
}

// NewDispatcher returns a Dispatcher driving toolhead/homingCtl, with
// rails bound per axis letter for G28 lookups, manualSteppers bound per
// STEPPER= name for MANUAL_STEPPER, and extruderHoming bound per
// EXTRUDER= name for HOME_EXTRUDER/HOME_ACTIVE_EXTRUDER.
func NewDispatcher(toolhead *motion.Toolhead, homingCtl *homing.HomingController, rails map[byte]RailBinding, manualSteppers map[string]ManualStepperBinding, extruderHoming map[string]ExtruderHomingBinding) *Dispatcher {
	return &Dispatcher{
		toolhead:        toolhead,
		homingCtl:       homingCtl,
		rails:           rails,
		manualSteppers:  manualSteppers,
		extruderHoming:  extruderHoming,
		absoluteMode:    true,
		extrudeAbsolute: true,
		feedRate:        50.0,
	}
}

// Dispatch executes one parsed command. line is the original source line,
// needed only to recover G38's decimal sub-code (the integer-only
// tokenizer in parser.go drops it).
func (d *Dispatcher) Dispatch(cmd *Command, line string) error {
	if cmd == nil {
		return nil
	}
	if cmd.Name != "" {
		return d.dispatchNamed(cmd)
	}
	if cmd.Type == 0 {
		return nil
	}
	switch cmd.Type {
	case 'G':
		return d.dispatchG(cmd, line)
	case 'M':
		return d.dispatchM(cmd)
	case 'T':
		d.toolhead.SetActiveExtruder(fmt.Sprintf("T%d", cmd.Number))
		return nil
	}
	return fmt.Errorf("unsupported command type %c", cmd.Type)
}

// dispatchNamed routes the mux commands registered by name rather than
// G/M code: SET_VELOCITY_LIMIT, MANUAL_STEPPER, HOME_EXTRUDER,
// HOME_ACTIVE_EXTRUDER.
func (d *Dispatcher) dispatchNamed(cmd *Command) error {
	switch cmd.Name {
	case "SET_VELOCITY_LIMIT":
		return d.setVelocityLimit(cmd)
	case "MANUAL_STEPPER":
		return d.manualStepper(cmd)
	case "HOME_EXTRUDER":
		return d.homeExtruder(cmd.WordString("EXTRUDER", ""))
	case "HOME_ACTIVE_EXTRUDER":
		e := d.toolhead.ActiveExtruder()
		if e == nil {
			return fmt.Errorf("no active extruder to home")
		}
		return d.homeExtruder(e.Name)
	}
	return fmt.Errorf("unsupported command %s", cmd.Name)
}

// setVelocityLimit implements SET_VELOCITY_LIMIT VELOCITY|ACCEL|
// SQUARE_CORNER_VELOCITY|ACCEL_TO_DECEL: any word left unset leaves the
// corresponding limit unchanged.
func (d *Dispatcher) setVelocityLimit(cmd *Command) error {
	var maxVelocity, maxAccel, scv, accelToDecel *float64
	if v, ok := cmd.WordFloat("VELOCITY"); ok {
		maxVelocity = &v
	}
	if v, ok := cmd.WordFloat("ACCEL"); ok {
		maxAccel = &v
	}
	if v, ok := cmd.WordFloat("SQUARE_CORNER_VELOCITY"); ok {
		scv = &v
	}
	if v, ok := cmd.WordFloat("ACCEL_TO_DECEL"); ok {
		accelToDecel = &v
	}
	d.toolhead.SetVelocityLimit(maxVelocity, maxAccel, scv, accelToDecel)
	return nil
}

// manualStepper implements MANUAL_STEPPER STEPPER=n [MOVE=x] [SPEED=v]
// [ACCEL=a] [STOP_ON_ENDSTOP=±1|±2] [SYNC=0|1] [ENABLE=0|1]
// [SET_POSITION=x]. ENABLE/SYNC are accepted but otherwise no-ops: this
// tree has no stepper-enable-line subsystem to toggle (the same scope
// boundary the rest of the host pipeline observes — it speaks the wire
// protocol, not raw GPIO).
func (d *Dispatcher) manualStepper(cmd *Command) error {
	name := cmd.WordString("STEPPER", "")
	binding, ok := d.manualSteppers[name]
	if !ok {
		return fmt.Errorf("unknown manual stepper %q", name)
	}

	if setpos, ok := cmd.WordFloat("SET_POSITION"); ok {
		binding.Rail.SetPosition([3]float64{setpos, 0, 0})
	}

	speed := binding.Velocity
	if v, ok := cmd.WordFloat("SPEED"); ok {
		speed = v
	}

	move, hasMove := cmd.WordFloat("MOVE")
	stop, hasStop := cmd.WordInt("STOP_ON_ENDSTOP")

	if hasStop && stop != 0 {
		if !hasMove {
			return fmt.Errorf("MANUAL_STEPPER STOP_ON_ENDSTOP requires MOVE")
		}
		if len(binding.Endstops) == 0 {
			return fmt.Errorf("no endstop for manual stepper %q", name)
		}
		pos := d.toolhead.GetPosition()
		pos[binding.AxisIndex] = move
		triggered := stop > 0
		checkTriggered := stop == 1 || stop == -1
		return d.homingCtl.ManualHome(binding.Endstops, pos, speed, triggered, checkTriggered)
	}

	if hasMove {
		pos := d.toolhead.GetPosition()
		pos[binding.AxisIndex] = move
		return d.toolhead.Move(pos, speed)
	}
	return nil
}

// homeExtruder implements HOME_EXTRUDER/HOME_ACTIVE_EXTRUDER for the
// named extruder: moves 1.5x the distance from the endstop to the far
// end of its travel, toward the endstop, matching
// extras/extruder_home.py's get_movepos.
func (d *Dispatcher) homeExtruder(name string) error {
	binding, ok := d.extruderHoming[name]
	if !ok {
		return fmt.Errorf("extruder %q has no homing endstop configured", name)
	}
	e, ok := d.toolhead.Extruders()[name]
	if !ok {
		return fmt.Errorf("unknown extruder %q", name)
	}

	movepos := binding.PositionEndstop
	if binding.PositiveDir {
		movepos -= 1.5 * (binding.PositionEndstop - binding.PositionMin)
	} else {
		movepos += 1.5 * (binding.PositionMax - binding.PositionEndstop)
	}

	pos := d.toolhead.GetPosition()
	pos[e.Slot()] = movepos
	return d.homingCtl.ManualHome([]homing.EndstopGroup{binding.Endstop}, pos, binding.Speed, true, true)
}

func (d *Dispatcher) dispatchG(cmd *Command, line string) error {
	switch cmd.Number {
	case 0, 1:
		return d.move(cmd)
	case 4:
		ms := cmd.GetParameter('P', 0)
		return d.toolhead.Dwell(ms / 1000.0)
	case 28:
		return d.home(cmd)
	case 90:
		d.absoluteMode = true
		return nil
	case 91:
		d.absoluteMode = false
		return nil
	case 92:
		return d.setPosition(cmd)
	case 38:
		return d.probe(cmd, line)
	}
	return fmt.Errorf("unsupported G-code G%d", cmd.Number)
}

func (d *Dispatcher) dispatchM(cmd *Command) error {
	switch cmd.Number {
	case 400:
		d.toolhead.WaitMoves()
		return nil
	case 204:
		// S|P|T all alias max_accel in this simplified dialect.
		accel := cmd.GetParameter('S', 0)
		if accel == 0 {
			accel = cmd.GetParameter('P', 0)
		}
		if accel == 0 {
			accel = cmd.GetParameter('T', 0)
		}
		if accel > 0 {
			d.toolhead.SetVelocityLimit(nil, &accel, nil, nil)
		}
		return nil
	}
	return fmt.Errorf("unsupported M-code M%d", cmd.Number)
}

// move builds a target position vector from the command's present axis
// letters, leaving the rest at the toolhead's current commanded position
// (absolute mode) or offsetting it (relative mode), then submits
// toolhead.Move.
func (d *Dispatcher) move(cmd *Command) error {
	pos := d.toolhead.GetPosition()
	for letter, idx := range axisLetters {
		if !cmd.HasParameter(letter) || idx >= len(pos) {
			continue
		}
		v := cmd.Parameters[letter]
		if d.absoluteMode {
			pos[idx] = v
		} else {
			pos[idx] += v
		}
	}
	if cmd.HasParameter('E') {
		eIdx := d.toolhead.AxisCount()
		v := cmd.Parameters['E']
		if eIdx < len(pos) {
			if d.extrudeAbsolute {
				pos[eIdx] = v
			} else {
				pos[eIdx] += v
			}
		}
	}
	speed := d.feedRate
	if cmd.HasParameter('F') {
		speed = cmd.Parameters['F'] / 60.0 // G-code feedrate is mm/min
		d.feedRate = speed
	}
	return d.toolhead.Move(pos, speed)
}

// setPosition implements G92: teleport the commanded position without
// issuing a move.
func (d *Dispatcher) setPosition(cmd *Command) error {
	pos := d.toolhead.GetPosition()
	for letter, idx := range axisLetters {
		if cmd.HasParameter(letter) && idx < len(pos) {
			pos[idx] = cmd.Parameters[letter]
		}
	}
	if cmd.HasParameter('E') {
		eIdx := d.toolhead.AxisCount()
		if eIdx < len(pos) {
			pos[eIdx] = cmd.Parameters['E']
		}
	}
	return d.toolhead.SetPosition(pos, nil)
}

// home implements G28 [X Y Z A B C]: runs home_rails for each named axis
// in turn (or every configured rail if none named).
func (d *Dispatcher) home(cmd *Command) error {
	letters := make([]byte, 0, len(d.rails))
	for letter := range axisLetters {
		if _, bound := d.rails[letter]; !bound {
			continue
		}
		if len(cmd.Parameters) == 0 || cmd.HasParameter(letter) {
			letters = append(letters, letter)
		}
	}
	for _, letter := range letters {
		binding := d.rails[letter]
		hi := binding.Rail.HomingInfo()
		forcepos := make([]*float64, d.toolhead.AxisCount())
		movepos := make([]*float64, d.toolhead.AxisCount())
		idx := axisLetters[letter]
		endstopPos := hi.PositionEndstop
		forcepos[idx] = &endstopPos
		home := hi.PositionEndstop
		movepos[idx] = &home
		if err := d.homingCtl.HomeRails([]*motion.Rail{binding.Rail}, []int{idx}, binding.Endstops, forcepos, movepos); err != nil {
			return err
		}
	}
	return nil
}

// probe implements G38.2/.3/.4/.5 toward a target position, using the
// endstop bindings registered for the 'Z' letter slot (a probe is modeled
// as the Z rail's endstop group in this simplified dialect).
func (d *Dispatcher) probe(cmd *Command, line string) error {
	variant := probeVariants["G38.2"]
	for code, v := range probeVariants {
		if strings.Contains(strings.ToUpper(line), code) {
			variant = v
			break
		}
	}

	binding, ok := d.rails['Z']
	if !ok {
		return fmt.Errorf("no probe endstop bound")
	}

	pos := d.toolhead.GetPosition()
	for letter, idx := range axisLetters {
		if cmd.HasParameter(letter) && idx < len(pos) {
			pos[idx] = cmd.Parameters[letter]
		}
	}
	speed := d.feedRate
	if cmd.HasParameter('F') {
		speed = cmd.Parameters['F'] / 60.0
	}

	_, err := d.homingCtl.ProbingMove(binding.Endstops, pos, speed, variant.triggerInvert, variant.errorOut, nil)
	if err != nil && variant.errorOut {
		return err
	}
	return nil
}
