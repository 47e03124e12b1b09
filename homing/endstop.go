package homing

import (
	"trapcore/errs"
	"trapcore/motion"
)

// Link is the MCU-facing half of an Endstop: arming a trigger and
// querying the pin's instantaneous state. Concrete implementations live
// in host/mcu, reached over the wire commands protocol/mcu_commands.go
// encodes (endstop_home, and a plain pin query). Kept as an interface so
// homing has no import on host/mcu, matching the core spec's "MCU link
// is a typed channel" treatment.
type Link interface {
	// HomeStart arms a trigger at clock for sampleCount samples spaced
	// sampleTicks apart with an early-abort budget of restTicks per
	// sample; onTrigger is called exactly once, either with the clock
	// at which the pin matched triggered, or with a non-nil error on
	// communication timeout.
	HomeStart(oid int, clock int64, sampleTicks int64, sampleCount int, restTicks int64, triggered bool, onTrigger func(triggerClock int64, commErr error)) error
	QueryEndstop(oid int) (bool, error)
}

// Endstop is a handle to an MCU-side endstop: arm/wait/query, firing a
// Completion when triggered. Generalized from the teacher's MCU-side
// core/endstop.go (ESF_PIN_HIGH/ESF_HOMING sampling/oversampling state
// machine) reused here for its arm/sample/trigger *shape*, reimplemented
// as a host-side handle over a wire Link instead of firmware driving a
// hardware timer.
type Endstop struct {
	OID  int
	Name string

	link Link
	freq float64 // MCU clock ticks per second, for seconds<->ticks conversion

	clockOf func(motion.PrintTime) int64
	timeOf  func(int64) motion.PrintTime

	completion *Completion
}

// NewEndstop returns an Endstop bound to oid over link. clockOf/timeOf
// convert between PrintTime and MCU clock ticks; freq is the MCU's clock
// frequency in Hz, used to convert sample/rest times to ticks.
func NewEndstop(oid int, name string, link Link, freq float64, clockOf func(motion.PrintTime) int64, timeOf func(int64) motion.PrintTime) *Endstop {
	return &Endstop{OID: oid, Name: name, link: link, freq: freq, clockOf: clockOf, timeOf: timeOf}
}

// HomeStart arms a trigger that fires when the pin matches triggered for
// sampleCount samples spaced by sampleTime, budgeted by restTime against
// overrunning the MCU, and returns the Completion that will fire on
// trigger or communication timeout.
func (e *Endstop) HomeStart(printTime motion.PrintTime, sampleTime float64, sampleCount int, restTime float64, triggered bool) (*Completion, error) {
	e.completion = NewCompletion()
	completion := e.completion
	clock := e.clockOf(printTime)
	sampleTicks := int64(sampleTime * e.freq)
	restTicks := int64(restTime * e.freq)

	err := e.link.HomeStart(e.OID, clock, sampleTicks, sampleCount, restTicks, triggered, func(triggerClock int64, commErr error) {
		if commErr != nil {
			completion.Fire(-1, commErr)
			return
		}
		completion.Fire(float64(e.timeOf(triggerClock)), nil)
	})
	return completion, err
}

// HomeWait blocks until the MCU responds (trigger or timeout) or a
// deadline of moveEndPT plus 2 seconds elapses, whichever comes first.
// Returns >0 with the trigger PrintTime on trigger, 0 on no
// trigger within the window, or <0 on communication timeout.
func (e *Endstop) HomeWait(moveEndPT motion.PrintTime) (float64, error) {
	if e.completion == nil {
		return 0, errs.NewConfig("HomeWait called before HomeStart on endstop %s", e.Name)
	}
	if !e.completion.Wait(float64(moveEndPT) + 2.0) {
		return 0, nil
	}
	t, err, _ := e.completion.Result()
	if err != nil {
		return -1, errs.NewEndstopCommTimeout(e.Name)
	}
	return t, nil
}

// QueryState reads the pin's instantaneous state, used by
// check_triggered paths and tests.
func (e *Endstop) QueryState() (bool, error) {
	return e.link.QueryEndstop(e.OID)
}
