// Package errs implements the error taxonomy of the motion-control core:
// a small set of typed errors, each wrapping a human-readable message, so
// callers can dispatch on kind with errors.As instead of matching strings.
package errs

import "fmt"

// Kind identifies which of the taxonomy's error classes an error belongs
// to, for callers (shutdown path, gcode layer) that need to branch on it
// without string matching.
type Kind int

const (
	Config Kind = iota
	MoveOutOfRange
	MustHomeFirst
	EndstopNoTrigger
	EndstopCommTimeout
	EndstopEarlyTrigger
	EndstopStillTriggered
	StepCompressFault
	ExtruderColdExtrude
	ExtrudeLimit
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case MoveOutOfRange:
		return "move out of range"
	case MustHomeFirst:
		return "must home first"
	case EndstopNoTrigger:
		return "endstop no trigger"
	case EndstopCommTimeout:
		return "endstop communication timeout"
	case EndstopEarlyTrigger:
		return "endstop early trigger"
	case EndstopStillTriggered:
		return "endstop still triggered"
	case StepCompressFault:
		return "step compress fault"
	case ExtruderColdExtrude:
		return "extruder cold extrude"
	case ExtrudeLimit:
		return "extrude limit"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error is the taxonomy's sole error type: a Kind plus a message. Fatal
// reports whether the error's propagation policy is to escalate to
// printer shutdown rather than surface synchronously to the originating
// command.
type Error struct {
	Kind    Kind
	Message string
	Fatal   bool
}

func (e *Error) Error() string {
	return e.Message
}

func new_(k Kind, fatal bool, format string, args ...any) *Error {
	return &Error{Kind: k, Fatal: fatal, Message: fmt.Sprintf(format, args...)}
}

func NewConfig(format string, args ...any) *Error {
	return new_(Config, true, format, args...)
}

func NewMoveOutOfRange(pos [4]float64) *Error {
	return new_(MoveOutOfRange, false, "move out of range: %v", pos)
}

func NewMustHomeFirst(axis string) *Error {
	return new_(MustHomeFirst, false, "must home axis %s first", axis)
}

func NewEndstopNoTrigger(name string) *Error {
	return new_(EndstopNoTrigger, false, "No trigger on %s after full movement", name)
}

func NewEndstopCommTimeout(name string) *Error {
	return new_(EndstopCommTimeout, true, "Communication timeout during homing %s", name)
}

func NewEndstopEarlyTrigger() *Error {
	return new_(EndstopEarlyTrigger, false, "Probe triggered prior to movement")
}

func NewEndstopStillTriggered(name string) *Error {
	return new_(EndstopStillTriggered, false, "Endstop %s still triggered after retract", name)
}

func NewStepCompressFault(reason string) *Error {
	return new_(StepCompressFault, true, "step compress fault: %s", reason)
}

func NewExtruderColdExtrude() *Error {
	return new_(ExtruderColdExtrude, false, "Extrude below minimum temp")
}

func NewExtrudeLimit(reason string) *Error {
	return new_(ExtrudeLimit, false, "extrude limit exceeded: %s", reason)
}

func NewShutdown() *Error {
	return new_(Shutdown, true, "Homing/Probing failed due to printer shutdown.")
}
