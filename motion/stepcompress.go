package motion

import (
	"sort"

	"trapcore/errs"
)

// historyCap bounds the retained step history used to answer
// find_past_position queries during homing; older entries are dropped
// once a flush advances past them by more than this many entries.
const historyCap = 8192

// stepHistoryEntry records a transmitted step clock and the stepper's
// integer MCU position immediately after it, so FindPastPosition can
// binary-search for "the position at this clock" after the fact.
type stepHistoryEntry struct {
	clock    int64
	mcuPos   int64
}

// StepCompress is the per-stepper queue of future step clocks awaiting
// transmission to the MCU link, plus a compact history of already-sent
// steps for past-position lookups during homing. The teacher's
// standalone/stepgen.Stepper drove step pins directly from a timer
// callback with no queue at all; this type restores the host-side
// queue/compress/flush pipeline between itersolve and the MCU link.
type StepCompress struct {
	oid int

	pending      []int64 // future step clocks, ascending
	lastFlushed  int64
	lastPosition int64
	dir          int64 // +1 or -1, direction of the last queued step

	history []stepHistoryEntry

	send func(oid int, clock int64, dir int64) error
}

// NewStepCompress returns a StepCompress bound to oid (the MCU's
// object-id for this stepper) that transmits via send.
func NewStepCompress(oid int, send func(oid int, clock int64, dir int64) error) *StepCompress {
	return &StepCompress{oid: oid, send: send, dir: 1}
}

// Append pushes a future step clock. Returns StepCompressFault if clock
// would desync the stream (precedes the last flushed clock).
func (sc *StepCompress) Append(clock int64) error {
	if clock <= sc.lastFlushed && sc.lastFlushed != 0 {
		return errs.NewStepCompressFault("desynced clock")
	}
	if len(sc.pending) >= historyCap {
		return errs.NewStepCompressFault("overflow")
	}
	sc.pending = append(sc.pending, clock)
	return nil
}

// SetDirection records the direction of steps queued from now on; the
// caller (itersolve) is responsible for calling this before Append
// whenever the direction changes, mirroring set_next_step_dir.
func (sc *StepCompress) SetDirection(dir int64) {
	sc.dir = dir
}

// Flush transmits every pending step clock <= uptoClock to the MCU link
// and advances the last-flushed marker and position history.
func (sc *StepCompress) Flush(uptoClock int64) error {
	i := 0
	for ; i < len(sc.pending); i++ {
		clock := sc.pending[i]
		if clock > uptoClock {
			break
		}
		if err := sc.send(sc.oid, clock, sc.dir); err != nil {
			return errs.NewStepCompressFault(err.Error())
		}
		sc.lastPosition += sc.dir
		sc.lastFlushed = clock
		sc.history = append(sc.history, stepHistoryEntry{clock: clock, mcuPos: sc.lastPosition})
	}
	sc.pending = sc.pending[i:]
	if len(sc.history) > historyCap {
		sc.history = sc.history[len(sc.history)-historyCap:]
	}
	return nil
}

// Reset discards the pending queue and resets the stream to clock,
// mirroring a reset_step_clock command issued after homing completes.
func (sc *StepCompress) Reset(clock int64) {
	sc.pending = sc.pending[:0]
	sc.history = sc.history[:0]
	sc.lastFlushed = clock
}

// FindPastPosition binary-searches the transmitted history for the
// stepper's MCU position at clock.
func (sc *StepCompress) FindPastPosition(clock int64) int64 {
	if len(sc.history) == 0 {
		return sc.lastPosition
	}
	idx := sort.Search(len(sc.history), func(i int) bool {
		return sc.history[i].clock > clock
	})
	if idx == 0 {
		return sc.history[0].mcuPos
	}
	return sc.history[idx-1].mcuPos
}

// SetLastPosition records mcuPos as the authoritative position at clock,
// called after a stepper_get_position response.
func (sc *StepCompress) SetLastPosition(clock int64, mcuPos int64) {
	sc.lastFlushed = clock
	sc.lastPosition = mcuPos
	sc.history = append(sc.history[:0], stepHistoryEntry{clock: clock, mcuPos: mcuPos})
}

// LastPosition returns the most recently known MCU position.
func (sc *StepCompress) LastPosition() int64 {
	return sc.lastPosition
}

// Pending reports how many step clocks are queued but not yet flushed.
func (sc *StepCompress) Pending() int {
	return len(sc.pending)
}

// OID returns the MCU object-id this queue transmits to.
func (sc *StepCompress) OID() int {
	return sc.oid
}
