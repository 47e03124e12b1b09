package motion

import "math"

// MoveQueue holds an ordered sequence of pending Moves and performs
// junction-deviation look-ahead planning before releasing a prefix of
// "ready" moves to a consumer (the Toolhead). Generalized from the
// teacher's standalone/planner.Planner, which queued moves without any
// look-ahead at all; this type restores the backward-pass algorithm the
// core spec requires.
type MoveQueue struct {
	queue         []*Move
	junctionFlush float64
	release       func(*Move)
}

type delayedMove struct {
	move    *Move
	startV2 float64
	endV2   float64
}

// NewMoveQueue returns an empty queue. release is called, in order, for
// every move the queue determines is ready to execute.
func NewMoveQueue(release func(*Move)) *MoveQueue {
	return &MoveQueue{
		junctionFlush: LookaheadFlushTime,
		release:       release,
	}
}

// Reset discards all pending moves without releasing them, used when a
// drip-mode cancellation purges the pipeline.
func (q *MoveQueue) Reset() {
	q.queue = q.queue[:0]
	q.junctionFlush = LookaheadFlushTime
}

// Empty reports whether the queue holds no pending moves.
func (q *MoveQueue) Empty() bool {
	return len(q.queue) == 0
}

// AddMove appends m, computes its junction against the previous move if
// any, and lazily flushes once enough move time has accumulated.
func (q *MoveQueue) AddMove(m *Move) {
	q.queue = append(q.queue, m)
	if len(q.queue) > 1 {
		prev := q.queue[len(q.queue)-2]
		m.CalcJunction(prev)
	}
	q.junctionFlush -= m.MinMoveT
	if q.junctionFlush <= 0 {
		q.Flush(true)
	}
}

// Flush performs the backward pass described by the core spec: walk the
// queue from last to first tracking next_end_v2/next_smoothed_v2; once a
// move proves it can still accelerate and either decelerates itself or
// follows a full deceleration run, a peak_cruise_v2 is fixed and the
// delayed tail's junctions are finalized against it. In lazy mode only
// the prefix that is provably safe is released; in full mode (lazy is
// false) every pending move is planned and released, used when the
// queue must be drained (flush_step_generation, wait_moves, shutdown).
func (q *MoveQueue) Flush(lazy bool) {
	flushCount := len(q.queue)
	updateFlushCount := lazy

	var delayed []delayedMove
	var nextEndV2, nextSmoothedV2, peakCruiseV2 float64

	for i := len(q.queue) - 1; i >= 0; i-- {
		m := q.queue[i]
		reachableStartV2 := nextEndV2 + m.DeltaV2
		startV2 := math.Min(m.MaxStartV2, reachableStartV2)
		reachableSmoothedV2 := nextSmoothedV2 + m.SmoothDeltaV2
		smoothedV2 := math.Min(m.MaxSmoothedV2, reachableSmoothedV2)

		if smoothedV2 < reachableSmoothedV2 {
			if smoothedV2+m.SmoothDeltaV2 > nextSmoothedV2 || len(delayed) > 0 {
				if updateFlushCount && peakCruiseV2 > 0 {
					flushCount = i
					updateFlushCount = false
				}
				peakCruiseV2 = math.Min(m.MaxCruiseV2, (smoothedV2+reachableSmoothedV2)*0.5)
				if len(delayed) > 0 {
					if !updateFlushCount && i < flushCount {
						mcV2 := peakCruiseV2
						for j := len(delayed) - 1; j >= 0; j-- {
							dm := delayed[j]
							mcV2 = math.Min(mcV2, dm.startV2)
							dm.move.SetJunction(math.Min(dm.startV2, mcV2), mcV2, math.Min(dm.endV2, mcV2))
						}
					}
					delayed = delayed[:0]
				}
			}
			if !updateFlushCount && i < flushCount {
				cruiseV2 := math.Min(math.Min((startV2+reachableStartV2)*0.5, m.MaxCruiseV2), peakCruiseV2)
				m.SetJunction(math.Min(startV2, cruiseV2), cruiseV2, math.Min(nextEndV2, cruiseV2))
			}
		} else {
			delayed = append(delayed, delayedMove{move: m, startV2: startV2, endV2: nextEndV2})
		}

		nextEndV2 = startV2
		nextSmoothedV2 = smoothedV2
	}

	if updateFlushCount || flushCount == 0 {
		q.junctionFlush = LookaheadFlushTime
		return
	}

	for i := 0; i < flushCount; i++ {
		q.release(q.queue[i])
	}
	remaining := append([]*Move(nil), q.queue[flushCount:]...)
	q.queue = remaining
	q.junctionFlush = LookaheadFlushTime
}
