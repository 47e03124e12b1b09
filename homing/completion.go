// Package homing implements the homing/probing coordinator: Endstop
// handles, the cross-task Completion primitive they fire, HomingMove
// (one-shot coordinator for a single homing/probing attempt), and
// HomingController (the G28/manual-home/G38 entry points). Generalized
// from the teacher's MCU-side core/trsync.go and core/endstop.go, whose
// arm/sample/oversample/trigger-callback-registry shape is reused here
// host-side as the Completion a HomingMove waits on, instead of the
// MCU-side timer-interrupt implementation (which belongs to the on-MCU
// firmware, out of scope per the core spec).
package homing

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Completion is a cross-task future-like primitive that fires once,
// carrying the PrintTime (as float64 seconds) at which it fired and an
// optional error. It satisfies motion.Completion so a Toolhead.DripMove
// can wait on it without importing this package.
type Completion struct {
	mu      sync.Mutex
	cond    *sync.Cond
	fired   bool
	atTime  float64
	err     error
}

// NewCompletion returns an unfired Completion.
func NewCompletion() *Completion {
	c := &Completion{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Fire marks the completion as fired with atTime/err, waking every
// waiter. Firing an already-fired Completion is a no-op (first fire
// wins), matching "fires once".
func (c *Completion) Fire(atTime float64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired {
		return
	}
	c.fired = true
	c.atTime = atTime
	c.err = err
	c.cond.Broadcast()
}

// Fired reports whether Fire has been called.
func (c *Completion) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Result returns (atTime, err, ok); ok is false if the completion has
// not fired yet.
func (c *Completion) Result() (float64, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atTime, c.err, c.fired
}

// Wait blocks up to timeout seconds for the completion to fire, polling
// the condition variable in small slices so callers that want to observe
// other state (e.g. a reactor dispatching MCU responses) during the wait
// still make progress. Returns true if fired before the deadline.
func (c *Completion) Wait(timeout float64) bool {
	deadline := time.Now().Add(time.Duration(timeout * float64(time.Second)))
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.fired {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		waitSlice := remaining
		if waitSlice > 10*time.Millisecond {
			waitSlice = 10 * time.Millisecond
		}
		c.mu.Unlock()
		time.Sleep(waitSlice)
		c.mu.Lock()
	}
	return true
}

// MultiComplete waits on every child in cs (up to timeout seconds each,
// fanned out with errgroup) and returns a single Completion that fires
// once all of them have: with the latest fire time on success, or with
// the first child error on failure. This is the fan-out primitive
// HomingMove.Run uses across a rail's multiple steppers/endstops that
// must trigger synchronously.
func MultiComplete(cs []*Completion, timeout float64) *Completion {
	out := NewCompletion()
	if len(cs) == 0 {
		out.Fire(0, nil)
		return out
	}

	var g errgroup.Group
	times := make([]float64, len(cs))
	for i, c := range cs {
		i, c := i, c
		g.Go(func() error {
			if !c.Wait(timeout) {
				return errTimeout
			}
			t, err, _ := c.Result()
			times[i] = t
			return err
		})
	}

	err := g.Wait()
	if err != nil {
		out.Fire(0, err)
		return out
	}
	maxT := 0.0
	for _, t := range times {
		if t > maxT {
			maxT = t
		}
	}
	out.Fire(maxT, nil)
	return out
}

var errTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "completion wait timed out" }
