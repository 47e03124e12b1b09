// Package events implements the typed event broadcaster used to decouple
// the motion pipeline from its consumers (idle timeout, TMC drivers, the
// G-code layer's cached-position reset, safe-Z adjusters, and so on).
//
// The original source sends events by string name resolved at dispatch
// time through a global object registry. Here every event kind is a Go
// type and every subscriber list is resolved once at startup, so there is
// no string lookup on the hot path.
package events

import "sync"

// Kind identifies an event type for routing purposes.
type Kind int

const (
	SyncPrintTime Kind = iota
	SetPosition
	ManualMove
	HomingMoveBegin
	HomingMoveEnd
	HomeRailsBegin
	HomeRailsEnd
	StepperSyncMCUPosition
	StepperSetDirInverted
)

func (k Kind) String() string {
	switch k {
	case SyncPrintTime:
		return "toolhead:sync_print_time"
	case SetPosition:
		return "toolhead:set_position"
	case ManualMove:
		return "toolhead:manual_move"
	case HomingMoveBegin:
		return "homing:homing_move_begin"
	case HomingMoveEnd:
		return "homing:homing_move_end"
	case HomeRailsBegin:
		return "homing:home_rails_begin"
	case HomeRailsEnd:
		return "homing:home_rails_end"
	case StepperSyncMCUPosition:
		return "stepper:sync_mcu_position"
	case StepperSetDirInverted:
		return "stepper:set_dir_inverted"
	default:
		return "unknown"
	}
}

// SyncPrintTimePayload is delivered on SyncPrintTime.
type SyncPrintTimePayload struct {
	CurTime       float64
	EstPrintTime  float64
	PrintTime     float64
}

// HomingMovePayload is delivered on HomingMoveBegin/HomingMoveEnd.
type HomingMovePayload struct {
	Moving []string // stepper names participating in the attempt
}

// HomeRailsPayload is delivered on HomeRailsBegin/HomeRailsEnd.
// TriggerMCUPos is only populated on HomeRailsEnd, keyed by stepper name;
// handlers use it to request post-home position adjustments.
type HomeRailsPayload struct {
	RailNames      []string
	TriggerMCUPos  map[string]int64
}

// StepperPayload is delivered on the per-stepper events.
type StepperPayload struct {
	Name string
}

// Handler receives an event payload. The concrete type depends on Kind.
type Handler func(payload any)

// Bus is a multi-producer, multi-consumer broadcaster keyed by Kind.
// Subscription happens at construction time; Publish is safe to call
// from the single-threaded reactor loop and is additionally guarded by
// a mutex so tests may publish from goroutines.
type Bus struct {
	mu   sync.Mutex
	subs map[Kind][]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Kind][]Handler)}
}

// Subscribe registers h to be called whenever k is published.
func (b *Bus) Subscribe(k Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[k] = append(b.subs[k], h)
}

// Publish calls every handler registered for k, in registration order.
func (b *Bus) Publish(k Kind, payload any) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.subs[k]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}
