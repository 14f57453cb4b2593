// Package control implements the five-state component state machine and
// JSON command/response envelopes shared by every pipeline component
// (spec.md §4.6, §6). State lives in a mutex-guarded Watcher: tasks read
// it with Snapshot or receive each change on a channel from Subscribe.
package control

import (
	"fmt"
	"sync"

	"github.com/usnistgov/delila/errs"
)

// State is one of the five lifecycle states every component passes
// through.
type State int

const (
	Idle State = iota
	Configured
	Armed
	Running
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Configured:
		return "Configured"
	case Armed:
		return "Armed"
	case Running:
		return "Running"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TransitionError reports an illegal command given a component's current
// state.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("control: illegal transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return errs.ErrStateTransition }

// allowed encodes the table in spec.md §4.6. Error is reachable from any
// state; Reset returns Idle/Configured/Armed/Error to Idle.
var allowed = map[State]map[State]bool{
	Idle:       {Configured: true},
	Configured: {Idle: true, Armed: true, Running: true},
	Armed:      {Idle: true, Running: true, Configured: true},
	Running:    {Configured: true},
	Error:      {Idle: true},
}

// CanTransition reports whether moving from `from` to `to` is legal.
// Any state may transition to Error.
func CanTransition(from, to State) bool {
	if to == Error {
		return from != Error
	}
	return allowed[from][to]
}

// Watcher holds a component's current state and notifies observers of
// every change. Writers go through SetState or ForceError; readers call
// Snapshot from any task.
type Watcher struct {
	mu      sync.Mutex
	current State
	subs    []chan State
}

// NewWatcher returns a Watcher initialized to Idle, the state every
// component starts in at process start.
func NewWatcher() *Watcher {
	return &Watcher{current: Idle}
}

// Snapshot returns the current state without blocking.
func (w *Watcher) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// SetState validates the transition and, if legal, applies it and
// notifies subscribers. It returns a *TransitionError wrapping
// ErrStateTransition on an illegal move.
func (w *Watcher) SetState(to State) error {
	w.mu.Lock()
	from := w.current
	if from == to {
		w.mu.Unlock()
		return nil
	}
	if !CanTransition(from, to) {
		w.mu.Unlock()
		return &TransitionError{From: from, To: to}
	}
	w.current = to
	subs := w.subs
	w.mu.Unlock()

	notify(subs, to)
	return nil
}

// notify hands s to every subscriber, first discarding any value the
// subscriber has not read yet, so each channel holds the latest state.
func notify(subs []chan State, s State) {
	for _, ch := range subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// ForceError unconditionally moves to Error, bypassing CanTransition since
// Error is reachable from everywhere and a component must be able to fail
// itself out of a stuck intermediate state.
func (w *Watcher) ForceError() {
	w.mu.Lock()
	w.current = Error
	subs := w.subs
	w.mu.Unlock()
	notify(subs, Error)
}

// Subscribe returns a channel that receives every subsequent state change.
// The channel has capacity 1 and only ever holds the most recent value, so
// a slow reader observes the latest state rather than a backlog.
func (w *Watcher) Subscribe() <-chan State {
	ch := make(chan State, 1)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()
	return ch
}
