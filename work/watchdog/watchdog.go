// Package watchdog aborts cache builds that stop making progress. It wraps
// the cache progress event stream: a timeout without any SHOW while armed
// fires the abort callback.
package watchdog

import (
	"sync"
	"time"
)

type State int

const (
	STOPPED  State = iota // initial and final
	DISARMED              // after STOP: a completed build must not fire later
	ARMED                 // after START or SHOW
)

// Watchdog is a three-state progress watchdog.
type Watchdog struct {
	timeout time.Duration
	onStall func()

	mu    sync.Mutex
	state State
	timer *time.Timer
}

// New returns a stopped watchdog. onStall runs on the timer goroutine when
// the timeout elapses while armed.
func New(timeout time.Duration, onStall func()) *Watchdog {
	return &Watchdog{timeout: timeout, onStall: onStall}
}

// Arm transitions to ARMED and (re)starts the stall timer. Called on START
// and on every SHOW.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = ARMED
	if w.timer == nil {
		w.timer = time.AfterFunc(w.timeout, w.fire)
	} else {
		w.timer.Reset(w.timeout)
	}
}

// Disarm transitions to DISARMED and stops the timer. Called on STOP so a
// legitimately completed build does not later trigger the timeout.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == ARMED {
		w.state = DISARMED
	}
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Stop returns the watchdog to its final STOPPED state.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = STOPPED
	if w.timer != nil {
		w.timer.Stop()
	}
}

// State returns the current state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	armed := w.state == ARMED
	if armed {
		w.state = DISARMED
	}
	w.mu.Unlock()
	if armed && w.onStall != nil {
		w.onStall()
	}
}
