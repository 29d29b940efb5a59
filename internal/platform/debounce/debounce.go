// Package debounce coalesces bursts of triggers into one delayed call
package debounce

import (
	"math/rand/v2"
	"sync"
	"time"
)

type stopper interface{ Stop() bool }

// seams for tests
var (
	afterFunc = func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }
	jitter    = func(n int64) int64 { return rand.Int64N(n) }
)

// Timer runs fn once after a quiet period. Every Trigger cancels the pending
// run and schedules a new one with a delay drawn uniformly from [min, max].
// fn runs on its own goroutine and must do its own locking.
type Timer struct {
	mu      sync.Mutex
	min     time.Duration
	max     time.Duration
	fn      func()
	pending stopper
	gen     uint64
	stopped bool
}

// New returns an idle Timer. max below min is raised to min.
func New(min, max time.Duration, fn func()) *Timer {
	if max < min {
		max = min
	}
	return &Timer{min: min, max: max, fn: fn}
}

// Delay draws the next delay
func (t *Timer) Delay() time.Duration {
	span := int64(t.max - t.min)
	if span <= 0 {
		return t.min
	}
	return t.min + time.Duration(jitter(span+1))
}

// Trigger (re)arms the timer; a no-op once stopped
func (t *Timer) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.cancelLocked()
	gen := t.gen
	t.pending = afterFunc(t.Delay(), func() { t.fire(gen) })
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.stopped {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	t.gen++
	t.mu.Unlock()
	t.fn()
}

// Cancel drops a pending run without disabling the timer. It reports
// whether a run was pending.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelLocked()
}

func (t *Timer) cancelLocked() bool {
	if t.pending == nil {
		return false
	}
	t.pending.Stop()
	t.pending = nil
	// a callback already past Stop sees a new generation and backs off
	t.gen++
	return true
}

// Stop cancels any pending run and disables further triggers
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return t.cancelLocked()
}

// Pending reports whether a run is scheduled
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}
