package game

import (
	"context"
	"sync"
	"time"
)

// RoundTimer counts down one phase at one second resolution. onExpire runs at most once,
// from the goroutine driving Tick, and never after Stop.
type RoundTimer struct {
	mu        sync.Mutex
	remaining int
	stopped   bool
	fired     bool
	onExpire  func()
	done      chan struct{}
}

func NewRoundTimer(seconds int, onExpire func()) *RoundTimer {
	return &RoundTimer{remaining: seconds, onExpire: onExpire, done: make(chan struct{})}
}

// Run ticks every second until the timer expires, is stopped, or ctx ends.
func (t *RoundTimer) Run(ctx context.Context) {
	tk := time.NewTicker(time.Second)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.done:
			return
		case <-tk.C:
			if t.Tick() {
				return
			}
		}
	}
}

// Tick advances the countdown by one second and reports whether the timer is finished.
func (t *RoundTimer) Tick() bool {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return true
	}
	if t.remaining > 0 {
		t.remaining--
	}
	if t.remaining > 0 {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	close(t.done)
	fn := t.onExpire
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

// Extend adds seconds to the remaining time. It has no effect once the timer fired or stopped.
func (t *RoundTimer) Extend(seconds int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired || seconds <= 0 {
		return false
	}
	t.remaining += seconds
	return true
}

func (t *RoundTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *RoundTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return
	}
	t.stopped = true
	close(t.done)
}

func (t *RoundTimer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}
