// Package reconnect implements the fixed-interval, bounded-attempt retry
// driver that re-dials the socket after an unexpected close.
package reconnect

import (
	"sync"
	"time"
)

const (
	DefaultInterval    = 3 * time.Second
	DefaultMaxAttempts = 5
)

// Decision is the outcome of reporting an unexpected close to the policy.
type Decision struct {
	Scheduled bool
	// Attempt is the 1-based attempt number that was scheduled.
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}

// Exhausted reports whether the policy refused to schedule another attempt.
func (d Decision) Exhausted() bool {
	return !d.Scheduled
}

// Policy owns the reconnect counter and at most one outstanding timer.
type Policy struct {
	mu          sync.Mutex
	clock       Clock
	interval    time.Duration
	maxAttempts int
	attempts    int

	timer Timer
	// gen invalidates callbacks of timers that fired concurrently with Cancel/Reset.
	gen uint64
}

// NewPolicy builds a policy. A non-positive interval uses DefaultInterval, a
// negative maxAttempts uses DefaultMaxAttempts. maxAttempts == 0 disables retries.
func NewPolicy(interval time.Duration, maxAttempts int, clock Clock) *Policy {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts < 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Policy{
		clock:       clock,
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

// OnUnexpectedClose increments the counter and schedules fire after the fixed
// interval, unless the attempt budget is already spent. fire receives the
// generation it was scheduled under; callers holding their own lock must
// re-check it with Current, since Cancel may run between the timer firing and
// fire acquiring that lock.
func (p *Policy) OnUnexpectedClose(fire func(gen uint64)) Decision {
	if p == nil {
		return Decision{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attempts >= p.maxAttempts {
		return Decision{Attempt: p.attempts, MaxAttempts: p.maxAttempts}
	}
	p.attempts++
	p.stopTimerLocked()
	gen := p.gen
	p.timer = p.clock.AfterFunc(p.interval, func() {
		p.mu.Lock()
		if gen != p.gen {
			p.mu.Unlock()
			return
		}
		p.timer = nil
		p.mu.Unlock()
		if fire != nil {
			fire(gen)
		}
	})
	return Decision{
		Scheduled:   true,
		Attempt:     p.attempts,
		MaxAttempts: p.maxAttempts,
		Delay:       p.interval,
	}
}

// Reset zeroes the counter and cancels any outstanding timer.
func (p *Policy) Reset() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.attempts = 0
	p.stopTimerLocked()
	p.mu.Unlock()
}

// Cancel stops the outstanding timer, if any. Safe to call repeatedly.
func (p *Policy) Cancel() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.stopTimerLocked()
	p.mu.Unlock()
}

// Current reports whether gen still identifies the latest scheduled timer,
// i.e. no Cancel or Reset has happened since it was armed.
func (p *Policy) Current(gen uint64) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.gen
}

// Attempts returns the number of attempts scheduled since the last reset.
func (p *Policy) Attempts() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Pending reports whether a reconnect timer is outstanding.
func (p *Policy) Pending() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

func (p *Policy) MaxAttempts() int {
	if p == nil {
		return 0
	}
	return p.maxAttempts
}

func (p *Policy) Interval() time.Duration {
	if p == nil {
		return 0
	}
	return p.interval
}

func (p *Policy) stopTimerLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
