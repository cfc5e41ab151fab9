// Package ratelimit implements sliding-window admission control for calls
// to the people source. One Limiter instance is shared by every call site
// (search, enrichment, health checks) so the external per-minute ceiling
// holds across the whole process.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/prospect-cli/internal/resilience"
)

// Limiter admits at most max calls within any trailing window. State is an
// ordered slice of admission timestamps; expired entries are pruned on every
// admission check. Check-and-record is a single step under the mutex so
// concurrent callers can never jointly overshoot the limit.
type Limiter struct {
	mu         sync.Mutex
	max        int
	window     time.Duration
	admissions []time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a Limiter admitting maxRequests per window.
func New(maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		max:     maxRequests,
		window:  window,
		nowFunc: time.Now,
	}
}

// TryAcquire records an admission if the trailing window has room and
// reports whether it did. Never blocks.
func (l *Limiter) TryAcquire() bool {
	ok, _ := l.admit()
	return ok
}

// Acquire blocks until an admission is granted or ctx is done. The wake-up
// is scheduled for the instant the oldest in-window admission expires, never
// earlier. A context deadline that cannot be met returns a
// resilience.RateLimitError without sleeping out the clock.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		ok, wait := l.admit()
		if ok {
			return nil
		}

		if deadline, has := ctx.Deadline(); has && l.nowFunc().Add(wait).After(deadline) {
			return &resilience.RateLimitError{Wait: wait, Err: context.DeadlineExceeded}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &resilience.RateLimitError{Wait: wait, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

// Reset clears all recorded admissions. Test hook, not part of the
// production flow.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.admissions = l.admissions[:0]
}

// InWindow returns the number of admissions currently inside the trailing
// window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.nowFunc())
	return len(l.admissions)
}

// Limit returns the configured ceiling and window.
func (l *Limiter) Limit() (maxRequests int, window time.Duration) {
	return l.max, l.window
}

// admit is the atomic check-and-record step. When denied it returns the
// time until the oldest in-window admission leaves the window.
func (l *Limiter) admit() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	l.prune(now)

	if len(l.admissions) < l.max {
		l.admissions = append(l.admissions, now)
		return true, 0
	}

	wait := l.admissions[0].Add(l.window).Sub(now)
	if wait <= 0 {
		// The oldest entry expires this instant; re-check immediately
		// but never with a zero sleep.
		wait = time.Millisecond
	}
	return false, wait
}

// prune drops admissions at or beyond window age. Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.admissions) && !l.admissions[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.admissions = append(l.admissions[:0], l.admissions[i:]...)
	}
}
