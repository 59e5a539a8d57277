// Package ratelimit implements a per-session sliding-window-ish message rate
// limiter. State is entirely in-memory and scoped to a single session, with
// no background timer: the window advances lazily on Allow().
package ratelimit

import (
	"sync"
	"time"
)

// Rule configures the limiter: at most MaxCount messages per Period.
type Rule struct {
	Period   time.Duration
	MaxCount int
}

// Limiter enforces one Rule for one session. The zero value is not usable;
// construct with New.
type Limiter struct {
	mu          sync.Mutex
	rule        Rule
	windowStart time.Time
	count       int
}

// New returns a Limiter enforcing rule, with no window opened yet.
func New(rule Rule) *Limiter {
	return &Limiter{rule: rule}
}

// Allow reports whether another message may be admitted now, advancing the
// window if it has expired. A limiter with MaxCount <= 0 always rejects.
func (l *Limiter) Allow() bool {
	return l.allowAt(time.Now())
}

func (l *Limiter) allowAt(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.rule.Period {
		l.windowStart = now
		l.count = 0
	}
	l.count++
	return l.count <= l.rule.MaxCount
}
