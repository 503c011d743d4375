// Package ratelimit provides sliding-window rate limiting keyed by
// provider. Tools that talk to the same upstream share one window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"fathom/internal/logging"
)

// Clock abstracts time for tests.
type Clock func() time.Time

// Limiter is a sliding-window limiter. It records the timestamp of every
// admitted call and admits a new one only while fewer than maxCalls
// timestamps fall inside the window ending now.
type Limiter struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	calls    []time.Time
	now      Clock
}

// NewLimiter creates a limiter admitting maxCalls per window.
func NewLimiter(maxCalls int, window time.Duration) *Limiter {
	return NewLimiterWithClock(maxCalls, window, time.Now)
}

// NewLimiterWithClock creates a limiter with an injected clock.
func NewLimiterWithClock(maxCalls int, window time.Duration, now Clock) *Limiter {
	return &Limiter{
		maxCalls: maxCalls,
		window:   window,
		calls:    make([]time.Time, 0, maxCalls),
		now:      now,
	}
}

// Acquire admits the call if the window has room, recording it
// atomically with the check. It never blocks; a full window is reported
// immediately with the wait until the oldest entry expires.
func (l *Limiter) Acquire() (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	if len(l.calls) >= l.maxCalls {
		retryAfter = l.calls[0].Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter
	}
	l.calls = append(l.calls, now)
	return true, 0
}

// Wait blocks until a slot is admitted or ctx is done. Each refusal
// sleeps for the reported retry interval before trying again.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		ok, retryAfter := l.Acquire()
		if ok {
			return nil
		}
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Remaining reports how many calls the window currently has room for.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return l.maxCalls - len(l.calls)
}

// evict drops timestamps older than the window. Callers hold the mutex.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// Manager hands out one limiter per provider key, creating them lazily.
// Pass the manager explicitly to whoever needs it; there is no package
// level instance.
type Manager struct {
	mu        sync.Mutex
	limiters  map[string]*Limiter
	maxCalls  int
	window    time.Duration
	overrides map[string]int
	now       Clock
}

// NewManager creates a manager with a default window shared by all
// providers and optional per-provider call-count overrides.
func NewManager(maxCalls int, window time.Duration, overrides map[string]int) *Manager {
	return &Manager{
		limiters:  make(map[string]*Limiter),
		maxCalls:  maxCalls,
		window:    window,
		overrides: overrides,
		now:       time.Now,
	}
}

// SetLimit overrides the call count for one provider. An existing
// limiter for that provider is rebuilt on next use with a clean window.
func (m *Manager) SetLimit(provider string, maxCalls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overrides == nil {
		m.overrides = make(map[string]int)
	}
	m.overrides[provider] = maxCalls
	delete(m.limiters, provider)
}

// SetClock replaces the clock used for limiters created after the call.
func (m *Manager) SetClock(now Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Acquire admits a call for the given provider. An empty provider means
// the tool is local and is never limited.
func (m *Manager) Acquire(provider string) (bool, time.Duration) {
	if provider == "" {
		return true, 0
	}
	lim := m.limiterFor(provider)
	ok, retry := lim.Acquire()
	if !ok {
		logging.Limiter("provider %q window full, retry after %s", provider, retry)
	}
	return ok, retry
}

func (m *Manager) limiterFor(provider string) *Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[provider]; ok {
		return lim
	}
	calls := m.maxCalls
	if override, ok := m.overrides[provider]; ok && override > 0 {
		calls = override
	}
	lim := NewLimiterWithClock(calls, m.window, m.now)
	m.limiters[provider] = lim
	logging.LimiterDebug("created limiter for provider %q: %d calls per %s", provider, calls, m.window)
	return lim
}
