// Package ratelimit implements a process-local fixed-window request counter.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per key in fixed, non-overlapping windows.
// Check-then-increment happens under one mutex, so concurrent callers can
// never push a window past its limit.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window

	sweepEvery time.Duration
	stopOnce   sync.Once
	stopCh     chan struct{}
	done       chan struct{}
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithJanitor evicts elapsed windows every interval. Close stops it.
func WithJanitor(interval time.Duration) Option {
	return func(l *Limiter) { l.sweepEvery = interval }
}

func New(limit int, d time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if d <= 0 {
		d = DefaultWindow
	}
	l := &Limiter{
		limit:   limit,
		window:  d,
		now:     time.Now,
		windows: make(map[string]*window),
		stopCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.sweepEvery > 0 {
		l.done = make(chan struct{})
		go l.cleanupLoop(l.sweepEvery)
	}
	return l
}

// Allow records a request for key and reports whether it is within the limit.
// A rejected request does not count against the window.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// RetryAfter is how long key must wait before its window resets; zero if it may proceed now.
func (l *Limiter) RetryAfter(key string) time.Duration {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) || w.count < l.limit {
		return 0
	}
	return w.resetAt.Sub(now)
}

func (l *Limiter) Limit() int { return l.limit }

// Len is the number of tracked windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Sweep removes windows that have elapsed at now.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, k)
			n++
		}
	}
	return n
}

func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	if l.done != nil {
		<-l.done
	}
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep(l.now())
		case <-l.stopCh:
			return
		}
	}
}
