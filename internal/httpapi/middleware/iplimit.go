package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/suPer8Hu/book-chat/internal/common"
)

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPLimiter is a token-bucket flood guard per client address, in front of every route.
// It is independent of the per-identity ask window.
type IPLimiter struct {
	rate  rate.Limit
	burst int
	idle  time.Duration

	mu      sync.Mutex
	entries map[string]*ipEntry

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewIPLimiter(perSec float64, burst int, cleanupEvery time.Duration) *IPLimiter {
	if burst <= 0 {
		burst = 1
	}
	if cleanupEvery <= 0 {
		cleanupEvery = 5 * time.Minute
	}
	limit := rate.Limit(perSec)
	if perSec <= 0 {
		limit = rate.Inf
	}
	l := &IPLimiter{
		rate:    limit,
		burst:   burst,
		idle:    cleanupEvery,
		entries: make(map[string]*ipEntry),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.cleanupLoop(cleanupEvery)
	return l
}

func (l *IPLimiter) Allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	e, ok := l.entries[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[ip] = e
	}
	e.lastAccess = now
	l.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

func (l *IPLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			common.Fail(c, http.StatusTooManyRequests, common.CodeRateLimited, "too many requests")
			return
		}
		c.Next()
	}
}

func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *IPLimiter) cleanupLoop(every time.Duration) {
	defer close(l.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case now := <-t.C:
			l.mu.Lock()
			for ip, e := range l.entries {
				if now.Sub(e.lastAccess) > l.idle {
					delete(l.entries, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (l *IPLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.done
}
