package devserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultLoginAttemptsPerMinute = 20

// limiter counts requests per client in fixed one-minute windows. Stale
// clients are pruned while serving requests.
type limiter struct {
	mu        sync.Mutex
	clients   map[string]*clientWindow
	perMinute int
	lastPrune time.Time
	now       func() time.Time
}

type clientWindow struct {
	start    time.Time
	requests int
}

func newLimiter(perMinute int) *limiter {
	if perMinute <= 0 {
		perMinute = defaultLoginAttemptsPerMinute
	}
	return &limiter{
		clients:   make(map[string]*clientWindow),
		perMinute: perMinute,
		now:       time.Now,
	}
}

// allow reports whether client may make another request in its window.
func (l *limiter) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > 5*time.Minute {
		l.pruneLocked(now)
	}

	w, ok := l.clients[client]
	if !ok || now.Sub(w.start) > time.Minute {
		l.clients[client] = &clientWindow{start: now, requests: 1}
		return true
	}
	w.requests++
	return w.requests <= l.perMinute
}

func (l *limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-10 * time.Minute)
	for ip, w := range l.clients {
		if w.start.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
	l.lastPrune = now
}

func (l *limiter) activeClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// middleware rejects clients over the limit with 429 and a message body.
func (l *limiter) middleware(message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			respondMessage(c, http.StatusTooManyRequests, message)
			c.Abort()
			return
		}
		c.Next()
	}
}
