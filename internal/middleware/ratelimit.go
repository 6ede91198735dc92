package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"medical-insights-server/internal/utils"
)

const minIdleTTL = 10 * time.Minute

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter keeps one token bucket per key. Buckets idle long enough
// to have refilled completely are dropped during lookups.
type KeyedRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*keyedLimiter
	rate      rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewKeyedRateLimiter allows perMinute events per key with the given burst.
// perMinute <= 0 disables limiting.
func NewKeyedRateLimiter(perMinute int, burst int) *KeyedRateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst < 1 {
		burst = 1
	}
	idleTTL := minIdleTTL
	if perMinute > 0 {
		if refill := time.Duration(burst) * time.Minute / time.Duration(perMinute); refill > idleTTL {
			idleTTL = refill
		}
	}
	return &KeyedRateLimiter{
		limiters: make(map[string]*keyedLimiter),
		rate:     limit,
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// GetLimiter returns the limiter for key, creating it on first use.
func (l *KeyedRateLimiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	entry, exists := l.limiters[key]
	if !exists {
		entry = &keyedLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// sweep runs at most once per idleTTL. Caller holds mu.
func (l *KeyedRateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= l.idleTTL {
			delete(l.limiters, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *KeyedRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// ByParam limits requests per value of the given path parameter.
func (l *KeyedRateLimiter) ByParam(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := l.GetLimiter(c.Param(param))
		if !limiter.Allow() {
			retry := time.Second
			if l.rate != rate.Inf && l.rate > 0 {
				if d := time.Duration(float64(time.Second) / float64(l.rate)); d > retry {
					retry = d
				}
			}
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			utils.TooManyRequests(c, "Analysis was triggered too recently for this patient, try again later.")
			c.Abort()
			return
		}
		c.Next()
	}
}
