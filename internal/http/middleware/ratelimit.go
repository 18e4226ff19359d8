package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// idleBucketTTL is how long an unused bucket survives a sweep.
	idleBucketTTL = 10 * time.Minute
	// sweepEvery spaces out sweeps of idle buckets.
	sweepEvery = time.Minute
)

// KeyFunc maps a request to the identity whose bucket it draws from.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys authenticated requests by account ("user:<id>") and
// anonymous ones by client address ("ip:<addr>").
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if uid := c.GetString(UserIDKey); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token bucket per key. It protects the
// answer provider and the database from bursts; quota enforcement lives in
// the services.
type RateLimiter struct {
	limit rate.Limit
	burst int
	key   KeyFunc
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter refills rps tokens per second up to burst (at least 1).
func NewRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if key == nil {
		key = KeyByUserOrIP()
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		key:     key,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// limiter returns the bucket for key, creating it on first use. Idle buckets
// are swept at most once per sweepEvery.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= sweepEvery {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= idleBucketTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// Handler takes one token per request and answers 429 with Retry-After
// when the bucket is empty. Replays pass without spending a token.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IdempotencyFrom(c).Replay {
			c.Next()
			return
		}

		now := rl.now()
		res := rl.limiter(rl.key(c), now).ReserveN(now, 1)
		delay := res.DelayFrom(now)
		if res.OK() && delay == 0 {
			c.Next()
			return
		}
		res.CancelAt(now)

		rateLimited.WithLabelValues(routeOf(c)).Inc()
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(res.OK(), delay)))
		abortJSON(c, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please slow down.")
	}
}

// retryAfterSeconds rounds delay up to whole seconds, minimum 1. A
// reservation that can never succeed (zero refill) reports one minute.
func retryAfterSeconds(ok bool, delay time.Duration) int {
	if !ok || delay == rate.InfDuration {
		return 60
	}
	secs := int(math.Ceil(delay.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
