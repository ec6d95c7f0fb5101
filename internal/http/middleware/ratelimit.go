// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory, per-identity token-bucket rate limiter
// built on golang.org/x/time/rate. A request may be charged against several
// buckets (typically its X-User-ID and its client IP) and is rejected when any
// of them is empty. Idle buckets are evicted opportunistically and idempotent
// replays (see IdempotencyValidator) skip limiting.
//
// The limiter is process-local; it guards the upstream product database and
// the store against a single noisy client, it is not an authorization layer.
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

// keyFunc maps a request to its bucket identity.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by "user:<X-User-ID>" when UserIdentity stored
// one, else by "ip:<client ip>".
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

// KeyByIP keys buckets by client IP only. X-User-ID is caller-chosen, so
// pairing this with KeyByUserOrIP stops header rotation from minting fresh
// buckets.
func KeyByIP() keyFunc {
	return func(c *gin.Context) string {
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFns   []keyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
	now      func() time.Time
}

// NewRateLimiter builds a limiter refilling rps tokens per second with the
// given burst (coerced to at least 1). Each request is charged against the
// bucket of keyFn and of every extra key function; duplicate keys count once.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc, extra ...keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFns:   append([]keyFunc{keyFn}, extra...),
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

// getVisitor returns the limiter for key, creating it if absent. Every 5000
// lookups idle buckets are swept first, so a stale bucket can be evicted even
// when it is the one being fetched.
func (rl *RateLimiter) getVisitor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay that should not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns the limiting middleware. Rejected requests get 429 with a
// Retry-After (whole seconds until the next token) and the standard envelope.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		seen := make(map[string]struct{}, len(rl.keyFns))
		for _, fn := range rl.keyFns {
			key := fn(c)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			lim := rl.getVisitor(key, now)
			if !lim.AllowN(now, 1) {
				rl.reject(c, lim, now)
				return
			}
		}
		c.Next()
	}
}

func (rl *RateLimiter) reject(c *gin.Context, lim *rate.Limiter, now time.Time) {
	c.Header("Retry-After", strconv.Itoa(retryAfter(lim, now)))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "rate_limited",
		"message":    "rate limit exceeded",
	})
}

// retryAfter estimates the wait for one token without consuming it.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return 1
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
