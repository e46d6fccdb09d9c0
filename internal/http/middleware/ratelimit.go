// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the in-memory token-bucket limiter for the REST API.
// Buckets are keyed per authenticated user (falling back to client IP on
// public routes such as login) and idle buckets are collected
// opportunistically. Idempotent replays flagged by IdempotencyValidator skip
// the limiter.
//
// The limiter is process-local, matching the single-node realtime hub.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var rateLimited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the REST rate limiter.",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(rateLimited)
}

// KeyFunc selects the identity used to key a rate-limit bucket. Keys carry a
// "user:" or "ip:" prefix.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys by the authenticated user id, or the client IP when the
// request did not pass through Auth.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

const (
	// bucketIdleTTL is how long an unused bucket survives a sweep.
	bucketIdleTTL = 10 * time.Minute
	// sweepEvery is the number of lookups between sweeps.
	sweepEvery = 5000
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	idleTTL time.Duration
	lookups uint64
}

// NewRateLimiter builds a limiter allowing rps tokens per second with the
// given burst (coerced to at least 1).
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if keyFn == nil {
		keyFn = KeyByUserOrIP()
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   max(burst, 1),
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		idleTTL: bucketIdleTTL,
	}
}

// limiterFor returns the bucket for key, creating it if absent. Every
// sweepEvery lookups idle buckets are dropped first, so a stale bucket is
// replaced even when it is the one being fetched.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.lookups++; rl.lookups >= sweepEvery {
		rl.sweepLocked(now)
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) >= rl.idleTTL {
			delete(rl.buckets, k)
		}
	}
	rl.lookups = 0
}

// retryAfter is the whole number of seconds until one token refills.
func (rl *RateLimiter) retryAfter() string {
	if rl.rps <= 0 || math.IsInf(float64(rl.rps), 1) {
		return "1"
	}
	secs := int(math.Ceil(1 / float64(rl.rps)))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay.
func IsRateBypass(c *gin.Context) bool { return c.GetBool(ctxKeyRateBypass) }

// Handler returns the limiting middleware. Denied requests get 429
// rate_limited with a Retry-After header.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		if rl.limiterFor(key).Allow() {
			c.Next()
			return
		}

		kind := "ip"
		if strings.HasPrefix(key, "user:") {
			kind = "user"
		}
		rateLimited.WithLabelValues(kind).Inc()
		LoggerFrom(c).Debug().Str("bucket", kind).Msg("rate limited")

		c.Header("Retry-After", rl.retryAfter())
		abort(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	}
}
