package webserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const rateLimitMessage = "リクエストが多すぎます。しばらくしてから再度お試しください。"

// RateLimiter is a sliding-window counter of chat turns per client IP.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	rate     int           // turns per window
	window   time.Duration // time window
	now      func() time.Time
}

func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		rate:     rate,
		window:   window,
		now:      time.Now,
	}
}

// Allow records a turn for key and reports whether it fits in the window.
// Expired keys are swept on the way.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for k, times := range rl.requests {
		valid := recent(times, now, rl.window)
		if len(valid) == 0 {
			delete(rl.requests, k)
		} else {
			rl.requests[k] = valid
		}
	}

	if len(rl.requests[key]) >= rl.rate {
		return false
	}
	rl.requests[key] = append(rl.requests[key], now)
	return true
}

func recent(times []time.Time, now time.Time, window time.Duration) []time.Time {
	var out []time.Time
	for _, t := range times {
		if now.Sub(t) < window {
			out = append(out, t)
		}
	}
	return out
}

// RateLimitMiddleware answers 429 with an error body once a client exceeds
// the limiter's rate.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": rateLimitMessage})
			return
		}
		c.Next()
	}
}
