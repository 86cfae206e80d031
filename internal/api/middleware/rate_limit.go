package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"keyward/internal/api/handlers"
	"keyward/internal/config"
)

// RateLimiter keeps one token bucket per client IP in a bounded, expiring cache.
type RateLimiter struct {
	scope string
	ips   *expirable.LRU[string, *rate.Limiter]
	mu    sync.Mutex
	r     rate.Limit
	b     int
}

func NewRateLimiter(scope string, cfg config.RateLimitConfig) *RateLimiter {
	size := cfg.CacheSize
	if size <= 0 {
		size = 5000
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &RateLimiter{
		scope: scope,
		ips:   expirable.NewLRU[string, *rate.Limiter](size, nil, cfg.CacheTTL),
		r:     rate.Limit(cfg.RequestsPerSecond),
		b:     burst,
	}
}

func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.ips.Get(ip); ok {
		return limiter
	}

	limiter := rate.NewLimiter(rl.r, rl.b)
	rl.ips.Add(ip, limiter)
	return limiter
}

// Allow consumes a token for ip. When none is available it returns the wait
// until the next one without consuming it.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	reservation := rl.GetLimiter(ip).Reserve()
	if !reservation.OK() {
		return false, time.Second
	}
	delay := reservation.Delay()
	if delay == 0 {
		return true, 0
	}
	reservation.Cancel()
	return false, delay
}

// RateLimitMiddleware throttles requests per client IP. Each call owns its own
// buckets, so route groups are limited independently.
func RateLimitMiddleware(scope string, cfg config.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rl := NewRateLimiter(scope, cfg)
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ok, wait := rl.Allow(ip); !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			slog.Warn("Rate limit exceeded", "scope", rl.scope, "ip", ip, "retry_after", seconds)
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, handlers.Envelope(false, "Too many requests"))
			return
		}

		c.Next()
	}
}
