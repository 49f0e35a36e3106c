package auth

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	limiters sync.Map
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perMinute requests per IP with the given burst.
// perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{limit: rate.Inf}
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &RateLimiter{limit: rate.Every(time.Minute / time.Duration(perMinute)), burst: burst}
}

func (r *RateLimiter) limiter(ip string) *rate.Limiter {
	if val, ok := r.limiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}
	val, _ := r.limiters.LoadOrStore(ip, rate.NewLimiter(r.limit, r.burst))
	return val.(*rate.Limiter)
}

// Allow reports whether a request from ip may proceed now.
func (r *RateLimiter) Allow(ip string) bool {
	return r.limiter(ip).Allow()
}

// Middleware rejects requests over the limit with 429.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "Too many requests"})
			return
		}
		c.Next()
	}
}
