package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"vasset/extractor-service/internal/config"
	"vasset/extractor-service/internal/models"
)

// RateLimiter 限流器
type RateLimiter struct {
	globalLimiter *rate.Limiter
	ipLimiters    sync.Map
	ipRPS         rate.Limit
	ipBurst       int
}

// NewRateLimiter 创建限流器
func NewRateLimiter(cfg *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.Burst*2),
		ipRPS:         rate.Limit(cfg.IPRPS),
		ipBurst:       cfg.Burst,
	}
}

func (rl *RateLimiter) getIPLimiter(ip string) *rate.Limiter {
	if limiter, ok := rl.ipLimiters.Load(ip); ok {
		return limiter.(*rate.Limiter)
	}
	limiter, _ := rl.ipLimiters.LoadOrStore(ip, rate.NewLimiter(rl.ipRPS, rl.ipBurst))
	return limiter.(*rate.Limiter)
}

// IPRateLimit IP 限流中间件
func IPRateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.globalLimiter.Allow() {
			models.TooManyRequests(c, "global rate limit exceeded, please try again later")
			c.Abort()
			return
		}

		if !rl.getIPLimiter(c.ClientIP()).Allow() {
			models.TooManyRequests(c, "ip rate limit exceeded, please try again later")
			c.Abort()
			return
		}

		c.Next()
	}
}
