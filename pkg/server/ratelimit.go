package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tokmz/warroom/pkg/logger"
)

// upgradeLimiter 按客户端 IP 限制握手频率，防止大量客户端同时重连时压垮中继
//
// 桶存放在无后台清理的 go-cache 中，过期桶在请求路径上按 cleanupEvery 间隔批量删除。
type upgradeLimiter struct {
	rate         rate.Limit
	burst        int
	buckets      *gocache.Cache
	cleanupEvery time.Duration
	now          func() time.Time

	mu          sync.Mutex
	lastCleanup time.Time
}

func newUpgradeLimiter(perSecond float64, burst int, expiry time.Duration) *upgradeLimiter {
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	return &upgradeLimiter{
		rate:         rate.Limit(perSecond),
		burst:        burst,
		buckets:      gocache.New(expiry, 0),
		cleanupEvery: expiry,
		now:          time.Now,
		lastCleanup:  time.Now(),
	}
}

func (l *upgradeLimiter) allow(key string) bool {
	now := l.now()
	l.maybeCleanup(now)

	if v, ok := l.buckets.Get(key); ok {
		b := v.(*rate.Limiter)
		l.buckets.SetDefault(key, b)
		return b.AllowN(now, 1)
	}
	b := rate.NewLimiter(l.rate, l.burst)
	if err := l.buckets.Add(key, b, gocache.DefaultExpiration); err != nil {
		// 并发创建，使用已存在的桶
		if v, ok := l.buckets.Get(key); ok {
			b = v.(*rate.Limiter)
		}
	}
	return b.AllowN(now, 1)
}

func (l *upgradeLimiter) maybeCleanup(now time.Time) {
	l.mu.Lock()
	due := now.Sub(l.lastCleanup) >= l.cleanupEvery
	if due {
		l.lastCleanup = now
	}
	l.mu.Unlock()
	if due {
		l.buckets.DeleteExpired()
	}
}

// middleware 超限返回 429，客户端按退避策略稍后重试
func (l *upgradeLimiter) middleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !l.allow(key) {
			log.Warn("upgrade rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request.URL.Path),
				zap.Float64("rate", float64(l.rate)),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
