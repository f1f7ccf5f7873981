package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ByIP charges requests to the client IP.
func ByIP(c *gin.Context) string { return c.ClientIP() }

// ByNode charges bridge requests to the authenticated node, falling back to
// the client IP before authentication.
func ByNode(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return "node:" + claims.NodeID
	}
	return c.ClientIP()
}

// RateLimit provides per-key token-bucket rate limiting.
// r = requests per second, b = burst size. A nil key charges by IP.
func RateLimit(r rate.Limit, b int, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ByIP
	}
	limiters := &sync.Map{}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-10 * time.Minute)
			limiters.Range(func(k, v interface{}) bool {
				il := v.(*ipLimiter)
				il.mu.Lock()
				stale := il.lastSeen.Before(cutoff)
				il.mu.Unlock()
				if stale {
					limiters.Delete(k)
				}
				return true
			})
		}
	}()

	getLimiter := func(k string) *rate.Limiter {
		v, _ := limiters.LoadOrStore(k, &ipLimiter{limiter: rate.NewLimiter(r, b)})
		il := v.(*ipLimiter)
		il.mu.Lock()
		il.lastSeen = time.Now()
		il.mu.Unlock()
		return il.limiter
	}

	return func(c *gin.Context) {
		if !getLimiter(key(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
