package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// identityLimiter rate-limits mutating requests per caller identity using a
// token bucket per identity: permits tokens refilled over window.
type identityLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIdentityLimiter(permits int, window time.Duration) *identityLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &identityLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(permits) / window.Seconds()),
		burst:    permits,
	}
}

func (l *identityLimiter) limiterFor(identity string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[identity]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[identity] = lim
	}
	return lim
}

// middleware applies the limiter to mutating methods only; reads and the
// WebSocket upgrade pass through.
func (l *identityLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		default:
			c.Next()
			return
		}
		if !l.limiterFor(identityFor(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
