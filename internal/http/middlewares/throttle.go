package middlewares

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Throttle is a per-actor token bucket for high-frequency staff endpoints
// such as scanning. Idle buckets are dropped after idleTTL.
type Throttle struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewThrottle(perSecond float64, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}

	return &Throttle{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		buckets: make(map[string]*bucket),
	}
}

func (t *Throttle) allow(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now

	if len(t.buckets) > 1024 {
		for k, v := range t.buckets {
			if now.Sub(v.lastSeen) > t.idleTTL {
				delete(t.buckets, k)
			}
		}
	}

	return b.lim.AllowN(now, 1)
}

func (t *Throttle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := UserIDFromContext(c)
		if !ok {
			key = "ip:" + clientIP(c)
		}

		if !t.allow(key, time.Now()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "throttled",
					"message": "Scanning too fast. Slow down.",
				},
			})
			return
		}

		c.Next()
	}
}
