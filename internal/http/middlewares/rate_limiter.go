package middlewares

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/eventops/internal/audit"
	"github.com/geocoder89/eventops/internal/observability"
	"github.com/geocoder89/eventops/internal/ratelimit"
)

type AdminLimit struct {
	Action string
	Max    int
	Window time.Duration
}

// AdminRateLimit guards an expensive admin action per acting user, keyed
// admin:<id>:<action>. A rejection is logged and audited with its resetAt.
// When the limiter itself errors the request is let through.
func AdminRateLimit(l ratelimit.Limiter, limit AdminLimit, sink *audit.Sink, prom *observability.Prom) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := UserIDFromContext(c)
		if !ok {
			actor = "ip:" + clientIP(c)
		}

		key := ratelimit.Key(actor, limit.Action)
		ctx := c.Request.Context()

		d, err := l.Allow(ctx, key, limit.Max, limit.Window)

		if err != nil {
			slog.Default().WarnContext(ctx, "ratelimit.error",
				"key", key,
				"err", err,
			)
			c.Next()
			return
		}

		if d.Allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			c.Next()
			return
		}

		slog.Default().WarnContext(ctx, "ratelimit.rejected",
			"key", key,
			"action", limit.Action,
			"reset_at", d.ResetAt,
		)

		sink.Record(ctx, audit.Entry{
			ActorID: actor,
			Action:  audit.ActionRateLimitReject,
			After:   audit.Summary(gin.H{"action": limit.Action, "resetAt": d.ResetAt}),
		})
		prom.RateLimited(limit.Action)

		retryAfter := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
		if retryAfter < 0 {
			retryAfter = 0
		}

		reqID, _ := c.Get(CtxRequestID)

		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{
				"code":      "rate_limited",
				"message":   "Too many requests. Please try again shortly.",
				"requestId": reqID,
				"details": gin.H{
					"resetAt": d.ResetAt.UTC(),
				},
			},
		})
	}
}

func clientIP(c *gin.Context) string {
	// Gin's ClientIP respects X-Forwarded-For / X-Real-IP if configured.
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}
