package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/casedesk/casedesk-api/internal/identity"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Middleware enforces per-user limits on authenticated routes. It must run after
// identity.Middleware; requests without a caller pass through.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		id, ok := identity.Current(c)
		if !ok {
			c.Next()
			return
		}
		decision := ResolveLimit(m.Settings(), c.Request.Method)
		key := KeyForDecision(id.UserID, decision)
		if key == "" {
			c.Next()
			return
		}
		result, errAllow := m.Allow(c.Request.Context(), key, decision)
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit: check failed")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Reset.IsZero() {
			c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
		}
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryIn)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// retryAfterSeconds rounds d up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
