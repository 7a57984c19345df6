package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const ginIdentityKey = "identity"

// Middleware requires a valid bearer token and stores the caller on the request context.
func Middleware(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth verifier not configured"})
			return
		}
		token, problem := bearerToken(c.GetHeader("Authorization"))
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": problem})
			return
		}

		id, errVerify := verifier.Verify(token)
		if errVerify != nil {
			log.WithError(errVerify).WithField("path", c.Request.URL.Path).Debug("auth failure")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}

		c.Set(ginIdentityKey, id)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// Current returns the caller attached by Middleware.
func Current(c *gin.Context) (Identity, bool) {
	if c == nil {
		return Identity{}, false
	}
	if v, ok := c.Get(ginIdentityKey); ok {
		if id, okID := v.(Identity); okID {
			return id, true
		}
	}
	return FromContext(c.Request.Context())
}

// bearerToken extracts the token from an Authorization header. The scheme is
// matched case-insensitively. A non-empty problem describes why it failed.
func bearerToken(header string) (token, problem string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", "authentication required"
	}
	scheme, rest, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", "bearer token required"
	}
	if token = strings.TrimSpace(rest); token == "" {
		return "", "bearer token required"
	}
	return token, ""
}
