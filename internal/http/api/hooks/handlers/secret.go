package handlers

import (
	"crypto/subtle"
	"strings"
)

// secretMatches compares a presented secret with the configured one in constant time.
// An empty configured secret never matches.
func secretMatches(configured, presented string) bool {
	configured = strings.TrimSpace(configured)
	presented = strings.TrimSpace(presented)
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

func bearerToken(header string) string {
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return ""
	}
	return strings.TrimSpace(token)
}
