package ratelimit

import "strings"

// KeyForDecision returns the counter key for userID under d, or "" when the
// request is not limited.
func KeyForDecision(userID string, d Decision) string {
	userID = strings.TrimSpace(userID)
	if userID == "" || d.Limit <= 0 {
		return ""
	}
	switch d.Scope {
	case ScopeUser:
		return "user:" + userID
	case ScopeWrite:
		return "user:" + userID + ":write"
	}
	return ""
}
