package ratelimit

import "net/http"

// ResolveLimit picks the limit for a request method. Mutating requests use the
// write limit when one is set; everything else shares the per-user limit.
func ResolveLimit(cfg SettingsConfig, method string) Decision {
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	if isWrite(method) && cfg.WriteLimit > 0 {
		return Decision{Limit: cfg.WriteLimit, Window: window, Scope: ScopeWrite}
	}
	if cfg.Limit > 0 {
		return Decision{Limit: cfg.Limit, Window: window, Scope: ScopeUser}
	}
	return Decision{}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
