// Package permissions lists the service-to-service routes and the scope each one needs.
package permissions

import "strings"

// Scopes granted to internal callers.
const (
	ScopeUsers      = "users"
	ScopeUsage      = "usage"
	ScopeWallet     = "wallet"
	ScopeSettlement = "settlement"
	ScopeRates      = "rates"
)

// Definition binds a route to a scope.
type Definition struct {
	Method string
	Path   string
	Scope  string
}

// Key returns the lookup key for a method and gin route path.
func Key(method, path string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + strings.TrimSpace(path)
}

// Definitions returns every internal route.
func Definitions() []Definition {
	return []Definition{
		{Method: "POST", Path: "/v0/internal/users", Scope: ScopeUsers},
		{Method: "GET", Path: "/v0/internal/users/:id/models", Scope: ScopeUsers},
		{Method: "POST", Path: "/v0/internal/usage", Scope: ScopeUsage},
		{Method: "POST", Path: "/v0/internal/wallet/adjust", Scope: ScopeWallet},
		{Method: "POST", Path: "/v0/internal/settlement/run", Scope: ScopeSettlement},
		{Method: "GET", Path: "/v0/internal/rates", Scope: ScopeRates},
		{Method: "POST", Path: "/v0/internal/rates/refresh", Scope: ScopeRates},
	}
}

// DefinitionMap indexes Definitions by Key.
func DefinitionMap() map[string]Definition {
	defs := Definitions()
	out := make(map[string]Definition, len(defs))
	for _, def := range defs {
		out[Key(def.Method, def.Path)] = def
	}
	return out
}

// NormalizeScopes lowercases and drops blanks. An empty list grants everything.
func NormalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if trimmed := strings.ToLower(strings.TrimSpace(s)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		out = append(out, "*")
	}
	return out
}

// HasScope reports whether granted includes scope.
func HasScope(granted []string, scope string) bool {
	for _, g := range granted {
		if g == "*" || g == scope {
			return true
		}
	}
	return false
}
