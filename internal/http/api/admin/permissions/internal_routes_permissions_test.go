package permissions

import "testing"

func TestDefinitionMapIncludesInternalRoutes(t *testing.T) {
	t.Parallel()

	definitionMap := DefinitionMap()
	requiredKeys := []string{
		"POST /v0/internal/users",
		"POST /v0/internal/usage",
		"POST /v0/internal/wallet/adjust",
		"POST /v0/internal/settlement/run",
		"POST /v0/internal/rates/refresh",
	}

	for _, key := range requiredKeys {
		key := key
		t.Run(key, func(t *testing.T) {
			t.Parallel()
			if _, ok := definitionMap[key]; !ok {
				t.Fatalf("DefinitionMap() missing permission key %q", key)
			}
		})
	}
}

func TestNormalizeScopes(t *testing.T) {
	t.Parallel()

	granted := NormalizeScopes([]string{" usage", "Wallet ", ""})
	if !HasScope(granted, ScopeUsage) || !HasScope(granted, ScopeWallet) {
		t.Fatalf("expected usage and wallet scopes in %v", granted)
	}
	if HasScope(granted, ScopeSettlement) {
		t.Fatalf("settlement scope must not be granted by %v", granted)
	}
	if !HasScope(NormalizeScopes(nil), ScopeRates) {
		t.Fatalf("empty scope list must grant every scope")
	}
}
