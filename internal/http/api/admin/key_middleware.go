package admin

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/http/api/admin/permissions"
	"github.com/router-for-me/CreditLedger/internal/security"
	"github.com/router-for-me/CreditLedger/internal/util"
	log "github.com/sirupsen/logrus"
)

// InternalKeyHeader carries the service-to-service key. A Bearer token is accepted too.
const InternalKeyHeader = "X-Internal-Key"

// keyCache remembers digests of keys that already passed bcrypt.
type keyCache struct {
	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

func (k *keyCache) check(hash, key string) bool {
	digest := sha256.Sum256([]byte(key))
	k.mu.RLock()
	_, ok := k.verified[digest]
	k.mu.RUnlock()
	if ok {
		return true
	}
	if !security.CheckSecret(hash, key) {
		return false
	}
	k.mu.Lock()
	if len(k.verified) > 64 {
		k.verified = make(map[[sha256.Size]byte]struct{})
	}
	k.verified[digest] = struct{}{}
	k.mu.Unlock()
	return true
}

// internalKeyMiddleware verifies the caller key against the configured bcrypt hash.
func internalKeyMiddleware(hash string) gin.HandlerFunc {
	hash = strings.TrimSpace(hash)
	cache := &keyCache{verified: make(map[[sha256.Size]byte]struct{})}
	return func(c *gin.Context) {
		if hash == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "internal api disabled"})
			return
		}
		key := strings.TrimSpace(c.GetHeader(InternalKeyHeader))
		if key == "" {
			if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			}
		}
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing internal key"})
			return
		}
		if !cache.check(hash, key) {
			log.Warnf("internal api: rejected key %s from %s", util.HideAPIKey(key), c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid internal key"})
			return
		}
		c.Next()
	}
}

// scopeMiddleware enforces the route scope table.
func scopeMiddleware(scopes []string) gin.HandlerFunc {
	permissionMap := permissions.DefinitionMap()
	granted := permissions.NormalizeScopes(scopes)

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		def, ok := permissionMap[permissions.Key(c.Request.Method, path)]
		if !ok || !permissions.HasScope(granted, def.Scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}
