package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kasuganosora/corrosion/cache"
	"github.com/kasuganosora/corrosion/config"
)

const ClaimsKey = "bridge_claims"

func revokedKey(id string) string { return "corrosion:revoked:" + id }

// BridgeAuth validates a bridge token, taken from the Bearer header or the
// token query parameter (browsers cannot set headers on WebSocket upgrades),
// and rejects revoked tokens.
func BridgeAuth(sec config.SecurityConfig, c cache.Cache, roles ...string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := ""
		if header := ctx.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenStr = strings.TrimPrefix(header, "Bearer ")
		} else {
			tokenStr = ctx.Query("token")
		}
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if len(roles) > 0 && !hasRole(claims.Role, roles) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not allowed"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		_, err = c.Get(cacheCtx, revokedKey(claims.ID))
		switch {
		case err == nil:
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
			return
		case !errors.Is(err, cache.ErrNotFound):
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "token check unavailable"})
			return
		}

		ctx.Set(ClaimsKey, claims)
		ctx.Next()
	}
}

func hasRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// Revoke blocks a token until it would have expired anyway.
func Revoke(ctx context.Context, c cache.Cache, claims *Claims) error {
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		return nil
	}
	return c.Set(ctx, revokedKey(claims.ID), "1", ttl)
}

// GetClaims retrieves the bridge claims from the Gin context.
func GetClaims(c *gin.Context) *Claims {
	if v, exists := c.Get(ClaimsKey); exists {
		return v.(*Claims)
	}
	return nil
}

// AdminKey guards the admin API with a static key in X-Admin-Key. An empty
// key disables the admin API entirely.
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" || c.GetHeader("X-Admin-Key") != key {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
