// Package auth guards operator endpoints with a shared API key.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderAPIKey carries the operator key when Authorization is unused.
	HeaderAPIKey = "X-API-Key"
	// ContextKeyOperator is set on the gin context once the key matched.
	ContextKeyOperator = "operator"
)

// Option configures RequireOperator.
type Option func(*options)

type options struct {
	queryParam string
}

// WithQueryParam also accepts the key from the named query parameter.
// Browsers cannot set headers on WebSocket upgrades, so /ws uses this.
func WithQueryParam(name string) Option {
	return func(o *options) { o.queryParam = name }
}

// RequireOperator rejects requests that do not present key. An empty key
// rejects every request.
func RequireOperator(key string, opts ...Option) gin.HandlerFunc {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	want := sha256.Sum256([]byte(key))

	return func(c *gin.Context) {
		got := presentedKey(c, o)
		if key == "" || got == "" {
			unauthorized(c)
			return
		}
		sum := sha256.Sum256([]byte(got))
		if subtle.ConstantTimeCompare(sum[:], want[:]) != 1 {
			unauthorized(c)
			return
		}
		c.Set(ContextKeyOperator, true)
		c.Next()
	}
}

func presentedKey(c *gin.Context, o options) string {
	if v := c.GetHeader("Authorization"); v != "" {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	if v := c.GetHeader(HeaderAPIKey); v != "" {
		return strings.TrimSpace(v)
	}
	if o.queryParam != "" {
		return c.Query(o.queryParam)
	}
	return ""
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": "API key required. Include 'Authorization: Bearer <key>' or 'X-API-Key' header.",
	})
}
