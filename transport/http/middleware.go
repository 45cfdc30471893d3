package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigauth/core"
	"go.uber.org/zap"
)

const identityKey = "sigauth.identity"

// BearerVerifier authenticates Authorization header values
type BearerVerifier interface {
	AuthenticateBearer(header string) (core.Identity, error)
}

// Authenticate creates middleware that validates access tokens.
// Missing, malformed and expired tokens get the same response.
func Authenticate(verifier BearerVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.AuthenticateBearer(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// RoleAuthorizer decides whether an identity may act with a role
type RoleAuthorizer interface {
	RequireRole(identity core.Identity, role core.Role) error
}

// RequireRole rejects callers the authorizer turns down for role.
// It must run after Authenticate.
func RequireRole(authorizer RoleAuthorizer, role core.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if err := authorizer.RequireRole(identity, role); err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Authenticate
func IdentityFrom(c *gin.Context) (core.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return core.Identity{}, false
	}
	identity, ok := v.(core.Identity)
	return identity, ok
}

// WithIdentity adapts a handler that needs the authenticated identity
func WithIdentity(fn func(c *gin.Context, identity core.Identity)) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		fn(c, identity)
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Info("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}
