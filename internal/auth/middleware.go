package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKey is used for context keys to avoid collisions
type ContextKey string

const (
	// ResultKey is the context key for auth result
	ResultKey ContextKey = "auth_result"
)

// Middleware provides authentication middleware for HTTP handlers
type Middleware struct {
	service *Service
	enabled bool
}

// NewMiddleware returns a middleware; with enabled false every request passes.
func NewMiddleware(s *Service, enabled bool) *Middleware {
	return &Middleware{service: s, enabled: enabled && s != nil}
}

// Enabled reports whether requests are checked.
func (m *Middleware) Enabled() bool { return m.enabled }

// GinAuth returns a Gin middleware function for authentication
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}

		authResult, err := m.authenticate(c.Request)
		if err != nil || !authResult.Success {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Set(string(ResultKey), authResult)
		c.Next()
	}
}

// GinRequirePermission returns a Gin middleware that requires action
func (m *Middleware) GinRequirePermission(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}

		v, exists := c.Get(string(ResultKey))
		result, ok := v.(*AuthResult)
		if !exists || !ok || !result.Success {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !m.service.HasPermission(result.Roles, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}

// authenticate extracts and validates authentication from HTTP request
func (m *Middleware) authenticate(r *http.Request) (*AuthResult, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return m.service.Authenticate(r.Context(), LoginRequest{Method: AuthMethodJWT, Token: parts[1]})
		}
	}
	if username, password, ok := r.BasicAuth(); ok {
		return m.service.Authenticate(r.Context(), LoginRequest{Method: AuthMethodBasic, Username: username, Password: password})
	}
	return &AuthResult{Success: false}, ErrInvalidCredentials
}
