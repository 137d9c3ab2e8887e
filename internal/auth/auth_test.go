package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := HashPassword("hunter2", bcrypt.MinCost)
	require.NoError(t, err)
	viewHash, err := HashPassword("look", bcrypt.MinCost)
	require.NoError(t, err)
	s, err := NewService(Config{
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
		Users: []UserConfig{
			{Username: "steve", PasswordHash: hash},
			{Username: "alex", PasswordHash: viewHash, Roles: []string{"viewer"}},
		},
	})
	require.NoError(t, err)
	return s
}

func TestAuthenticateBasicAndJWT(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	res, err := s.Authenticate(ctx, LoginRequest{Username: "steve", Password: "hunter2"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, []string{"operator"}, res.Roles)
	require.NotNil(t, res.Token)
	assert.Equal(t, "Bearer", res.Token.Type)

	res2, err := s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: res.Token.Value})
	require.NoError(t, err)
	assert.Equal(t, "steve", res2.Username)

	_, err = s.Authenticate(ctx, LoginRequest{Username: "steve", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate(ctx, LoginRequest{Username: "nobody", Password: "x"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: "garbage"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate(ctx, LoginRequest{Method: "oauth"})
	assert.Error(t, err)
}

func TestTokenFromOtherSecretRejected(t *testing.T) {
	a := newTestService(t)
	res, err := a.Authenticate(context.Background(), LoginRequest{Username: "steve", Password: "hunter2"})
	require.NoError(t, err)

	b, err := NewService(Config{Users: []UserConfig{{Username: "steve", PasswordHash: "x"}}})
	require.NoError(t, err)
	_, err = b.Authenticate(context.Background(), LoginRequest{Method: AuthMethodJWT, Token: res.Token.Value})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestNewServiceRejectsBadUsers(t *testing.T) {
	_, err := NewService(Config{Users: []UserConfig{{Username: "a"}}})
	assert.Error(t, err)
	_, err = NewService(Config{Users: []UserConfig{{Username: "a", PasswordHash: "h"}, {Username: "a", PasswordHash: "h"}}})
	assert.Error(t, err)
}

func TestHasPermission(t *testing.T) {
	s := newTestService(t)
	assert.True(t, s.HasPermission([]string{"viewer"}, ActionRead))
	assert.False(t, s.HasPermission([]string{"viewer"}, ActionWrite))
	assert.True(t, s.HasPermission([]string{"admin"}, ActionWrite))
	assert.False(t, s.HasPermission([]string{"unknown"}, ActionRead))
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestService(t)
	m := NewMiddleware(s, true)

	r := gin.New()
	r.Use(m.GinAuth())
	r.GET("/read", m.GinRequirePermission(ActionRead), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/write", m.GinRequirePermission(ActionWrite), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path string, set func(*http.Request)) int {
		req := httptest.NewRequest(method, path, nil)
		if set != nil {
			set(req)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/read", nil))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/read", func(r *http.Request) { r.SetBasicAuth("alex", "look") }))
	assert.Equal(t, http.StatusForbidden, do(http.MethodPost, "/write", func(r *http.Request) { r.SetBasicAuth("alex", "look") }))

	res, err := s.Authenticate(context.Background(), LoginRequest{Username: "steve", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/write", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+res.Token.Value)
	}))

	open := NewMiddleware(nil, true)
	assert.False(t, open.Enabled())
}
