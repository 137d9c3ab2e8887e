package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api/"})
}

func TestServersAndStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/servers":
			_, _ = w.Write([]byte(`{"servers":[{"id":"serverA","name":"serverA","running":true,"state":"running"}]}`))
		case "/api/status":
			assert.Equal(t, "serverA", r.URL.Query().Get("id"))
			_, _ = w.Write([]byte(`{"id":"serverA","state":"running","running":true,"pid":42,"cpu_percent":1.5,"memory_mb":100,"metrics_available":true}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	list, err := c.Servers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "running", list[0].State)

	st, err := c.Status(ctx, "serverA")
	require.NoError(t, err)
	assert.Equal(t, 42, st.PID)
	require.NotNil(t, st.CPUPercent)
	assert.InDelta(t, 1.5, *st.CPUPercent, 0.0001)
}

func TestSendCommandBody(t *testing.T) {
	var got sendRequest
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/console/send", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	require.NoError(t, c.SendCommand(context.Background(), "serverA", "say hi"))
	assert.Equal(t, sendRequest{ID: "serverA", Command: "say hi"}, got)
}

func TestAPIError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"serverA is stopped: server not active"}`))
	})
	err := c.Stop(context.Background(), "serverA")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "not active")
}

func TestAPIErrorWithoutBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Console(context.Background(), "serverA")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "HTTP 502", apiErr.Error())
}

func TestSetConfigWarning(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req configRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "motd=x\n", req.Config)
		_, _ = w.Write([]byte(`{"ok":true,"warning":"server is active"}`))
	})
	warn, err := c.SetConfig(context.Background(), "serverA", "motd=x\n")
	require.NoError(t, err)
	assert.Equal(t, "server is active", warn)
}

func TestLoginSetsBearer(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			_, _ = w.Write([]byte(`{"token":"abc","expires_at":"2030-01-01T00:00:00Z"}`))
		case "/api/servers":
			if r.Header.Get("Authorization") != "Bearer abc" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"authentication required"}`))
				return
			}
			_, _ = w.Write([]byte(`{"servers":[]}`))
		}
	})
	ctx := context.Background()
	tok, err := c.Login(ctx, "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.Token)
	_, err = c.Servers(ctx)
	assert.NoError(t, err)
}

func TestBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", u)
		assert.Equal(t, "secret", p)
		_, _ = w.Write([]byte(`{"schedules":[]}`))
	}))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, Username: "admin", Password: "secret"})
	list, err := c.Schedules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestIsReachable(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"servers":[]}`))
	})
	assert.True(t, c.IsReachable(context.Background()))

	dead := New(Config{BaseURL: "http://127.0.0.1:1"})
	assert.False(t, dead.IsReachable(context.Background()))
}
