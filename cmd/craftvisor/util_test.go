package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLines(t *testing.T) {
	cases := []struct {
		name      string
		prev, cur []string
		want      []string
	}{
		{"first poll", nil, []string{"a", "b"}, []string{"a", "b"}},
		{"nothing new", []string{"a", "b"}, []string{"a", "b"}, []string{}},
		{"appended", []string{"a", "b"}, []string{"a", "b", "c"}, []string{"c"}},
		{"rolled over", []string{"a", "b", "c"}, []string{"b", "c", "d"}, []string{"d"}},
		{"no overlap", []string{"a"}, []string{"x", "y"}, []string{"x", "y"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := newLines(c.prev, c.cur)
			if len(c.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, c.want, got)
		})
	}
}

func TestURLFromListen(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080/api", urlFromListen(":8080", "/api", false))
	assert.Equal(t, "http://127.0.0.1:9000", urlFromListen("0.0.0.0:9000", "", false))
	assert.Equal(t, "https://mc.example.com:443/mc", urlFromListen("mc.example.com:443", "/mc/", true))
	assert.Equal(t, defaultAPIUrl, urlFromListen("bogus", "/api", false))
}

func TestAPIURLPrecedence(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "craftvisor.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[server]\nlisten = \":7777\"\nbase_path = \"/x\"\n"), 0o600))

	assert.Equal(t, defaultAPIUrl, apiURL(&GlobalFlags{}, nil))
	assert.Equal(t, "http://127.0.0.1:7777/x", apiURL(&GlobalFlags{ConfigPath: cfgPath}, nil))
	assert.Equal(t, "http://saved/api", apiURL(&GlobalFlags{ConfigPath: cfgPath}, &Session{ServerURL: "http://saved/api"}))
	assert.Equal(t, "http://flag/api", apiURL(&GlobalFlags{APIUrl: "http://flag/api"}, &Session{ServerURL: "http://saved/api"}))
}

func TestDaemonArgs(t *testing.T) {
	got := daemonArgs([]string{"serve", "c.toml", "--daemonize", "--logfile", "out.log", "--logfile=x", "--shutdown-timeout", "5s"})
	assert.Equal(t, []string{"serve", "c.toml", "--shutdown-timeout", "5s"}, got)
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	sm := NewSessionManager()
	s, err := sm.LoadSession()
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, sm.SaveSession(&Session{Token: "t", ExpiresAt: time.Now().Add(time.Hour), ServerURL: "http://x/api"}))
	s, err = sm.LoadSession()
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "t", s.Token)

	require.NoError(t, sm.SaveSession(&Session{Token: "old", ExpiresAt: time.Now().Add(-time.Minute)}))
	s, err = sm.LoadSession()
	require.NoError(t, err)
	assert.Nil(t, s)
	_, err = os.Stat(sm.GetSessionPath())
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireLock(t *testing.T) {
	l, err := acquireLock("")
	require.NoError(t, err)
	assert.Nil(t, l)

	path := filepath.Join(t.TempDir(), "run", "craftvisor.lock")
	first, err := acquireLock(path)
	require.NoError(t, err)
	require.NotNil(t, first)
	defer func() { _ = first.Unlock() }()

	_, err = acquireLock(path)
	assert.Error(t, err)
}
