package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warn": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewHandlerFormats(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(Settings{Format: "json", Level: "debug"}, &buf)
	require.NoError(t, err)
	slog.New(h).Debug("hello", "profile", "a")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = NewHandler(Settings{Format: "yaml"}, &buf)
	assert.Error(t, err)
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, nil, false)).With("profile", "a")
	l.Warn("careful")
	out := buf.String()
	assert.Contains(t, out, "\033[33mWARN\033[0m")
	assert.Contains(t, out, "profile=a")
	assert.NotContains(t, out, "time=")
}

func TestSetupWithFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "craftvisor.log")
	c, err := Setup(Settings{File: path, Level: "info"})
	require.NoError(t, err)
	slog.Info("to file", "k", "v")
	require.NoError(t, c.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "msg=\"to file\"")
	assert.False(t, strings.Contains(string(b), "\033["))
}

func TestMirrorWriter(t *testing.T) {
	assert.Nil(t, MirrorConfig{}.Writer("a"))

	dir := t.TempDir()
	w := MirrorConfig{Dir: dir}.Writer("survival")
	require.NotNil(t, w)
	_, err := w.Write([]byte("> list\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	b, err := os.ReadFile(filepath.Join(dir, "survival.console.log"))
	require.NoError(t, err)
	assert.Equal(t, "> list\n", string(b))
}
