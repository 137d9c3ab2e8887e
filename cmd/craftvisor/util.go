package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/loykin/craftvisor"
	"github.com/loykin/craftvisor/pkg/client"
)

const defaultAPIUrl = "http://127.0.0.1:8080/api"

// apiURL picks the daemon URL: the flag, then the saved session, then the
// [server] section of --config, then the default.
func apiURL(flags *GlobalFlags, session *Session) string {
	if flags.APIUrl != "" {
		return flags.APIUrl
	}
	if session != nil && session.ServerURL != "" {
		return session.ServerURL
	}
	if flags.ConfigPath != "" {
		if cfg, err := craftvisor.LoadConfig(flags.ConfigPath); err == nil {
			return urlFromListen(cfg.Server.Listen, cfg.Server.BasePath, cfg.Server.TLSCert != "")
		}
	}
	return defaultAPIUrl
}

func urlFromListen(listen, basePath string, tls bool) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return defaultAPIUrl
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	scheme := "http"
	if tls {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(host, port) + strings.TrimRight(basePath, "/")
}

func newClient(flags *GlobalFlags) *client.Client {
	session, _ := NewSessionManager().LoadSession()
	cfg := client.Config{
		BaseURL:  apiURL(flags, session),
		Timeout:  flags.APITimeout,
		Insecure: flags.Insecure,
		Token:    flags.Token,
		Username: flags.Username,
		Password: flags.Password,
	}
	if cfg.Token == "" && cfg.Username == "" && session != nil {
		cfg.Token = session.Token
	}
	if flags.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: flags.CACert}
	}
	return client.New(cfg)
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// newLines returns the lines of cur that were not in prev. The console is a
// ring buffer, so the longest suffix of prev that is a prefix of cur marks
// where new output begins.
func newLines(prev, cur []string) []string {
	for k := min(len(prev), len(cur)); k > 0; k-- {
		if equalLines(prev[len(prev)-k:], cur[:k]) {
			return cur[k:]
		}
	}
	return cur
}

func equalLines(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
