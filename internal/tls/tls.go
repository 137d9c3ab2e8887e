// Package tls locates or provisions the certificate pair used by the control
// API listener.
package tls

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"

	defaultValidity = 5 * 365 * 24 * time.Hour
)

// Options mirrors the server.tls_* configuration keys.
type Options struct {
	CertFile     string
	KeyFile      string
	Dir          string
	AutoGenerate bool
	Listen       string // used to derive certificate hosts
}

// Enabled reports whether any TLS source is configured.
func (o Options) Enabled() bool {
	return (o.CertFile != "" && o.KeyFile != "") || o.Dir != ""
}

// Resolve returns the certificate and key paths to serve with, or two empty
// strings when TLS is not configured. Explicit files win over Dir. With
// AutoGenerate a missing pair in Dir is generated.
func Resolve(o Options) (certPath, keyPath string, err error) {
	if o.CertFile != "" && o.KeyFile != "" {
		return o.CertFile, o.KeyFile, nil
	}
	if o.Dir == "" {
		return "", "", nil
	}
	certPath = filepath.Join(o.Dir, tlsCrt)
	keyPath = filepath.Join(o.Dir, tlsKey)
	if certificatesExist(certPath, keyPath) {
		return certPath, keyPath, nil
	}
	if !o.AutoGenerate {
		return "", "", fmt.Errorf("tls: %s and %s not found and auto generation disabled", certPath, keyPath)
	}
	if err := os.MkdirAll(o.Dir, 0o750); err != nil {
		return "", "", fmt.Errorf("failed to create destination directory: %w", err)
	}
	hosts := HostsFromListen(o.Listen)
	err = GenerateSelfSignedCert(CertConfig{
		CommonName:   hosts[0],
		Organization: "craftvisor",
		Hosts:        hosts,
		NotAfter:     time.Now().Add(defaultValidity),
		CertPath:     certPath,
		KeyPath:      keyPath,
	})
	if err != nil {
		return "", "", fmt.Errorf("certificate generation failed: %w", err)
	}
	return certPath, keyPath, nil
}

// HostsFromListen derives certificate subject names from a listen address.
// Wildcard or missing hosts yield localhost and the loopback addresses.
func HostsFromListen(listen string) []string {
	loopback := []string{"localhost", "127.0.0.1", "::1"}
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		host = listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		return loopback
	case "localhost", "127.0.0.1", "::1":
		return loopback
	}
	return append([]string{host}, loopback...)
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

// ErrPartialPair is returned by Validate when only one of cert and key is set.
var ErrPartialPair = errors.New("tls_cert and tls_key must be set together")

// Validate checks option combinations that Resolve cannot recover from.
func (o Options) Validate() error {
	if (o.CertFile == "") != (o.KeyFile == "") {
		return ErrPartialPair
	}
	if o.AutoGenerate && o.Dir == "" {
		return errors.New("tls_auto_generate requires tls_dir")
	}
	return nil
}
