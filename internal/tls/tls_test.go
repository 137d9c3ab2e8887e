package tls

import (
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDisabled(t *testing.T) {
	cert, key, err := Resolve(Options{})
	require.NoError(t, err)
	assert.Empty(t, cert)
	assert.Empty(t, key)
	assert.False(t, Options{}.Enabled())
}

func TestResolveExplicitFilesWin(t *testing.T) {
	o := Options{CertFile: "/etc/a.crt", KeyFile: "/etc/a.key", Dir: t.TempDir(), AutoGenerate: true}
	cert, key, err := Resolve(o)
	require.NoError(t, err)
	assert.Equal(t, "/etc/a.crt", cert)
	assert.Equal(t, "/etc/a.key", key)
	entries, _ := os.ReadDir(o.Dir)
	assert.Empty(t, entries)
}

func TestResolveMissingWithoutAutoGenerate(t *testing.T) {
	_, _, err := Resolve(Options{Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestResolveGeneratesLoadablePair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	o := Options{Dir: dir, AutoGenerate: true, Listen: "mc.example.com:8080"}
	cert, key, err := Resolve(o)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tls.crt"), cert)

	_, err = cryptotls.LoadX509KeyPair(cert, key)
	require.NoError(t, err)

	raw, err := os.ReadFile(cert)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	parsed, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "mc.example.com", parsed.Subject.CommonName)
	assert.Contains(t, parsed.DNSNames, "localhost")
	assert.NoError(t, parsed.VerifyHostname("127.0.0.1"))

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(key)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}

	// A second call reuses the existing pair.
	before, _ := os.ReadFile(cert)
	_, _, err = Resolve(o)
	require.NoError(t, err)
	after, _ := os.ReadFile(cert)
	assert.Equal(t, before, after)
}

func TestHostsFromListen(t *testing.T) {
	assert.Equal(t, []string{"localhost", "127.0.0.1", "::1"}, HostsFromListen(":8080"))
	assert.Equal(t, []string{"localhost", "127.0.0.1", "::1"}, HostsFromListen("0.0.0.0:8080"))
	assert.Equal(t, []string{"10.0.0.5", "localhost", "127.0.0.1", "::1"}, HostsFromListen("10.0.0.5:443"))
	assert.Equal(t, []string{"mc.local", "localhost", "127.0.0.1", "::1"}, HostsFromListen("mc.local"))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Options{}.Validate())
	assert.True(t, errors.Is(Options{CertFile: "a"}.Validate(), ErrPartialPair))
	assert.Error(t, Options{AutoGenerate: true}.Validate())
	assert.NoError(t, Options{Dir: "/x", AutoGenerate: true}.Validate())
}
