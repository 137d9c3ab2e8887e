package manager

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeServer behaves like a server console: it echoes commands, exits on
// "stop" unless IGNORE_STOP is set, and exits 3 on "crash".
const fakeServer = `#!/bin/sh
echo "Starting fake server"
echo "warming up" 1>&2
while IFS= read -r line; do
  case "$line" in
    stop)
      if [ -n "$IGNORE_STOP" ]; then echo "ignoring stop"; else echo "Stopping server"; exit 0; fi ;;
    crash) echo "boom" 1>&2; exit 3 ;;
    *) echo "got: $line" ;;
  esac
done
`

// fakeProfile creates a profile directory holding the fake server and
// returns options that launch it.
func fakeProfile(t *testing.T) (string, Options) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake server requires /bin/sh")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake.sh"), []byte(fakeServer), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.properties"), []byte("motd=test\n"), 0o600))
	return dir, Options{Jar: "fake.sh", Command: []string{"/bin/sh", "fake.sh"}}
}

func waitState(t *testing.T, mp *ManagedProcess, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return mp.State() == want },
		5*time.Second, 10*time.Millisecond, "waiting for %s, have %s", want, mp.State())
}

func waitLine(t *testing.T, mp *ManagedProcess, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return countLines(mp.Console(), want) > 0 },
		5*time.Second, 10*time.Millisecond, "console never showed %q: %v", want, mp.Console())
}

func countLines(lines []string, want string) int {
	n := 0
	for _, l := range lines {
		if l == want {
			n++
		}
	}
	return n
}

func countPrefix(lines []string, prefix string) int {
	n := 0
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}
