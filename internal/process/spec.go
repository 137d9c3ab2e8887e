package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/loykin/craftvisor/internal/env"
)

const (
	MinMemoryGB = 1
	MaxMemoryGB = 32

	DefaultJar = "server.jar"
)

var (
	ErrArtifactMissing = errors.New("server artifact not found")
	ErrNoInterpreter   = errors.New("no runtime interpreter")
)

// Spec describes how one server process is launched.
type Spec struct {
	Name       string   `json:"name"`
	WorkDir    string   `json:"work_dir"`
	JavaPath   string   `json:"java_path"`
	Jar        string   `json:"jar"`         // artifact, relative to WorkDir unless absolute
	MemoryGB   int      `json:"memory_gb"`   // 1..32
	JVMArgs    []string `json:"jvm_args"`    // placed before -jar
	ServerArgs []string `json:"server_args"` // placed after the jar; defaults to nogui
	// Command replaces the java invocation entirely when set (e.g. a Forge run.sh).
	// JavaPath is then ignored and Jar, when set, is still required to exist.
	Command []string `json:"command,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// ArtifactPath returns the absolute path of the jar (or launcher) the spec runs.
func (s Spec) ArtifactPath() string {
	jar := s.Jar
	if jar == "" && len(s.Command) == 0 {
		jar = DefaultJar
	}
	if jar == "" {
		return ""
	}
	if filepath.IsAbs(jar) {
		return jar
	}
	return filepath.Join(s.WorkDir, jar)
}

// Validate checks everything that can be verified before a spawn attempt.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.WorkDir) == "" {
		return fmt.Errorf("spec %q: work_dir required", s.Name)
	}
	if len(s.Command) == 0 {
		if s.MemoryGB < MinMemoryGB || s.MemoryGB > MaxMemoryGB {
			return fmt.Errorf("spec %q: memory_gb must be within %d..%d, got %d", s.Name, MinMemoryGB, MaxMemoryGB, s.MemoryGB)
		}
		if strings.TrimSpace(s.JavaPath) == "" {
			return fmt.Errorf("spec %q: %w", s.Name, ErrNoInterpreter)
		}
	}
	if p := s.ArtifactPath(); p != "" {
		fi, err := os.Stat(p)
		if err != nil || fi.IsDir() {
			return fmt.Errorf("%w: %s", ErrArtifactMissing, p)
		}
	}
	return nil
}

// Argv returns the full invocation, program first.
func (s Spec) Argv() []string {
	if len(s.Command) > 0 {
		return append([]string(nil), s.Command...)
	}
	argv := []string{
		s.JavaPath,
		fmt.Sprintf("-Xmx%dG", s.MemoryGB),
		fmt.Sprintf("-Xms%dG", s.MemoryGB),
	}
	argv = append(argv, s.JVMArgs...)
	argv = append(argv, "-jar", s.ArtifactPath())
	if s.ServerArgs == nil {
		argv = append(argv, "nogui")
	} else {
		argv = append(argv, s.ServerArgs...)
	}
	return argv
}

// CommandLine renders Argv for display; arguments with spaces are quoted.
func (s Spec) CommandLine() string {
	argv := s.Argv()
	parts := make([]string, len(argv))
	for i, a := range argv {
		if strings.ContainsAny(a, " \t\"") {
			a = fmt.Sprintf("%q", a)
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}

// BuildCommand constructs the *exec.Cmd for the spec without starting it.
func (s Spec) BuildCommand() *exec.Cmd {
	argv := s.Argv()
	// #nosec G204 -- argv comes from operator configuration
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.WorkDir
	if len(s.Env) > 0 {
		cmd.Env = env.Compose(env.FromOS(), s.Env)
	}
	configureSysProcAttr(cmd)
	return cmd
}
