// Package jre locates the Java runtime used to launch server jars.
package jre

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ErrNotFound is returned when no interpreter could be located.
var ErrNotFound = errors.New("java runtime not found")

// Resolver resolves the interpreter path at launch time.
type Resolver interface {
	ResolveInterpreterPath() (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func() (string, error)

func (f ResolverFunc) ResolveInterpreterPath() (string, error) { return f() }

// Static always returns the same path, verifying it exists.
type Static string

func (s Static) ResolveInterpreterPath() (string, error) {
	p := string(s)
	if p == "" {
		return "", ErrNotFound
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return p, nil
}

// Default searches, in order: an explicit configured path, $JAVA_HOME/bin/java,
// then java on PATH.
type Default struct {
	Configured string
	lookPath   func(string) (string, error)
	getenv     func(string) string
}

// NewDefault returns a Default resolver honoring configured when non-empty.
func NewDefault(configured string) *Default {
	return &Default{Configured: configured, lookPath: exec.LookPath, getenv: os.Getenv}
}

func (d *Default) ResolveInterpreterPath() (string, error) {
	if d.Configured != "" {
		return Static(d.Configured).ResolveInterpreterPath()
	}
	getenv := d.getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if home := getenv("JAVA_HOME"); home != "" {
		p := filepath.Join(home, "bin", binaryName())
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	lookPath := d.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if p, err := lookPath(binaryName()); err == nil {
		return p, nil
	}
	return "", ErrNotFound
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "java.exe"
	}
	return "java"
}
