// Package profile discovers server profile directories and reads and writes
// their server.properties file.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/magiconair/properties"
)

// PropertiesFile is the config file kept directly inside every profile.
const PropertiesFile = "server.properties"

// ErrInvalidProperties is returned when config text does not parse.
var ErrInvalidProperties = errors.New("invalid server.properties")

// Profile is one server directory. ID is the absolute directory path.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Dir  string `json:"dir"`
}

// FromDir builds a Profile for dir.
func FromDir(dir string) (Profile, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Profile{}, err
	}
	abs = filepath.Clean(abs)
	return Profile{ID: abs, Name: filepath.Base(abs), Dir: abs}, nil
}

// Scan returns every non-hidden subdirectory of root as a profile, sorted by name.
// A missing root yields no profiles.
func Scan(root string) ([]Profile, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	out := make([]Profile, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p, err := FromDir(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ConfigPath returns the server.properties path for dir.
func ConfigPath(dir string) string { return filepath.Join(dir, PropertiesFile) }

// ReadConfig returns the raw server.properties text of dir.
func ReadConfig(dir string) (string, error) {
	b, err := os.ReadFile(ConfigPath(dir))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ConfigMode is the permission of a server.properties created from scratch.
const ConfigMode os.FileMode = 0o644

// WriteConfig validates text and replaces server.properties in dir. The new
// content is written to a temp file and renamed over the old one; the old
// file's permissions are kept.
func WriteConfig(dir, text string) error {
	if err := Validate(text); err != nil {
		return err
	}
	mode := ConfigMode
	if fi, err := os.Stat(ConfigPath(dir)); err == nil {
		mode = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(dir, ".server.properties-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), ConfigPath(dir))
}

func load(text string) (*properties.Properties, error) {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadBytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProperties, err)
	}
	return p, nil
}

// Validate reports whether text parses as a properties file.
func Validate(text string) error {
	_, err := load(text)
	return err
}

// Parse returns the key/value pairs of text.
func Parse(text string) (map[string]string, error) {
	p, err := load(text)
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}
