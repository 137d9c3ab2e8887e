// Package env composes the environment handed to a server process.
package env

import (
	"os"
	"sort"
	"strings"
)

// Vars maps variable names to values.
type Vars map[string]string

// Parse splits "K=V" entries into Vars. Entries without '=' or with an empty
// key are dropped; later entries win.
func Parse(kvs []string) Vars {
	out := make(Vars, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		out[kv[:i]] = kv[i+1:]
	}
	return out
}

// FromOS returns the current process environment.
func FromOS() Vars { return Parse(os.Environ()) }

// Compose layers overrides on top of base and expands ${NAME} references in
// override values against the composed set. Expansion is single pass so a
// self reference such as PATH=${PATH}:/opt/bin picks up the base value.
// The result is sorted "K=V" form suitable for exec.Cmd.Env.
func Compose(base Vars, overrides []string) []string {
	merged := make(Vars, len(base)+len(overrides))
	for k, v := range base {
		if k != "" {
			merged[k] = v
		}
	}
	over := Parse(overrides)
	for k, v := range over {
		merged[k] = Expand(v, base)
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Expand replaces ${NAME} with its value in vars. Unknown names expand to the
// empty string; a lone '$' or an unterminated "${" is kept literally.
func Expand(s string, vars Vars) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(vars[s[i+2:i+2+j]])
		s = s[i+3+j:]
	}
}
