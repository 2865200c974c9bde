package env

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type Var map[string]string

// Env composes the environment handed to project processes.
type Env struct {
	mu    sync.RWMutex
	vars  Var  // global variables (K->V)
	base  Var  // cached base from OS environment
	useOS bool // inherit the daemon's environment
}

// New returns an Env that inherits the OS environment.
func New() *Env {
	return &Env{vars: make(Var), useOS: true}
}

// UseOS toggles inheriting the daemon's own environment.
func (e *Env) UseOS(v bool) {
	e.mu.Lock()
	e.useOS = v
	e.mu.Unlock()
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := splitKV(kv); ok {
			base[k] = v
		}
	}
	e.mu.Lock()
	e.base = base
	e.mu.Unlock()
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.mu.Lock()
	e.vars[k] = v
	e.mu.Unlock()
}

// SetAll applies "K=V" pairs; malformed entries are skipped.
func (e *Env) SetAll(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := splitKV(kv); ok {
			e.Set(k, v)
		}
	}
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	e.mu.Lock()
	delete(e.vars, k)
	e.mu.Unlock()
}

// Merge composes the final environment list applying order:
// base = OS env (when enabled), then global overrides, then extra "K=V"
// pairs. ${VAR} references are expanded against the composed map (one
// level, no recursion). The result is sorted by key.
func (e *Env) Merge(extra []string) []string {
	e.mu.RLock()
	needBase := e.useOS && e.base == nil
	e.mu.RUnlock()
	if needBase {
		e.FromOS()
	}

	e.mu.RLock()
	m := make(Var, len(e.base)+len(e.vars)+len(extra))
	if e.useOS {
		for k, v := range e.base {
			m[k] = v
		}
	}
	for k, v := range e.vars {
		m[k] = v
	}
	e.mu.RUnlock()
	for _, kv := range extra {
		if k, v, ok := splitKV(kv); ok {
			m[k] = v
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// ParseFile reads a KEY=VALUE file. Blank lines and lines starting with '#'
// are ignored; an optional "export " prefix and surrounding quotes are
// stripped.
func ParseFile(path string) (Var, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return Parse(string(b)), nil
}

// Parse parses KEY=VALUE lines.
func Parse(s string) Var {
	m := make(Var)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := splitKV(line)
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = unquote(strings.TrimSpace(v))
		if k != "" {
			m[k] = v
		}
	}
	return m
}

func splitKV(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

func expand(s string, m Var) string {
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
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(m[s[i+2:i+j]])
		s = s[i+j+1:]
	}
}
