package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes child process environments from the OS environment,
// service-wide variables and per-launch overrides.
type Env struct {
	Var Var // global variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// Overrides is a declarative description of environment changes for one launch.
// PrependPath entries are placed in front of PATH in the given order; Set entries
// replace existing values.
type Overrides struct {
	PrependPath []string          `json:"prepend_path,omitempty"`
	Set         map[string]string `json:"set,omitempty"`
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" {
				continue
			}
			base[k] = v
		}
	}
	e.env = base
}

// WithBase returns a copy of e whose base is kvs instead of the OS environment.
func (e *Env) WithBase(kvs []string) *Env {
	c := e.clone()
	c.env = make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			c.env[kv[:i]] = kv[i+1:]
		}
	}
	return c
}

// WithSet returns a copy of e with K=V added to the global variables.
func (e *Env) WithSet(k, v string) *Env {
	c := e.clone()
	if k != "" {
		c.Var[k] = v
	}
	return c
}

func (e *Env) clone() *Env {
	c := &Env{Var: make(Var, len(e.Var))}
	for k, v := range e.Var {
		c.Var[k] = v
	}
	if e.env != nil {
		c.env = make(Var, len(e.env))
		for k, v := range e.env {
			c.env[k] = v
		}
	}
	return c
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then apply global e.Var overrides
// then apply perProc (slice of "K=V") overrides
// Returns the environment slice in "K=V" form, with ${VAR} expansion performed
// using the composed map (simple expansion, no recursion).
func (e *Env) Merge(perProc []string) []string {
	return e.build(perProc, Overrides{})
}

// Apply composes the environment like Merge and then applies o on top.
// PATH prepending happens last so it always wins over inherited values.
func (e *Env) Apply(o Overrides) []string {
	return e.build(nil, o)
}

func (e *Env) build(perProc []string, o Overrides) []string {
	// start from OS or cached
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var)
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perProc {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" { // skip malformed entries with empty key
				continue
			}
			m[k] = v
		}
	}
	for k, v := range o.Set {
		if k == "" {
			continue
		}
		m[k] = v
	}
	// expand ${VAR}
	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	if len(o.PrependPath) > 0 {
		expanded["PATH"] = prependPath(o.PrependPath, expanded["PATH"])
	}
	// build slice
	out := make([]string, 0, len(expanded))
	for k, v := range expanded {
		if k == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func prependPath(dirs []string, current string) string {
	parts := make([]string, 0, len(dirs)+1)
	for _, d := range dirs {
		if d != "" {
			parts = append(parts, d)
		}
	}
	if current != "" {
		parts = append(parts, current)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// Lookup returns the value of key in a "K=V" slice.
func Lookup(kvs []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range kvs {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

func expand(s string, m Var) string {
	res := s
	// simple ${VAR} expansion; iterate over keys present
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
