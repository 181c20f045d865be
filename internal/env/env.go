// Package env composes the environment handed to managed services.
package env

import (
	"os"
	"sort"
	"strings"
)

// Vars maps variable names to values.
type Vars map[string]string

// Env layers global variables over a base taken from the OS environment.
// The zero value is not usable; call New.
type Env struct {
	global Vars
	base   Vars
}

// New returns an Env whose base is the current OS environment.
func New() *Env {
	return &Env{global: make(Vars), base: Parse(os.Environ())}
}

// Isolated returns an Env with an empty base; nothing from the OS leaks in.
func Isolated() *Env {
	return &Env{global: make(Vars), base: make(Vars)}
}

// Parse converts "K=V" pairs into Vars, skipping malformed entries.
func Parse(kvs []string) Vars {
	m := make(Vars, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}

// Set records a global variable applied to every service.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.global[k] = v
}

// SetAll applies "K=V" pairs as global variables.
func (e *Env) SetAll(kvs []string) {
	for k, v := range Parse(kvs) {
		e.Set(k, v)
	}
}

// WithSet returns a copy of e with k=v added to the globals.
func (e *Env) WithSet(k, v string) *Env {
	c := &Env{global: make(Vars, len(e.global)+1), base: e.base}
	for gk, gv := range e.global {
		c.global[gk] = gv
	}
	c.Set(k, v)
	return c
}

// Merge returns the sorted "K=V" list for one service.
// Precedence, lowest first: OS base, globals, perService. Values may
// reference other variables as ${NAME}; references are resolved against the
// merged map once, unknown names are left untouched.
func (e *Env) Merge(perService []string) []string {
	m := make(Vars, len(e.base)+len(e.global)+len(perService))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.global {
		m[k] = v
	}
	for k, v := range Parse(perService) {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// expand substitutes ${NAME} references from m without recursion.
func expand(s string, m Vars) string {
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
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok && name != "" {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}
