package env

import (
	"os"
	"sort"
	"strings"

	"github.com/loykin/procmgr/internal/module"
)

type Var map[string]string

// Env composes a child environment: the inherited base plus per-module entries.
type Env struct {
	base Var
}

// FromOS captures the current process environment as the base.
func FromOS() *Env {
	return FromList(os.Environ())
}

// FromList builds an Env whose base is the given KEY=VALUE list.
func FromList(kvs []string) *Env {
	base := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	return &Env{base: base}
}

// Get returns the base value for k.
func (e *Env) Get(k string) (string, bool) {
	v, ok := e.base[k]
	return v, ok
}

// Apply layers vars over the base, later entries winning, and returns the
// result as a KEY=VALUE list sorted by key. Entries with an empty key are skipped.
func (e *Env) Apply(vars []module.EnvVar) []string {
	m := make(Var, len(e.base)+len(vars))
	for k, v := range e.base {
		m[k] = v
	}
	for _, ev := range vars {
		if ev.Key == "" {
			continue
		}
		m[ev.Key] = ev.Value
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}
