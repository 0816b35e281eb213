package env

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loykin/procmgr/internal/module"
)

func TestApply_AdditiveOverBase(t *testing.T) {
	e := FromList([]string{"PATH=/bin", "HOME=/root", "malformed", "=nokey"})
	out := e.Apply([]module.EnvVar{
		module.NewEnvVar("A", "B"),
		module.NewEnvVar("HOME", "/srv"),
		module.NewEnvVar("", "skipped"),
	})
	assert.Equal(t, []string{"A=B", "HOME=/srv", "PATH=/bin"}, out)

	v, ok := e.Get("HOME")
	assert.True(t, ok)
	assert.Equal(t, "/root", v, "base must not change")
}

func TestApply_LaterEntriesWin(t *testing.T) {
	out := FromList(nil).Apply([]module.EnvVar{{Key: "X", Value: "1"}, {Key: "X", Value: "2=3"}})
	assert.Equal(t, []string{"X=2=3"}, out)
}

func TestFromOS_Inherits(t *testing.T) {
	t.Setenv("PROCMGR_ENV_TEST", "yes")
	out := FromOS().Apply(nil)
	assert.Contains(t, out, "PROCMGR_ENV_TEST=yes")
}

// FuzzApply checks that output entries are always well formed.
func FuzzApply(f *testing.F) {
	f.Add("A=1\nB=2", "C=3")
	f.Add("FOO=bar", "FOO=baz")
	f.Add("=x\ny", "=\n==")

	f.Fuzz(func(t *testing.T, base string, extra string) {
		var vars []module.EnvVar
		for _, kv := range strings.Split(extra, "\n") {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				vars = append(vars, module.NewEnvVar(kv[:i], kv[i+1:]))
			}
		}
		for _, kv := range FromList(strings.Split(base, "\n")).Apply(vars) {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
	})
}
