package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessParameters_Argv(t *testing.T) {
	p := NewProcessParameters([]string{"/bin/bash", "-x"}, []string{"-c", "echo hi"}, "/tmp")

	assert.Equal(t, "/bin/bash", p.Exe())
	assert.Equal(t, []string{"-x"}, p.ExeArgs())
	assert.Equal(t, []string{"-x", "-c", "echo hi"}, p.Argv())

	bare := NewProcessParameters([]string{"/bin/ls"}, nil, "/")
	assert.Nil(t, bare.ExeArgs())
	assert.Empty(t, bare.Argv())
	assert.Equal(t, "", ProcessParameters{}.Exe())
}

func TestProcessParameters_BuildersDoNotMutate(t *testing.T) {
	base := NewProcessParameters([]string{"/bin/true"}, nil, "/tmp")
	withID := base.WithUser("nobody").WithGroup("1000").WithLogs("/tmp/e.log", "/tmp/o.log")

	assert.Nil(t, base.User)
	assert.Nil(t, base.StdoutLog)
	require.NotNil(t, withID.User)
	assert.Equal(t, "nobody", *withID.User)
	assert.Equal(t, "1000", *withID.Group)
	assert.Equal(t, "/tmp/e.log", *withID.StderrLog)
	assert.Equal(t, "/tmp/o.log", *withID.StdoutLog)
	assert.Nil(t, withID.WithUser("").User)
}

func TestSpec_WithStatusCopies(t *testing.T) {
	s := NewSpec("m1", NewConfig([]EnvVar{NewEnvVar("A", "B")}, NewProcessParameters([]string{"/bin/ls"}, []string{"-l"}, "/tmp")))
	assert.Equal(t, TypeNative, s.Type)
	assert.Nil(t, s.Status)

	running := s.WithStatus(Running(42))
	pid, ok := running.PID()
	require.True(t, ok)
	assert.Equal(t, 42, pid)
	_, ok = s.PID()
	assert.False(t, ok, "original must be untouched")

	code := 3
	exited := running.WithStatus(Exited(&code))
	code = 9
	_, ok = exited.PID()
	assert.False(t, ok)
	require.NotNil(t, exited.Status.ExitStatus)
	assert.Equal(t, 3, *exited.Status.ExitStatus)
	assert.Equal(t, "exited(code=3)", exited.Status.String())
	assert.Equal(t, "not-running", Exited(nil).String())
}

func TestSpec_Validate(t *testing.T) {
	ok := NewSpec("m", NewConfig(nil, NewProcessParameters([]string{"/bin/true"}, nil, "/")))
	require.NoError(t, ok.Validate())

	noName := ok
	noName.Name = " "
	assert.Error(t, noName.Validate())

	badType := ok.Clone()
	badType.Type = "docker"
	assert.Error(t, badType.Validate())

	noCmd := NewSpec("m", NewConfig(nil, NewProcessParameters(nil, nil, "/")))
	assert.Error(t, noCmd.Validate())

	badEnv := NewSpec("m", NewConfig([]EnvVar{{Key: "", Value: "x"}}, ok.Config.Settings))
	assert.Error(t, badEnv.Validate())
}

func TestClone_NormalizesEmptySlices(t *testing.T) {
	p := ProcessParameters{Command: []string{"/bin/true"}, Args: []string{}}
	assert.Nil(t, p.Clone().Args)
	c := Config{Env: []EnvVar{}, Settings: p}
	assert.Nil(t, c.Clone().Env)
}
