package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/procmgr/internal/errs"
	"github.com/loykin/procmgr/internal/registry"
)

func execute(t *testing.T, run runFunc, args ...string) (string, string, error) {
	t.Helper()
	if run == nil {
		run = func(context.Context, RunFlags) error { return nil }
	}
	root := buildRoot(run)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, appName+" "+version+"\n", out)
}

func TestNoArgsPrintsHelp(t *testing.T) {
	out, _, err := execute(t, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "version")
}

func TestUnknownCommand(t *testing.T) {
	_, errOut, err := execute(t, nil, "bogus")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUnknownCommand))
	assert.Equal(t, "unknown command: bogus\n", errOut)
}

func TestRunFlagDefaults(t *testing.T) {
	var got RunFlags
	_, _, err := execute(t, func(_ context.Context, f RunFlags) error { got = f; return nil }, "run")
	require.NoError(t, err)
	assert.Equal(t, defaultWorkDir(), got.WorkDir)
	assert.Equal(t, "process-manager", filepath.Base(got.WorkDir))
	assert.Equal(t, "yaml", got.Store)
	assert.Equal(t, 2*time.Second, got.PollInterval)
	assert.Equal(t, time.Second, got.Grace)
	assert.Equal(t, 10, got.RestartCap)
	assert.Empty(t, got.Modules)
}

func TestRunFlagsFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PM_WORKING_DIR", dir)
	t.Setenv("PM_STORE", "sqlite")
	t.Setenv("PM_RESTART_CAP", "3")
	t.Setenv("PM_MODULES", "/etc/pm/modules.toml")
	t.Setenv("PM_GRACE", "5s")

	var got RunFlags
	run := func(_ context.Context, f RunFlags) error { got = f; return nil }
	_, _, err := execute(t, run, "run", "--grace", "250ms")
	require.NoError(t, err)
	assert.Equal(t, dir, got.WorkDir)
	assert.Equal(t, "sqlite", got.Store)
	assert.Equal(t, 3, got.RestartCap)
	assert.Equal(t, "/etc/pm/modules.toml", got.Modules)
	assert.Equal(t, 250*time.Millisecond, got.Grace, "command line wins over the environment")

	_, _, err = execute(t, run, "-d", "/srv/pm", "run")
	require.NoError(t, err)
	assert.Equal(t, "/srv/pm", got.WorkDir)
}

func TestRunErrorIsReturned(t *testing.T) {
	want := errs.New(errs.KindDbOpen, errors.New("disk gone"))
	_, _, err := execute(t, func(context.Context, RunFlags) error { return want }, "run")
	assert.ErrorIs(t, err, want)
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	err := errs.Newf(errs.KindDbOpen, errors.New("permission denied"), "/var/pm/processes.yaml")
	printError(&buf, err)
	assert.Equal(t, "Could not open database file: /var/pm/processes.yaml\n\tcaused by: permission denied\n\n", buf.String())
}

func TestRegistryPath(t *testing.T) {
	p, err := registryPath("/w", "yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/w", registry.FileName), p)

	p, err = registryPath("/w", "sqlite")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/w", registry.SQLiteFileName), p)

	_, err = registryPath("/w", "etcd")
	assert.True(t, errs.IsKind(err, errs.KindBadParameter))
	_, err = registryPath("", "yaml")
	assert.True(t, errs.IsKind(err, errs.KindBadParameter))
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, _, err := newLogger(RunFlags{LogLevel: "loud"})
	assert.True(t, errs.IsKind(err, errs.KindBadParameter))
	_, _, err = newLogger(RunFlags{LogFormat: "xml"})
	assert.True(t, errs.IsKind(err, errs.KindBadParameter))
}

func TestServeMetrics(t *testing.T) {
	addr, stop, err := serveMetrics("127.0.0.1:0", quietLogger())
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRunManager_Manifest(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
	dir := t.TempDir()
	manifest := filepath.Join(dir, "modules.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
modules:
  - name: once
    command: ["/bin/sh", "-c", "exit 0"]
  - name: server
    command: ["/bin/sleep"]
    args: ["30"]
`), 0o644))

	workdir := filepath.Join(dir, "work")
	f := RunFlags{
		WorkDir:      workdir,
		Modules:      manifest,
		Store:        "sqlite",
		LogLevel:     "error",
		LogFile:      filepath.Join(dir, "pm.log"),
		PollInterval: 20 * time.Millisecond,
		Grace:        50 * time.Millisecond,
		RestartCap:   2,
	}
	done := make(chan error, 1)
	go func() { done <- runManager(context.Background(), f) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}

	reg, err := registry.Open(filepath.Join(workdir, registry.SQLiteFileName), quietLogger())
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()
	assert.Equal(t, []string{"once", "server"}, reg.Names())
	once, err := reg.Retrieve("once")
	require.NoError(t, err)
	require.NotNil(t, once.Status)
	require.NotNil(t, once.Status.ExitStatus)
	assert.Equal(t, 0, *once.Status.ExitStatus)
}
