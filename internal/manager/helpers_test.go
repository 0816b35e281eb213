package manager

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/procmgr/internal/errs"
	"github.com/loykin/procmgr/internal/module"
	"github.com/loykin/procmgr/internal/process"
	"github.com/loykin/procmgr/internal/registry"
)

var errFakeStore = errors.New("fake store failure")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(timeout, step time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return fn()
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), registry.FileName), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func testSpec(name, exe string, args ...string) module.Spec {
	return module.NewSpec(name, module.NewConfig(nil, module.NewProcessParameters(append([]string{exe}, args...), nil, "/")))
}

// fakeSpawner hands out synthetic pids. Commands listed in fail are refused;
// Kill completes the handle as a signal termination.
type fakeSpawner struct {
	mu      sync.Mutex
	fail    map[string]bool
	nextPID int
	spawned map[string][]int
	kills   []int
	finish  map[int]func(process.ExitResult)
	tries   map[string]int
}

func newFakeSpawner(fail ...string) *fakeSpawner {
	f := &fakeSpawner{
		fail:    make(map[string]bool),
		nextPID: 40000,
		spawned: make(map[string][]int),
		finish:  make(map[int]func(process.ExitResult)),
		tries:   make(map[string]int),
	}
	for _, c := range fail {
		f.fail[c] = true
	}
	return f
}

func (f *fakeSpawner) Spawn(params module.ProcessParameters, _ []module.EnvVar) (*process.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exe := params.Exe()
	f.tries[exe]++
	if f.fail[exe] {
		return nil, errs.Newf(errs.KindForkFailed, errors.New("refused"), "%s", exe)
	}
	f.nextPID++
	h, fin := process.NewHandle(f.nextPID)
	f.finish[f.nextPID] = fin
	f.spawned[exe] = append(f.spawned[exe], f.nextPID)
	return h, nil
}

func (f *fakeSpawner) Kill(pid int) {
	f.mu.Lock()
	f.kills = append(f.kills, pid)
	fin := f.finish[pid]
	f.mu.Unlock()
	if fin != nil {
		fin(process.ExitResult{Err: errors.New("signal: terminated")})
	}
}

func (f *fakeSpawner) exit(pid, code int) {
	f.mu.Lock()
	fin := f.finish[pid]
	f.mu.Unlock()
	fin(process.ExitResult{Code: &code})
}

func (f *fakeSpawner) attempts(exe string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tries[exe]
}

func (f *fakeSpawner) pids(exe string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.spawned[exe]...)
}

func (f *fakeSpawner) killed() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.kills...)
}

// countingStore wraps a registry, counting writes and injecting failures.
type countingStore struct {
	*registry.Registry
	writes        atomic.Int32
	failWrites    atomic.Bool
	failRetrieves atomic.Int32
}

func (s *countingStore) Retrieve(name string) (module.Spec, error) {
	if s.failRetrieves.Load() > 0 {
		s.failRetrieves.Add(-1)
		return module.Spec{}, errs.New(errs.KindDbRetrieve, errFakeStore)
	}
	return s.Registry.Retrieve(name)
}

func (s *countingStore) SetStatus(name string, st module.Status) error {
	if s.failWrites.Load() {
		return errs.New(errs.KindDbFlush, errFakeStore)
	}
	s.writes.Add(1)
	return s.Registry.SetStatus(name, st)
}

func persistedPID(t *testing.T, s Store, name string) (int, bool) {
	t.Helper()
	spec, err := s.Retrieve(name)
	require.NoError(t, err)
	return spec.PID()
}
