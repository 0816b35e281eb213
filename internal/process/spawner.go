package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/loykin/procmgr/internal/env"
	"github.com/loykin/procmgr/internal/errs"
	"github.com/loykin/procmgr/internal/module"
)

// Spawner launches module processes and delivers termination signals.
type Spawner interface {
	Spawn(params module.ProcessParameters, vars []module.EnvVar) (*Handle, error)
	Kill(pid int)
}

// ExitResult is the outcome of one process run. Code is nil when the process
// did not exit normally (e.g. it was terminated by a signal).
type ExitResult struct {
	Code *int
	Err  error
}

func (r ExitResult) String() string {
	if r.Code != nil {
		return "exit code " + strconv.Itoa(*r.Code)
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	return "no exit code"
}

// Handle is a launched process. PID is known synchronously; Done is closed
// exactly once when the process has been reaped.
type Handle struct {
	pid    int
	done   chan struct{}
	once   sync.Once
	result ExitResult
}

// NewHandle returns a handle for pid together with the function that
// completes it. Spawner implementations outside this package use it.
func NewHandle(pid int) (*Handle, func(ExitResult)) {
	h := &Handle{pid: pid, done: make(chan struct{})}
	return h, h.finish
}

func (h *Handle) PID() int { return h.pid }

func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the exit result; valid only after Done is closed.
func (h *Handle) Result() ExitResult {
	<-h.done
	return h.result
}

// Wait blocks until the process exits.
func (h *Handle) Wait() ExitResult { return h.Result() }

func (h *Handle) finish(res ExitResult) {
	h.once.Do(func() {
		h.result = res
		close(h.done)
	})
}

// OSSpawner starts real OS processes.
type OSSpawner struct {
	lookup Lookup
	env    *env.Env
	log    *slog.Logger
}

type Option func(*OSSpawner)

// WithLookup overrides user/group name resolution.
func WithLookup(l Lookup) Option { return func(s *OSSpawner) { s.lookup = l } }

// WithBaseEnv replaces the inherited environment the module env is layered on.
func WithBaseEnv(e *env.Env) Option { return func(s *OSSpawner) { s.env = e } }

func NewSpawner(logger *slog.Logger, opts ...Option) *OSSpawner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &OSSpawner{lookup: OSLookup{}, log: logger}
	for _, o := range opts {
		o(s)
	}
	if s.env == nil {
		s.env = env.FromOS()
	}
	return s
}

// Spawn launches params with vars applied over the inherited environment.
// Configured log files are truncated; they are closed when the process exits.
func (s *OSSpawner) Spawn(params module.ProcessParameters, vars []module.EnvVar) (*Handle, error) {
	exe := params.Exe()
	if exe == "" {
		return nil, errs.New(errs.KindForkFailed, errors.New("empty command"))
	}
	// #nosec G204 -- executing configured module commands is the purpose of this package
	cmd := exec.Command(exe, params.Argv()...)
	cmd.Dir = params.WorkingDirectory
	cmd.Env = s.env.Apply(vars)

	uid, hasUID := s.resolveUser(params.User)
	gid, hasGID := s.resolveGroup(params.Group)
	if hasUID {
		s.log.Info("running as uid", "uid", uid)
	}
	if hasGID {
		s.log.Info("running as gid", "gid", gid)
	}
	ident := identity{uid: uid, gid: gid, hasUID: hasUID, hasGID: hasGID}
	configureSysProcAttr(cmd, ident)
	s.log.Debug("spawning", "exe", exe, "args", params.Argv(), "dir", params.WorkingDirectory, "identity", ident.String())

	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if params.StderrLog != nil {
		f, err := os.Create(*params.StderrLog)
		if err != nil {
			return nil, errs.Newf(errs.KindFileOpen, err, "%s", *params.StderrLog)
		}
		closers = append(closers, f)
		cmd.Stderr = f
	}
	if params.StdoutLog != nil {
		f, err := os.Create(*params.StdoutLog)
		if err != nil {
			closeAll()
			return nil, errs.Newf(errs.KindFileOpen, err, "%s", *params.StdoutLog)
		}
		closers = append(closers, f)
		cmd.Stdout = f
	}

	if err := cmd.Start(); err != nil {
		closeAll()
		return nil, errs.Newf(errs.KindForkFailed, err, "%s", exe)
	}

	h, finish := NewHandle(cmd.Process.Pid)
	go func() {
		waitErr := cmd.Wait()
		closeAll()
		res := ExitResult{Err: waitErr}
		if ps := cmd.ProcessState; ps != nil && ps.Exited() {
			code := ps.ExitCode()
			res.Code = &code
		}
		s.log.Debug("child exited", "pid", h.PID(), "status", res.String())
		finish(res)
	}()
	return h, nil
}

// Kill sends SIGTERM to pid. Failures are logged only; the process may
// already be gone.
func (s *OSSpawner) Kill(pid int) {
	if pid <= 0 {
		return
	}
	if err := terminate(pid); err != nil {
		s.log.Warn("kill failed", "pid", pid, "error", err)
	}
}

func (s *OSSpawner) resolveUser(user *string) (uint32, bool) {
	if user == nil {
		return 0, false
	}
	id, ok := resolveID(*user, s.lookup.UserID)
	if !ok {
		s.log.Debug("user not resolved, keeping current identity", "user", *user)
	}
	return id, ok
}

func (s *OSSpawner) resolveGroup(group *string) (uint32, bool) {
	if group == nil {
		return 0, false
	}
	id, ok := resolveID(*group, s.lookup.GroupID)
	if !ok {
		s.log.Debug("group not resolved, keeping current identity", "group", *group)
	}
	return id, ok
}

type identity struct {
	uid, gid       uint32
	hasUID, hasGID bool
}

func (i identity) String() string {
	return fmt.Sprintf("uid=%d(%t) gid=%d(%t)", i.uid, i.hasUID, i.gid, i.hasGID)
}
