package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loykin/procmgr/internal/errs"
	"github.com/loykin/procmgr/internal/metrics"
	"github.com/loykin/procmgr/internal/module"
	"github.com/loykin/procmgr/internal/process"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultRestartCap   = 10
)

// Store is the slice of the registry a control loop needs. Implementations
// must make SetStatus an atomic read-modify-flush.
type Store interface {
	Retrieve(name string) (module.Spec, error)
	SetStatus(name string, st module.Status) error
}

type LoopOptions struct {
	PollInterval time.Duration
	RestartCap   int
	// Alive probes pids found in the record that this loop did not spawn.
	// Such pids are never adopted or signalled; the probe only feeds the log.
	Alive func(pid int) bool
}

func (o LoopOptions) withDefaults() LoopOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.RestartCap <= 0 {
		o.RestartCap = DefaultRestartCap
	}
	if o.Alive == nil {
		o.Alive = process.Alive
	}
	return o
}

// ControlLoop owns one module's process lifecycle. It is the only writer of
// that module's status: process exit arrives as an event in the same select
// as control messages and the poll tick.
//
// State Machine:
// NotRunning -> Running -> NotRunning (exit) ... -> Stopping -> Stopped
type ControlLoop struct {
	name      string
	store     Store
	spawner   process.Spawner
	control   <-chan ControlMessage
	responses chan<- ControlResponse
	opts      LoopOptions
	log       *slog.Logger

	state    atomic.Int32
	attempts int
	handle   *process.Handle
}

func NewControlLoop(
	name string,
	store Store,
	spawner process.Spawner,
	control <-chan ControlMessage,
	responses chan<- ControlResponse,
	opts LoopOptions,
	logger *slog.Logger,
) *ControlLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlLoop{
		name:      name,
		store:     store,
		spawner:   spawner,
		control:   control,
		responses: responses,
		opts:      opts.withDefaults(),
		log:       logger.With("module", name),
	}
}

func (l *ControlLoop) Name() string { return l.name }

// State returns the current lifecycle state; safe for concurrent use.
func (l *ControlLoop) State() loopState { return loopState(l.state.Load()) }

// Attempts returns the number of spawn attempts made so far.
// Only meaningful after Run has returned.
func (l *ControlLoop) Attempts() int { return l.attempts }

// Run drives the module until a stop message, a closed control channel or
// the restart cap ends it, then delivers exactly one completion notification.
// A non-nil error means the loop aborted on a mandatory persistence failure
// or could not reach the supervisor.
func (l *ControlLoop) Run(ctx context.Context) error {
	runErr := l.loop(ctx)
	l.setState(StateStopped)
	if runErr != nil {
		l.log.Error("control loop aborted", "error", runErr)
	}

	select {
	case l.responses <- stopped(l.name):
		return runErr
	case <-ctx.Done():
		return errors.Join(runErr, errs.Newf(errs.KindInit, ctx.Err(), "deliver completion for module %s", l.name))
	}
}

func (l *ControlLoop) loop(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := l.cycle(); err != nil {
			return err
		}
		if l.State() == StateNotRunning && l.attempts >= l.opts.RestartCap {
			l.log.Warn("restart cap reached, giving up", "attempts", l.attempts)
			return nil
		}

	wait:
		for {
			select {
			case msg, ok := <-l.control:
				if !ok {
					l.log.Info("control channel closed")
					return nil
				}
				l.log.Info("received control message", "message", msg.String())
				l.stop()
				return nil
			case <-l.exited():
				l.recordExit()
			case <-ticker.C:
				break wait
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// exited returns the current child's completion channel, or nil (blocks forever)
// when no child is tracked.
func (l *ControlLoop) exited() <-chan struct{} {
	if l.handle == nil {
		return nil
	}
	return l.handle.Done()
}

// cycle reconciles the persisted record with reality and spawns when the
// module is not running.
func (l *ControlLoop) cycle() error {
	spec, err := l.store.Retrieve(l.name)
	if err != nil {
		l.log.Warn("failed to retrieve module", "error", err)
		return nil
	}

	if l.handle != nil {
		l.setState(StateRunning)
		return nil
	}
	if pid, ok := spec.PID(); ok {
		// not ours: the number may have been reused by an unrelated process
		l.log.Info("clearing pid not spawned by this loop", "pid", pid, "alive", l.opts.Alive(pid))
		if err := l.store.SetStatus(l.name, module.NotRunning()); err != nil {
			return fmt.Errorf("clear foreign pid: %w", err)
		}
	}

	l.setState(StateNotRunning)
	if l.attempts >= l.opts.RestartCap {
		return nil
	}
	return l.start(spec)
}

func (l *ControlLoop) start(spec module.Spec) error {
	l.attempts++
	metrics.IncSpawnAttempt(l.name)
	l.log.Info("starting module", "attempt", l.attempts)

	h, err := l.spawner.Spawn(spec.Config.Settings, spec.Config.Env)
	if err != nil {
		metrics.IncSpawnFailure(l.name)
		l.log.Error("process failed to start", "error", err, "attempt", l.attempts)
		if perr := l.store.SetStatus(l.name, module.NotRunning()); perr != nil {
			return fmt.Errorf("persist failed start: %w", perr)
		}
		return nil
	}

	if err := l.store.SetStatus(l.name, module.Running(h.PID())); err != nil {
		// the store cannot describe this child; do not leave it untracked
		l.spawner.Kill(h.PID())
		return fmt.Errorf("persist started pid %d: %w", h.PID(), err)
	}
	l.handle = h
	l.setState(StateRunning)
	l.log.Info("module started", "pid", h.PID())
	return nil
}

// recordExit persists the observed exit. A persistence failure is logged and
// not retried.
func (l *ControlLoop) recordExit() {
	h := l.handle
	l.handle = nil
	res := h.Result()
	metrics.IncExit(l.name)
	l.log.Info("child exited", "pid", h.PID(), "status", res.String())

	if err := l.store.SetStatus(l.name, module.Exited(res.Code)); err != nil {
		l.log.Error("failed to record exit", "pid", h.PID(), "error", err)
	}
	l.setState(StateNotRunning)
}

// stop signals the child spawned by this loop, if it is still running. It
// performs no registry writes.
func (l *ControlLoop) stop() {
	l.setState(StateStopping)
	metrics.IncStop(l.name)

	if l.handle == nil {
		return
	}
	pid := l.handle.PID()
	select {
	case <-l.handle.Done():
		// already reaped; the pid may belong to someone else by now
		l.log.Info("child already exited, not signalling", "pid", pid)
		return
	default:
	}
	l.log.Info("signalling module", "pid", pid)
	l.spawner.Kill(pid)
}

func (l *ControlLoop) setState(next loopState) {
	prev := loopState(l.state.Swap(int32(next)))
	if prev != next {
		metrics.RecordStateTransition(l.name, prev.String(), next.String())
	}
}
