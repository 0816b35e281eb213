package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/procmgr/internal/errs"
	"github.com/loykin/procmgr/internal/metrics"
	"github.com/loykin/procmgr/internal/module"
	"github.com/loykin/procmgr/internal/process"
)

const (
	DefaultGrace           = time.Second
	DefaultControlDepth    = 2
	DefaultCompletionDepth = 1
)

// ConfigLoader yields the module set to supervise.
type ConfigLoader interface {
	Load() ([]module.Spec, error)
}

// Registry is what the supervisor needs from the persistent store.
type Registry interface {
	Store
	Seed(specs []module.Spec) error
}

type Options struct {
	Loop LoopOptions
	// Grace is how long the last remaining module keeps running after all
	// its siblings have completed, before it is asked to stop.
	Grace           time.Duration
	ControlDepth    int
	CompletionDepth int
}

func (o Options) withDefaults() Options {
	o.Loop = o.Loop.withDefaults()
	if o.Grace <= 0 {
		o.Grace = DefaultGrace
	}
	if o.ControlDepth <= 0 {
		o.ControlDepth = DefaultControlDepth
	}
	if o.CompletionDepth <= 0 {
		o.CompletionDepth = DefaultCompletionDepth
	}
	return o
}

// Supervisor starts one control loop per configured module and drains them:
// when a single loop remains it is stopped after the grace period, and Run
// returns once every loop has completed.
type Supervisor struct {
	reg     Registry
	spawner process.Spawner
	loader  ConfigLoader
	opts    Options
	log     *slog.Logger

	mu       sync.Mutex
	controls map[string]chan ControlMessage
}

func NewSupervisor(reg Registry, spawner process.Spawner, loader ConfigLoader, opts Options, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		reg:      reg,
		spawner:  spawner,
		loader:   loader,
		opts:     opts.withDefaults(),
		log:      logger,
		controls: make(map[string]chan ControlMessage),
	}
}

// Run seeds the registry, launches the control loops and blocks until all of
// them have completed. Cancelling ctx asks every module to stop; Run still
// waits for the completions.
func (s *Supervisor) Run(ctx context.Context) error {
	specs, err := s.loader.Load()
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		s.log.Warn("no modules configured")
		return nil
	}
	// statuses left by a previous run are dropped; their pids may have been reused
	if err := s.reg.Seed(specs); err != nil {
		return err
	}

	// loops outlive ctx so they can finish the stop protocol after a shutdown request
	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	responses := make(chan ControlResponse, s.opts.CompletionDepth)
	var g errgroup.Group
	g.SetLimit(len(specs))

	s.mu.Lock()
	for _, spec := range specs {
		ch := make(chan ControlMessage, s.opts.ControlDepth)
		s.controls[spec.Name] = ch
		loop := NewControlLoop(spec.Name, s.reg, s.spawner, ch, responses, s.opts.Loop, s.log)
		g.Go(func() error {
			// a failed loop must not take its siblings down
			if err := loop.Run(loopCtx); err != nil {
				s.log.Error("control loop failed", "module", loop.Name(), "error", err)
			}
			return nil
		})
	}
	s.mu.Unlock()

	running := len(specs)
	metrics.SetActiveLoops(running)
	s.log.Info("supervising modules", "count", running)

	var drain <-chan time.Time
	if running == 1 {
		drain = time.After(s.opts.Grace)
	}
	shutdown := ctx.Done()

	for running > 0 {
		select {
		case resp := <-responses:
			if err := checkResponse(resp); err != nil {
				cancel()
				_ = g.Wait()
				return err
			}
			running--
			metrics.SetActiveLoops(running)
			s.log.Info("module completed", "module", resp.Module, "remaining", running)
			if running == 1 {
				drain = time.After(s.opts.Grace)
			}
		case <-drain:
			drain = nil
			s.log.Info("one module left, stopping")
			s.StopAll()
		case <-shutdown:
			shutdown = nil
			s.log.Info("shutdown requested, stopping all modules")
			s.StopAll()
		}
	}

	_ = g.Wait()
	s.log.Info("all modules stopped")
	return nil
}

// StopAll sends a stop message to every module without blocking. Delivery
// failures (full or abandoned channels) are ignored.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.namesLocked() {
		select {
		case s.controls[name] <- MsgStop:
		default:
			s.log.Debug("stop not delivered", "module", name)
		}
	}
}

// Stop asks a single module to stop.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	ch, ok := s.controls[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("module %s is not supervised", name)
	}
	select {
	case ch <- MsgStop:
		return nil
	default:
		return fmt.Errorf("module %s: control channel full", name)
	}
}

func (s *Supervisor) namesLocked() []string {
	names := make([]string, 0, len(s.controls))
	for n := range s.controls {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var errUnexpectedResponse = errors.New("unexpected control response")

func checkResponse(resp ControlResponse) error {
	if resp.Kind != ResponseStopped || resp.Module == "" {
		return errs.Newf(errs.KindProtocol, errUnexpectedResponse, "kind=%d module=%q", resp.Kind, resp.Module)
	}
	return nil
}
