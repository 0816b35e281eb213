package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/procmgr/internal/errs"
	"github.com/loykin/procmgr/internal/module"
)

// FileName is the registry file created inside the working directory.
const FileName = "processes.yaml"

// SQLiteFileName is used instead of FileName when the sqlite backend is selected.
const SQLiteFileName = "processes.db"

var (
	ErrNotFound = errors.New("module not found")
	ErrClosed   = errors.New("registry closed")
)

// Registry is the persisted keyed collection of module specs.
//
// Lock Hierarchy (to prevent deadlocks):
// 1. mu - exclusive lock for compound updates (Lock, Update, Put, Seed)
// 2. saveMu - serializes snapshot+write in Flush
// 3. dataMu - guards the in-memory map
//
// Retrieve, Insert and Flush only take the locks below mu, so a caller holding
// the scoped lock from Lock may call them freely.
type Registry struct {
	mu      sync.Mutex
	saveMu  sync.Mutex
	dataMu  sync.RWMutex
	data    map[string]module.Spec
	backend Backend
	closed  bool
	log     *slog.Logger
}

// Open opens the registry stored at path. Paths ending in .db or .sqlite use
// the sqlite backend; anything else is a YAML file.
func Open(path string, logger *slog.Logger) (*Registry, error) {
	var (
		b   Backend
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite":
		b, err = NewSQLite(path)
	default:
		b, err = NewYAMLFile(path)
	}
	if err != nil {
		return nil, errs.Newf(errs.KindDbOpen, err, "%s", path)
	}
	return OpenBackend(b, logger)
}

// OpenBackend loads the full collection from b.
func OpenBackend(b Backend, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := b.Load()
	if err != nil {
		_ = b.Close()
		return nil, errs.New(errs.KindDbLoad, err)
	}
	r := &Registry{data: make(map[string]module.Spec, len(data)), backend: b, log: logger}
	for name, spec := range data {
		r.data[name] = spec.Clone()
	}
	return r, nil
}

// Path returns the backing file for YAML registries, or "".
func (r *Registry) Path() string {
	if y, ok := r.backend.(*YAMLFile); ok {
		return y.Path()
	}
	return ""
}

// Retrieve returns a copy of the named spec.
func (r *Registry) Retrieve(name string) (module.Spec, error) {
	r.dataMu.RLock()
	defer r.dataMu.RUnlock()
	if r.closed {
		return module.Spec{}, errs.Newf(errs.KindDbRetrieve, ErrClosed, "module %q", name)
	}
	spec, ok := r.data[name]
	if !ok {
		return module.Spec{}, errs.Newf(errs.KindDbRetrieve, ErrNotFound, "module %q", name)
	}
	return spec.Clone(), nil
}

// Names returns all stored module names, sorted.
func (r *Registry) Names() []string {
	r.dataMu.RLock()
	defer r.dataMu.RUnlock()
	out := make([]string, 0, len(r.data))
	for name := range r.data {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Running returns the recorded pid of every module that has one.
func (r *Registry) Running() map[string]int {
	r.dataMu.RLock()
	defer r.dataMu.RUnlock()
	out := make(map[string]int)
	for name, spec := range r.data {
		if pid, ok := spec.PID(); ok {
			out[name] = pid
		}
	}
	return out
}

// Insert replaces the in-memory record for name. It does not persist.
func (r *Registry) Insert(name string, spec module.Spec) error {
	if name == "" {
		return errs.New(errs.KindDbInsert, errors.New("empty module name"))
	}
	if spec.Name != name {
		return errs.Newf(errs.KindDbInsert, nil, "key %q does not match module name %q", name, spec.Name)
	}
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	if r.closed {
		return errs.New(errs.KindDbInsert, ErrClosed)
	}
	r.data[name] = spec.Clone()
	return nil
}

// Flush writes the full collection to the backend.
func (r *Registry) Flush() error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.dataMu.RLock()
	if r.closed {
		r.dataMu.RUnlock()
		return errs.New(errs.KindDbFlush, ErrClosed)
	}
	snap := make(map[string]module.Spec, len(r.data))
	for name, spec := range r.data {
		snap[name] = spec.Clone()
	}
	r.dataMu.RUnlock()

	if err := r.backend.Save(snap); err != nil {
		return errs.New(errs.KindDbFlush, err)
	}
	return nil
}

// Lock acquires the registry's exclusive lock for a compound update and
// returns the function releasing it.
func (r *Registry) Lock() (func(), error) {
	r.mu.Lock()
	r.dataMu.RLock()
	closed := r.closed
	r.dataMu.RUnlock()
	if closed {
		r.mu.Unlock()
		return nil, errs.New(errs.KindDbLock, ErrClosed)
	}
	return r.mu.Unlock, nil
}

// Put stores spec under name and flushes, as one atomic unit.
func (r *Registry) Put(name string, spec module.Spec) error {
	unlock, err := r.Lock()
	if err != nil {
		return err
	}
	defer unlock()
	if err := r.Insert(name, spec); err != nil {
		return err
	}
	return r.Flush()
}

// Update reads the named record, applies fn and persists the result while
// holding the exclusive lock. An error from fn aborts without writing.
func (r *Registry) Update(name string, fn func(module.Spec) (module.Spec, error)) error {
	unlock, err := r.Lock()
	if err != nil {
		return err
	}
	defer unlock()
	cur, err := r.Retrieve(name)
	if err != nil {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	if err := r.Insert(name, next); err != nil {
		return err
	}
	return r.Flush()
}

// SetStatus overwrites the status of the named module.
func (r *Registry) SetStatus(name string, st module.Status) error {
	return r.Update(name, func(s module.Spec) (module.Spec, error) {
		return s.WithStatus(st), nil
	})
}

// Seed inserts specs and flushes once. Existing records are replaced whole,
// including any status persisted by a previous run.
func (r *Registry) Seed(specs []module.Spec) error {
	unlock, err := r.Lock()
	if err != nil {
		return err
	}
	defer unlock()
	for _, spec := range specs {
		if err := r.Insert(spec.Name, spec); err != nil {
			return err
		}
		r.log.Debug("seeded module", "module", spec.Name)
	}
	return r.Flush()
}

// Close releases the backend. Further operations fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dataMu.Lock()
	if r.closed {
		r.dataMu.Unlock()
		return nil
	}
	r.closed = true
	r.dataMu.Unlock()
	return r.backend.Close()
}
