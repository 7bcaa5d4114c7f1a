package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/kode4food/marionette/pkg/log"
)

type (
	// Abortable is any in-flight run that can be asked to stop
	Abortable interface {
		Abort(ctx context.Context) error
	}

	// Registry tracks in-flight runs by key so they can be stopped
	// individually or all at once
	Registry struct {
		runs map[string]Abortable
		mu   sync.Mutex
	}
)

var (
	ErrKeyEmpty       = errors.New("run key empty")
	ErrAlreadyRunning = errors.New("run key already registered")
	ErrRunNotFound    = errors.New("run not found")
)

// New creates an empty registry
func New() *Registry {
	return &Registry{
		runs: map[string]Abortable{},
	}
}

// Register adds a run under key. A key stays taken until it is
// unregistered
func (r *Registry) Register(key string, run Abortable) error {
	if key == "" {
		return ErrKeyEmpty
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[key]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
	}
	r.runs[key] = run
	return nil
}

// Unregister removes key if it still refers to run
func (r *Registry) Unregister(key string, run Abortable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.runs[key]; ok && cur == run {
		delete(r.runs, key)
	}
}

// Get returns the run registered under key
func (r *Registry) Get(key string) (Abortable, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[key]
	return run, ok
}

// Len returns the number of registered runs
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// Keys returns the registered keys in sorted order
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.runs))
}

// Stop aborts the run under key, waits for it to tear down, and removes
// it from the registry
func (r *Registry) Stop(ctx context.Context, key string) error {
	r.mu.Lock()
	run, ok := r.runs[key]
	if ok {
		delete(r.runs, key)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, key)
	}
	if err := run.Abort(ctx); err != nil {
		slog.Warn("Run abort failed",
			log.RunID(key),
			log.Error(err))
		return fmt.Errorf("stop %s: %w", key, err)
	}
	slog.Info("Run stopped", log.RunID(key))
	return nil
}

// StopAll aborts every run registered at the time of the call
// concurrently and waits for all of them. Runs registered during the call
// are left alone
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	snapshot := r.runs
	r.runs = map[string]Abortable{}
	r.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	errs := make([]error, 0, len(snapshot))
	var errMu sync.Mutex
	var wg sync.WaitGroup
	for key, run := range snapshot {
		wg.Go(func() {
			if err := run.Abort(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", key, err))
				errMu.Unlock()
			}
		})
	}
	wg.Wait()

	slog.Info("All runs stopped",
		slog.Int("count", len(snapshot)),
		slog.Int("failed", len(errs)))
	return errors.Join(errs...)
}
