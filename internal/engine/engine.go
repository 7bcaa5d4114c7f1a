package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/marionette/internal/browser"
	"github.com/kode4food/marionette/internal/client"
	"github.com/kode4food/marionette/internal/config"
	"github.com/kode4food/marionette/internal/events"
	"github.com/kode4food/marionette/internal/flow"
	"github.com/kode4food/marionette/internal/registry"
	"github.com/kode4food/marionette/internal/script"
	"github.com/kode4food/marionette/internal/store"
	"github.com/kode4food/marionette/internal/visual"
	"github.com/kode4food/marionette/internal/workflow"
	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/log"
)

type (
	// Engine composes the flow runner, the workflow engine and the run
	// registry, and is the single entry point for every trigger
	Engine struct {
		ctx        context.Context
		cancel     context.CancelFunc
		config     *config.Config
		store      *store.Store
		launcher   browser.Launcher
		comparator *visual.Comparator
		events     events.Publisher
		runs       *registry.Registry
		workflows  *workflow.Engine
		wg         sync.WaitGroup
	}

	// Dependencies are the external collaborators of an Engine
	Dependencies struct {
		Store     *store.Store
		Launcher  browser.Launcher
		Artifacts *visual.ArtifactStore
		Client    client.Client
		Events    events.Publisher
	}
)

var (
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
	ErrEngineStopped   = errors.New("engine stopped")
	ErrJobInactive     = errors.New("scheduled job inactive")
	ErrInvalidTestFile = errors.New("invalid test file")
)

// New creates an engine over the supplied dependencies. A nil Artifacts
// store disables visual assertions
func New(cfg *config.Config, deps Dependencies) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	pub := deps.Events
	if pub == nil {
		pub = events.Discard
	}
	cl := deps.Client
	if cl == nil {
		cl = client.NewHTTPClient(
			time.Duration(cfg.WebhookTimeout) * time.Millisecond,
		)
	}

	e := &Engine{
		ctx:      ctx,
		cancel:   cancel,
		config:   cfg,
		store:    deps.Store,
		launcher: deps.Launcher,
		events:   pub,
		runs:     registry.New(),
	}
	if deps.Artifacts != nil {
		e.comparator = visual.NewComparator(
			deps.Artifacts, cfg.VisualThreshold,
		)
	}
	e.workflows = workflow.New(workflow.Deps{
		Runners: e.workflowRunner,
		Scripts: script.NewLuaEnv(cfg.ScriptCacheSize),
		Data:    deps.Store,
		Sink:    deps.Store,
		Client:  cl,
		Events:  pub,
	})
	return e
}

// Start marks the engine ready to accept runs
func (e *Engine) Start() {
	slog.Info("Engine starting",
		slog.Bool("headless", e.config.Headless),
		slog.Int("suite_concurrency", e.config.SuiteConcurrency))
}

// Stop aborts every registered run and waits for background workflow runs
// to finish, bounded by the configured shutdown timeout or ctx
func (e *Engine) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.ShutdownTimeout)
	defer cancel()

	if err := e.runs.StopAll(ctx); err != nil {
		slog.Warn("Failed to abort runs", log.Error(err))
	}
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Engine stopped")
		return nil
	case <-ctx.Done():
		return ErrShutdownTimeout
	}
}

// ActiveRuns returns the number of runs currently registered
func (e *Engine) ActiveRuns() int {
	return e.runs.Len()
}

// ActiveRunKeys returns the registry keys of every active run
func (e *Engine) ActiveRunKeys() []string {
	return e.runs.Keys()
}

// StopRun aborts the run registered under key and waits for it to finish
func (e *Engine) StopRun(ctx context.Context, key string) error {
	slog.Info("Stopping run", log.RunID(key))
	return e.runs.Stop(ctx, key)
}

// StopAll aborts every registered run and waits for all of them
func (e *Engine) StopAll(ctx context.Context) error {
	slog.Info("Stopping all runs", slog.Int("count", e.runs.Len()))
	return e.runs.StopAll(ctx)
}

// ApproveSnapshot promotes the latest actual screenshot of name to be its
// baseline
func (e *Engine) ApproveSnapshot(ctx context.Context, name string) error {
	if e.comparator == nil {
		return flow.ErrNoComparator
	}
	return e.comparator.Approve(ctx, name)
}

func (e *Engine) stopped() bool {
	return e.ctx.Err() != nil
}

func (e *Engine) publish(
	typ api.EventType, runID string, status api.RunStatus, msg string,
) {
	e.events.Publish(&api.Event{
		Type:    typ,
		RunID:   runID,
		Status:  string(status),
		Message: msg,
	})
}
