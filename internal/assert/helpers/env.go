package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/kode4food/marionette/internal/config"
	"github.com/kode4food/marionette/internal/engine"
	"github.com/kode4food/marionette/internal/events"
	"github.com/kode4food/marionette/internal/store"
	"github.com/kode4food/marionette/internal/visual"
)

// TestEngineEnv holds all the components needed for engine testing
type TestEngineEnv struct {
	Engine     *engine.Engine
	Redis      *miniredis.Miniredis
	Store      *store.Store
	Artifacts  *visual.ArtifactStore
	Launcher   *FakeLauncher
	MockClient *MockClient
	Config     *config.Config
	EventHub   *events.Hub
	Cleanup    func()
}

const defaultStopTimeout = 5 * time.Second

// NewTestConfig creates a default configuration with debug logging enabled
// and short timeouts
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.StepTimeout = 2 * config.Second
	cfg.WebhookTimeout = 2 * config.Second
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// NewTestStore creates a store over an in-memory Redis server that is
// closed with the test
func NewTestStore(t *testing.T) (*store.Store, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	s := store.New(
		redis.NewClient(&redis.Options{Addr: server.Addr()}), "test",
	)
	t.Cleanup(func() { _ = s.Close() })
	return s, server
}

// NewTestArtifacts creates an artifact store over an in-memory bucket
func NewTestArtifacts(t *testing.T) *visual.ArtifactStore {
	t.Helper()
	a := visual.NewArtifactStore(memblob.OpenBucket(nil))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// NewTestEngine creates a fully configured test engine environment with an
// in-memory Redis backend, an in-memory artifact bucket, a fake browser
// over ExamplePages, and a mock HTTP client
func NewTestEngine(t *testing.T) *TestEngineEnv {
	t.Helper()

	st, server := NewTestStore(t)
	artifacts := NewTestArtifacts(t)
	mockCli := NewMockClient()
	launcher := NewFakeLauncher(ExamplePages())
	launcher.Client = mockCli
	hub := events.NewHub()
	cfg := NewTestConfig()
	cfg.TestsDir = t.TempDir()

	eng := engine.New(cfg, engine.Dependencies{
		Store:     st,
		Launcher:  launcher,
		Artifacts: artifacts,
		Client:    mockCli,
		Events:    hub,
	})

	cleanup := func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), defaultStopTimeout,
		)
		defer cancel()
		_ = eng.Stop(ctx)
		hub.Close()
	}

	return &TestEngineEnv{
		Engine:     eng,
		Redis:      server,
		Store:      st,
		Artifacts:  artifacts,
		Launcher:   launcher,
		MockClient: mockCli,
		Config:     cfg,
		EventHub:   hub,
		Cleanup:    cleanup,
	}
}

// WithTestEnv creates a test engine environment, executes the provided
// function with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	testEnv := NewTestEngine(t)
	defer testEnv.Cleanup()
	fn(testEnv)
}

// WithStartedEngine creates a test engine, starts it, executes the provided
// function with the engine, and ensures cleanup happens automatically
func WithStartedEngine(t *testing.T, fn func(*engine.Engine)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		env.Engine.Start()
		fn(env.Engine)
	})
}
