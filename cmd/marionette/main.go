package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kode4food/marionette/internal/browser"
	"github.com/kode4food/marionette/internal/client"
	"github.com/kode4food/marionette/internal/config"
	"github.com/kode4food/marionette/internal/engine"
	"github.com/kode4food/marionette/internal/events"
	"github.com/kode4food/marionette/internal/server"
	"github.com/kode4food/marionette/internal/store"
	"github.com/kode4food/marionette/internal/visual"
	"github.com/kode4food/marionette/pkg/log"
)

type marionette struct {
	cfg        *config.Config
	store      *store.Store
	artifacts  *visual.ArtifactStore
	hub        *events.Hub
	engine     *engine.Engine
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

const serviceName = "marionette"

// Version is set at build time with -ldflags
var Version = "dev"

var (
	ErrOpenStore     = errors.New("failed to open store")
	ErrOpenArtifacts = errors.New("failed to open artifact bucket")
)

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	m := &marionette{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	m.setupLogging()

	if err := m.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (m *marionette) run() error {
	if err := m.initializeStores(); err != nil {
		return err
	}

	m.initializeEngine()
	m.startServer()

	signal.Notify(m.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(m.quit)
	<-m.quit

	m.shutdown()
	return nil
}

func (m *marionette) setupLogging() {
	level := log.ParseLevel(m.cfg.LogLevel)
	env := os.Getenv("ENV")
	logger := log.NewWithLevel(serviceName, env, Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Marionette Engine starting",
		slog.String("log_level", m.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", m.cfg.Store.Addr),
		slog.Int("redis_db", m.cfg.Store.DB),
		slog.String("artifact_bucket", m.cfg.ArtifactBucketURL),
		slog.String("tests_dir", m.cfg.TestsDir),
		slog.Bool("headless", m.cfg.Headless),
		slog.String("api_host", m.cfg.APIHost),
		slog.Int("api_port", m.cfg.APIPort))
}

func (m *marionette) initializeStores() error {
	ctx := context.Background()

	st, err := store.Open(ctx, m.cfg.Store)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenStore, err)
	}
	m.store = st

	m.artifacts, err = visual.OpenArtifactStore(ctx, m.cfg.ArtifactBucketURL)
	if err != nil {
		_ = m.store.Close()
		return fmt.Errorf("%w: %w", ErrOpenArtifacts, err)
	}
	return nil
}

func (m *marionette) initializeEngine() {
	cl := client.NewHTTPClient(m.cfg.WebhookTimeoutDuration())
	m.hub = events.NewHub()
	m.engine = engine.New(m.cfg, engine.Dependencies{
		Store: m.store,
		Launcher: browser.NewChromeLauncher(
			cl, m.cfg.StepTimeoutDuration(),
		),
		Artifacts: m.artifacts,
		Client:    cl,
		Events:    m.hub,
	})
	m.engine.Start()
}

func (m *marionette) startServer() {
	m.apiServer = server.NewServer(m.engine, m.hub)
	mux := m.apiServer.SetupRoutes()

	m.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", m.cfg.APIHost, m.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", m.httpServer.Addr))
		err := m.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (m *marionette) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), m.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := m.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	m.apiServer.CloseWebSockets()

	if err := m.engine.Stop(ctx); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	m.hub.Close()
	_ = m.artifacts.Close()
	_ = m.store.Close()

	slog.Info("Server exited")
}
