package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/kode4food/marionette/internal/engine"
	"github.com/kode4food/marionette/internal/events"
	"github.com/kode4food/marionette/internal/flow"
	"github.com/kode4food/marionette/internal/registry"
	"github.com/kode4food/marionette/internal/store"
	"github.com/kode4food/marionette/internal/visual"
	"github.com/kode4food/marionette/internal/workflow"
	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/util"
)

// Server implements the HTTP API server for the automation engine
type Server struct {
	engine  *engine.Engine
	hub     *events.Hub
	sockets util.Set[*Client]
	mu      sync.Mutex
}

const (
	serviceName      = "marionette-engine"
	defaultListLimit = 50
	maxListLimit     = 500
)

var (
	// ErrInvalidJSON is returned when a request body cannot be decoded
	ErrInvalidJSON = errors.New("invalid JSON request")

	// ErrInvalidLimit is returned when a list limit is not a positive number
	ErrInvalidLimit = errors.New("invalid limit")

	// ErrWorkflowTarget is returned when a webhook trigger names no workflow
	ErrWorkflowTarget = errors.New("workflow_id or name required")

	// ErrStopTarget is returned when a stop request names no run
	ErrStopTarget = errors.New("run_key or all required")
)

var (
	notFoundErrors = []error{
		store.ErrFlowNotFound,
		store.ErrWorkflowNotFound,
		store.ErrFunctionNotFound,
		store.ErrDatasetNotFound,
		store.ErrJobNotFound,
		store.ErrFlowRunNotFound,
		store.ErrWorkflowRunNotFound,
		registry.ErrRunNotFound,
		visual.ErrNoActual,
	}

	badRequestErrors = []error{
		ErrInvalidJSON,
		ErrInvalidLimit,
		ErrWorkflowTarget,
		ErrStopTarget,
		api.ErrStepsRequired,
		api.ErrFlowIDsEmpty,
		api.ErrInvalidAction,
		api.ErrInvalidTargetType,
		api.ErrTargetEmpty,
		store.ErrIDEmpty,
		workflow.ErrGraphIntegrity,
		engine.ErrInvalidTestFile,
		visual.ErrInvalidSnapshotName,
		flow.ErrSelectorRequired,
		api.ErrNodeIDEmpty,
		api.ErrInvalidNodeType,
		api.ErrNodeConfigMismatch,
		api.ErrFlowRequired,
		api.ErrConditionEmpty,
		api.ErrLoopSourceEmpty,
		api.ErrInvalidLoopSource,
		api.ErrNegativeDelay,
		api.ErrFunctionNameEmpty,
		api.ErrWebhookURLEmpty,
		api.ErrNegativeRetries,
		api.ErrInvalidBackoffType,
	}

	conflictErrors = []error{
		registry.ErrAlreadyRunning,
		engine.ErrJobInactive,
		flow.ErrNoComparator,
	}

	unavailableErrors = []error{
		engine.ErrEngineStopped,
		store.ErrStoreUnavailable,
	}
)

// NewServer creates a new HTTP API server
func NewServer(eng *engine.Engine, hub *events.Hub) *Server {
	return &Server{
		engine:  eng,
		hub:     hub,
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", s.handleHealth)

	// Inbound webhook trigger
	router.POST("/webhook/trigger", s.handleWebhookTrigger)

	eng := router.Group("/engine")
	{
		// Flow endpoints
		eng.POST("/flow/run", s.runFlow)
		eng.GET("/flow/run", s.listFlowRuns)
		eng.GET("/flow/run/:runID", s.getFlowRun)
		eng.POST("/suite/run", s.runSuite)

		// Workflow endpoints
		eng.POST("/workflow/:workflowID/run", s.startWorkflow)
		eng.GET("/workflow/:workflowID/run", s.listWorkflowRuns)
		eng.GET("/workflow/run/:runID", s.getWorkflowRun)

		// Scheduler endpoints
		eng.POST("/trigger", s.handleTrigger)
		eng.POST("/job/:jobID/run", s.runJob)

		// Run control
		eng.GET("/run", s.listActiveRuns)
		eng.POST("/stop", s.stopRuns)

		// Visual baselines
		eng.POST("/visual/:name/approve", s.approveSnapshot)

		// WebSocket
		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}

func invalidJSON(c *gin.Context, err error) {
	writeError(c, fmt.Errorf("%w: %w", ErrInvalidJSON, err))
}

func statusFor(err error) int {
	switch {
	case matchesAny(err, notFoundErrors):
		return http.StatusNotFound
	case matchesAny(err, badRequestErrors):
		return http.StatusBadRequest
	case matchesAny(err, conflictErrors):
		return http.StatusConflict
	case matchesAny(err, unavailableErrors):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func listLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidLimit, raw)
	}
	return min(limit, maxListLimit), nil
}
