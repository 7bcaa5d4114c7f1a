package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/log"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

func (s *Server) handleHealth(c *gin.Context) {
	status := healthStatusHealthy
	code := http.StatusOK
	if err := s.engine.Ping(c.Request.Context()); err != nil {
		slog.Warn("Health check failed",
			log.Error(err))
		status = healthStatusUnhealthy
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, api.HealthResponse{
		Service:    serviceName,
		Status:     status,
		ActiveRuns: s.engine.ActiveRuns(),
	})
}
