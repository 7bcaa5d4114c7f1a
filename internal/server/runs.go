package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/marionette/pkg/api"
)

func (s *Server) runFlow(c *gin.Context) {
	var req api.RunFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c, err)
		return
	}

	res, err := s.engine.RunFlow(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listFlowRuns(c *gin.Context) {
	limit, err := listLimit(c)
	if err != nil {
		writeError(c, err)
		return
	}

	runs, err := s.engine.ListFlowRuns(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.FlowRunsListResponse{
		Runs:  runs,
		Count: len(runs),
	})
}

func (s *Server) getFlowRun(c *gin.Context) {
	run, err := s.engine.GetFlowRun(c.Request.Context(), c.Param("runID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) runSuite(c *gin.Context) {
	var req api.RunSuiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c, err)
		return
	}

	res, err := s.engine.RunSuite(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listActiveRuns(c *gin.Context) {
	keys := s.engine.ActiveRunKeys()
	c.JSON(http.StatusOK, api.ActiveRunsResponse{
		Keys:  keys,
		Count: len(keys),
	})
}

func (s *Server) stopRuns(c *gin.Context) {
	var req api.StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c, err)
		return
	}

	ctx := c.Request.Context()
	switch {
	case req.All:
		if err := s.engine.StopAll(ctx); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, api.MessageResponse{
			Message: "all runs stopped",
		})
	case req.RunKey != "":
		if err := s.engine.StopRun(ctx, req.RunKey); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, api.MessageResponse{
			Message: "run stopped: " + req.RunKey,
		})
	default:
		writeError(c, ErrStopTarget)
	}
}

func (s *Server) approveSnapshot(c *gin.Context) {
	name := c.Param("name")
	if err := s.engine.ApproveSnapshot(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{
		Message: "baseline approved: " + name,
	})
}
