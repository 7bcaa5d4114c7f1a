package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/marionette/pkg/api"
)

func (s *Server) startWorkflow(c *gin.Context) {
	var req api.RunWorkflowRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		invalidJSON(c, err)
		return
	}

	runID, err := s.engine.StartWorkflow(
		c.Request.Context(), c.Param("workflowID"), api.TriggerManual,
		req.Inputs,
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.WorkflowStartedResponse{
		Message: "workflow run started",
		RunID:   runID,
	})
}

func (s *Server) listWorkflowRuns(c *gin.Context) {
	limit, err := listLimit(c)
	if err != nil {
		writeError(c, err)
		return
	}

	runs, err := s.engine.ListWorkflowRuns(
		c.Request.Context(), c.Param("workflowID"), limit,
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.WorkflowRunsListResponse{
		Runs:  runs,
		Count: len(runs),
	})
}

func (s *Server) getWorkflowRun(c *gin.Context) {
	detail, err := s.engine.GetWorkflowRun(
		c.Request.Context(), c.Param("runID"),
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleTrigger(c *gin.Context) {
	var req api.RunNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c, err)
		return
	}

	res, err := s.engine.RunNow(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) runJob(c *gin.Context) {
	res, err := s.engine.RunJob(c.Request.Context(), c.Param("jobID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleWebhookTrigger starts a workflow named by the workflow_id or name
// query parameter. The JSON body, if any, becomes the run's inputs
func (s *Server) handleWebhookTrigger(c *gin.Context) {
	var inputs api.Vars
	if err := bindOptionalJSON(c, &inputs); err != nil {
		invalidJSON(c, err)
		return
	}

	ctx := c.Request.Context()
	var runID string
	var err error
	switch id, name := c.Query("workflow_id"), c.Query("name"); {
	case id != "":
		runID, err = s.engine.StartWorkflow(
			ctx, id, api.TriggerWebhook, inputs,
		)
	case name != "":
		runID, err = s.engine.StartWorkflowByName(
			ctx, name, api.TriggerWebhook, inputs,
		)
	default:
		err = ErrWorkflowTarget
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.WorkflowStartedResponse{
		Message: "workflow run started",
		RunID:   runID,
	})
}

func bindOptionalJSON(c *gin.Context, target any) error {
	if err := c.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
