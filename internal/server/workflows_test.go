package server_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/marionette/internal/assert/wait"
	"github.com/kode4food/marionette/pkg/api"
)

func TestStartWorkflowEndpoint(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	ctx := context.Background()
	require.NoError(t, env.Store.SaveWorkflow(ctx, testWorkflow("wf")))
	cons := env.EventHub.NewConsumer()
	defer cons.Close()

	w := env.do("POST", "/engine/workflow/wf/run", api.RunWorkflowRequest{
		Inputs: api.Vars{"user": "ada"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var started api.WorkflowStartedResponse
	decode(t, w, &started)
	require.NotEmpty(t, started.RunID)
	wait.On(t, cons).ForEvent(wait.WorkflowFinished(started.RunID))

	w = env.do("GET", "/engine/workflow/run/"+started.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail api.WorkflowRunDetail
	decode(t, w, &detail)
	assert.Equal(t, api.StatusCompleted, detail.Run.Status)
	assert.Equal(t, api.TriggerManual, detail.Run.Trigger)
	assert.Equal(t, "ada", detail.Run.Context["user"])
	assert.Len(t, detail.Executions, 3)

	w = env.do("GET", "/engine/workflow/wf/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list api.WorkflowRunsListResponse
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)
}

func TestStartWorkflowEndpointErrors(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.do("POST", "/engine/workflow/missing/run", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("GET", "/engine/workflow/run/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("POST", "/engine/workflow/wf/run", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ctx := context.Background()
	broken := testWorkflow("broken")
	broken.Edges = broken.Edges[:1]
	require.NoError(t, env.Store.SaveWorkflow(ctx, broken))
	w = env.do("POST", "/engine/workflow/broken/run", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookTrigger(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	ctx := context.Background()
	require.NoError(t, env.Store.SaveWorkflow(ctx, testWorkflow("hooked")))
	cons := env.EventHub.NewConsumer()
	defer cons.Close()

	for _, path := range []string{
		"/webhook/trigger?workflow_id=hooked",
		"/webhook/trigger?name=hooked",
	} {
		w := env.do("POST", path, api.Vars{"order": "42"})
		require.Equal(t, http.StatusAccepted, w.Code, path)

		var started api.WorkflowStartedResponse
		decode(t, w, &started)
		wait.On(t, cons).ForEvent(wait.WorkflowFinished(started.RunID))

		detail, err := env.Engine.GetWorkflowRun(ctx, started.RunID)
		require.NoError(t, err)
		assert.Equal(t, api.TriggerWebhook, detail.Run.Trigger)
		assert.Equal(t, "42", detail.Run.Context["order"])
	}

	w := env.do("POST", "/webhook/trigger", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/webhook/trigger?name=unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerEndpoint(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	ctx := context.Background()
	require.NoError(t, env.Store.SaveWorkflow(ctx, testWorkflow("wf")))

	w := env.do("POST", "/engine/trigger", api.RunNowRequest{
		TargetType: api.TargetWorkflow, Target: "wf",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var res api.RunNowResponse
	decode(t, w, &res)
	assert.NotEmpty(t, res.RunID)
	assert.Nil(t, res.Flow)

	w = env.do("POST", "/engine/trigger", api.RunNowRequest{
		TargetType: "queue", Target: "wf",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/engine/trigger", api.RunNowRequest{
		TargetType: api.TargetFile, Target: "../escape.json",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunJobEndpoint(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	ctx := context.Background()
	require.NoError(t, env.Store.SaveWorkflow(ctx, testWorkflow("wf")))
	require.NoError(t, env.Store.SaveJob(ctx, &api.ScheduledJob{
		ID: "nightly", TargetType: api.TargetWorkflow, Target: "wf",
		Schedule: "0 0 * * *", Active: true,
	}))
	require.NoError(t, env.Store.SaveJob(ctx, &api.ScheduledJob{
		ID: "paused", TargetType: api.TargetWorkflow, Target: "wf",
		Schedule: "0 0 * * *",
	}))

	w := env.do("POST", "/engine/job/nightly/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res api.RunNowResponse
	decode(t, w, &res)
	assert.NotEmpty(t, res.RunID)

	w = env.do("POST", "/engine/job/paused/run", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do("POST", "/engine/job/missing/run", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
