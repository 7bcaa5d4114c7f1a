package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kode4food/marionette/internal/assert"
	"github.com/kode4food/marionette/internal/assert/helpers"
	"github.com/kode4food/marionette/internal/assert/wait"
	"github.com/kode4food/marionette/internal/engine"
	"github.com/kode4food/marionette/internal/registry"
	"github.com/kode4food/marionette/internal/store"
	"github.com/kode4food/marionette/internal/visual"
	"github.com/kode4food/marionette/internal/workflow"
	"github.com/kode4food/marionette/pkg/api"
)

const testTimeout = 5 * time.Second

var passingSteps = []*api.Step{
	{ID: "open", Action: api.ActionGoto, Value: "https://example.com"},
	{ID: "check", Action: api.ActionAssertion, Value: "Example Domain"},
}

func TestRunFlowInline(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()
		cons := env.EventHub.NewConsumer()
		defer cons.Close()

		res, err := env.Engine.RunFlow(ctx, &api.RunFlowRequest{
			Steps: passingSteps,
		})
		require.NoError(t, err)
		as.FlowPassed(res.FlowResult)
		as.NotEmpty(res.RunID)
		as.Equal(0, env.Engine.ActiveRuns())

		run, err := env.Engine.GetFlowRun(ctx, res.RunID)
		require.NoError(t, err)
		as.Equal(api.StatusPassed, run.Status)
		as.Equal(api.AdHocFlowID, run.FlowID)
		as.Equal(res.Logs, run.Logs)
		as.False(run.EndTime.IsZero())

		ev := wait.On(t, cons).ForEvent(wait.FlowFinished(res.RunID))
		as.Equal(string(api.StatusPassed), ev.Status)
	})
}

func TestRunFlowPublishesLogs(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		cons := env.EventHub.NewConsumer()
		defer cons.Close()

		res, err := env.Engine.RunFlow(context.Background(),
			&api.RunFlowRequest{Steps: passingSteps},
		)
		require.NoError(t, err)

		evs := wait.On(t, cons).ForEvents(len(res.Logs), wait.And(
			wait.Type(api.EventTypeFlowLog), wait.Run(res.RunID),
		))
		as.Len(evs, len(res.Logs))
		as.Equal(res.Logs[0], evs[0].Message)
	})
}

func TestRunFlowStored(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()
		require.NoError(t, env.Store.SaveFlow(ctx, &api.Flow{
			ID: "home", Name: "Home", Steps: passingSteps,
		}))

		headless := false
		res, err := env.Engine.RunFlow(ctx, &api.RunFlowRequest{
			FlowID: "home", Headless: &headless,
		})
		require.NoError(t, err)
		as.FlowPassed(res.FlowResult)

		sessions := env.Launcher.Sessions()
		require.Len(t, sessions, 1)
		as.False(sessions[0].Headless())

		runs, err := env.Engine.ListFlowRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		as.Equal("home", runs[0].FlowID)
	})
}

func TestRunFlowErrors(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()

		_, err := env.Engine.RunFlow(ctx, &api.RunFlowRequest{})
		as.ErrorIs(err, api.ErrStepsRequired)

		_, err = env.Engine.RunFlow(ctx, &api.RunFlowRequest{
			FlowID: "missing",
		})
		as.ErrorIs(err, store.ErrFlowNotFound)

		_, err = env.Engine.RunFlow(ctx, &api.RunFlowRequest{
			Steps: []*api.Step{{Action: "hover"}},
		})
		as.ErrorIs(err, api.ErrInvalidAction)
	})
}

func TestRunFlowFailure(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		res, err := env.Engine.RunFlow(context.Background(),
			&api.RunFlowRequest{Steps: []*api.Step{
				{Action: api.ActionGoto, Value: "https://example.com"},
				{Action: api.ActionAssertion, Value: "Missing"},
			}},
		)
		require.NoError(t, err)
		as.FlowFailed(res.FlowResult, "Test Failed")

		run, err := env.Engine.GetFlowRun(context.Background(), res.RunID)
		require.NoError(t, err)
		as.Equal(api.StatusFailed, run.Status)
	})
}

func TestStopRun(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()

		resCh := make(chan *api.RunFlowResponse, 1)
		go func() {
			res, err := env.Engine.RunFlow(ctx, &api.RunFlowRequest{
				Steps: []*api.Step{
					{Action: api.ActionGoto, Value: "https://example.com"},
					{Action: api.ActionWait, Value: "10000"},
					{Action: api.ActionClick, Selector: "h1"},
				},
			})
			as.NoError(err)
			resCh <- res
		}()

		as.Eventually(func() bool {
			return env.Engine.ActiveRuns() == 1
		}, testTimeout, "run never registered")
		keys := env.Engine.ActiveRunKeys()
		require.Len(t, keys, 1)

		require.NoError(t, env.Engine.StopRun(ctx, keys[0]))
		select {
		case res := <-resCh:
			as.Equal(api.StatusAborted, res.Status)
			as.False(res.Success)
			as.Equal(keys[0], res.RunID)
		case <-time.After(testTimeout):
			t.Fatal("run did not stop")
		}
		as.Equal(0, env.Engine.ActiveRuns())
		as.True(env.Launcher.AllClosed())

		as.ErrorIs(env.Engine.StopRun(ctx, keys[0]), registry.ErrRunNotFound)
	})
}

func TestStopAll(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()

		const count = 3
		resCh := make(chan *api.RunFlowResponse, count)
		for range count {
			go func() {
				res, err := env.Engine.RunFlow(ctx, &api.RunFlowRequest{
					Steps: []*api.Step{
						{Action: api.ActionWait, Value: "10000"},
					},
				})
				as.NoError(err)
				resCh <- res
			}()
		}

		as.Eventually(func() bool {
			return env.Engine.ActiveRuns() == count
		}, testTimeout, "runs never registered")
		require.NoError(t, env.Engine.StopAll(ctx))
		as.Equal(0, env.Engine.ActiveRuns())

		for range count {
			res := <-resCh
			as.Equal(api.StatusAborted, res.Status)
		}
		as.True(env.Launcher.AllClosed())
	})
}

func TestRunSuite(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()
		require.NoError(t, env.Store.SaveFlow(ctx, &api.Flow{
			ID: "good", Name: "Good", Steps: passingSteps,
		}))
		require.NoError(t, env.Store.SaveFlow(ctx, &api.Flow{
			ID: "bad", Name: "Bad", Steps: []*api.Step{
				{Action: api.ActionGoto, Value: "https://example.com"},
				{Action: api.ActionAssertion, Value: "Missing"},
			},
		}))

		res, err := env.Engine.RunSuite(ctx, &api.RunSuiteRequest{
			Tag:         "Smoke",
			FlowIDs:     []string{"good", "bad", "missing", "good"},
			Concurrency: 2,
		})
		require.NoError(t, err)
		require.Len(t, res.Results, 4)
		as.Equal(2, res.Passed)
		as.Equal(2, res.Failed)
		as.Equal(0, res.Aborted)

		as.Equal("good", res.Results[0].FlowID)
		as.True(res.Results[0].Success)
		as.Contains(res.Results[0].RunKey, "suite-smoke-1-good-")
		as.Equal("bad", res.Results[1].FlowID)
		as.False(res.Results[1].Success)
		as.Contains(res.Results[2].Error, "flow not found")
		as.Nil(res.Results[2].FlowResult)
		as.NotEqual(res.Results[0].RunKey, res.Results[3].RunKey)

		as.Len(env.Launcher.Sessions(), 3)
		as.True(env.Launcher.AllClosed())

		_, err = env.Engine.RunSuite(ctx, &api.RunSuiteRequest{})
		as.ErrorIs(err, api.ErrFlowIDsEmpty)
	})
}

func TestStartWorkflow(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()
		require.NoError(t, env.Store.SaveWorkflow(ctx, testWorkflow("wf")))
		cons := env.EventHub.NewConsumer()
		defer cons.Close()

		runID, err := env.Engine.StartWorkflow(
			ctx, "wf", "", api.Vars{"user": "ada"},
		)
		require.NoError(t, err)
		as.NotEmpty(runID)

		wait.On(t, cons).ForEvent(wait.WorkflowFinished(runID))

		detail, err := env.Engine.GetWorkflowRun(ctx, runID)
		require.NoError(t, err)
		as.WorkflowStatus(detail.Run, api.StatusCompleted)
		as.Equal(api.TriggerManual, detail.Run.Trigger)
		as.Equal("ada", detail.Run.Context["user"])
		as.NodeVisits(detail.Executions, "start", "login", "end")

		as.Eventually(func() bool {
			return env.Engine.ActiveRuns() == 0
		}, testTimeout, "workflow run never unregistered")

		runs, err := env.Engine.ListWorkflowRuns(ctx, "wf", 5)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		as.Equal(runID, runs[0].ID)
	})
}

func TestStartWorkflowByName(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()
		wf := testWorkflow("wf-1")
		wf.Name = "nightly"
		require.NoError(t, env.Store.SaveWorkflow(ctx, wf))
		cons := env.EventHub.NewConsumer()
		defer cons.Close()

		runID, err := env.Engine.StartWorkflowByName(
			ctx, "nightly", api.TriggerWebhook, nil,
		)
		require.NoError(t, err)
		wait.On(t, cons).ForEvent(wait.WorkflowFinished(runID))

		detail, err := env.Engine.GetWorkflowRun(ctx, runID)
		require.NoError(t, err)
		as.Equal("wf-1", detail.Run.WorkflowID)
		as.Equal(api.TriggerWebhook, detail.Run.Trigger)

		_, err = env.Engine.StartWorkflowByName(ctx, "none", "", nil)
		as.ErrorIs(err, store.ErrWorkflowNotFound)
	})
}

func TestRunWorkflowSync(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()
		require.NoError(t, env.Store.SaveWorkflow(ctx, testWorkflow("wf")))

		run, err := env.Engine.RunWorkflow(ctx, "wf", api.TriggerManual, nil)
		require.NoError(t, err)
		as.WorkflowStatus(run, api.StatusCompleted)
		as.Equal(0, env.Engine.ActiveRuns())

		out, ok := run.Context["login"].(map[string]any)
		require.True(t, ok)
		as.Equal(true, out["success"])
	})
}

func TestStartWorkflowRejectsGraph(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()
		wf := testWorkflow("broken")
		wf.Edges = wf.Edges[:1]
		require.NoError(t, env.Store.SaveWorkflow(ctx, wf))

		_, err := env.Engine.StartWorkflow(ctx, "broken", "", nil)
		as.ErrorIs(err, workflow.ErrGraphIntegrity)
		as.Equal(0, env.Engine.ActiveRuns())

		runs, err := env.Engine.ListWorkflowRuns(ctx, "broken", 5)
		require.NoError(t, err)
		as.Empty(runs)
	})
}

func TestStopWorkflowRun(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()
		wf := &api.Workflow{
			ID: "slow",
			Nodes: []*api.Node{
				{ID: "start", Type: api.NodeStart, Config: &api.StartConfig{}},
				{ID: "pause", Type: api.NodeDelay,
					Config: &api.DelayConfig{Duration: 10_000}},
				{ID: "end", Type: api.NodeEnd, Config: &api.EndConfig{}},
			},
			Edges: []*api.Edge{
				{Source: "start", Target: "pause"},
				{Source: "pause", Target: "end"},
			},
		}
		require.NoError(t, env.Store.SaveWorkflow(ctx, wf))
		cons := env.EventHub.NewConsumer()
		defer cons.Close()

		runID, err := env.Engine.StartWorkflow(ctx, "slow", "", nil)
		require.NoError(t, err)
		wait.On(t, cons).ForEvent(wait.NodeStarted(runID, "pause"))

		require.NoError(t, env.Engine.StopRun(ctx, runID))
		detail, err := env.Engine.GetWorkflowRun(ctx, runID)
		require.NoError(t, err)
		as.WorkflowStatus(detail.Run, api.StatusAborted)
		as.NodeVisits(detail.Executions, "start", "pause")
		as.Equal(api.NodeSkipped, detail.Executions[1].Status)
	})
}

func TestRunNowFile(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()
		writeTestFile(t, env, "list.json", `[
			{"action": "goto", "value": "https://example.com"},
			{"action": "assertion", "value": "${title}"}
		]`)
		writeTestFile(t, env, "nested/object.yaml", `
steps:
  - action: goto
    value: https://example.com
  - action: assertion
    value: ${title}
data:
  title: Example Domain
`)

		res, err := env.Engine.RunNow(ctx, &api.RunNowRequest{
			TargetType: api.TargetFile, Target: "list.json",
		})
		require.NoError(t, err)
		as.NotEmpty(res.RunID)
		as.FlowFailed(res.Flow, "${title}")

		res, err = env.Engine.RunNow(ctx, &api.RunNowRequest{
			TargetType: api.TargetFile, Target: "nested/object.yaml",
		})
		require.NoError(t, err)
		as.FlowPassed(res.Flow)

		run, err := env.Engine.GetFlowRun(ctx, res.RunID)
		require.NoError(t, err)
		as.Equal(api.AdHocFlowID, run.FlowID)
	})
}

func TestRunNowFileErrors(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()
		writeTestFile(t, env, "empty.json", `{"steps": []}`)
		writeTestFile(t, env, "bad.yml", "steps: [")
		writeTestFile(t, env, "hover.json", `[{"action": "hover"}]`)

		for _, target := range []string{
			"../escape.json", "/etc/passwd", "missing.json", "empty.json",
			"bad.yml",
		} {
			_, err := env.Engine.RunNow(ctx, &api.RunNowRequest{
				TargetType: api.TargetFile, Target: target,
			})
			as.ErrorIs(err, engine.ErrInvalidTestFile, target)
		}

		_, err := env.Engine.RunNow(ctx, &api.RunNowRequest{
			TargetType: api.TargetFile, Target: "hover.json",
		})
		as.ErrorIs(err, api.ErrInvalidAction)

		_, err = env.Engine.RunNow(ctx, &api.RunNowRequest{
			TargetType: "suite", Target: "x",
		})
		as.ErrorIs(err, api.ErrInvalidTargetType)
		as.Empty(env.Launcher.Sessions())
	})
}

func TestRunNowWorkflow(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()
		require.NoError(t, env.Store.SaveWorkflow(ctx, testWorkflow("wf")))
		cons := env.EventHub.NewConsumer()
		defer cons.Close()

		res, err := env.Engine.RunNow(ctx, &api.RunNowRequest{
			TargetType: api.TargetWorkflow,
			Target:     "wf",
			Trigger:    api.TriggerScheduled,
		})
		require.NoError(t, err)
		as.Nil(res.Flow)
		wait.On(t, cons).ForEvent(wait.WorkflowFinished(res.RunID))

		detail, err := env.Engine.GetWorkflowRun(ctx, res.RunID)
		require.NoError(t, err)
		as.Equal(api.TriggerScheduled, detail.Run.Trigger)
		as.WorkflowStatus(detail.Run, api.StatusCompleted)
	})
}

func TestRunJob(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()
		require.NoError(t, env.Store.SaveWorkflow(ctx, testWorkflow("wf")))
		require.NoError(t, env.Store.SaveJob(ctx, &api.ScheduledJob{
			ID: "nightly", TargetType: api.TargetWorkflow, Target: "wf",
			Active: true,
		}))
		require.NoError(t, env.Store.SaveJob(ctx, &api.ScheduledJob{
			ID: "paused", TargetType: api.TargetWorkflow, Target: "wf",
		}))
		cons := env.EventHub.NewConsumer()
		defer cons.Close()

		res, err := env.Engine.RunJob(ctx, "nightly")
		require.NoError(t, err)
		wait.On(t, cons).ForEvent(wait.WorkflowFinished(res.RunID))
		detail, err := env.Engine.GetWorkflowRun(ctx, res.RunID)
		require.NoError(t, err)
		as.Equal(api.TriggerScheduled, detail.Run.Trigger)

		_, err = env.Engine.RunJob(ctx, "paused")
		as.ErrorIs(err, engine.ErrJobInactive)

		_, err = env.Engine.RunJob(ctx, "none")
		as.ErrorIs(err, store.ErrJobNotFound)
	})
}

func TestApproveSnapshot(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()

		as.ErrorIs(
			env.Engine.ApproveSnapshot(ctx, "home"), visual.ErrNoActual,
		)

		require.NoError(t, env.Artifacts.Put(
			ctx, visual.ActualKey("home"), []byte("png"),
		))
		require.NoError(t, env.Engine.ApproveSnapshot(ctx, "home"))
		data, err := env.Artifacts.Get(ctx, visual.BaselineKey("home"))
		require.NoError(t, err)
		as.Equal([]byte("png"), data)
	})
}

func TestStoppedEngine(t *testing.T) {
	env := helpers.NewTestEngine(t)
	as := assert.New(t)
	ctx := context.Background()
	require.NoError(t, env.Store.SaveWorkflow(ctx, testWorkflow("wf")))

	env.Engine.Start()
	require.NoError(t, env.Engine.Stop(ctx))

	_, err := env.Engine.RunFlow(ctx, &api.RunFlowRequest{Steps: passingSteps})
	as.ErrorIs(err, engine.ErrEngineStopped)
	_, err = env.Engine.StartWorkflow(ctx, "wf", "", nil)
	as.ErrorIs(err, engine.ErrEngineStopped)
	env.Cleanup()
}

func testWorkflow(id string) *api.Workflow {
	return &api.Workflow{
		ID:   id,
		Name: id,
		Nodes: []*api.Node{
			{ID: "start", Type: api.NodeStart, Config: &api.StartConfig{}},
			{ID: "login", Type: api.NodeTest,
				Config: &api.TestConfig{Steps: passingSteps}},
			{ID: "end", Type: api.NodeEnd, Config: &api.EndConfig{}},
		},
		Edges: []*api.Edge{
			{Source: "start", Target: "login"},
			{Source: "login", Target: "end"},
		},
	}
}

func writeTestFile(
	t *testing.T, env *helpers.TestEngineEnv, name, content string,
) {
	t.Helper()
	path := filepath.Join(env.Config.TestsDir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
