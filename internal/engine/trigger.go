package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/log"
)

// testFile is the object form of a steps file. A file may also hold a bare
// list of steps
type testFile struct {
	Data  api.Vars    `json:"data" yaml:"data"`
	Steps []*api.Step `json:"steps" yaml:"steps"`
}

// RunNow is the scheduler's inbound call. Workflow targets are started in
// the background; file targets run to completion as ad-hoc flows
func (e *Engine) RunNow(
	ctx context.Context, req *api.RunNowRequest,
) (*api.RunNowResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = api.TriggerManual
	}
	slog.Info("Run requested",
		slog.String("target_type", string(req.TargetType)),
		slog.String("target", req.Target),
		slog.String("trigger", string(trigger)))

	switch req.TargetType {
	case api.TargetWorkflow:
		runID, err := e.StartWorkflow(ctx, req.Target, trigger, nil)
		if err != nil {
			return nil, err
		}
		return &api.RunNowResponse{RunID: runID}, nil
	default:
		tf, err := e.loadTestFile(req.Target)
		if err != nil {
			return nil, err
		}
		runID := uuid.NewString()
		res, err := e.runFlow(
			ctx, runID, runID, api.AdHocFlowID, tf.Steps, tf.Data,
			e.config.Headless,
		)
		if err != nil {
			return nil, err
		}
		return &api.RunNowResponse{Flow: res, RunID: runID}, nil
	}
}

// RunJob loads a scheduled job and runs its target with the scheduled
// trigger. Inactive jobs are refused
func (e *Engine) RunJob(
	ctx context.Context, jobID string,
) (*api.RunNowResponse, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Active {
		slog.Info("Skipping inactive job", slog.String("job_id", job.ID))
		return nil, fmt.Errorf("%w: %s", ErrJobInactive, job.ID)
	}
	return e.RunNow(ctx, &api.RunNowRequest{
		TargetType: job.TargetType,
		Target:     job.Target,
		Trigger:    api.TriggerScheduled,
	})
}

func (e *Engine) loadTestFile(name string) (*testFile, error) {
	if !filepath.IsLocal(name) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTestFile, name)
	}
	data, err := os.ReadFile(filepath.Join(e.config.TestsDir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTestFile, err)
	}

	tf, err := decodeTestFile(name, data)
	if err != nil {
		slog.Warn("Test file rejected",
			slog.String("file", name),
			log.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidTestFile, name, err)
	}
	if len(tf.Steps) == 0 {
		return nil, fmt.Errorf("%w: %s: no steps", ErrInvalidTestFile, name)
	}
	if err := api.ValidateSteps(tf.Steps); err != nil {
		return nil, err
	}
	return tf, nil
}

func decodeTestFile(name string, data []byte) (*testFile, error) {
	tf := &testFile{}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if len(doc.Content) == 0 {
			return tf, nil
		}
		root := doc.Content[0]
		if root.Kind == yaml.SequenceNode {
			return tf, root.Decode(&tf.Steps)
		}
		return tf, root.Decode(tf)
	default:
		trimmed := bytes.TrimSpace(data)
		if bytes.HasPrefix(trimmed, []byte("[")) {
			return tf, json.Unmarshal(trimmed, &tf.Steps)
		}
		return tf, json.Unmarshal(trimmed, tf)
	}
}
