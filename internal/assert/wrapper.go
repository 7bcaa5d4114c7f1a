package assert

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/marionette/internal/config"
	"github.com/kode4food/marionette/pkg/api"
)

// Wrapper wraps testify assertions with Marionette-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
	Require *assert.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus Marionette-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    assert.New(t),
	}
}

// FlowPassed asserts that a flow result succeeded
func (w *Wrapper) FlowPassed(res *api.FlowResult) {
	w.Helper()
	w.Equal(api.StatusPassed, res.Status, "logs: %v", res.Logs)
	w.True(res.Success)
}

// FlowFailed asserts that a flow result failed with a log line containing
// the given text
func (w *Wrapper) FlowFailed(res *api.FlowResult, contains string) {
	w.Helper()
	w.Equal(api.StatusFailed, res.Status, "logs: %v", res.Logs)
	w.False(res.Success)
	if contains != "" {
		w.True(LogContains(res.Logs, contains),
			"no log line contains %q: %v", contains, res.Logs)
	}
}

// WorkflowStatus asserts the status of a workflow run
func (w *Wrapper) WorkflowStatus(run *api.WorkflowRun, expected api.RunStatus) {
	w.Helper()
	w.Equal(expected, run.Status, "error: %s", run.Error)
	w.True(run.Status.IsTerminal())
	w.False(run.EndTime.IsZero())
}

// NodeVisits asserts the sequence of visited node IDs
func (w *Wrapper) NodeVisits(execs []*api.NodeExecution, expected ...string) {
	w.Helper()
	ids := make([]string, len(execs))
	for i, ex := range execs {
		ids[i] = ex.NodeID
	}
	w.Equal(expected, ids)
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= 65535)
	w.True(cfg.StepTimeout > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}

// EventuallyWithError runs a condition that returns an error until it succeeds
// or times out
func (w *Wrapper) EventuallyWithError(
	condition func() error, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		err := condition()
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(DefaultRetryInterval)
	}
	if lastErr != nil {
		w.Fail(msg+": last error: "+lastErr.Error(), args...)
		return
	}
	w.Fail(msg, args...)
}

// LogContains reports whether any log line contains substr
func LogContains(logs []string, substr string) bool {
	for _, l := range logs {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}
