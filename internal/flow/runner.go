package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kode4food/marionette/internal/browser"
	"github.com/kode4food/marionette/internal/client"
	"github.com/kode4food/marionette/internal/visual"
	"github.com/kode4food/marionette/pkg/api"
	"github.com/kode4food/marionette/pkg/log"
)

type (
	// Comparator checks a page screenshot against its stored baseline
	Comparator interface {
		Compare(
			ctx context.Context, src visual.Screenshotter, name string,
		) (*visual.Result, error)
	}

	// Deps are the collaborators shared by every Runner
	Deps struct {
		Launcher browser.Launcher
		Pages    PageStore
		Visual   Comparator
	}

	// Runner executes one step sequence against one browser session. A
	// Runner is single-use
	Runner struct {
		deps      Deps
		resolver  *Resolver
		onLog     func(string)
		abortCh   chan struct{}
		done      chan struct{}
		lastAPI   *client.Response
		flowID    string
		logs      []string
		artifacts []string
		headless  bool
		state     runnerState
		aborted   bool
		mu        sync.Mutex
	}

	// Option configures a Runner
	Option func(*Runner)

	runnerState int
)

const (
	stateIdle runnerState = iota
	stateRunning
	stateFinished
)

const (
	DefaultWaitMs         = 1000
	DefaultAPIStatus      = 200
	AssertTargetStatus    = "status"
	AssertTargetBody      = "body"
	logTimestampFormat    = time.RFC3339Nano
	logLinePrefixTemplate = "[%s] %s"
)

var (
	ErrStepFailed         = errors.New("step failed")
	ErrAssertionFailed    = errors.New("assertion failed")
	ErrNoAPIResponse      = errors.New("no previous API response")
	ErrAPIStatusMismatch  = errors.New("API status assertion failed")
	ErrAPIBodyMismatch    = errors.New("API body assertion failed")
	ErrInvalidAssertField = errors.New("invalid API assertion target")
	ErrVisualMismatch     = errors.New("visual regression failed")
	ErrSelectorRequired   = errors.New("selector required")
	ErrRunnerUsed         = errors.New("runner already used")
	ErrNoComparator       = errors.New("visual comparator not configured")

	errInterrupted = errors.New("wait interrupted by abort")
)

// WithHeadless sets whether the browser runs without a window
func WithHeadless(headless bool) Option {
	return func(r *Runner) {
		r.headless = headless
	}
}

// WithFlowID labels the run's log with the flow being executed
func WithFlowID(id string) Option {
	return func(r *Runner) {
		r.flowID = id
	}
}

// WithLogHook receives every log line as it is appended
func WithLogHook(fn func(string)) Option {
	return func(r *Runner) {
		r.onLog = fn
	}
}

// NewRunner creates a single-use runner
func NewRunner(deps Deps, opts ...Option) *Runner {
	r := &Runner{
		deps:     deps,
		resolver: NewResolver(deps.Pages),
		abortCh:  make(chan struct{}),
		done:     make(chan struct{}),
		flowID:   api.AdHocFlowID,
		headless: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes steps in order with vars available for placeholder
// substitution. Every outcome, including launch failures and panics, is
// captured in the returned result
func (r *Runner) Run(
	ctx context.Context, steps []*api.Step, vars api.Vars,
) *api.FlowResult {
	start := time.Now()

	r.mu.Lock()
	if r.state != stateIdle {
		r.mu.Unlock()
		return &api.FlowResult{
			Status: api.StatusFailed,
			Logs:   []string{r.line("Test Failed: " + ErrRunnerUsed.Error())},
		}
	}
	r.state = stateRunning
	r.mu.Unlock()

	status := r.execute(ctx, steps, vars)

	r.mu.Lock()
	r.state = stateFinished
	logs := slices.Clone(r.logs)
	artifacts := slices.Clone(r.artifacts)
	r.mu.Unlock()
	close(r.done)

	return &api.FlowResult{
		Success:    status == api.StatusPassed,
		Status:     status,
		Logs:       logs,
		Artifacts:  artifacts,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// Abort requests cooperative cancellation. No new step begins once the
// request is observed. When the run is in progress, Abort waits until it
// has torn down its browser session or ctx ends
func (r *Runner) Abort(ctx context.Context) error {
	r.mu.Lock()
	state := r.state
	first := !r.aborted
	r.mu.Unlock()

	if first && state == stateRunning {
		r.log("Abort signal received")
	}

	r.mu.Lock()
	if !r.aborted {
		r.aborted = true
		close(r.abortCh)
	}
	r.mu.Unlock()

	if state != stateRunning {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the run has finished and its session is closed
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Logs returns a snapshot of the lines logged so far
func (r *Runner) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.logs)
}

func (r *Runner) execute(
	ctx context.Context, steps []*api.Step, vars api.Vars,
) (status api.RunStatus) {
	r.log("Starting Test Flow ID: " + r.flowID)

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Flow runner panicked",
				log.FlowID(r.flowID),
				slog.Any("panic", rec))
			r.log(fmt.Sprintf("Test Failed: %v", rec))
			status = api.StatusFailed
		}
	}()

	if r.stopRequested(ctx) {
		r.log("Test execution aborted by user.")
		return api.StatusAborted
	}

	sess, err := r.deps.Launcher.Launch(ctx, r.headless)
	if err != nil {
		r.log("Test Failed: " + err.Error())
		return api.StatusFailed
	}
	defer func() {
		if err := sess.Close(); err != nil {
			slog.Warn("Browser session close failed",
				log.FlowID(r.flowID),
				log.Error(err))
		}
	}()

	for i, step := range steps {
		if r.stopRequested(ctx) {
			r.log("Test execution aborted by user.")
			return api.StatusAborted
		}

		resolved := step.Resolve(vars)
		r.log(fmt.Sprintf("Executing Step: %s - %s",
			resolved.Action, resolved.Description))

		if err := r.execStep(ctx, sess, resolved); err != nil {
			if r.stopRequested(ctx) {
				r.log("Test execution stopped.")
				return api.StatusAborted
			}
			err = fmt.Errorf("%w: step %d (%s): %w",
				ErrStepFailed, i, resolved.Action, err)
			slog.Info("Flow step failed",
				log.FlowID(r.flowID),
				log.StepID(resolved.ID),
				log.Error(err))
			r.log("Test Failed: " + err.Error())
			return api.StatusFailed
		}
		r.log("Step Passed: " + string(resolved.Action))
	}

	r.log("Test Flow Completed Successfully")
	return api.StatusPassed
}

func (r *Runner) execStep(
	ctx context.Context, sess browser.Session, step *api.Step,
) error {
	if err := step.Validate(); err != nil {
		return err
	}

	sel := step.Selector
	if concrete, ok := r.resolver.Resolve(ctx, sel); ok {
		r.log(fmt.Sprintf("Resolved POM: %s -> %s", sel, concrete))
		sel = concrete
	}

	err := r.perform(ctx, sess, step, sel)
	if err == nil || !r.canHeal(step, sel, err) {
		return err
	}

	r.log(fmt.Sprintf("Step Failed: %s. Attempting Self-Healing...", err))
	healed, ok := Heal(ctx, sess, step.Description)
	if !ok {
		return err
	}
	r.log(fmt.Sprintf("Healed Selector: %s -> %s", sel, healed))
	if herr := r.perform(ctx, sess, step, healed); herr != nil {
		r.log("Healed selector failed: " + herr.Error())
		return err
	}
	return nil
}

func (r *Runner) canHeal(step *api.Step, sel string, err error) bool {
	return step.Interactive() && sel != "" && step.Description != "" &&
		browser.IsNotFound(err)
}

func (r *Runner) perform(
	ctx context.Context, sess browser.Session, step *api.Step, sel string,
) error {
	switch step.Action {
	case api.ActionGoto:
		return sess.Goto(ctx, step.Value)
	case api.ActionClick:
		if sel == "" {
			return ErrSelectorRequired
		}
		return sess.Click(ctx, sel)
	case api.ActionFill:
		if sel == "" {
			return ErrSelectorRequired
		}
		return sess.Fill(ctx, sel, step.Value)
	case api.ActionWait:
		return r.wait(ctx, waitDuration(step.Value))
	case api.ActionAssertion:
		return r.assertText(ctx, sess, step.Value)
	case api.ActionAPIRequest:
		return r.apiRequest(ctx, sess, sel, step.Value, step.APIBody)
	case api.ActionAPIAssert:
		return r.apiAssert(sel, step.Value)
	case api.ActionVisualAssert:
		return r.visualAssert(ctx, sess, step.SnapshotNameOrDefault())
	default:
		return fmt.Errorf("%w: %q", api.ErrInvalidAction, step.Action)
	}
}

func (r *Runner) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-r.abortCh:
		return errInterrupted
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) assertText(
	ctx context.Context, sess browser.Session, expected string,
) error {
	content, err := sess.TextContent(ctx, browser.DefaultScope)
	if err != nil {
		return err
	}
	if !strings.Contains(content, expected) {
		return fmt.Errorf("%w: text %q not found", ErrAssertionFailed, expected)
	}
	return nil
}

func (r *Runner) apiRequest(
	ctx context.Context, sess browser.Session, method, url, body string,
) error {
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)
	resp, err := sess.Request(ctx, method, url, requestBody(body))
	if err != nil {
		return err
	}
	r.lastAPI = resp
	r.log(fmt.Sprintf("API %s %s -> %d", method, url, resp.Status))
	return nil
}

func (r *Runner) apiAssert(target, expected string) error {
	if r.lastAPI == nil {
		return ErrNoAPIResponse
	}
	switch target {
	case AssertTargetStatus:
		want := DefaultAPIStatus
		if expected != "" {
			n, err := strconv.Atoi(strings.TrimSpace(expected))
			if err != nil {
				return fmt.Errorf("%w: invalid status %q",
					ErrAPIStatusMismatch, expected)
			}
			want = n
		}
		if r.lastAPI.Status != want {
			return fmt.Errorf("%w: expected %d, got %d",
				ErrAPIStatusMismatch, want, r.lastAPI.Status)
		}
		return nil
	case AssertTargetBody:
		if !strings.Contains(r.lastAPI.BodyText(), expected) {
			return fmt.Errorf("%w: body did not contain %q",
				ErrAPIBodyMismatch, expected)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAssertField, target)
	}
}

func (r *Runner) visualAssert(
	ctx context.Context, sess browser.Session, name string,
) error {
	if r.deps.Visual == nil {
		return ErrNoComparator
	}
	res, err := r.deps.Visual.Compare(ctx, sess, name)
	if err != nil {
		return err
	}
	if res.BaselineCreated {
		r.addArtifacts(res.BaselinePath)
		r.log("Visual baseline created: " + res.BaselinePath)
	}
	if !res.Match {
		r.addArtifacts(res.ActualPath, res.DiffPath)
		return fmt.Errorf("%w: %d pixels differ, diff saved at %s",
			ErrVisualMismatch, res.DiffPixels, res.DiffPath)
	}
	return nil
}

func (r *Runner) addArtifacts(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts = append(r.artifacts, paths...)
}

func (r *Runner) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

func (r *Runner) log(msg string) {
	line := r.line(msg)
	r.mu.Lock()
	r.logs = append(r.logs, line)
	hook := r.onLog
	r.mu.Unlock()
	slog.Debug(msg, log.FlowID(r.flowID))
	if hook != nil {
		hook(line)
	}
}

func (r *Runner) line(msg string) string {
	ts := time.Now().UTC().Format(logTimestampFormat)
	return fmt.Sprintf(logLinePrefixTemplate, ts, msg)
}

func waitDuration(value string) time.Duration {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || ms < 0 {
		ms = DefaultWaitMs
	}
	return time.Duration(ms) * time.Millisecond
}

// requestBody sends JSON bodies as-is and any other text as a JSON string
func requestBody(body string) []byte {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if json.Valid([]byte(body)) {
		return []byte(body)
	}
	b, _ := json.Marshal(body)
	return b
}
