package api

import "errors"

type (
	// RunFlowRequest starts a bare flow run, either of a stored flow or of
	// the inline steps
	RunFlowRequest struct {
		Data     Vars    `json:"data,omitempty"`
		Headless *bool   `json:"headless,omitempty"`
		FlowID   string  `json:"flow_id,omitempty"`
		Steps    []*Step `json:"steps,omitempty"`
	}

	// RunFlowResponse is returned when a bare flow run finishes
	RunFlowResponse struct {
		*FlowResult
		RunID string `json:"run_id"`
	}

	// RunSuiteRequest runs several stored flows with bounded concurrency
	RunSuiteRequest struct {
		Tag         string   `json:"tag,omitempty"`
		FlowIDs     []string `json:"flow_ids"`
		Concurrency int      `json:"concurrency,omitempty"`
	}

	// SuiteFlowResult is the outcome of one flow within a suite
	SuiteFlowResult struct {
		*FlowResult
		FlowID string `json:"flow_id"`
		RunKey string `json:"run_key"`
		Error  string `json:"error,omitempty"`
	}

	// SuiteResponse summarizes a suite run
	SuiteResponse struct {
		Results []*SuiteFlowResult `json:"results"`
		Passed  int                `json:"passed"`
		Failed  int                `json:"failed"`
		Aborted int                `json:"aborted"`
	}

	// RunWorkflowRequest supplies the global inputs of a workflow run
	RunWorkflowRequest struct {
		Inputs Vars `json:"inputs,omitempty"`
	}

	// WorkflowStartedResponse is returned when a workflow run is accepted
	WorkflowStartedResponse struct {
		Message string `json:"message"`
		RunID   string `json:"run_id"`
	}

	// RunNowRequest is the scheduler's inbound trigger
	RunNowRequest struct {
		TargetType TargetType  `json:"target_type"`
		Target     string      `json:"target"`
		Trigger    TriggerType `json:"trigger_type,omitempty"`
	}

	// RunNowResponse reports what a run-now trigger started
	RunNowResponse struct {
		Flow  *FlowResult `json:"flow,omitempty"`
		RunID string      `json:"run_id"`
	}

	// StopRequest stops one registered run, or all of them
	StopRequest struct {
		RunKey string `json:"run_key,omitempty"`
		All    bool   `json:"all,omitempty"`
	}

	// ActiveRunsResponse lists the registry keys of every active run
	ActiveRunsResponse struct {
		Keys  []string `json:"keys"`
		Count int      `json:"count"`
	}

	// FlowRunsListResponse contains recent flow runs
	FlowRunsListResponse struct {
		Runs  []*FlowRun `json:"runs"`
		Count int        `json:"count"`
	}

	// WorkflowRunsListResponse contains recent workflow runs
	WorkflowRunsListResponse struct {
		Runs  []*WorkflowRun `json:"runs"`
		Count int            `json:"count"`
	}

	// HealthResponse provides service health information
	HealthResponse struct {
		Service    string `json:"service"`
		Status     string `json:"status"`
		ActiveRuns int    `json:"active_runs"`
	}

	// MessageResponse contains a simple message string
	MessageResponse struct {
		Message string `json:"message"`
	}

	// ErrorResponse contains error details for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status,omitempty"`
	}
)

var (
	ErrStepsRequired = errors.New("flow_id or steps required")
	ErrFlowIDsEmpty  = errors.New("flow_ids empty")
)

// Validate checks that the request names a flow or carries steps
func (r *RunFlowRequest) Validate() error {
	if r.FlowID == "" && len(r.Steps) == 0 {
		return ErrStepsRequired
	}
	return ValidateSteps(r.Steps)
}

// Validate checks that the suite names at least one flow
func (r *RunSuiteRequest) Validate() error {
	if len(r.FlowIDs) == 0 {
		return ErrFlowIDsEmpty
	}
	return nil
}

// Validate checks the run-now target pair
func (r *RunNowRequest) Validate() error {
	return ValidateTarget(r.TargetType, r.Target)
}
