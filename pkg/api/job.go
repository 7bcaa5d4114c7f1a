package api

import (
	"errors"
	"fmt"
)

type (
	// TargetType identifies what a scheduled job runs
	TargetType string

	// ScheduledJob is written by the external scheduler surface. The engine
	// only consumes "run this target now" invocations for it
	ScheduledJob struct {
		ID         string     `json:"id"`
		Name       string     `json:"name,omitempty"`
		Schedule   string     `json:"schedule,omitempty"`
		TargetType TargetType `json:"test_type"`
		Target     string     `json:"target"`
		Active     bool       `json:"active"`
	}
)

const (
	TargetFile     TargetType = "file"
	TargetWorkflow TargetType = "workflow"
)

var (
	ErrInvalidTargetType = errors.New("invalid target type")
	ErrTargetEmpty       = errors.New("target empty")
)

// ValidateTarget checks a run-now target pair
func ValidateTarget(typ TargetType, target string) error {
	switch typ {
	case TargetFile, TargetWorkflow:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTargetType, typ)
	}
	if target == "" {
		return ErrTargetEmpty
	}
	return nil
}
