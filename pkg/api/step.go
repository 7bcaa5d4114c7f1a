package api

import (
	"errors"
	"fmt"

	"github.com/kode4food/marionette/pkg/util"
)

type (
	// ActionType identifies the browser action a step performs
	ActionType string

	// Step is a single browser action within a flow. Steps are immutable once
	// supplied to a run
	Step struct {
		ID           string     `json:"id" yaml:"id"`
		Action       ActionType `json:"action" yaml:"action"`
		Selector     string     `json:"selector,omitempty" yaml:"selector"`
		Value        string     `json:"value,omitempty" yaml:"value"`
		Description  string     `json:"description,omitempty" yaml:"description"`
		SnapshotName string     `json:"snapshot_name,omitempty" yaml:"snapshot_name"`
		APIBody      string     `json:"api_body,omitempty" yaml:"api_body"`
	}
)

const (
	ActionGoto         ActionType = "goto"
	ActionClick        ActionType = "click"
	ActionFill         ActionType = "type"
	ActionWait         ActionType = "wait"
	ActionAssertion    ActionType = "assertion"
	ActionAPIRequest   ActionType = "api_request"
	ActionAPIAssert    ActionType = "api_assert"
	ActionVisualAssert ActionType = "visual_assert"
)

var (
	ErrInvalidAction = errors.New("invalid step action")
)

var validActions = util.SetOf(
	ActionGoto,
	ActionClick,
	ActionFill,
	ActionWait,
	ActionAssertion,
	ActionAPIRequest,
	ActionAPIAssert,
	ActionVisualAssert,
)

// Validate checks that the step names a known action
func (s *Step) Validate() error {
	if !validActions.Contains(s.Action) {
		return fmt.Errorf("%w: %q", ErrInvalidAction, s.Action)
	}
	return nil
}

// Resolve returns a copy of the step with ${var} placeholders in its selector
// and value substituted from vars
func (s *Step) Resolve(vars Vars) *Step {
	res := *s
	res.Selector = Substitute(s.Selector, vars)
	res.Value = Substitute(s.Value, vars)
	return &res
}

// Interactive reports whether the step acts on a page element and so may be
// retried with a healed selector
func (s *Step) Interactive() bool {
	return s.Action == ActionClick || s.Action == ActionFill
}

// ValidateSteps validates every step in a sequence
func ValidateSteps(steps []*Step) error {
	for i, s := range steps {
		if s == nil {
			return fmt.Errorf("%w: step %d is empty", ErrInvalidAction, i)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}
