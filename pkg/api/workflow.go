package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type (
	// NodeType identifies the kind of a workflow node
	NodeType string

	// Handle names the output of a node that an edge leaves from
	Handle string

	// LoopSource identifies where a loop node reads its collection from
	LoopSource string

	// Workflow is a directed graph of typed nodes
	Workflow struct {
		ID          string  `json:"id"`
		Name        string  `json:"name"`
		Description string  `json:"description,omitempty"`
		Nodes       []*Node `json:"nodes"`
		Edges       []*Edge `json:"edges"`
	}

	// Node is a single vertex of a workflow graph. Config holds the payload
	// for the node's type and is always one of the *Config types below
	Node struct {
		Config NodeConfig `json:"-"`
		ID     string     `json:"id"`
		Type   NodeType   `json:"type"`
		Label  string     `json:"label,omitempty"`
	}

	// Edge connects a source node's output handle to a target node
	Edge struct {
		ID     string `json:"id,omitempty"`
		Source string `json:"source"`
		Target string `json:"target"`
		Handle Handle `json:"source_handle,omitempty"`
	}

	// NodeConfig is the closed set of node payloads. Only types declared in
	// this package implement it
	NodeConfig interface {
		Validate() error
		nodeConfig()
	}

	// StartConfig is the payload of the unique start node
	StartConfig struct{}

	// EndConfig is the payload of an end node
	EndConfig struct{}

	// TestConfig runs a flow, either stored (FlowID) or inline (Steps)
	TestConfig struct {
		FlowID string  `json:"flow_id,omitempty"`
		Steps  []*Step `json:"steps,omitempty"`
	}

	// ConditionConfig holds the boolean expression of a condition node
	ConditionConfig struct {
		Condition string `json:"condition"`
	}

	// LoopConfig names the collection a loop node iterates and the variable
	// each element is bound to
	LoopConfig struct {
		SourceType LoopSource `json:"source_type,omitempty"`
		Source     string     `json:"source"`
		ItemName   string     `json:"item_name,omitempty"`
	}

	// DelayConfig pauses traversal for Duration milliseconds
	DelayConfig struct {
		Duration int64 `json:"duration"`
	}

	// FunctionConfig invokes a stored user function
	FunctionConfig struct {
		FunctionName string `json:"function_name"`
		ResultKey    string `json:"result_key,omitempty"`
	}

	// WebhookConfig calls an external endpoint with the variable context
	WebhookConfig struct {
		URL         string `json:"url"`
		Method      string `json:"method,omitempty"`
		BackoffType string `json:"backoff_type,omitempty"`
		Retries     int    `json:"retries,omitempty"`
		BackoffMs   int64  `json:"backoff_ms,omitempty"`
	}

	nodeJSON struct {
		ID    string          `json:"id"`
		Type  NodeType        `json:"type"`
		Label string          `json:"label,omitempty"`
		Data  json.RawMessage `json:"data,omitempty"`
	}
)

const (
	NodeStart     NodeType = "start"
	NodeTest      NodeType = "test"
	NodeCondition NodeType = "condition"
	NodeLoop      NodeType = "loop"
	NodeDelay     NodeType = "delay"
	NodeFunction  NodeType = "function"
	NodeWebhook   NodeType = "webhook"
	NodeEnd       NodeType = "end"

	HandleDefault Handle = ""
	HandleTrue    Handle = "true"
	HandleFalse   Handle = "false"
	HandleBody    Handle = "body"
	HandleDone    Handle = "done"

	LoopFromVariable LoopSource = "variable"
	LoopFromDataset  LoopSource = "dataset"

	DefaultLoopItemName     = "item"
	DefaultWebhookMethod    = "POST"
	DefaultWebhookBackoffMs = 500

	BackoffTypeFixed       = "fixed"
	BackoffTypeLinear      = "linear"
	BackoffTypeExponential = "exponential"
)

var (
	ErrNodeIDEmpty        = errors.New("node ID empty")
	ErrInvalidNodeType    = errors.New("invalid node type")
	ErrNodeConfigMismatch = errors.New("node config does not match type")
	ErrFlowRequired       = errors.New("test node requires a flow or steps")
	ErrConditionEmpty     = errors.New("condition expression empty")
	ErrLoopSourceEmpty    = errors.New("loop source empty")
	ErrInvalidLoopSource  = errors.New("invalid loop source type")
	ErrNegativeDelay      = errors.New("delay duration cannot be negative")
	ErrFunctionNameEmpty  = errors.New("function name empty")
	ErrWebhookURLEmpty    = errors.New("webhook URL empty")
	ErrNegativeRetries    = errors.New("webhook retries cannot be negative")
	ErrInvalidBackoffType = errors.New("invalid backoff type")
)

// NewNodeConfig returns an empty payload for the given node type
func NewNodeConfig(typ NodeType) (NodeConfig, error) {
	switch typ {
	case NodeStart:
		return &StartConfig{}, nil
	case NodeTest:
		return &TestConfig{}, nil
	case NodeCondition:
		return &ConditionConfig{}, nil
	case NodeLoop:
		return &LoopConfig{}, nil
	case NodeDelay:
		return &DelayConfig{}, nil
	case NodeFunction:
		return &FunctionConfig{}, nil
	case NodeWebhook:
		return &WebhookConfig{}, nil
	case NodeEnd:
		return &EndConfig{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidNodeType, typ)
	}
}

// ParseNodeType accepts both plain type names and the editor's "testNode"
// style names
func ParseNodeType(s string) NodeType {
	return NodeType(strings.ToLower(strings.TrimSuffix(s, "Node")))
}

// Validate checks the node's identity and its payload
func (n *Node) Validate() error {
	if n.ID == "" {
		return ErrNodeIDEmpty
	}
	if n.Config == nil {
		cfg, err := NewNodeConfig(n.Type)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		n.Config = cfg
	}
	if !n.configMatchesType() {
		return fmt.Errorf("node %s: %w: %T for %s",
			n.ID, ErrNodeConfigMismatch, n.Config, n.Type)
	}
	if err := n.Config.Validate(); err != nil {
		return fmt.Errorf("node %s: %w", n.ID, err)
	}
	return nil
}

func (n *Node) configMatchesType() bool {
	switch n.Config.(type) {
	case *StartConfig:
		return n.Type == NodeStart
	case *TestConfig:
		return n.Type == NodeTest
	case *ConditionConfig:
		return n.Type == NodeCondition
	case *LoopConfig:
		return n.Type == NodeLoop
	case *DelayConfig:
		return n.Type == NodeDelay
	case *FunctionConfig:
		return n.Type == NodeFunction
	case *WebhookConfig:
		return n.Type == NodeWebhook
	case *EndConfig:
		return n.Type == NodeEnd
	default:
		return false
	}
}

// MarshalJSON encodes the payload under "data"
func (n *Node) MarshalJSON() ([]byte, error) {
	out := nodeJSON{ID: n.ID, Type: n.Type, Label: n.Label}
	if n.Config != nil {
		data, err := json.Marshal(n.Config)
		if err != nil {
			return nil, err
		}
		out.Data = data
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes "data" into the payload selected by "type"
func (n *Node) UnmarshalJSON(b []byte) error {
	var in nodeJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	typ := ParseNodeType(string(in.Type))
	cfg, err := NewNodeConfig(typ)
	if err != nil {
		return err
	}
	if len(in.Data) > 0 && string(in.Data) != "null" {
		if err := json.Unmarshal(in.Data, cfg); err != nil {
			return fmt.Errorf("node %s data: %w", in.ID, err)
		}
	}
	*n = Node{ID: in.ID, Type: typ, Label: in.Label, Config: cfg}
	return nil
}

func (*StartConfig) nodeConfig()     {}
func (*EndConfig) nodeConfig()       {}
func (*TestConfig) nodeConfig()      {}
func (*ConditionConfig) nodeConfig() {}
func (*LoopConfig) nodeConfig()      {}
func (*DelayConfig) nodeConfig()     {}
func (*FunctionConfig) nodeConfig()  {}
func (*WebhookConfig) nodeConfig()   {}

func (*StartConfig) Validate() error { return nil }
func (*EndConfig) Validate() error   { return nil }

func (c *TestConfig) Validate() error {
	if c.FlowID == "" && len(c.Steps) == 0 {
		return ErrFlowRequired
	}
	return ValidateSteps(c.Steps)
}

func (c *ConditionConfig) Validate() error {
	if strings.TrimSpace(c.Condition) == "" {
		return ErrConditionEmpty
	}
	return nil
}

func (c *LoopConfig) Validate() error {
	if c.Source == "" {
		return ErrLoopSourceEmpty
	}
	switch c.SourceType {
	case "", LoopFromVariable, LoopFromDataset:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLoopSource, c.SourceType)
	}
}

// Kind returns the loop's source type, defaulting to a variable
func (c *LoopConfig) Kind() LoopSource {
	if c.SourceType == "" {
		return LoopFromVariable
	}
	return c.SourceType
}

// Item returns the variable name each element is bound to
func (c *LoopConfig) Item() string {
	if c.ItemName == "" {
		return DefaultLoopItemName
	}
	return c.ItemName
}

func (c *DelayConfig) Validate() error {
	if c.Duration < 0 {
		return ErrNegativeDelay
	}
	return nil
}

func (c *FunctionConfig) Validate() error {
	if c.FunctionName == "" {
		return ErrFunctionNameEmpty
	}
	return nil
}

// Key returns the context key the function's result is merged under
func (c *FunctionConfig) Key() string {
	if c.ResultKey == "" {
		return c.FunctionName
	}
	return c.ResultKey
}

func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return ErrWebhookURLEmpty
	}
	if c.Retries < 0 {
		return ErrNegativeRetries
	}
	switch c.BackoffType {
	case "", BackoffTypeFixed, BackoffTypeLinear, BackoffTypeExponential:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackoffType, c.BackoffType)
	}
}

// HTTPMethod returns the configured method, defaulting to POST
func (c *WebhookConfig) HTTPMethod() string {
	if c.Method == "" {
		return DefaultWebhookMethod
	}
	return strings.ToUpper(c.Method)
}
