package definition

import "time"

// Node kinds.
const (
	NodeTypeAction      = "action"
	NodeTypeSubworkflow = "subworkflow"
)

// Edge activation conditions.
const (
	WhenSuccess = "success"
	WhenFailure = "failure"
	WhenAlways  = "always"
)

// Route policies.
const (
	RouteParallel   = "parallel"
	RouteFirstMatch = "firstMatch"
)

// Definition is a parsed, normalized workflow DAG. It carries no runtime
// state; the planner compiles it into an executable Plan.
type Definition struct {
	ID            string                 `json:"id"`
	DisplayName   string                 `json:"displayName"`
	Description   string                 `json:"description,omitempty"`
	StartNode     string                 `json:"startNode"`
	TriggerSchema map[string]interface{} `json:"triggerSchema,omitempty"`
	Nodes         []Node                 `json:"nodes"`
}

type Node struct {
	ID                string                 `json:"id"`
	NodeType          string                 `json:"nodeType,omitempty"`
	ActionType        string                 `json:"actionType,omitempty"`
	WorkflowID        string                 `json:"workflowId,omitempty"`
	WorkflowVersion   *int                   `json:"workflowVersion,omitempty"`
	WaitForCompletion *bool                  `json:"waitForCompletion,omitempty"`
	Parameters        map[string]interface{} `json:"parameters,omitempty"`
	OnFailure         string                 `json:"onFailure,omitempty"`
	RoutePolicy       string                 `json:"routePolicy,omitempty"`
	Policies          Policies               `json:"policies,omitempty"`
	Edges             []Edge                 `json:"edges,omitempty"`
}

type Edge struct {
	TargetNode string `json:"targetNode"`
	When       string `json:"when,omitempty"`
	Condition  string `json:"condition,omitempty"`
}

type Policies struct {
	TimeoutMs       int          `json:"timeoutMs,omitempty"`
	RerenderOnRetry bool         `json:"rerenderOnRetry,omitempty"`
	Retry           *RetryPolicy `json:"retry,omitempty"`
}

type RetryPolicy struct {
	MaxAttempts   int     `json:"maxAttempts"`
	BaseDelayMs   int     `json:"baseDelayMs"`
	BackoffFactor float64 `json:"backoffFactor"`
	Jitter        bool    `json:"jitter"`
}

// Timeout returns the node timeout, or zero when unset.
func (n *Node) Timeout() time.Duration {
	return time.Duration(n.Policies.TimeoutMs) * time.Millisecond
}

// IsSubworkflow reports whether the node invokes another workflow.
func (n *Node) IsSubworkflow() bool {
	return n.NodeType == NodeTypeSubworkflow
}

// Waits reports whether a sub-workflow node blocks on child completion.
func (n *Node) Waits() bool {
	if n.WaitForCompletion == nil {
		return true
	}
	return *n.WaitForCompletion
}

// BaseDelay returns the retry base delay.
func (r *RetryPolicy) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}
