package actions

import "fmt"

// Status is the outcome of one action invocation.
type Status string

const (
	StatusSucceeded        Status = "succeeded"
	StatusFailed           Status = "failed"
	StatusRetriableFailure Status = "retriable_failure"
	StatusSkipped          Status = "skipped"
)

// ResourceLink identifies an external object an action created or touched.
// The tuple (System, Type, ID) is globally unique across all executions.
type ResourceLink struct {
	System string `json:"system"`
	Type   string `json:"type"`
	ID     string `json:"id"`
	URL    string `json:"url,omitempty"`
}

// Result is the uniform outcome contract shared by local handlers and remote
// connectors.
type Result struct {
	Status        Status                 `json:"status"`
	Outputs       map[string]interface{} `json:"outputs,omitempty"`
	ResourceLinks []ResourceLink         `json:"resourceLinks,omitempty"`
	ErrorMessage  string                 `json:"errorMessage,omitempty"`
}

func Succeeded(outputs map[string]interface{}) *Result {
	return &Result{Status: StatusSucceeded, Outputs: outputs}
}

func Failed(format string, args ...interface{}) *Result {
	return &Result{Status: StatusFailed, ErrorMessage: fmt.Sprintf(format, args...)}
}

func Retriable(format string, args ...interface{}) *Result {
	return &Result{Status: StatusRetriableFailure, ErrorMessage: fmt.Sprintf(format, args...)}
}

func Skipped(reason string) *Result {
	return &Result{Status: StatusSkipped, ErrorMessage: reason}
}
