package workflows

import "time"

// Workflow states reported by the service.
const (
	WorkflowStateActive      = "ACTIVE"
	WorkflowStateUnavailable = "UNAVAILABLE"
)

// Execution states reported by the service.
const (
	ExecutionStateActive    = "ACTIVE"
	ExecutionStateSucceeded = "SUCCEEDED"
	ExecutionStateFailed    = "FAILED"
	ExecutionStateCancelled = "CANCELLED"
)

// WorkflowSpec describes a workflow to create. SourceContents holds the
// definition in YAML or JSON.
type WorkflowSpec struct {
	SourceContents string            `json:"source_contents"`
	Description    string            `json:"description,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
	ServiceAccount string            `json:"service_account,omitempty"`
}

// WorkflowInfo describes an existing workflow.
type WorkflowInfo struct {
	Name           string            `json:"name"`
	FullName       string            `json:"full_name"`
	Description    string            `json:"description,omitempty"`
	State          string            `json:"state"`
	RevisionID     string            `json:"revision_id,omitempty"`
	ServiceAccount string            `json:"service_account,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
	CreateTime     time.Time         `json:"create_time,omitempty"`
	UpdateTime     time.Time         `json:"update_time,omitempty"`
}

// WorkflowUpdate carries the mutable workflow fields. Nil pointers
// leave the current value untouched; Labels merge into the existing
// set.
type WorkflowUpdate struct {
	SourceContents *string           `json:"source_contents,omitempty"`
	Description    *string           `json:"description,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
}

// ExecutionInfo describes one run of a workflow. Argument and Result
// are the decoded JSON values; Result stays nil until the execution
// finishes.
type ExecutionInfo struct {
	ID        string    `json:"id"`
	Workflow  string    `json:"workflow"`
	State     string    `json:"state"`
	Argument  any       `json:"argument,omitempty"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// Finished reports whether the execution reached a terminal state.
func (e *ExecutionInfo) Finished() bool {
	switch e.State {
	case ExecutionStateSucceeded, ExecutionStateFailed, ExecutionStateCancelled:
		return true
	}
	return false
}
