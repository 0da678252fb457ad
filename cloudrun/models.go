package cloudrun

import (
	"encoding/json"
	"net/http"
	"time"
)

// ServiceInfo describes a deployed Cloud Run service.
type ServiceInfo struct {
	Name           string            `json:"name"`
	Region         string            `json:"region"`
	URL            string            `json:"url,omitempty"`
	Image          string            `json:"image,omitempty"`
	LatestRevision string            `json:"latest_revision,omitempty"`
	Traffic        []TrafficTarget   `json:"traffic,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
	CreateTime     time.Time         `json:"create_time,omitempty"`
	UpdateTime     time.Time         `json:"update_time,omitempty"`
}

// TrafficTarget is one slice of a service's traffic split. Exactly one
// of RevisionName or LatestRevision should be set.
type TrafficTarget struct {
	RevisionName   string `json:"revision_name,omitempty"`
	Percent        int64  `json:"percent"`
	Tag            string `json:"tag,omitempty"`
	LatestRevision bool   `json:"latest_revision,omitempty"`
}

// ServiceSpec carries the container and scaling shape for creating or
// updating a service. Zero values fall back to service defaults: port
// 8080, 1000m CPU, 512Mi memory, 300s timeout, concurrency 80.
type ServiceSpec struct {
	Image                string            `json:"image"`
	Port                 int64             `json:"port,omitempty"`
	CPU                  string            `json:"cpu,omitempty"`
	Memory               string            `json:"memory,omitempty"`
	MinInstances         int64             `json:"min_instances,omitempty"`
	MaxInstances         int64             `json:"max_instances,omitempty"`
	TimeoutSeconds       int64             `json:"timeout_seconds,omitempty"`
	Concurrency          int64             `json:"concurrency,omitempty"`
	EnvVars              map[string]string `json:"env_vars,omitempty"`
	ServiceAccount       string            `json:"service_account,omitempty"`
	Labels               map[string]string `json:"labels,omitempty"`
	AllowUnauthenticated bool              `json:"allow_unauthenticated,omitempty"`
}

// JobSpec carries the container shape for a Cloud Run job.
type JobSpec struct {
	Image          string            `json:"image"`
	Command        []string          `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	EnvVars        map[string]string `json:"env_vars,omitempty"`
	CPU            string            `json:"cpu,omitempty"`
	Memory         string            `json:"memory,omitempty"`
	TaskCount      int64             `json:"task_count,omitempty"`
	Parallelism    int64             `json:"parallelism,omitempty"`
	MaxRetries     int64             `json:"max_retries,omitempty"`
	TimeoutSeconds int64             `json:"timeout_seconds,omitempty"`
	ServiceAccount string            `json:"service_account,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
}

// JobInfo describes a Cloud Run job definition.
type JobInfo struct {
	Name           string            `json:"name"`
	Region         string            `json:"region"`
	Image          string            `json:"image,omitempty"`
	TaskCount      int64             `json:"task_count,omitempty"`
	Parallelism    int64             `json:"parallelism,omitempty"`
	ExecutionCount int64             `json:"execution_count,omitempty"`
	LastExecution  string            `json:"last_execution,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
	CreateTime     time.Time         `json:"create_time,omitempty"`
	UpdateTime     time.Time         `json:"update_time,omitempty"`
}

// ExecutionInfo describes one run of a job. Done reports whether the
// execution has reached a terminal state.
type ExecutionInfo struct {
	Name           string    `json:"name"`
	FullName       string    `json:"full_name"`
	Job            string    `json:"job,omitempty"`
	TaskCount      int64     `json:"task_count,omitempty"`
	SucceededCount int64     `json:"succeeded_count,omitempty"`
	FailedCount    int64     `json:"failed_count,omitempty"`
	RunningCount   int64     `json:"running_count,omitempty"`
	CreateTime     time.Time `json:"create_time,omitempty"`
	StartTime      time.Time `json:"start_time,omitempty"`
	CompletionTime time.Time `json:"completion_time,omitempty"`
	Done           bool      `json:"done"`
}

// InvokeResponse is the outcome of an authenticated request to a
// service.
type InvokeResponse struct {
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body,omitempty"`
}

// JSON unmarshals the response body into v.
func (r *InvokeResponse) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}
