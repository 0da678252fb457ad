package cloudtasks

import "time"

// Queue states reported by the service.
const (
	QueueStateRunning  = "RUNNING"
	QueueStatePaused   = "PAUSED"
	QueueStateDisabled = "DISABLED"
)

// QueueSpec configures a queue's rate limits. Zero values leave the
// service defaults in place.
type QueueSpec struct {
	MaxConcurrentDispatches int64   `json:"max_concurrent_dispatches,omitempty"`
	MaxDispatchesPerSecond  float64 `json:"max_dispatches_per_second,omitempty"`
}

// QueueInfo describes an existing queue.
type QueueInfo struct {
	Name                    string  `json:"name"`
	FullName                string  `json:"full_name"`
	State                   string  `json:"state"`
	MaxConcurrentDispatches int64   `json:"max_concurrent_dispatches,omitempty"`
	MaxDispatchesPerSecond  float64 `json:"max_dispatches_per_second,omitempty"`
}

// HTTPTaskSpec describes an HTTP task to enqueue. URL is required;
// Method defaults to POST. At most one of ScheduleTime and Delay may be
// set; both zero dispatches the task immediately. Setting JSON encodes
// it as the request body with a JSON content type; Body sends raw
// bytes. OIDCAudience defaults to the URL when OIDCServiceAccount is
// set.
type HTTPTaskSpec struct {
	URL                string            `json:"url"`
	Method             string            `json:"method,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"`
	Body               []byte            `json:"body,omitempty"`
	JSON               any               `json:"json,omitempty"`
	ScheduleTime       time.Time         `json:"schedule_time,omitempty"`
	Delay              time.Duration     `json:"delay,omitempty"`
	TaskID             string            `json:"task_id,omitempty"`
	OIDCServiceAccount string            `json:"oidc_service_account,omitempty"`
	OIDCAudience       string            `json:"oidc_audience,omitempty"`
}

// TaskInfo describes an enqueued task.
type TaskInfo struct {
	ID            string    `json:"id"`
	Queue         string    `json:"queue"`
	FullName      string    `json:"full_name"`
	ScheduleTime  time.Time `json:"schedule_time,omitempty"`
	CreateTime    time.Time `json:"create_time,omitempty"`
	DispatchCount int64     `json:"dispatch_count,omitempty"`
	ResponseCount int64     `json:"response_count,omitempty"`
}
