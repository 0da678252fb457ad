package cloudfunctions

import "time"

// Function states reported by the service.
const (
	StateActive    = "ACTIVE"
	StateFailed    = "FAILED"
	StateDeploying = "DEPLOYING"
	StateDeleting  = "DELETING"
)

// EventTriggerSpec binds a function to an event source instead of HTTP.
// PubsubTopic may be a short name or a full projects/.../topics/...
// path.
type EventTriggerSpec struct {
	EventType   string `json:"event_type"`
	PubsubTopic string `json:"pubsub_topic,omitempty"`
	RetryOnFail bool   `json:"retry_on_fail,omitempty"`
}

// FunctionSpec describes a gen2 function to deploy. SourceBucket and
// SourceObject point at a zipped source archive in Cloud Storage;
// DeployFromDirectory fills them in from a staged upload.
type FunctionSpec struct {
	Runtime        string            `json:"runtime"`
	EntryPoint     string            `json:"entry_point"`
	SourceBucket   string            `json:"source_bucket,omitempty"`
	SourceObject   string            `json:"source_object,omitempty"`
	Description    string            `json:"description,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
	EnvVars        map[string]string `json:"env_vars,omitempty"`
	Memory         string            `json:"memory,omitempty"`
	TimeoutSeconds int64             `json:"timeout_seconds,omitempty"`
	MinInstances   int64             `json:"min_instances,omitempty"`
	MaxInstances   int64             `json:"max_instances,omitempty"`
	ServiceAccount string            `json:"service_account,omitempty"`
	EventTrigger   *EventTriggerSpec `json:"event_trigger,omitempty"`
}

// FunctionInfo describes an existing function.
type FunctionInfo struct {
	Name        string            `json:"name"`
	FullName    string            `json:"full_name"`
	Description string            `json:"description,omitempty"`
	State       string            `json:"state"`
	URL         string            `json:"url,omitempty"`
	Runtime     string            `json:"runtime,omitempty"`
	EntryPoint  string            `json:"entry_point,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	UpdateTime  time.Time         `json:"update_time,omitempty"`
}

// UploadTarget is a signed destination for a source archive, produced
// by GenerateUploadURL and consumed once by UploadSource.
type UploadTarget struct {
	UploadURL  string `json:"upload_url"`
	Bucket     string `json:"bucket"`
	Object     string `json:"object"`
	Generation int64  `json:"generation,omitempty"`
}
