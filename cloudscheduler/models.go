package cloudscheduler

import "time"

// Job states reported by the service.
const (
	StateEnabled  = "ENABLED"
	StatePaused   = "PAUSED"
	StateDisabled = "DISABLED"
	StateFailed   = "UPDATE_FAILED"
)

// HTTPTarget describes an HTTP endpoint a job invokes on schedule.
// At most one of OAuthServiceAccount and OIDCServiceAccount may be set;
// OIDC suits Cloud Run and Cloud Functions targets, OAuth suits Google
// APIs.
type HTTPTarget struct {
	URI                 string            `json:"uri"`
	Method              string            `json:"method,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	Body                []byte            `json:"body,omitempty"`
	OAuthServiceAccount string            `json:"oauth_service_account,omitempty"`
	OIDCServiceAccount  string            `json:"oidc_service_account,omitempty"`
}

// PubsubTarget describes a Pub/Sub message a job publishes on schedule.
// Topic may be a short name (qualified against the configured project)
// or a full projects/.../topics/... path.
type PubsubTarget struct {
	Topic      string            `json:"topic"`
	Data       []byte            `json:"data,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// JobSpec describes a scheduler job to create. Exactly one target must
// be set. An empty TimeZone uses the configured default.
type JobSpec struct {
	Schedule        string        `json:"schedule"`
	TimeZone        string        `json:"time_zone,omitempty"`
	Description     string        `json:"description,omitempty"`
	AttemptDeadline string        `json:"attempt_deadline,omitempty"`
	HTTP            *HTTPTarget   `json:"http,omitempty"`
	Pubsub          *PubsubTarget `json:"pubsub,omitempty"`
}

// JobInfo describes an existing scheduler job.
type JobInfo struct {
	ID              string    `json:"id"`
	FullName        string    `json:"full_name"`
	Description     string    `json:"description,omitempty"`
	Schedule        string    `json:"schedule"`
	TimeZone        string    `json:"time_zone"`
	State           string    `json:"state"`
	ScheduleTime    time.Time `json:"schedule_time,omitempty"`
	LastAttemptTime time.Time `json:"last_attempt_time,omitempty"`
	UserUpdateTime  time.Time `json:"user_update_time,omitempty"`
}

// JobUpdate carries the mutable job fields. Nil pointers leave the
// current value untouched.
type JobUpdate struct {
	Schedule    *string `json:"schedule,omitempty"`
	TimeZone    *string `json:"time_zone,omitempty"`
	Description *string `json:"description,omitempty"`
}
