package cloudlogging

import "time"

// Severities accepted by WriteLog and reported in entries.
const (
	SeverityDefault  = "DEFAULT"
	SeverityDebug    = "DEBUG"
	SeverityInfo     = "INFO"
	SeverityNotice   = "NOTICE"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// Entry is one log record. Exactly one of TextPayload and JSONPayload
// is set.
type Entry struct {
	LogName     string            `json:"log_name"`
	Severity    string            `json:"severity"`
	TextPayload string            `json:"text_payload,omitempty"`
	JSONPayload map[string]any    `json:"json_payload,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Timestamp   time.Time         `json:"timestamp,omitempty"`
	InsertID    string            `json:"insert_id,omitempty"`
}

// MetricInfo describes a logs-based metric counting entries that match
// its filter.
type MetricInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Filter      string    `json:"filter"`
	CreateTime  time.Time `json:"create_time,omitempty"`
	UpdateTime  time.Time `json:"update_time,omitempty"`
}

// SinkInfo describes an export sink routing matching entries to a
// destination (Cloud Storage bucket, BigQuery dataset, Pub/Sub topic).
type SinkInfo struct {
	Name           string    `json:"name"`
	Destination    string    `json:"destination"`
	Filter         string    `json:"filter,omitempty"`
	WriterIdentity string    `json:"writer_identity,omitempty"`
	CreateTime     time.Time `json:"create_time,omitempty"`
}
