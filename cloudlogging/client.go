// Package cloudlogging writes and queries Cloud Logging entries and
// manages logs-based metrics and export sinks. NewSlogHandler adapts a
// Client into a slog.Handler so application logs can be forwarded
// directly.
package cloudlogging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	lg "google.golang.org/api/logging/v2"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "cloudlogging"

// defaultListLimit caps entry listings when the caller passes no limit;
// unfiltered project logs are effectively unbounded.
const defaultListLimit = 100

// Client wraps the Cloud Logging API for the configured project.
type Client struct {
	service  *lg.Service
	settings *config.Settings
	logger   *slog.Logger
}

// NewClient builds a Cloud Logging client using the settings'
// credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	service, err := lg.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create cloudlogging service", err)
	}

	return &Client{
		service:  service,
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
	}, nil
}

// Entries

// WriteLog writes one entry to the named log. A string payload becomes
// a text entry; any other payload is JSON-encoded into a structured
// entry. An empty severity writes DEFAULT.
func (c *Client) WriteLog(ctx context.Context, logID string, payload any, severity string, labels map[string]string) error {
	if logID == "" {
		return gcperr.Validation(serviceName, "log id is required")
	}
	if payload == nil {
		return gcperr.Validation(serviceName, "payload is required")
	}
	if severity == "" {
		severity = SeverityDefault
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "writing log entry", "log", logID, "severity", severity)

	entry := &lg.LogEntry{
		Severity: strings.ToUpper(severity),
		Labels:   labels,
	}
	switch p := payload.(type) {
	case string:
		entry.TextPayload = p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return gcperr.Validation(serviceName, "payload is not JSON-encodable").
				WithDetail("log", logID)
		}
		entry.JsonPayload = data
	}

	req := &lg.WriteLogEntriesRequest{
		LogName:  c.logPath(logID),
		Resource: &lg.MonitoredResource{Type: "global"},
		Entries:  []*lg.LogEntry{entry},
	}
	if _, err := c.service.Entries.Write(req).Context(ctx).Do(); err != nil {
		return gcperr.Classify(serviceName, "write log entry", err).WithDetail("log", logID)
	}
	return nil
}

// ListEntries queries the project's entries with the service's filter
// syntax, newest first. Limit 0 applies a default cap.
func (c *Client) ListEntries(ctx context.Context, filter string, limit int64) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing log entries", "filter", filter, "limit", limit)

	req := &lg.ListLogEntriesRequest{
		ResourceNames: []string{"projects/" + c.settings.ProjectID},
		Filter:        filter,
		OrderBy:       "timestamp desc",
		PageSize:      limit,
	}

	var entries []Entry
	err := c.service.Entries.List(req).Pages(ctx, func(resp *lg.ListLogEntriesResponse) error {
		for _, e := range resp.Entries {
			entries = append(entries, *toEntry(e))
			if int64(len(entries)) >= limit {
				return errStopPaging
			}
		}
		return nil
	})
	if err != nil && err != errStopPaging {
		return nil, gcperr.Classify(serviceName, "list log entries", err)
	}
	return entries, nil
}

// ListLogEntries lists entries of one named log.
func (c *Client) ListLogEntries(ctx context.Context, logID string, limit int64) ([]Entry, error) {
	if logID == "" {
		return nil, gcperr.Validation(serviceName, "log id is required")
	}
	return c.ListEntries(ctx, fmt.Sprintf("logName=%q", c.logPath(logID)), limit)
}

// DeleteLog deletes a log and all of its entries.
func (c *Client) DeleteLog(ctx context.Context, logID string) error {
	if logID == "" {
		return gcperr.Validation(serviceName, "log id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting log", "log", logID)

	if _, err := c.service.Projects.Logs.Delete(c.logPath(logID)).Context(ctx).Do(); err != nil {
		return gcperr.Classify(serviceName, "delete log", err).WithDetail("log", logID)
	}
	return nil
}

// Metrics

// CreateMetric creates a logs-based counter metric over filter.
func (c *Client) CreateMetric(ctx context.Context, name, description, filter string) (*MetricInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "metric name is required")
	}
	if filter == "" {
		return nil, gcperr.Validation(serviceName, "metric filter is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating metric", "metric", name)

	metric := &lg.LogMetric{Name: name, Description: description, Filter: filter}
	created, err := c.service.Projects.Metrics.Create("projects/"+c.settings.ProjectID, metric).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create metric", err).WithDetail("metric", name)
	}
	return toMetricInfo(created), nil
}

// GetMetric fetches one logs-based metric.
func (c *Client) GetMetric(ctx context.Context, name string) (*MetricInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "metric name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting metric", "metric", name)

	metric, err := c.service.Projects.Metrics.Get(c.metricPath(name)).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get metric", err).WithDetail("metric", name)
	}
	return toMetricInfo(metric), nil
}

// ListMetrics lists every logs-based metric in the project.
func (c *Client) ListMetrics(ctx context.Context) ([]MetricInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing metrics")

	var metrics []MetricInfo
	err := c.service.Projects.Metrics.List("projects/"+c.settings.ProjectID).
		Pages(ctx, func(resp *lg.ListLogMetricsResponse) error {
			for _, m := range resp.Metrics {
				metrics = append(metrics, *toMetricInfo(m))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list metrics", err)
	}
	return metrics, nil
}

// DeleteMetric removes a logs-based metric.
func (c *Client) DeleteMetric(ctx context.Context, name string) error {
	if name == "" {
		return gcperr.Validation(serviceName, "metric name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting metric", "metric", name)

	if _, err := c.service.Projects.Metrics.Delete(c.metricPath(name)).Context(ctx).Do(); err != nil {
		return gcperr.Classify(serviceName, "delete metric", err).WithDetail("metric", name)
	}
	return nil
}

// Sinks

// CreateSink routes entries matching filter to destination (a Cloud
// Storage bucket, BigQuery dataset, or Pub/Sub topic URI). The sink
// writes with its own service account identity, returned in
// WriterIdentity; grant it access to the destination before relying on
// the sink.
func (c *Client) CreateSink(ctx context.Context, name, destination, filter string) (*SinkInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "sink name is required")
	}
	if destination == "" {
		return nil, gcperr.Validation(serviceName, "sink destination is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating sink", "sink", name, "destination", destination)

	sink := &lg.LogSink{Name: name, Destination: destination, Filter: filter}
	created, err := c.service.Projects.Sinks.Create("projects/"+c.settings.ProjectID, sink).
		UniqueWriterIdentity(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create sink", err).WithDetail("sink", name)
	}
	return toSinkInfo(created), nil
}

// GetSink fetches one sink.
func (c *Client) GetSink(ctx context.Context, name string) (*SinkInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "sink name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting sink", "sink", name)

	sink, err := c.service.Projects.Sinks.Get(c.sinkPath(name)).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get sink", err).WithDetail("sink", name)
	}
	return toSinkInfo(sink), nil
}

// ListSinks lists every sink in the project.
func (c *Client) ListSinks(ctx context.Context) ([]SinkInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing sinks")

	var sinks []SinkInfo
	err := c.service.Projects.Sinks.List("projects/"+c.settings.ProjectID).
		Pages(ctx, func(resp *lg.ListSinksResponse) error {
			for _, s := range resp.Sinks {
				sinks = append(sinks, *toSinkInfo(s))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list sinks", err)
	}
	return sinks, nil
}

// UpdateSink replaces a sink's destination and filter.
func (c *Client) UpdateSink(ctx context.Context, name, destination, filter string) (*SinkInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "sink name is required")
	}
	if destination == "" {
		return nil, gcperr.Validation(serviceName, "sink destination is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "updating sink", "sink", name)

	sink := &lg.LogSink{Name: name, Destination: destination, Filter: filter}
	updated, err := c.service.Projects.Sinks.Update(c.sinkPath(name), sink).
		UniqueWriterIdentity(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "update sink", err).WithDetail("sink", name)
	}
	return toSinkInfo(updated), nil
}

// DeleteSink removes a sink; already-exported entries stay at the
// destination.
func (c *Client) DeleteSink(ctx context.Context, name string) error {
	if name == "" {
		return gcperr.Validation(serviceName, "sink name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting sink", "sink", name)

	if _, err := c.service.Projects.Sinks.Delete(c.sinkPath(name)).Context(ctx).Do(); err != nil {
		return gcperr.Classify(serviceName, "delete sink", err).WithDetail("sink", name)
	}
	return nil
}

// Helpers

var errStopPaging = fmt.Errorf("stop paging")

func (c *Client) logPath(logID string) string {
	return fmt.Sprintf("projects/%s/logs/%s", c.settings.ProjectID, url.PathEscape(logID))
}

func (c *Client) metricPath(name string) string {
	return fmt.Sprintf("projects/%s/metrics/%s", c.settings.ProjectID, name)
}

func (c *Client) sinkPath(name string) string {
	return fmt.Sprintf("projects/%s/sinks/%s", c.settings.ProjectID, name)
}

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

func toEntry(e *lg.LogEntry) *Entry {
	entry := &Entry{
		LogName:     e.LogName,
		Severity:    e.Severity,
		TextPayload: e.TextPayload,
		Labels:      e.Labels,
		Timestamp:   parseTime(e.Timestamp),
		InsertID:    e.InsertId,
	}
	if len(e.JsonPayload) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(e.JsonPayload, &payload); err == nil {
			entry.JSONPayload = payload
		}
	}
	return entry
}

func toMetricInfo(m *lg.LogMetric) *MetricInfo {
	return &MetricInfo{
		Name:        m.Name,
		Description: m.Description,
		Filter:      m.Filter,
		CreateTime:  parseTime(m.CreateTime),
		UpdateTime:  parseTime(m.UpdateTime),
	}
}

func toSinkInfo(s *lg.LogSink) *SinkInfo {
	return &SinkInfo{
		Name:           s.Name,
		Destination:    s.Destination,
		Filter:         s.Filter,
		WriterIdentity: s.WriterIdentity,
		CreateTime:     parseTime(s.CreateTime),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
