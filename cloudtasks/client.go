// Package cloudtasks manages task queues and enqueues HTTP tasks.
package cloudtasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ct "google.golang.org/api/cloudtasks/v2"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "cloudtasks"

const defaultListLimit = 100

// Client wraps the Cloud Tasks API for the configured project and
// location.
type Client struct {
	service  *ct.Service
	settings *config.Settings
	logger   *slog.Logger
}

// NewClient builds a Cloud Tasks client using the settings'
// credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	service, err := ct.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create cloudtasks service", err)
	}

	return &Client{
		service:  service,
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
	}, nil
}

// Queues

// CreateQueue creates a queue with optional rate limits.
func (c *Client) CreateQueue(ctx context.Context, name string, spec QueueSpec) (*QueueInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "queue name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating queue", "queue", name)

	queue := &ct.Queue{Name: c.queuePath(name)}
	if spec.MaxConcurrentDispatches > 0 || spec.MaxDispatchesPerSecond > 0 {
		queue.RateLimits = &ct.RateLimits{
			MaxConcurrentDispatches: spec.MaxConcurrentDispatches,
			MaxDispatchesPerSecond:  spec.MaxDispatchesPerSecond,
		}
	}

	created, err := c.service.Projects.Locations.Queues.Create(c.parent(), queue).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create queue", err).WithDetail("queue", name)
	}
	return toQueueInfo(created), nil
}

// GetQueue fetches one queue.
func (c *Client) GetQueue(ctx context.Context, name string) (*QueueInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "queue name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting queue", "queue", name)

	queue, err := c.service.Projects.Locations.Queues.Get(c.queuePath(name)).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get queue", err).WithDetail("queue", name)
	}
	return toQueueInfo(queue), nil
}

// ListQueues lists every queue in the configured location.
func (c *Client) ListQueues(ctx context.Context) ([]QueueInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing queues")

	var queues []QueueInfo
	err := c.service.Projects.Locations.Queues.List(c.parent()).
		Pages(ctx, func(resp *ct.ListQueuesResponse) error {
			for _, q := range resp.Queues {
				queues = append(queues, *toQueueInfo(q))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list queues", err)
	}
	return queues, nil
}

// DeleteQueue removes a queue and every task in it.
func (c *Client) DeleteQueue(ctx context.Context, name string) error {
	if name == "" {
		return gcperr.Validation(serviceName, "queue name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting queue", "queue", name)

	_, err := c.service.Projects.Locations.Queues.Delete(c.queuePath(name)).Context(ctx).Do()
	if err != nil {
		return gcperr.Classify(serviceName, "delete queue", err).WithDetail("queue", name)
	}
	return nil
}

// PauseQueue stops task dispatch; enqueueing keeps working.
func (c *Client) PauseQueue(ctx context.Context, name string) (*QueueInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "queue name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "pausing queue", "queue", name)

	queue, err := c.service.Projects.Locations.Queues.Pause(c.queuePath(name), &ct.PauseQueueRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "pause queue", err).WithDetail("queue", name)
	}
	return toQueueInfo(queue), nil
}

// ResumeQueue restarts task dispatch on a paused queue.
func (c *Client) ResumeQueue(ctx context.Context, name string) (*QueueInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "queue name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "resuming queue", "queue", name)

	queue, err := c.service.Projects.Locations.Queues.Resume(c.queuePath(name), &ct.ResumeQueueRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "resume queue", err).WithDetail("queue", name)
	}
	return toQueueInfo(queue), nil
}

// PurgeQueue drops every task currently in the queue.
func (c *Client) PurgeQueue(ctx context.Context, name string) (*QueueInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "queue name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "purging queue", "queue", name)

	queue, err := c.service.Projects.Locations.Queues.Purge(c.queuePath(name), &ct.PurgeQueueRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "purge queue", err).WithDetail("queue", name)
	}
	return toQueueInfo(queue), nil
}

// Tasks

// CreateHTTPTask enqueues an HTTP task.
func (c *Client) CreateHTTPTask(ctx context.Context, queue string, spec HTTPTaskSpec) (*TaskInfo, error) {
	if queue == "" {
		return nil, gcperr.Validation(serviceName, "queue name is required")
	}
	if spec.URL == "" {
		return nil, gcperr.Validation(serviceName, "task url is required")
	}
	if !spec.ScheduleTime.IsZero() && spec.Delay > 0 {
		return nil, gcperr.Validation(serviceName, "schedule time and delay are mutually exclusive")
	}
	if spec.JSON != nil && len(spec.Body) > 0 {
		return nil, gcperr.Validation(serviceName, "json and body are mutually exclusive")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating http task", "queue", queue, "url", spec.URL)

	httpReq := &ct.HttpRequest{
		Url:        spec.URL,
		HttpMethod: spec.Method,
		Headers:    spec.Headers,
	}
	if httpReq.HttpMethod == "" {
		httpReq.HttpMethod = "POST"
	}

	body := spec.Body
	if spec.JSON != nil {
		encoded, err := json.Marshal(spec.JSON)
		if err != nil {
			return nil, gcperr.Validation(serviceName, "json payload is not encodable: "+err.Error())
		}
		body = encoded
		if httpReq.Headers == nil {
			httpReq.Headers = map[string]string{}
		}
		if _, ok := httpReq.Headers["Content-Type"]; !ok {
			httpReq.Headers["Content-Type"] = "application/json"
		}
	}
	if len(body) > 0 {
		httpReq.Body = base64.StdEncoding.EncodeToString(body)
	}

	if spec.OIDCServiceAccount != "" {
		audience := spec.OIDCAudience
		if audience == "" {
			audience = spec.URL
		}
		httpReq.OidcToken = &ct.OidcToken{
			ServiceAccountEmail: spec.OIDCServiceAccount,
			Audience:            audience,
		}
	}

	task := &ct.Task{HttpRequest: httpReq}
	switch {
	case !spec.ScheduleTime.IsZero():
		task.ScheduleTime = spec.ScheduleTime.UTC().Format(time.RFC3339Nano)
	case spec.Delay > 0:
		task.ScheduleTime = time.Now().UTC().Add(spec.Delay).Format(time.RFC3339Nano)
	}
	if spec.TaskID != "" {
		task.Name = c.taskPath(queue, spec.TaskID)
	}

	created, err := c.service.Projects.Locations.Queues.Tasks.
		Create(c.queuePath(queue), &ct.CreateTaskRequest{Task: task}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create task", err).
			WithDetail("queue", queue).WithDetail("url", spec.URL)
	}
	return toTaskInfo(created), nil
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, queue, taskID string) (*TaskInfo, error) {
	if queue == "" || taskID == "" {
		return nil, gcperr.Validation(serviceName, "queue name and task id are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting task", "queue", queue, "task", taskID)

	task, err := c.service.Projects.Locations.Queues.Tasks.Get(c.taskPath(queue, taskID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get task", err).
			WithDetail("queue", queue).WithDetail("task", taskID)
	}
	return toTaskInfo(task), nil
}

// ListTasks lists a queue's pending tasks. Limit 0 uses a default of
// 100.
func (c *Client) ListTasks(ctx context.Context, queue string, limit int64) ([]TaskInfo, error) {
	if queue == "" {
		return nil, gcperr.Validation(serviceName, "queue name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing tasks", "queue", queue)

	if limit <= 0 {
		limit = defaultListLimit
	}

	var tasks []TaskInfo
	err := c.service.Projects.Locations.Queues.Tasks.List(c.queuePath(queue)).
		PageSize(limit).
		Pages(ctx, func(resp *ct.ListTasksResponse) error {
			for _, t := range resp.Tasks {
				tasks = append(tasks, *toTaskInfo(t))
				if int64(len(tasks)) >= limit {
					return errStopPaging
				}
			}
			return nil
		})
	if err != nil && err != errStopPaging {
		return nil, gcperr.Classify(serviceName, "list tasks", err).WithDetail("queue", queue)
	}
	return tasks, nil
}

// DeleteTask removes a task that has not yet executed.
func (c *Client) DeleteTask(ctx context.Context, queue, taskID string) error {
	if queue == "" || taskID == "" {
		return gcperr.Validation(serviceName, "queue name and task id are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting task", "queue", queue, "task", taskID)

	_, err := c.service.Projects.Locations.Queues.Tasks.Delete(c.taskPath(queue, taskID)).
		Context(ctx).
		Do()
	if err != nil {
		return gcperr.Classify(serviceName, "delete task", err).
			WithDetail("queue", queue).WithDetail("task", taskID)
	}
	return nil
}

// Helpers

var errStopPaging = fmt.Errorf("stop paging")

func (c *Client) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.settings.ProjectID, c.settings.Location)
}

func (c *Client) queuePath(queue string) string {
	return fmt.Sprintf("%s/queues/%s", c.parent(), queue)
}

func (c *Client) taskPath(queue, taskID string) string {
	return fmt.Sprintf("%s/tasks/%s", c.queuePath(queue), taskID)
}

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

func toQueueInfo(q *ct.Queue) *QueueInfo {
	info := &QueueInfo{
		Name:     shortName(q.Name),
		FullName: q.Name,
		State:    q.State,
	}
	if q.RateLimits != nil {
		info.MaxConcurrentDispatches = q.RateLimits.MaxConcurrentDispatches
		info.MaxDispatchesPerSecond = q.RateLimits.MaxDispatchesPerSecond
	}
	return info
}

func toTaskInfo(t *ct.Task) *TaskInfo {
	info := &TaskInfo{
		ID:            shortName(t.Name),
		FullName:      t.Name,
		ScheduleTime:  parseTime(t.ScheduleTime),
		CreateTime:    parseTime(t.CreateTime),
		DispatchCount: t.DispatchCount,
		ResponseCount: t.ResponseCount,
	}
	// .../queues/<queue>/tasks/<id>
	parts := strings.Split(t.Name, "/")
	if len(parts) >= 3 {
		info.Queue = parts[len(parts)-3]
	}
	return info
}

func shortName(full string) string {
	parts := strings.Split(full, "/")
	return parts[len(parts)-1]
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
