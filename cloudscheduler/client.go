// Package cloudscheduler manages Cloud Scheduler cron jobs with HTTP
// and Pub/Sub targets.
package cloudscheduler

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cs "google.golang.org/api/cloudscheduler/v1"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "cloudscheduler"

// Client wraps the Cloud Scheduler API for the configured project and
// location.
type Client struct {
	service  *cs.Service
	settings *config.Settings
	logger   *slog.Logger
}

// NewClient builds a Cloud Scheduler client using the settings'
// credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	service, err := cs.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create cloudscheduler service", err)
	}

	return &Client{
		service:  service,
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
	}, nil
}

// CreateJob creates a scheduler job from spec. Exactly one of spec.HTTP
// and spec.Pubsub must be set.
func (c *Client) CreateJob(ctx context.Context, jobID string, spec JobSpec) (*JobInfo, error) {
	if jobID == "" {
		return nil, gcperr.Validation(serviceName, "job id is required")
	}
	if spec.Schedule == "" {
		return nil, gcperr.Validation(serviceName, "schedule is required")
	}
	if (spec.HTTP == nil) == (spec.Pubsub == nil) {
		return nil, gcperr.Validation(serviceName, "exactly one of http or pubsub target must be set")
	}
	if spec.HTTP != nil && spec.HTTP.URI == "" {
		return nil, gcperr.Validation(serviceName, "http target uri is required")
	}
	if spec.Pubsub != nil && spec.Pubsub.Topic == "" {
		return nil, gcperr.Validation(serviceName, "pubsub target topic is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating job", "job", jobID, "schedule", spec.Schedule)

	timeZone := spec.TimeZone
	if timeZone == "" {
		timeZone = c.settings.CloudSchedulerTimezone
	}
	job := &cs.Job{
		Name:            c.jobPath(jobID),
		Schedule:        spec.Schedule,
		TimeZone:        timeZone,
		Description:     spec.Description,
		AttemptDeadline: spec.AttemptDeadline,
	}
	if spec.HTTP != nil {
		job.HttpTarget = c.toHTTPTarget(spec.HTTP)
	}
	if spec.Pubsub != nil {
		job.PubsubTarget = c.toPubsubTarget(spec.Pubsub)
	}

	created, err := c.service.Projects.Locations.Jobs.Create(c.parent(), job).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create job", err).WithDetail("job", jobID)
	}
	return toJobInfo(created), nil
}

// CreateHTTPJob creates a job that invokes an HTTP endpoint on schedule.
func (c *Client) CreateHTTPJob(ctx context.Context, jobID, schedule string, target HTTPTarget) (*JobInfo, error) {
	return c.CreateJob(ctx, jobID, JobSpec{Schedule: schedule, HTTP: &target})
}

// CreatePubsubJob creates a job that publishes a Pub/Sub message on
// schedule.
func (c *Client) CreatePubsubJob(ctx context.Context, jobID, schedule string, target PubsubTarget) (*JobInfo, error) {
	return c.CreateJob(ctx, jobID, JobSpec{Schedule: schedule, Pubsub: &target})
}

// GetJob fetches one job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*JobInfo, error) {
	if jobID == "" {
		return nil, gcperr.Validation(serviceName, "job id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting job", "job", jobID)

	job, err := c.service.Projects.Locations.Jobs.Get(c.jobPath(jobID)).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get job", err).WithDetail("job", jobID)
	}
	return toJobInfo(job), nil
}

// ListJobs lists every job in the configured location.
func (c *Client) ListJobs(ctx context.Context) ([]JobInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing jobs")

	var jobs []JobInfo
	err := c.service.Projects.Locations.Jobs.List(c.parent()).
		Pages(ctx, func(resp *cs.ListJobsResponse) error {
			for _, j := range resp.Jobs {
				jobs = append(jobs, *toJobInfo(j))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list jobs", err)
	}
	return jobs, nil
}

// UpdateJob applies the non-nil fields of update to an existing job.
func (c *Client) UpdateJob(ctx context.Context, jobID string, update JobUpdate) (*JobInfo, error) {
	if jobID == "" {
		return nil, gcperr.Validation(serviceName, "job id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "updating job", "job", jobID)

	job := &cs.Job{Name: c.jobPath(jobID)}
	var mask []string
	if update.Schedule != nil {
		job.Schedule = *update.Schedule
		mask = append(mask, "schedule")
	}
	if update.TimeZone != nil {
		job.TimeZone = *update.TimeZone
		mask = append(mask, "timeZone")
	}
	if update.Description != nil {
		job.Description = *update.Description
		mask = append(mask, "description")
	}
	if len(mask) == 0 {
		return nil, gcperr.Validation(serviceName, "no fields to update")
	}

	updated, err := c.service.Projects.Locations.Jobs.Patch(job.Name, job).
		UpdateMask(strings.Join(mask, ",")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "update job", err).WithDetail("job", jobID)
	}
	return toJobInfo(updated), nil
}

// DeleteJob removes a job.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return gcperr.Validation(serviceName, "job id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting job", "job", jobID)

	if _, err := c.service.Projects.Locations.Jobs.Delete(c.jobPath(jobID)).Context(ctx).Do(); err != nil {
		return gcperr.Classify(serviceName, "delete job", err).WithDetail("job", jobID)
	}
	return nil
}

// PauseJob stops a job from firing until resumed.
func (c *Client) PauseJob(ctx context.Context, jobID string) (*JobInfo, error) {
	if jobID == "" {
		return nil, gcperr.Validation(serviceName, "job id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "pausing job", "job", jobID)

	job, err := c.service.Projects.Locations.Jobs.Pause(c.jobPath(jobID), &cs.PauseJobRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "pause job", err).WithDetail("job", jobID)
	}
	return toJobInfo(job), nil
}

// ResumeJob re-enables a paused job.
func (c *Client) ResumeJob(ctx context.Context, jobID string) (*JobInfo, error) {
	if jobID == "" {
		return nil, gcperr.Validation(serviceName, "job id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "resuming job", "job", jobID)

	job, err := c.service.Projects.Locations.Jobs.Resume(c.jobPath(jobID), &cs.ResumeJobRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "resume job", err).WithDetail("job", jobID)
	}
	return toJobInfo(job), nil
}

// RunJob fires a job immediately, independent of its schedule.
func (c *Client) RunJob(ctx context.Context, jobID string) (*JobInfo, error) {
	if jobID == "" {
		return nil, gcperr.Validation(serviceName, "job id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "running job", "job", jobID)

	job, err := c.service.Projects.Locations.Jobs.Run(c.jobPath(jobID), &cs.RunJobRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "run job", err).WithDetail("job", jobID)
	}
	return toJobInfo(job), nil
}

// Helpers

func (c *Client) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.settings.ProjectID, c.settings.Location)
}

func (c *Client) jobPath(jobID string) string {
	return fmt.Sprintf("%s/jobs/%s", c.parent(), jobID)
}

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

func (c *Client) toHTTPTarget(t *HTTPTarget) *cs.HttpTarget {
	method := t.Method
	if method == "" {
		method = "POST"
	}
	target := &cs.HttpTarget{
		Uri:        t.URI,
		HttpMethod: strings.ToUpper(method),
		Headers:    t.Headers,
	}
	if len(t.Body) > 0 {
		target.Body = base64.StdEncoding.EncodeToString(t.Body)
	}
	if t.OAuthServiceAccount != "" {
		target.OauthToken = &cs.OAuthToken{ServiceAccountEmail: t.OAuthServiceAccount}
	}
	if t.OIDCServiceAccount != "" {
		target.OidcToken = &cs.OidcToken{ServiceAccountEmail: t.OIDCServiceAccount}
	}
	return target
}

func (c *Client) toPubsubTarget(t *PubsubTarget) *cs.PubsubTarget {
	topic := t.Topic
	if !strings.HasPrefix(topic, "projects/") {
		topic = fmt.Sprintf("projects/%s/topics/%s", c.settings.ProjectID, topic)
	}
	target := &cs.PubsubTarget{
		TopicName:  topic,
		Attributes: t.Attributes,
	}
	if len(t.Data) > 0 {
		target.Data = base64.StdEncoding.EncodeToString(t.Data)
	}
	return target
}

func toJobInfo(j *cs.Job) *JobInfo {
	return &JobInfo{
		ID:              shortName(j.Name),
		FullName:        j.Name,
		Description:     j.Description,
		Schedule:        j.Schedule,
		TimeZone:        j.TimeZone,
		State:           j.State,
		ScheduleTime:    parseTime(j.ScheduleTime),
		LastAttemptTime: parseTime(j.LastAttemptTime),
		UserUpdateTime:  parseTime(j.UserUpdateTime),
	}
}

func shortName(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "/")
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
