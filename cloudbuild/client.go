// Package cloudbuild submits and tracks Cloud Build builds and manages
// build triggers. Builds run server-side; SubmitBuild returns as soon
// as the build is queued unless asked to wait for a terminal status.
package cloudbuild

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cb "google.golang.org/api/cloudbuild/v1"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "cloudbuild"

const buildPollInterval = 5 * time.Second

// Client wraps the Cloud Build API for the configured project.
type Client struct {
	service  *cb.Service
	settings *config.Settings
	logger   *slog.Logger
}

// NewClient builds a Cloud Build client using the settings' credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	service, err := cb.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create cloudbuild service", err)
	}

	return &Client{
		service:  service,
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
	}, nil
}

// SubmitBuild queues a build. With wait the call blocks until the build
// reaches a terminal status and returns the final record; otherwise it
// returns the queued build as reported by the create operation.
func (c *Client) SubmitBuild(ctx context.Context, req BuildRequest, wait bool) (*BuildInfo, error) {
	if len(req.Steps) == 0 {
		return nil, gcperr.Validation(serviceName, "at least one build step is required")
	}
	for i, step := range req.Steps {
		if step.Name == "" {
			return nil, gcperr.Validation(serviceName,
				fmt.Sprintf("build step %d has no builder image", i))
		}
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "submitting build", "steps", len(req.Steps))

	op, err := c.service.Projects.Builds.Create(c.settings.ProjectID, toWireBuild(req)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "submit build", err)
	}

	queued, err := buildFromOperation(op.Metadata)
	if err != nil {
		return nil, gcperr.New(serviceName, "build operation carries no build metadata", err)
	}
	if !wait {
		return c.toBuildInfo(queued), nil
	}
	return c.WaitForBuild(ctx, queued.Id)
}

// GetBuild fetches one build by ID.
func (c *Client) GetBuild(ctx context.Context, buildID string) (*BuildInfo, error) {
	if buildID == "" {
		return nil, gcperr.Validation(serviceName, "build id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting build", "build", buildID)

	build, err := c.service.Projects.Builds.Get(c.settings.ProjectID, buildID).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get build", err).WithDetail("build", buildID)
	}
	return c.toBuildInfo(build), nil
}

// ListBuilds lists builds, newest first. Filter uses the service's
// filter syntax (e.g. `status="SUCCESS"`); limit 0 means no cap.
func (c *Client) ListBuilds(ctx context.Context, filter string, limit int64) ([]BuildInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing builds", "filter", filter)

	call := c.service.Projects.Builds.List(c.settings.ProjectID)
	if filter != "" {
		call = call.Filter(filter)
	}
	if limit > 0 {
		call = call.PageSize(limit)
	}

	var builds []BuildInfo
	err := call.Pages(ctx, func(resp *cb.ListBuildsResponse) error {
		for _, b := range resp.Builds {
			builds = append(builds, *c.toBuildInfo(b))
			if limit > 0 && int64(len(builds)) >= limit {
				return errStopPaging
			}
		}
		return nil
	})
	if err != nil && err != errStopPaging {
		return nil, gcperr.Classify(serviceName, "list builds", err)
	}
	return builds, nil
}

// CancelBuild cancels a queued or running build.
func (c *Client) CancelBuild(ctx context.Context, buildID string) (*BuildInfo, error) {
	if buildID == "" {
		return nil, gcperr.Validation(serviceName, "build id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "cancelling build", "build", buildID)

	build, err := c.service.Projects.Builds.Cancel(c.settings.ProjectID, buildID, &cb.CancelBuildRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "cancel build", err).WithDetail("build", buildID)
	}
	return c.toBuildInfo(build), nil
}

// WaitForBuild polls a build until it reaches a terminal status or ctx
// expires.
func (c *Client) WaitForBuild(ctx context.Context, buildID string) (*BuildInfo, error) {
	if buildID == "" {
		return nil, gcperr.Validation(serviceName, "build id is required")
	}
	for {
		build, err := c.GetBuild(ctx, buildID)
		if err != nil {
			return nil, err
		}
		if build.Terminal() {
			return build, nil
		}
		select {
		case <-ctx.Done():
			return nil, gcperr.Timeout(serviceName, "timed out waiting for build", ctx.Err()).
				WithDetail("build", buildID)
		case <-time.After(buildPollInterval):
		}
	}
}

// Helpers

// errStopPaging is a sentinel used to stop Pages early once the caller's
// limit has been collected.
var errStopPaging = fmt.Errorf("stop paging")

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

func toWireBuild(req BuildRequest) *cb.Build {
	build := &cb.Build{
		Steps:         make([]*cb.BuildStep, 0, len(req.Steps)),
		Images:        req.Images,
		Timeout:       req.Timeout,
		Substitutions: req.Substitutions,
		Tags:          req.Tags,
		LogsBucket:    req.LogsBucket,
	}
	for _, step := range req.Steps {
		build.Steps = append(build.Steps, &cb.BuildStep{
			Name:       step.Name,
			Args:       step.Args,
			Env:        step.Env,
			Dir:        step.Dir,
			Id:         step.ID,
			Entrypoint: step.Entrypoint,
			WaitFor:    step.WaitFor,
		})
	}
	if req.SourceBucket != "" && req.SourceObject != "" {
		build.Source = &cb.Source{
			StorageSource: &cb.StorageSource{
				Bucket: req.SourceBucket,
				Object: req.SourceObject,
			},
		}
	}
	return build
}

// buildFromOperation extracts the queued build from a create operation's
// metadata payload.
func buildFromOperation(metadata []byte) (*cb.Build, error) {
	if len(metadata) == 0 {
		return nil, fmt.Errorf("empty operation metadata")
	}
	var meta cb.BuildOperationMetadata
	if err := json.Unmarshal(metadata, &meta); err != nil {
		return nil, err
	}
	if meta.Build == nil {
		return nil, fmt.Errorf("operation metadata has no build")
	}
	return meta.Build, nil
}

func (c *Client) toBuildInfo(b *cb.Build) *BuildInfo {
	projectID := b.ProjectId
	if projectID == "" {
		projectID = c.settings.ProjectID
	}
	return &BuildInfo{
		ID:         b.Id,
		ProjectID:  projectID,
		Status:     b.Status,
		LogURL:     b.LogUrl,
		Images:     b.Images,
		Tags:       b.Tags,
		CreateTime: parseTime(b.CreateTime),
		StartTime:  parseTime(b.StartTime),
		FinishTime: parseTime(b.FinishTime),
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
