// Package cloudfunctions deploys and manages gen2 Cloud Functions,
// including staged source uploads (zip -> signed URL -> deploy).
package cloudfunctions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	cf "google.golang.org/api/cloudfunctions/v2"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
	"github.com/gcpkit/gcpkit/internal/ziputil"
)

const serviceName = "cloudfunctions"

const (
	defaultMemory         = "256M"
	defaultTimeoutSeconds = 60

	operationPollInterval = 3 * time.Second
)

// Client wraps the Cloud Functions v2 API for the configured project
// and region.
type Client struct {
	service  *cf.Service
	settings *config.Settings
	logger   *slog.Logger

	// httpClient performs the signed-URL source upload. Replaced in
	// tests.
	httpClient *http.Client
}

// NewClient builds a Cloud Functions client using the settings'
// credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	service, err := cf.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create cloudfunctions service", err)
	}

	return &Client{
		service:    service,
		settings:   settings,
		logger:     slog.Default().With("service", serviceName),
		httpClient: http.DefaultClient,
	}, nil
}

// CreateFunction deploys a new function and waits for the deployment to
// finish.
func (c *Client) CreateFunction(ctx context.Context, functionID string, spec FunctionSpec) (*FunctionInfo, error) {
	if err := validateSpec(functionID, spec); err != nil {
		return nil, err
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating function", "function", functionID, "runtime", spec.Runtime)

	op, err := c.service.Projects.Locations.Functions.Create(c.parent(), c.toWireFunction(functionID, spec)).
		FunctionId(functionID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create function", err).WithDetail("function", functionID)
	}
	if err := c.waitOperation(ctx, op.Name); err != nil {
		return nil, err
	}
	return c.GetFunction(ctx, functionID)
}

// GetFunction fetches one function.
func (c *Client) GetFunction(ctx context.Context, functionID string) (*FunctionInfo, error) {
	if functionID == "" {
		return nil, gcperr.Validation(serviceName, "function id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting function", "function", functionID)

	fn, err := c.service.Projects.Locations.Functions.Get(c.functionPath(functionID)).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get function", err).WithDetail("function", functionID)
	}
	return toFunctionInfo(fn), nil
}

// ListFunctions lists every function in the configured region.
func (c *Client) ListFunctions(ctx context.Context) ([]FunctionInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing functions")

	var functions []FunctionInfo
	err := c.service.Projects.Locations.Functions.List(c.parent()).
		Pages(ctx, func(resp *cf.ListFunctionsResponse) error {
			for _, fn := range resp.Functions {
				functions = append(functions, *toFunctionInfo(fn))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list functions", err)
	}
	return functions, nil
}

// UpdateFunction redeploys an existing function with spec and waits for
// the new revision.
func (c *Client) UpdateFunction(ctx context.Context, functionID string, spec FunctionSpec) (*FunctionInfo, error) {
	if err := validateSpec(functionID, spec); err != nil {
		return nil, err
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "updating function", "function", functionID)

	op, err := c.service.Projects.Locations.Functions.Patch(
		c.functionPath(functionID), c.toWireFunction(functionID, spec),
	).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "update function", err).WithDetail("function", functionID)
	}
	if err := c.waitOperation(ctx, op.Name); err != nil {
		return nil, err
	}
	return c.GetFunction(ctx, functionID)
}

// DeleteFunction removes a function and waits for the deletion.
func (c *Client) DeleteFunction(ctx context.Context, functionID string) error {
	if functionID == "" {
		return gcperr.Validation(serviceName, "function id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting function", "function", functionID)

	op, err := c.service.Projects.Locations.Functions.Delete(c.functionPath(functionID)).Context(ctx).Do()
	if err != nil {
		return gcperr.Classify(serviceName, "delete function", err).WithDetail("function", functionID)
	}
	return c.waitOperation(ctx, op.Name)
}

// GenerateUploadURL asks the service for a signed destination to upload
// a source archive to. The returned storage source goes into the
// function's build config.
func (c *Client) GenerateUploadURL(ctx context.Context) (*UploadTarget, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "generating upload url")

	resp, err := c.service.Projects.Locations.Functions.GenerateUploadUrl(
		c.parent(), &cf.GenerateUploadUrlRequest{},
	).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "generate upload url", err)
	}

	target := &UploadTarget{UploadURL: resp.UploadUrl}
	if resp.StorageSource != nil {
		target.Bucket = resp.StorageSource.Bucket
		target.Object = resp.StorageSource.Object
		target.Generation = resp.StorageSource.Generation
	}
	return target, nil
}

// UploadSource PUTs a zipped source archive to a signed upload URL.
func (c *Client) UploadSource(ctx context.Context, uploadURL, zipPath string) error {
	if uploadURL == "" {
		return gcperr.Validation(serviceName, "upload url is required")
	}
	info, err := os.Stat(zipPath)
	if err != nil || !info.Mode().IsRegular() {
		return gcperr.Validation(serviceName, fmt.Sprintf("source archive not found: %s", zipPath))
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "uploading source archive", "size", info.Size())

	f, err := os.Open(zipPath)
	if err != nil {
		return gcperr.New(serviceName, "failed to open source archive", err).WithDetail("path", zipPath)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return gcperr.New(serviceName, "failed to build upload request", err)
	}
	req.Header.Set("Content-Type", "application/zip")
	req.ContentLength = info.Size()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gcperr.New(serviceName, "source upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gcperr.New(serviceName,
			fmt.Sprintf("source upload failed with status %d", resp.StatusCode), nil)
	}
	return nil
}

// DeployFromDirectory zips sourceDir, uploads it through a generated
// signed URL, and creates the function (or redeploys it when it already
// exists).
func (c *Client) DeployFromDirectory(ctx context.Context, functionID, sourceDir string, spec FunctionSpec) (*FunctionInfo, error) {
	if err := validateSpec(functionID, spec); err != nil {
		return nil, err
	}
	if sourceDir == "" {
		return nil, gcperr.Validation(serviceName, "source directory is required")
	}

	archive, err := ziputil.ZipToTemp(sourceDir, nil)
	if err != nil {
		return nil, gcperr.New(serviceName, "failed to zip source directory", err).
			WithDetail("source_dir", sourceDir)
	}
	defer os.Remove(archive)

	target, err := c.GenerateUploadURL(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.UploadSource(ctx, target.UploadURL, archive); err != nil {
		return nil, err
	}

	spec.SourceBucket = target.Bucket
	spec.SourceObject = target.Object

	if _, err := c.GetFunction(ctx, functionID); err != nil {
		if gcperr.IsNotFound(err) {
			return c.CreateFunction(ctx, functionID, spec)
		}
		return nil, err
	}
	return c.UpdateFunction(ctx, functionID, spec)
}

// FunctionURL returns a function's HTTPS endpoint. Functions without an
// HTTP trigger have no URL, which is reported as a service error.
func (c *Client) FunctionURL(ctx context.Context, functionID string) (string, error) {
	fn, err := c.GetFunction(ctx, functionID)
	if err != nil {
		return "", err
	}
	if fn.URL == "" {
		return "", gcperr.New(serviceName, "function has no http url", nil).
			WithDetail("function", functionID)
	}
	return fn.URL, nil
}

// Helpers

func validateSpec(functionID string, spec FunctionSpec) error {
	if functionID == "" {
		return gcperr.Validation(serviceName, "function id is required")
	}
	if spec.Runtime == "" {
		return gcperr.Validation(serviceName, "runtime is required")
	}
	if spec.EntryPoint == "" {
		return gcperr.Validation(serviceName, "entry point is required")
	}
	return nil
}

func (c *Client) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.settings.ProjectID, c.settings.Location)
}

func (c *Client) functionPath(functionID string) string {
	return fmt.Sprintf("%s/functions/%s", c.parent(), functionID)
}

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

func (c *Client) toWireFunction(functionID string, spec FunctionSpec) *cf.Function {
	memory := spec.Memory
	if memory == "" {
		memory = defaultMemory
	}
	timeout := spec.TimeoutSeconds
	if timeout == 0 {
		timeout = defaultTimeoutSeconds
	}

	fn := &cf.Function{
		Name:        c.functionPath(functionID),
		Description: spec.Description,
		Labels:      spec.Labels,
		BuildConfig: &cf.BuildConfig{
			Runtime:    spec.Runtime,
			EntryPoint: spec.EntryPoint,
		},
		ServiceConfig: &cf.ServiceConfig{
			AvailableMemory:      memory,
			TimeoutSeconds:       timeout,
			EnvironmentVariables: spec.EnvVars,
			MinInstanceCount:     spec.MinInstances,
			MaxInstanceCount:     spec.MaxInstances,
			ServiceAccountEmail:  spec.ServiceAccount,
		},
	}
	if spec.SourceBucket != "" && spec.SourceObject != "" {
		fn.BuildConfig.Source = &cf.Source{
			StorageSource: &cf.StorageSource{
				Bucket: spec.SourceBucket,
				Object: spec.SourceObject,
			},
		}
	}
	if spec.EventTrigger != nil {
		trigger := &cf.EventTrigger{
			EventType:     spec.EventTrigger.EventType,
			TriggerRegion: c.settings.Location,
		}
		if topic := spec.EventTrigger.PubsubTopic; topic != "" {
			if !strings.HasPrefix(topic, "projects/") {
				topic = fmt.Sprintf("projects/%s/topics/%s", c.settings.ProjectID, topic)
			}
			trigger.PubsubTopic = topic
		}
		if spec.EventTrigger.RetryOnFail {
			trigger.RetryPolicy = "RETRY_POLICY_RETRY"
		}
		fn.EventTrigger = trigger
	}
	return fn
}

// waitOperation polls a long-running operation until it finishes or ctx
// expires.
func (c *Client) waitOperation(ctx context.Context, name string) error {
	for {
		op, err := c.service.Projects.Locations.Operations.Get(name).Context(ctx).Do()
		if err != nil {
			return gcperr.Classify(serviceName, "poll operation", err).WithDetail("operation", name)
		}
		if op.Done {
			if op.Error != nil {
				return gcperr.New(serviceName, "operation failed: "+op.Error.Message, nil).
					WithDetail("operation", name)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return gcperr.Timeout(serviceName, "timed out waiting for operation", ctx.Err()).
				WithDetail("operation", name)
		case <-time.After(operationPollInterval):
		}
	}
}

func toFunctionInfo(fn *cf.Function) *FunctionInfo {
	info := &FunctionInfo{
		Name:        shortName(fn.Name),
		FullName:    fn.Name,
		Description: fn.Description,
		State:       fn.State,
		Labels:      fn.Labels,
		UpdateTime:  parseTime(fn.UpdateTime),
	}
	if fn.ServiceConfig != nil {
		info.URL = fn.ServiceConfig.Uri
	}
	if fn.BuildConfig != nil {
		info.Runtime = fn.BuildConfig.Runtime
		info.EntryPoint = fn.BuildConfig.EntryPoint
	}
	return info
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
