// Package cloudrun manages Cloud Run services and jobs: deploys,
// traffic splits, authenticated invocation, and job executions. Create,
// update, and delete calls block on the returned long-running operation
// within the configured operation timeout.
package cloudrun

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
	run "google.golang.org/api/run/v2"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "cloudrun"

const (
	defaultPort           = 8080
	defaultCPU            = "1000m"
	defaultMemory         = "512Mi"
	defaultTimeoutSeconds = 300
	defaultConcurrency    = 80

	invokerRole = "roles/run.invoker"

	operationPollInterval = 2 * time.Second
)

// Client wraps the Cloud Run Admin API for the configured project and
// region.
type Client struct {
	service  *run.Service
	settings *config.Settings
	logger   *slog.Logger

	// tokenClient builds an HTTP client that attaches ID tokens for the
	// given audience. Replaced in tests.
	tokenClient func(ctx context.Context, audience string) (*http.Client, error)
}

// NewClient builds a Cloud Run client using the settings' credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	service, err := run.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create cloudrun service", err)
	}

	return &Client{
		service:  service,
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
		tokenClient: func(ctx context.Context, audience string) (*http.Client, error) {
			return idtoken.NewClient(ctx, audience, settings.ClientOptions()...)
		},
	}, nil
}

// Services

// GetService fetches one service.
func (c *Client) GetService(ctx context.Context, serviceID string) (*ServiceInfo, error) {
	if serviceID == "" {
		return nil, gcperr.Validation(serviceName, "service name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting service", "name", serviceID)

	svc, err := c.service.Projects.Locations.Services.Get(c.servicePath(serviceID)).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get service", err).WithDetail("name", serviceID)
	}
	return c.toServiceInfo(svc), nil
}

// ListServices lists every service in the configured region.
func (c *Client) ListServices(ctx context.Context) ([]ServiceInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing services")

	var services []ServiceInfo
	err := c.service.Projects.Locations.Services.List(c.parent()).
		Pages(ctx, func(resp *run.GoogleCloudRunV2ListServicesResponse) error {
			for _, svc := range resp.Services {
				services = append(services, *c.toServiceInfo(svc))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list services", err)
	}
	return services, nil
}

// CreateService deploys a new service and waits for the first revision
// to become ready. With spec.AllowUnauthenticated the invoker role is
// granted to allUsers afterwards on a best-effort basis.
func (c *Client) CreateService(ctx context.Context, serviceID string, spec ServiceSpec) (*ServiceInfo, error) {
	if serviceID == "" {
		return nil, gcperr.Validation(serviceName, "service name is required")
	}
	if spec.Image == "" {
		return nil, gcperr.Validation(serviceName, "container image is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating service", "name", serviceID, "image", spec.Image)

	svc := &run.GoogleCloudRunV2Service{
		Template: c.toRevisionTemplate(spec),
		Labels:   spec.Labels,
	}
	op, err := c.service.Projects.Locations.Services.Create(c.parent(), svc).
		ServiceId(serviceID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create service", err).WithDetail("name", serviceID)
	}
	if _, err := c.waitOperation(ctx, op.Name); err != nil {
		return nil, err
	}

	if spec.AllowUnauthenticated {
		if err := c.SetInvokerPolicy(ctx, serviceID, true); err != nil {
			c.logger.WarnContext(ctx, "failed to allow unauthenticated access",
				"name", serviceID, "error", err)
		}
	}

	return c.GetService(ctx, serviceID)
}

// UpdateService replaces a service's revision template with spec and
// waits for the new revision. Environment variables and scaling replace
// the existing values; labels merge into the existing set.
func (c *Client) UpdateService(ctx context.Context, serviceID string, spec ServiceSpec) (*ServiceInfo, error) {
	if serviceID == "" {
		return nil, gcperr.Validation(serviceName, "service name is required")
	}
	if spec.Image == "" {
		return nil, gcperr.Validation(serviceName, "container image is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "updating service", "name", serviceID, "image", spec.Image)

	path := c.servicePath(serviceID)
	svc, err := c.service.Projects.Locations.Services.Get(path).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get service", err).WithDetail("name", serviceID)
	}

	svc.Template = c.toRevisionTemplate(spec)
	updateMask := "template"
	if len(spec.Labels) > 0 {
		if svc.Labels == nil {
			svc.Labels = map[string]string{}
		}
		for k, v := range spec.Labels {
			svc.Labels[k] = v
		}
		updateMask = "template,labels"
	}

	op, err := c.service.Projects.Locations.Services.Patch(path, svc).
		UpdateMask(updateMask).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "update service", err).WithDetail("name", serviceID)
	}
	if _, err := c.waitOperation(ctx, op.Name); err != nil {
		return nil, err
	}
	return c.GetService(ctx, serviceID)
}

// DeleteService removes a service and waits for the deletion to
// complete.
func (c *Client) DeleteService(ctx context.Context, serviceID string) error {
	if serviceID == "" {
		return gcperr.Validation(serviceName, "service name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting service", "name", serviceID)

	op, err := c.service.Projects.Locations.Services.Delete(c.servicePath(serviceID)).Context(ctx).Do()
	if err != nil {
		return gcperr.Classify(serviceName, "delete service", err).WithDetail("name", serviceID)
	}
	_, err = c.waitOperation(ctx, op.Name)
	return err
}

// UpdateTraffic replaces the service's traffic split. The target
// percentages must sum to exactly 100.
func (c *Client) UpdateTraffic(ctx context.Context, serviceID string, targets []TrafficTarget) (*ServiceInfo, error) {
	if serviceID == "" {
		return nil, gcperr.Validation(serviceName, "service name is required")
	}
	var total int64
	for _, t := range targets {
		total += t.Percent
	}
	if total != 100 {
		return nil, gcperr.Validation(serviceName,
			fmt.Sprintf("traffic percentages must sum to 100, got %d", total))
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "updating traffic", "name", serviceID, "targets", len(targets))

	path := c.servicePath(serviceID)
	svc, err := c.service.Projects.Locations.Services.Get(path).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get service", err).WithDetail("name", serviceID)
	}

	svc.Traffic = make([]*run.GoogleCloudRunV2TrafficTarget, 0, len(targets))
	for _, t := range targets {
		wire := &run.GoogleCloudRunV2TrafficTarget{
			Percent: t.Percent,
			Tag:     t.Tag,
		}
		if t.RevisionName != "" {
			wire.Type = "TRAFFIC_TARGET_ALLOCATION_TYPE_REVISION"
			wire.Revision = t.RevisionName
		} else {
			wire.Type = "TRAFFIC_TARGET_ALLOCATION_TYPE_LATEST"
		}
		svc.Traffic = append(svc.Traffic, wire)
	}

	op, err := c.service.Projects.Locations.Services.Patch(path, svc).
		UpdateMask("traffic").
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "update traffic", err).WithDetail("name", serviceID)
	}
	if _, err := c.waitOperation(ctx, op.Name); err != nil {
		return nil, err
	}
	return c.GetService(ctx, serviceID)
}

// ServiceURL returns the service's run.app URL.
func (c *Client) ServiceURL(ctx context.Context, serviceID string) (string, error) {
	svc, err := c.GetService(ctx, serviceID)
	if err != nil {
		return "", err
	}
	return svc.URL, nil
}

// SetInvokerPolicy grants or revokes the invoker role for allUsers,
// toggling public access to the service.
func (c *Client) SetInvokerPolicy(ctx context.Context, serviceID string, allowUnauthenticated bool) error {
	if serviceID == "" {
		return gcperr.Validation(serviceName, "service name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "setting invoker policy", "name", serviceID, "public", allowUnauthenticated)

	resource := c.servicePath(serviceID)
	policy, err := c.service.Projects.Locations.Services.GetIamPolicy(resource).Context(ctx).Do()
	if err != nil {
		return gcperr.Classify(serviceName, "get iam policy", err).WithDetail("name", serviceID)
	}

	const member = "allUsers"
	if allowUnauthenticated {
		if !bindingExists(policy.Bindings, invokerRole, member) {
			policy.Bindings = append(policy.Bindings, &run.GoogleIamV1Binding{
				Role:    invokerRole,
				Members: []string{member},
			})
		}
	} else {
		policy.Bindings = removeBinding(policy.Bindings, invokerRole, member)
	}

	_, err = c.service.Projects.Locations.Services.SetIamPolicy(resource,
		&run.GoogleIamV1SetIamPolicyRequest{Policy: policy}).Context(ctx).Do()
	if err != nil {
		return gcperr.Classify(serviceName, "set iam policy", err).WithDetail("name", serviceID)
	}
	return nil
}

// Invoke sends an authenticated HTTP request to a service. The request
// carries an ID token minted for the service URL as audience. Method
// defaults to GET and body, when non-nil, is sent as JSON unless the
// headers say otherwise.
func (c *Client) Invoke(ctx context.Context, serviceID, path, method string, body []byte, headers map[string]string) (*InvokeResponse, error) {
	if serviceID == "" {
		return nil, gcperr.Validation(serviceName, "service name is required")
	}
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodHead:
	default:
		return nil, gcperr.Validation(serviceName, "unsupported http method: "+method)
	}

	serviceURL, err := c.ServiceURL(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if serviceURL == "" {
		return nil, gcperr.New(serviceName, "service has no url yet", nil).WithDetail("name", serviceID)
	}

	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "invoking service", "name", serviceID, "method", method, "path", path)

	hc, err := c.tokenClient(ctx, serviceURL)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to build id token client", err).
			WithDetail("name", serviceID)
	}

	fullURL := strings.TrimRight(serviceURL, "/") + "/" + strings.TrimLeft(path, "/")
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, gcperr.New(serviceName, "failed to build request", err).WithDetail("name", serviceID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, gcperr.Classify(serviceName, "invoke service", err).WithDetail("name", serviceID)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gcperr.New(serviceName, "failed to read response body", err).WithDetail("name", serviceID)
	}
	return &InvokeResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// Helpers

func (c *Client) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.settings.ProjectID, c.settings.Location)
}

func (c *Client) servicePath(serviceID string) string {
	return fmt.Sprintf("%s/services/%s", c.parent(), serviceID)
}

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

func (c *Client) toRevisionTemplate(spec ServiceSpec) *run.GoogleCloudRunV2RevisionTemplate {
	port := spec.Port
	if port == 0 {
		port = defaultPort
	}
	timeout := spec.TimeoutSeconds
	if timeout == 0 {
		timeout = defaultTimeoutSeconds
	}
	concurrency := spec.Concurrency
	if concurrency == 0 {
		concurrency = defaultConcurrency
	}

	return &run.GoogleCloudRunV2RevisionTemplate{
		Containers: []*run.GoogleCloudRunV2Container{
			{
				Image:     spec.Image,
				Ports:     []*run.GoogleCloudRunV2ContainerPort{{ContainerPort: port}},
				Env:       toEnvVars(spec.EnvVars),
				Resources: toResources(spec.CPU, spec.Memory),
			},
		},
		Scaling: &run.GoogleCloudRunV2RevisionScaling{
			MinInstanceCount: spec.MinInstances,
			MaxInstanceCount: spec.MaxInstances,
		},
		Timeout:                       fmt.Sprintf("%ds", timeout),
		MaxInstanceRequestConcurrency: concurrency,
		ServiceAccount:                spec.ServiceAccount,
	}
}

// waitOperation polls a long-running operation until it finishes or ctx
// expires, returning the completed operation.
func (c *Client) waitOperation(ctx context.Context, name string) (*run.GoogleLongrunningOperation, error) {
	for {
		op, err := c.service.Projects.Locations.Operations.Get(name).Context(ctx).Do()
		if err != nil {
			return nil, gcperr.Classify(serviceName, "poll operation", err).WithDetail("operation", name)
		}
		if op.Done {
			if op.Error != nil {
				return nil, gcperr.New(serviceName, "operation failed: "+op.Error.Message, nil).
					WithDetail("operation", name)
			}
			return op, nil
		}
		select {
		case <-ctx.Done():
			return nil, gcperr.Timeout(serviceName, "timed out waiting for operation", ctx.Err()).
				WithDetail("operation", name)
		case <-time.After(operationPollInterval):
		}
	}
}

func (c *Client) toServiceInfo(svc *run.GoogleCloudRunV2Service) *ServiceInfo {
	info := &ServiceInfo{
		Name:           shortName(svc.Name),
		Region:         c.settings.Location,
		URL:            svc.Uri,
		LatestRevision: shortName(svc.LatestReadyRevision),
		Labels:         svc.Labels,
		CreateTime:     parseTime(svc.CreateTime),
		UpdateTime:     parseTime(svc.UpdateTime),
	}
	if svc.Template != nil && len(svc.Template.Containers) > 0 {
		info.Image = svc.Template.Containers[0].Image
	}
	for _, t := range svc.Traffic {
		info.Traffic = append(info.Traffic, TrafficTarget{
			RevisionName:   t.Revision,
			Percent:        t.Percent,
			Tag:            t.Tag,
			LatestRevision: t.Type == "TRAFFIC_TARGET_ALLOCATION_TYPE_LATEST",
		})
	}
	return info
}

func toEnvVars(envVars map[string]string) []*run.GoogleCloudRunV2EnvVar {
	if len(envVars) == 0 {
		return nil
	}
	result := make([]*run.GoogleCloudRunV2EnvVar, 0, len(envVars))
	for k, v := range envVars {
		result = append(result, &run.GoogleCloudRunV2EnvVar{
			Name:  k,
			Value: v,
		})
	}
	slices.SortFunc(result, func(a, b *run.GoogleCloudRunV2EnvVar) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result
}

func toResources(cpu, memory string) *run.GoogleCloudRunV2ResourceRequirements {
	if cpu == "" {
		cpu = defaultCPU
	}
	if memory == "" {
		memory = defaultMemory
	}
	return &run.GoogleCloudRunV2ResourceRequirements{
		Limits: map[string]string{"cpu": cpu, "memory": memory},
	}
}

func bindingExists(bindings []*run.GoogleIamV1Binding, role, member string) bool {
	for _, b := range bindings {
		if b.Role == role && slices.Contains(b.Members, member) {
			return true
		}
	}
	return false
}

func removeBinding(bindings []*run.GoogleIamV1Binding, role, member string) []*run.GoogleIamV1Binding {
	var result []*run.GoogleIamV1Binding
	for _, b := range bindings {
		if b.Role != role {
			result = append(result, b)
			continue
		}
		var members []string
		for _, m := range b.Members {
			if m != member {
				members = append(members, m)
			}
		}
		if len(members) > 0 {
			b.Members = members
			result = append(result, b)
		}
	}
	return result
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
