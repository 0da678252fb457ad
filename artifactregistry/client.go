// Package artifactregistry manages Artifact Registry repositories and
// Docker images, including direct registry access for tag listing and
// local docker credential setup.
package artifactregistry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ar "google.golang.org/api/artifactregistry/v1"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "artifactregistry"

const operationPollInterval = 2 * time.Second

// Client wraps the Artifact Registry API for the configured project
// and location.
type Client struct {
	service  *ar.Service
	settings *config.Settings
	logger   *slog.Logger

	// registryHost overrides the <location>-docker.pkg.dev host,
	// used by tests.
	registryHost string
}

// NewClient builds an Artifact Registry client using the settings'
// credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	service, err := ar.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create artifactregistry service", err)
	}

	return &Client{
		service:  service,
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
	}, nil
}

// CreateRepository creates a repository and waits for it to become
// usable. An empty format creates a Docker repository.
func (c *Client) CreateRepository(ctx context.Context, name string, spec RepositorySpec) (*RepositoryInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "repository name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating repository", "repository", name)

	format := spec.Format
	if format == "" {
		format = FormatDocker
	}
	repository := &ar.Repository{
		Format:      format,
		Description: spec.Description,
		Labels:      spec.Labels,
	}
	op, err := c.service.Projects.Locations.Repositories.Create(c.parent(), repository).
		RepositoryId(name).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create repository", err).WithDetail("repository", name)
	}
	if err := c.waitOperation(ctx, op.Name); err != nil {
		return nil, err
	}
	return c.GetRepository(ctx, name)
}

// GetRepository fetches one repository.
func (c *Client) GetRepository(ctx context.Context, name string) (*RepositoryInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "repository name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting repository", "repository", name)

	repository, err := c.service.Projects.Locations.Repositories.Get(c.repositoryPath(name)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get repository", err).WithDetail("repository", name)
	}
	return toRepositoryInfo(repository), nil
}

// ListRepositories lists every repository in the configured location.
func (c *Client) ListRepositories(ctx context.Context) ([]RepositoryInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing repositories")

	var repositories []RepositoryInfo
	err := c.service.Projects.Locations.Repositories.List(c.parent()).
		Pages(ctx, func(resp *ar.ListRepositoriesResponse) error {
			for _, r := range resp.Repositories {
				repositories = append(repositories, *toRepositoryInfo(r))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list repositories", err)
	}
	return repositories, nil
}

// DeleteRepository removes a repository and all of its artifacts,
// waiting for the deletion to finish.
func (c *Client) DeleteRepository(ctx context.Context, name string) error {
	if name == "" {
		return gcperr.Validation(serviceName, "repository name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting repository", "repository", name)

	op, err := c.service.Projects.Locations.Repositories.Delete(c.repositoryPath(name)).
		Context(ctx).
		Do()
	if err != nil {
		return gcperr.Classify(serviceName, "delete repository", err).WithDetail("repository", name)
	}
	return c.waitOperation(ctx, op.Name)
}

// ListDockerImages lists the image versions stored in a Docker
// repository.
func (c *Client) ListDockerImages(ctx context.Context, repository string) ([]DockerImageInfo, error) {
	if repository == "" {
		return nil, gcperr.Validation(serviceName, "repository name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing docker images", "repository", repository)

	var images []DockerImageInfo
	err := c.service.Projects.Locations.Repositories.DockerImages.List(c.repositoryPath(repository)).
		Pages(ctx, func(resp *ar.ListDockerImagesResponse) error {
			for _, img := range resp.DockerImages {
				images = append(images, DockerImageInfo{
					Name:       shortName(img.Name),
					URI:        img.Uri,
					Tags:       img.Tags,
					SizeBytes:  img.ImageSizeBytes,
					MediaType:  img.MediaType,
					UploadTime: parseTime(img.UploadTime),
				})
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list docker images", err).
			WithDetail("repository", repository)
	}
	return images, nil
}

// ImageURL composes the full registry path for an image. An empty tag
// defaults to latest.
func (c *Client) ImageURL(repository, image, tag string) string {
	if tag == "" {
		tag = "latest"
	}
	return fmt.Sprintf("%s/%s/%s/%s:%s",
		c.RegistryHost(), c.settings.ProjectID, repository, image, tag)
}

// RegistryHost returns the Docker registry host for the configured
// location.
func (c *Client) RegistryHost() string {
	if c.registryHost != "" {
		return c.registryHost
	}
	return fmt.Sprintf("%s-docker.pkg.dev", c.settings.Location)
}

// Helpers

func (c *Client) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.settings.ProjectID, c.settings.Location)
}

func (c *Client) repositoryPath(name string) string {
	return fmt.Sprintf("%s/repositories/%s", c.parent(), name)
}

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
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

func toRepositoryInfo(r *ar.Repository) *RepositoryInfo {
	return &RepositoryInfo{
		Name:        shortName(r.Name),
		FullName:    r.Name,
		Format:      r.Format,
		Description: r.Description,
		Labels:      r.Labels,
		SizeBytes:   r.SizeBytes,
		CreateTime:  parseTime(r.CreateTime),
		UpdateTime:  parseTime(r.UpdateTime),
	}
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
