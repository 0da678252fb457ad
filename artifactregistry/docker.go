package artifactregistry

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/google"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/gcpkit/gcpkit/gcperr"
)

// execCommand is swapped out by tests.
var execCommand = exec.CommandContext

// ListImageTags lists the tags of one image by talking to the Docker
// registry directly, authenticating with application default
// credentials and falling back to the local docker config.
func (c *Client) ListImageTags(ctx context.Context, repository, image string) ([]string, error) {
	if repository == "" || image == "" {
		return nil, gcperr.Validation(serviceName, "repository and image are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing image tags", "repository", repository, "image", image)

	ref := fmt.Sprintf("%s/%s/%s/%s", c.RegistryHost(), c.settings.ProjectID, repository, image)
	repo, err := name.NewRepository(ref)
	if err != nil {
		return nil, gcperr.Validation(serviceName, "invalid image reference: "+err.Error())
	}

	tags, err := remote.List(repo,
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.NewMultiKeychain(google.Keychain, authn.DefaultKeychain)),
	)
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list image tags", err).
			WithDetail("repository", repository).WithDetail("image", image)
	}

	// Digest-shaped tags are registry noise.
	filtered := make([]string, 0, len(tags))
	for _, tag := range tags {
		if strings.HasPrefix(tag, "sha256:") {
			continue
		}
		filtered = append(filtered, tag)
	}
	return filtered, nil
}

// ConfigureDockerAuth registers the gcloud credential helper for the
// configured location's registry host so docker push and pull work
// against it.
func (c *Client) ConfigureDockerAuth(ctx context.Context) error {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()

	host := c.RegistryHost()
	c.logCall(ctx, "configuring docker auth", "host", host)

	cmd := execCommand(ctx, "gcloud", "auth", "configure-docker", host, "--quiet")
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return gcperr.Timeout(serviceName, "docker auth configuration timed out", ctx.Err()).
				WithDetail("host", host)
		}
		return gcperr.New(serviceName, "failed to configure docker auth", err).
			WithDetail("host", host).
			WithDetail("output", strings.TrimSpace(string(out)))
	}
	return nil
}
