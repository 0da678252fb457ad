package hosting

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gcpkit/gcpkit/gcperr"

	"github.com/cenkalti/backoff/v4"
)

// deployAPI is the slice of Client used by the deployment pipeline.
type deployAPI interface {
	CreateVersion(ctx context.Context, siteID string, cfg *SiteConfig) (*Version, error)
	PopulateFiles(ctx context.Context, versionName string, manifest map[string]string) (*PopulateResponse, error)
	UploadFile(ctx context.Context, uploadURL, hash, localPath string) error
	FinalizeVersion(ctx context.Context, versionName string) (*Version, error)
	CreateRelease(ctx context.Context, siteID, versionName, message string) (*Release, error)
	GetSite(ctx context.Context, siteID string) (*Site, error)
}

type deployOptions struct {
	message       string
	config        *SiteConfig
	retryAttempts int
}

// DeployOption customizes a Deploy call.
type DeployOption func(*deployOptions)

// WithMessage attaches a human-readable message to the release.
func WithMessage(message string) DeployOption {
	return func(o *deployOptions) { o.message = message }
}

// WithConfig sets the serving config (redirects, rewrites, headers) on
// the created version.
func WithConfig(cfg *SiteConfig) DeployOption {
	return func(o *deployOptions) { o.config = cfg }
}

// WithUploadRetry retries each failed file upload up to attempts times
// with exponential backoff. Without this option every file is uploaded
// exactly once and the first failure aborts the deployment.
func WithUploadRetry(attempts int) DeployOption {
	return func(o *deployOptions) { o.retryAttempts = attempts }
}

// Deploy runs the full deployment pipeline against a site: validate
// the local files, create a version, populate it with the content
// manifest, upload the bodies the server is missing, finalize the
// version, and release it. files maps deploy paths (e.g. "/index.html")
// to local filesystem paths.
//
// Validation happens before any network call, so a bad file set fails
// without creating a version. There is no automatic cleanup: a failure
// mid-pipeline leaves the partially populated version behind, where it
// is visible for inspection and expires per the site's version
// retention policy.
func (c *Client) Deploy(ctx context.Context, siteID string, files map[string]string, opts ...DeployOption) (*DeployResult, error) {
	siteID, err := c.resolveSite(siteID)
	if err != nil {
		return nil, err
	}

	o := deployOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	return deploy(ctx, c, c.logger, siteID, files, o)
}

func deploy(ctx context.Context, api deployAPI, logger *slog.Logger, siteID string, files map[string]string, o deployOptions) (*DeployResult, error) {
	if err := validateFiles(files); err != nil {
		return nil, err
	}

	manifest, reverse, err := HashFiles(files)
	if err != nil {
		return nil, gcperr.New(serviceName, "failed to hash files", err)
	}

	logger.InfoContext(ctx, "starting deployment",
		"site_id", siteID, "file_count", len(files), "unique_hashes", len(manifest))

	version, err := api.CreateVersion(ctx, siteID, o.config)
	if err != nil {
		return nil, err
	}

	resp, err := api.PopulateFiles(ctx, version.Name, manifest)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "populated version",
		"version", version.VersionID,
		"upload_required", len(resp.UploadRequiredHashes),
		"cached", len(manifest)-len(resp.UploadRequiredHashes))

	uploaded, err := uploadRequired(ctx, api, logger, resp, reverse, o.retryAttempts)
	if err != nil {
		return nil, err
	}

	finalized, err := api.FinalizeVersion(ctx, version.Name)
	if err != nil {
		return nil, err
	}

	release, err := api.CreateRelease(ctx, siteID, version.Name, o.message)
	if err != nil {
		return nil, err
	}

	site, err := api.GetSite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "deployment complete",
		"site_id", siteID, "release", release.Name, "url", site.DefaultURL)

	return &DeployResult{
		VersionName:   version.Name,
		ReleaseName:   release.Name,
		SiteURL:       site.DefaultURL,
		TotalFiles:    len(files),
		UploadedFiles: uploaded,
		CachedFiles:   len(files) - uploaded,
		VersionStatus: finalized.Status,
	}, nil
}

// validateFiles checks the deploy manifest before any network traffic:
// the map must be non-empty and every local path must be an existing
// regular file.
func validateFiles(files map[string]string) error {
	if len(files) == 0 {
		return gcperr.Validation(serviceName, "no files provided for deployment")
	}
	for deployPath, localPath := range files {
		info, err := os.Stat(localPath)
		if err != nil {
			return gcperr.Validation(serviceName, "local file not found: "+localPath).
				WithDetail("deploy_path", deployPath)
		}
		if !info.Mode().IsRegular() {
			return gcperr.Validation(serviceName, "not a regular file: "+localPath).
				WithDetail("deploy_path", deployPath)
		}
	}
	return nil
}

// uploadRequired PUTs one body per hash the populate response reported
// missing, resolving hashes back to local paths through the reverse
// map. Returns the number of uploads performed.
func uploadRequired(ctx context.Context, api deployAPI, logger *slog.Logger, resp *PopulateResponse, reverse map[string]string, retryAttempts int) (int, error) {
	if len(resp.UploadRequiredHashes) == 0 {
		return 0, nil
	}
	if resp.UploadURL == "" {
		return 0, gcperr.New(serviceName, "populate response requires uploads but carries no upload url", nil)
	}

	for _, hash := range resp.UploadRequiredHashes {
		localPath, ok := reverse[hash]
		if !ok {
			return 0, gcperr.New(serviceName, "upload required for unknown hash "+hash, nil)
		}
		if err := uploadOne(ctx, api, logger, resp.UploadURL, hash, localPath, retryAttempts); err != nil {
			return 0, err
		}
	}
	return len(resp.UploadRequiredHashes), nil
}

func uploadOne(ctx context.Context, api deployAPI, logger *slog.Logger, uploadURL, hash, localPath string, retryAttempts int) error {
	if retryAttempts <= 1 {
		return api.UploadFile(ctx, uploadURL, hash, localPath)
	}

	operation := func() error {
		return api.UploadFile(ctx, uploadURL, hash, localPath)
	}
	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "retrying upload",
			"hash", hash, "wait", wait, "error", err)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retryAttempts-1)), ctx)
	return backoff.RetryNotify(operation, policy, notify)
}
