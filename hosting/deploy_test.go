package hosting

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/gcpkit/gcpkit/gcperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDeployAPI records the pipeline calls in order and delegates to
// optional overrides.
type fakeDeployAPI struct {
	calls []string

	createVersionFunc   func(ctx context.Context, siteID string, cfg *SiteConfig) (*Version, error)
	populateFilesFunc   func(ctx context.Context, versionName string, manifest map[string]string) (*PopulateResponse, error)
	uploadFileFunc      func(ctx context.Context, uploadURL, hash, localPath string) error
	finalizeVersionFunc func(ctx context.Context, versionName string) (*Version, error)
	createReleaseFunc   func(ctx context.Context, siteID, versionName, message string) (*Release, error)
	getSiteFunc         func(ctx context.Context, siteID string) (*Site, error)
}

const testVersionName = "projects/test-project/sites/my-site/versions/v1"

func (f *fakeDeployAPI) CreateVersion(ctx context.Context, siteID string, cfg *SiteConfig) (*Version, error) {
	f.calls = append(f.calls, "create_version")
	if f.createVersionFunc != nil {
		return f.createVersionFunc(ctx, siteID, cfg)
	}
	return &Version{Name: testVersionName, VersionID: "v1", Status: VersionStatusCreated}, nil
}

func (f *fakeDeployAPI) PopulateFiles(ctx context.Context, versionName string, manifest map[string]string) (*PopulateResponse, error) {
	f.calls = append(f.calls, "populate_files")
	if f.populateFilesFunc != nil {
		return f.populateFilesFunc(ctx, versionName, manifest)
	}
	hashes := make([]string, 0, len(manifest))
	seen := make(map[string]bool)
	for _, hash := range manifest {
		if !seen[hash] {
			seen[hash] = true
			hashes = append(hashes, hash)
		}
	}
	return &PopulateResponse{UploadRequiredHashes: hashes, UploadURL: "https://upload.example/v1/files"}, nil
}

func (f *fakeDeployAPI) UploadFile(ctx context.Context, uploadURL, hash, localPath string) error {
	f.calls = append(f.calls, "upload:"+hash)
	if f.uploadFileFunc != nil {
		return f.uploadFileFunc(ctx, uploadURL, hash, localPath)
	}
	return nil
}

func (f *fakeDeployAPI) FinalizeVersion(ctx context.Context, versionName string) (*Version, error) {
	f.calls = append(f.calls, "finalize_version")
	if f.finalizeVersionFunc != nil {
		return f.finalizeVersionFunc(ctx, versionName)
	}
	return &Version{Name: versionName, VersionID: "v1", Status: VersionStatusFinalized}, nil
}

func (f *fakeDeployAPI) CreateRelease(ctx context.Context, siteID, versionName, message string) (*Release, error) {
	f.calls = append(f.calls, "create_release")
	if f.createReleaseFunc != nil {
		return f.createReleaseFunc(ctx, siteID, versionName, message)
	}
	return &Release{Name: "sites/my-site/releases/r1", VersionName: versionName}, nil
}

func (f *fakeDeployAPI) GetSite(ctx context.Context, siteID string) (*Site, error) {
	f.calls = append(f.calls, "get_site")
	if f.getSiteFunc != nil {
		return f.getSiteFunc(ctx, siteID)
	}
	return &Site{Name: "projects/test-project/sites/" + siteID, SiteID: siteID, DefaultURL: "https://my-site.web.app"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeploySuccess(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"/index.html": writeFile(t, dir, "index.html", "<html></html>"),
		"/app.js":     writeFile(t, dir, "app.js", "console.log(1)"),
	}

	fake := &fakeDeployAPI{}
	result, err := deploy(ctx, fake, testLogger(), "my-site", files, deployOptions{})
	require.NoError(t, err)

	assert.Equal(t, testVersionName, result.VersionName)
	assert.Equal(t, "sites/my-site/releases/r1", result.ReleaseName)
	assert.Equal(t, "https://my-site.web.app", result.SiteURL)
	assert.Equal(t, 2, result.TotalFiles)
	assert.Equal(t, 2, result.UploadedFiles)
	assert.Equal(t, 0, result.CachedFiles)
	assert.Equal(t, VersionStatusFinalized, result.VersionStatus)

	require.Len(t, fake.calls, 7)
	assert.Equal(t, "create_version", fake.calls[0])
	assert.Equal(t, "populate_files", fake.calls[1])
	assert.True(t, strings.HasPrefix(fake.calls[2], "upload:"))
	assert.True(t, strings.HasPrefix(fake.calls[3], "upload:"))
	assert.Equal(t, "finalize_version", fake.calls[4])
	assert.Equal(t, "create_release", fake.calls[5])
	assert.Equal(t, "get_site", fake.calls[6])
}

func TestDeployValidatesBeforeAnyCall(t *testing.T) {
	ctx := context.Background()

	t.Run("empty file map", func(t *testing.T) {
		fake := &fakeDeployAPI{}
		_, err := deploy(ctx, fake, testLogger(), "my-site", nil, deployOptions{})
		require.Error(t, err)
		assert.True(t, gcperr.IsValidation(err))
		assert.Empty(t, fake.calls)
	})

	t.Run("missing local file", func(t *testing.T) {
		fake := &fakeDeployAPI{}
		files := map[string]string{"/index.html": "/nonexistent/index.html"}
		_, err := deploy(ctx, fake, testLogger(), "my-site", files, deployOptions{})
		require.Error(t, err)
		assert.True(t, gcperr.IsValidation(err))
		assert.Contains(t, err.Error(), "not found")
		assert.Empty(t, fake.calls)
	})

	t.Run("directory instead of file", func(t *testing.T) {
		fake := &fakeDeployAPI{}
		files := map[string]string{"/dir": t.TempDir()}
		_, err := deploy(ctx, fake, testLogger(), "my-site", files, deployOptions{})
		require.Error(t, err)
		assert.True(t, gcperr.IsValidation(err))
		assert.Empty(t, fake.calls)
	})
}

func TestDeployIdenticalContentUploadedOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"/one.css": writeFile(t, dir, "one.css", "body{}"),
		"/two.css": writeFile(t, dir, "two.css", "body{}"),
	}

	fake := &fakeDeployAPI{}
	result, err := deploy(ctx, fake, testLogger(), "my-site", files, deployOptions{})
	require.NoError(t, err)

	uploads := 0
	for _, call := range fake.calls {
		if strings.HasPrefix(call, "upload:") {
			uploads++
		}
	}
	assert.Equal(t, 1, uploads)
	assert.Equal(t, 2, result.TotalFiles)
	assert.Equal(t, 1, result.UploadedFiles)
	assert.Equal(t, 1, result.CachedFiles)
}

func TestDeployUploadsOnlyServerMissing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"/a.txt": writeFile(t, dir, "a.txt", "A"),
		"/b.txt": writeFile(t, dir, "b.txt", "B"),
	}

	// The server reports only a.txt's content as missing; b.txt is
	// already cached from an earlier version.
	var uploadedBody string
	fake := &fakeDeployAPI{
		populateFilesFunc: func(_ context.Context, _ string, manifest map[string]string) (*PopulateResponse, error) {
			require.Len(t, manifest, 2)
			require.NotEqual(t, manifest["/a.txt"], manifest["/b.txt"])
			return &PopulateResponse{
				UploadRequiredHashes: []string{manifest["/a.txt"]},
				UploadURL:            "https://upload.example/v1/files",
			}, nil
		},
		uploadFileFunc: func(_ context.Context, _, _, localPath string) error {
			body, err := os.ReadFile(localPath)
			require.NoError(t, err)
			uploadedBody = string(body)
			return nil
		},
	}

	result, err := deploy(ctx, fake, testLogger(), "my-site", files, deployOptions{})
	require.NoError(t, err)

	uploads := 0
	for _, call := range fake.calls {
		if strings.HasPrefix(call, "upload:") {
			uploads++
		}
	}
	assert.Equal(t, 1, uploads)
	assert.Equal(t, "A", uploadedBody)
	assert.Equal(t, 2, result.TotalFiles)
	assert.Equal(t, 1, result.UploadedFiles)
	assert.Equal(t, 1, result.CachedFiles)
}

func TestDeployAllCached(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"/index.html": writeFile(t, dir, "index.html", "<html></html>"),
	}

	fake := &fakeDeployAPI{
		populateFilesFunc: func(_ context.Context, _ string, _ map[string]string) (*PopulateResponse, error) {
			return &PopulateResponse{UploadRequiredHashes: nil, UploadURL: ""}, nil
		},
	}
	result, err := deploy(ctx, fake, testLogger(), "my-site", files, deployOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, result.UploadedFiles)
	assert.Equal(t, 1, result.CachedFiles)
	for _, call := range fake.calls {
		assert.NotContains(t, call, "upload:")
	}
}

func TestDeployFailureStopsPipeline(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"/index.html": writeFile(t, dir, "index.html", "<html></html>"),
	}

	t.Run("populate failure skips later stages", func(t *testing.T) {
		fake := &fakeDeployAPI{
			populateFilesFunc: func(_ context.Context, _ string, _ map[string]string) (*PopulateResponse, error) {
				return nil, gcperr.New(serviceName, "failed to populate files", nil)
			},
		}
		_, err := deploy(ctx, fake, testLogger(), "my-site", files, deployOptions{})
		require.Error(t, err)
		assert.Equal(t, []string{"create_version", "populate_files"}, fake.calls)
	})

	t.Run("finalize failure leaves version without cleanup", func(t *testing.T) {
		fake := &fakeDeployAPI{
			finalizeVersionFunc: func(_ context.Context, _ string) (*Version, error) {
				return nil, gcperr.New(serviceName, "failed to finalize version", nil)
			},
		}
		_, err := deploy(ctx, fake, testLogger(), "my-site", files, deployOptions{})
		require.Error(t, err)

		require.Len(t, fake.calls, 3)
		assert.Equal(t, "create_version", fake.calls[0])
		assert.Equal(t, "populate_files", fake.calls[1])
		assert.Equal(t, "finalize_version", fake.calls[2])
	})

	t.Run("upload failure aborts before finalize", func(t *testing.T) {
		fake := &fakeDeployAPI{
			uploadFileFunc: func(_ context.Context, _, _, _ string) error {
				return gcperr.New(serviceName, "failed to upload file", nil)
			},
		}
		_, err := deploy(ctx, fake, testLogger(), "my-site", files, deployOptions{})
		require.Error(t, err)

		uploads := 0
		for _, call := range fake.calls {
			switch call {
			case "finalize_version", "create_release", "get_site":
				t.Fatalf("unexpected call after failed upload: %s", call)
			}
			if strings.HasPrefix(call, "upload:") {
				uploads++
			}
		}
		assert.Equal(t, 1, uploads)
	})
}

func TestDeployMissingUploadURL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"/index.html": writeFile(t, dir, "index.html", "<html></html>"),
	}

	fake := &fakeDeployAPI{
		populateFilesFunc: func(_ context.Context, _ string, manifest map[string]string) (*PopulateResponse, error) {
			hashes := make([]string, 0, len(manifest))
			for _, h := range manifest {
				hashes = append(hashes, h)
			}
			return &PopulateResponse{UploadRequiredHashes: hashes, UploadURL: ""}, nil
		},
	}
	_, err := deploy(ctx, fake, testLogger(), "my-site", files, deployOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload url")
	for _, call := range fake.calls {
		assert.NotContains(t, call, "upload:")
	}
}

func TestDeployUploadRetry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"/index.html": writeFile(t, dir, "index.html", "<html></html>"),
	}

	attempts := 0
	fake := &fakeDeployAPI{
		uploadFileFunc: func(_ context.Context, _, _, _ string) error {
			attempts++
			if attempts == 1 {
				return gcperr.New(serviceName, "failed to upload file", nil)
			}
			return nil
		},
	}

	result, err := deploy(ctx, fake, testLogger(), "my-site", files, deployOptions{retryAttempts: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, result.UploadedFiles)
}

func TestDeployOptionsPropagate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"/index.html": writeFile(t, dir, "index.html", "<html></html>"),
	}
	cfg := &SiteConfig{
		Rewrites: []Rewrite{{Glob: "**", Path: "/index.html"}},
	}

	var gotConfig *SiteConfig
	var gotMessage string
	fake := &fakeDeployAPI{
		createVersionFunc: func(_ context.Context, _ string, c *SiteConfig) (*Version, error) {
			gotConfig = c
			return &Version{Name: testVersionName, VersionID: "v1", Status: VersionStatusCreated}, nil
		},
		createReleaseFunc: func(_ context.Context, _, versionName, message string) (*Release, error) {
			gotMessage = message
			return &Release{Name: "sites/my-site/releases/r1", VersionName: versionName}, nil
		},
	}

	_, err := deploy(ctx, fake, testLogger(), "my-site", files, deployOptions{
		message: "release v2",
		config:  cfg,
	})
	require.NoError(t, err)
	assert.Equal(t, cfg, gotConfig)
	assert.Equal(t, "release v2", gotMessage)
}
