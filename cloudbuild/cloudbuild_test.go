package cloudbuild

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cb "google.golang.org/api/cloudbuild/v1"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
	"github.com/gcpkit/gcpkit/storage"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), config.New("test-project"),
		option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestValidationBeforeAPICall(t *testing.T) {
	ctx := context.Background()
	client := &Client{settings: config.New("test-project")}

	t.Run("submit build without steps", func(t *testing.T) {
		_, err := client.SubmitBuild(ctx, BuildRequest{}, false)
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("submit build step without image", func(t *testing.T) {
		_, err := client.SubmitBuild(ctx, BuildRequest{Steps: []BuildStep{{Args: []string{"build"}}}}, false)
		require.True(t, gcperr.IsValidation(err))
		assert.Contains(t, err.Error(), "step 0")
	})

	t.Run("get build empty id", func(t *testing.T) {
		_, err := client.GetBuild(ctx, "")
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("trigger with both sources", func(t *testing.T) {
		_, err := client.CreateTrigger(ctx, TriggerSpec{
			Name:        "dual",
			RepoName:    "my-repo",
			GitHubOwner: "octo",
			GitHubRepo:  "repo",
		})
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("trigger with no source", func(t *testing.T) {
		_, err := client.CreateTrigger(ctx, TriggerSpec{Name: "none"})
		assert.True(t, gcperr.IsValidation(err))
	})
}

func TestSubmitBuild(t *testing.T) {
	var gotBuild cb.Build
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/projects/test-project/builds"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBuild))
		writeJSON(t, w, map[string]any{
			"name": "operations/build/test-project/op-1",
			"metadata": map[string]any{
				"build": map[string]any{
					"id":         "build-123",
					"status":     "QUEUED",
					"createTime": "2026-08-20T10:00:00Z",
				},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	info, err := client.SubmitBuild(context.Background(), BuildRequest{
		Steps: []BuildStep{
			{Name: "gcr.io/cloud-builders/docker", Args: []string{"build", "-t", "gcr.io/p/img", "."}},
			{Name: "gcr.io/cloud-builders/docker", Args: []string{"push", "gcr.io/p/img"}, WaitFor: []string{"-"}},
		},
		Images:       []string{"gcr.io/p/img"},
		Timeout:      "600s",
		SourceBucket: "stage-bucket",
		SourceObject: "src.zip",
	}, false)
	require.NoError(t, err)

	assert.Equal(t, "build-123", info.ID)
	assert.Equal(t, StatusQueued, info.Status)
	assert.Equal(t, "test-project", info.ProjectID)
	assert.False(t, info.Terminal())

	require.Len(t, gotBuild.Steps, 2)
	assert.Equal(t, "gcr.io/cloud-builders/docker", gotBuild.Steps[0].Name)
	assert.Equal(t, []string{"-"}, gotBuild.Steps[1].WaitFor)
	assert.Equal(t, "600s", gotBuild.Timeout)
	require.NotNil(t, gotBuild.Source)
	assert.Equal(t, "stage-bucket", gotBuild.Source.StorageSource.Bucket)
	assert.Equal(t, "src.zip", gotBuild.Source.StorageSource.Object)
}

func TestSubmitBuildWaitsForTerminalStatus(t *testing.T) {
	gets := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			writeJSON(t, w, map[string]any{
				"metadata": map[string]any{
					"build": map[string]any{"id": "build-9", "status": "QUEUED"},
				},
			})
		case http.MethodGet:
			gets++
			writeJSON(t, w, map[string]any{"id": "build-9", "status": StatusSuccess, "logUrl": "https://console/build-9"})
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	info, err := client.SubmitBuild(context.Background(), BuildRequest{
		Steps: []BuildStep{{Name: "gcr.io/cloud-builders/gsutil"}},
	}, true)

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, info.Status)
	assert.True(t, info.Terminal())
	assert.Equal(t, "https://console/build-9", info.LogURL)
	assert.Equal(t, 1, gets)
}

func TestListBuildsHonorsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `status="SUCCESS"`, r.URL.Query().Get("filter"))
		writeJSON(t, w, map[string]any{
			"builds": []map[string]any{
				{"id": "b-1", "status": "SUCCESS"},
				{"id": "b-2", "status": "SUCCESS"},
				{"id": "b-3", "status": "SUCCESS"},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	builds, err := client.ListBuilds(context.Background(), `status="SUCCESS"`, 2)
	require.NoError(t, err)

	require.Len(t, builds, 2)
	assert.Equal(t, "b-1", builds[0].ID)
	assert.Equal(t, "b-2", builds[1].ID)
}

func TestCancelBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/builds/build-5:cancel"))
		writeJSON(t, w, map[string]any{"id": "build-5", "status": "CANCELLED"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	info, err := client.CancelBuild(context.Background(), "build-5")
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, info.Status)
	assert.True(t, info.Terminal())
}

func TestGetBuildNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(t, w, map[string]any{
			"error": map[string]any{"code": 404, "message": "build not found"},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.GetBuild(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, gcperr.IsNotFound(err))
}

func TestCreateTrigger(t *testing.T) {
	t.Run("cloud source repo", func(t *testing.T) {
		var gotTrigger cb.BuildTrigger
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotTrigger))
			writeJSON(t, w, map[string]any{"id": "trig-1", "name": gotTrigger.Name})
		}))
		defer srv.Close()

		client := newTestClient(t, srv)
		info, err := client.CreateTrigger(context.Background(), TriggerSpec{
			Name:       "deploy-on-push",
			RepoName:   "my-repo",
			BranchName: "main",
			Filename:   "cloudbuild.yaml",
		})
		require.NoError(t, err)

		assert.Equal(t, "trig-1", info.ID)
		require.NotNil(t, gotTrigger.TriggerTemplate)
		assert.Equal(t, "test-project", gotTrigger.TriggerTemplate.ProjectId)
		assert.Equal(t, "my-repo", gotTrigger.TriggerTemplate.RepoName)
		assert.Equal(t, "main", gotTrigger.TriggerTemplate.BranchName)
		assert.Nil(t, gotTrigger.Github)
	})

	t.Run("github", func(t *testing.T) {
		var gotTrigger cb.BuildTrigger
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotTrigger))
			writeJSON(t, w, map[string]any{"id": "trig-2", "name": gotTrigger.Name})
		}))
		defer srv.Close()

		client := newTestClient(t, srv)
		_, err := client.CreateTrigger(context.Background(), TriggerSpec{
			Name:         "gh-push",
			GitHubOwner:  "octo",
			GitHubRepo:   "site",
			GitHubBranch: "^main$",
		})
		require.NoError(t, err)

		require.NotNil(t, gotTrigger.Github)
		assert.Equal(t, "octo", gotTrigger.Github.Owner)
		assert.Equal(t, "site", gotTrigger.Github.Name)
		assert.Equal(t, "^main$", gotTrigger.Github.Push.Branch)
		assert.Nil(t, gotTrigger.TriggerTemplate)
	})
}

func TestUpdateTriggerReadModifyWrite(t *testing.T) {
	var patched cb.BuildTrigger
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, map[string]any{
				"id":          "trig-3",
				"name":        "old-name",
				"description": "old description",
			})
		case http.MethodPatch:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
			writeJSON(t, w, map[string]any{"id": "trig-3", "name": patched.Name, "disabled": patched.Disabled})
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	disabled := true
	info, err := client.UpdateTrigger(context.Background(), "trig-3", TriggerUpdate{Disabled: &disabled})
	require.NoError(t, err)

	assert.True(t, info.Disabled)
	assert.Equal(t, "old-name", patched.Name)
	assert.True(t, patched.Disabled)
}

func TestRunTrigger(t *testing.T) {
	var gotSource cb.RepoSource
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/triggers/trig-4:run"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotSource))
		writeJSON(t, w, map[string]any{
			"metadata": map[string]any{
				"build": map[string]any{"id": "build-77", "status": "QUEUED"},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	info, err := client.RunTrigger(context.Background(), "trig-4", "main")
	require.NoError(t, err)

	assert.Equal(t, "build-77", info.ID)
	assert.Equal(t, "main", gotSource.BranchName)
}

func TestLoadBuildFile(t *testing.T) {
	t.Run("full file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cloudbuild.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
steps:
  - name: gcr.io/cloud-builders/docker
    args: ["build", "-t", "gcr.io/$PROJECT_ID/app", "."]
    id: build
  - name: gcr.io/cloud-builders/docker
    args: ["push", "gcr.io/$PROJECT_ID/app"]
    waitFor: ["build"]
images:
  - gcr.io/$PROJECT_ID/app
timeout: 1200s
substitutions:
  _ENV: prod
`), 0o644))

		req, err := LoadBuildFile(path)
		require.NoError(t, err)

		require.Len(t, req.Steps, 2)
		assert.Equal(t, "build", req.Steps[0].ID)
		assert.Equal(t, []string{"build"}, req.Steps[1].WaitFor)
		assert.Equal(t, []string{"gcr.io/$PROJECT_ID/app"}, req.Images)
		assert.Equal(t, "1200s", req.Timeout)
		assert.Equal(t, "prod", req.Substitutions["_ENV"])
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadBuildFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("no steps", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("images: [gcr.io/p/app]\n"), 0o644))
		_, err := LoadBuildFile(path)
		assert.True(t, gcperr.IsValidation(err))
	})
}

type fakeUploader struct {
	bucket string
	object string
	size   int64
}

func (f *fakeUploader) UploadFile(_ context.Context, bucketName, sourcePath, objectName string, _ ...storage.UploadOption) (*storage.UploadResult, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, err
	}
	f.bucket = bucketName
	f.object = objectName
	f.size = info.Size()
	return &storage.UploadResult{Bucket: bucketName, ObjectName: objectName, Size: info.Size()}, nil
}

func TestSubmitFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))

	var gotBuild cb.Build
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBuild))
		writeJSON(t, w, map[string]any{
			"metadata": map[string]any{
				"build": map[string]any{"id": "build-42", "status": "QUEUED"},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	uploader := &fakeUploader{}
	info, err := client.SubmitFromDirectory(context.Background(), uploader, dir, "stage-bucket",
		BuildRequest{Steps: []BuildStep{{Name: "gcr.io/cloud-builders/go"}}}, false)
	require.NoError(t, err)

	assert.Equal(t, "build-42", info.ID)
	assert.Equal(t, "stage-bucket", uploader.bucket)
	assert.True(t, strings.HasPrefix(uploader.object, "gcpkit-source/"))
	assert.True(t, strings.HasSuffix(uploader.object, ".zip"))
	assert.Positive(t, uploader.size)

	require.NotNil(t, gotBuild.Source)
	assert.Equal(t, "stage-bucket", gotBuild.Source.StorageSource.Bucket)
	assert.Equal(t, uploader.object, gotBuild.Source.StorageSource.Object)
}
