package cloudbuild

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/gcpkit/gcpkit/gcperr"
	"github.com/gcpkit/gcpkit/internal/ziputil"
	"github.com/gcpkit/gcpkit/storage"
)

// buildFile mirrors the cloudbuild.yaml schema for the fields this
// client submits.
type buildFile struct {
	Steps []struct {
		Name       string   `yaml:"name"`
		Args       []string `yaml:"args"`
		Env        []string `yaml:"env"`
		Dir        string   `yaml:"dir"`
		ID         string   `yaml:"id"`
		Entrypoint string   `yaml:"entrypoint"`
		WaitFor    []string `yaml:"waitFor"`
	} `yaml:"steps"`
	Images        []string          `yaml:"images"`
	Timeout       string            `yaml:"timeout"`
	Substitutions map[string]string `yaml:"substitutions"`
	Tags          []string          `yaml:"tags"`
	LogsBucket    string            `yaml:"logsBucket"`
}

// LoadBuildFile parses a cloudbuild.yaml into a BuildRequest.
func LoadBuildFile(path string) (*BuildRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gcperr.Validation(serviceName, fmt.Sprintf("cannot read build file %s", path)).
			WithDetail("path", path)
	}

	var file buildFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, gcperr.New(serviceName, fmt.Sprintf("invalid build file %s", path), err).
			WithDetail("path", path)
	}
	if len(file.Steps) == 0 {
		return nil, gcperr.Validation(serviceName, fmt.Sprintf("build file %s has no steps", path)).
			WithDetail("path", path)
	}

	req := &BuildRequest{
		Images:        file.Images,
		Timeout:       file.Timeout,
		Substitutions: file.Substitutions,
		Tags:          file.Tags,
		LogsBucket:    file.LogsBucket,
	}
	for _, s := range file.Steps {
		req.Steps = append(req.Steps, BuildStep{
			Name:       s.Name,
			Args:       s.Args,
			Env:        s.Env,
			Dir:        s.Dir,
			ID:         s.ID,
			Entrypoint: s.Entrypoint,
			WaitFor:    s.WaitFor,
		})
	}
	return req, nil
}

// SourceUploader stages a zipped source archive in Cloud Storage.
// *storage.Client satisfies it.
type SourceUploader interface {
	UploadFile(ctx context.Context, bucketName, sourcePath, objectName string, opts ...storage.UploadOption) (*storage.UploadResult, error)
}

// SubmitFromDirectory zips sourceDir, stages the archive at a unique
// object name in bucket, and submits req against that source. The temp
// archive is removed before the call returns; the staged object is left
// for the build to consume.
func (c *Client) SubmitFromDirectory(ctx context.Context, uploader SourceUploader, sourceDir, bucket string, req BuildRequest, wait bool) (*BuildInfo, error) {
	if sourceDir == "" {
		return nil, gcperr.Validation(serviceName, "source directory is required")
	}
	if bucket == "" {
		return nil, gcperr.Validation(serviceName, "staging bucket is required")
	}
	if len(req.Steps) == 0 {
		return nil, gcperr.Validation(serviceName, "at least one build step is required")
	}

	archive, err := ziputil.ZipToTemp(sourceDir, nil)
	if err != nil {
		return nil, gcperr.New(serviceName, "failed to zip source directory", err).
			WithDetail("source_dir", sourceDir)
	}
	defer os.Remove(archive)

	objectName := fmt.Sprintf("gcpkit-source/%s.zip", uuid.NewString())
	c.logCall(ctx, "staging build source", "bucket", bucket, "object", objectName)
	if _, err := uploader.UploadFile(ctx, bucket, archive, objectName,
		storage.WithContentType("application/zip")); err != nil {
		return nil, err
	}

	req.SourceBucket = bucket
	req.SourceObject = objectName
	return c.SubmitBuild(ctx, req, wait)
}
