// Package storage wraps Google Cloud Storage with typed bucket and
// object operations: uploads with content-type detection, downloads,
// listing, copies, signed URLs, and forced bucket deletion.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "storage"

const (
	defaultStorageClass = "STANDARD"
	defaultSignedExpiry = time.Hour

	// deleteConcurrency bounds the parallel object sweep in forced
	// bucket deletion.
	deleteConcurrency = 16
)

// Client wraps a Cloud Storage client scoped to the configured project.
type Client struct {
	client   *gcs.Client
	settings *config.Settings
	logger   *slog.Logger
}

// NewClient builds a Storage client using the settings' credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	client, err := gcs.NewClient(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create storage client", err)
	}

	return &Client{
		client:   client,
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
	}, nil
}

// Close releases the underlying client's connections.
func (c *Client) Close() error {
	return c.client.Close()
}

// UploadOption customizes an upload.
type UploadOption func(*uploadOptions)

type uploadOptions struct {
	contentType string
	metadata    map[string]string
	public      bool
}

// WithContentType overrides content-type detection.
func WithContentType(contentType string) UploadOption {
	return func(o *uploadOptions) { o.contentType = contentType }
}

// WithMetadata attaches custom metadata to the uploaded object.
func WithMetadata(metadata map[string]string) UploadOption {
	return func(o *uploadOptions) { o.metadata = metadata }
}

// WithPublicRead grants allUsers read access after the upload.
func WithPublicRead() UploadOption {
	return func(o *uploadOptions) { o.public = true }
}

// Buckets

// CreateBucket creates a bucket. Empty location falls back to the
// configured location; empty storageClass means STANDARD.
func (c *Client) CreateBucket(ctx context.Context, bucketName, location, storageClass string, labels map[string]string) (*BucketInfo, error) {
	if bucketName == "" {
		return nil, gcperr.Validation(serviceName, "bucket name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating bucket", "bucket", bucketName)

	if location == "" {
		location = c.settings.Location
	}
	if storageClass == "" {
		storageClass = defaultStorageClass
	}

	bucket := c.client.Bucket(bucketName)
	attrs := &gcs.BucketAttrs{
		Location:     location,
		StorageClass: storageClass,
		Labels:       labels,
	}
	if err := bucket.Create(ctx, c.settings.ProjectID, attrs); err != nil {
		return nil, c.classify("create bucket", err).WithDetail("bucket", bucketName)
	}

	created, err := bucket.Attrs(ctx)
	if err != nil {
		return nil, c.classify("get bucket", err).WithDetail("bucket", bucketName)
	}
	return toBucketInfo(created), nil
}

// GetBucket fetches bucket metadata.
func (c *Client) GetBucket(ctx context.Context, bucketName string) (*BucketInfo, error) {
	if bucketName == "" {
		return nil, gcperr.Validation(serviceName, "bucket name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting bucket", "bucket", bucketName)

	attrs, err := c.client.Bucket(bucketName).Attrs(ctx)
	if err != nil {
		return nil, c.classify("get bucket", err).WithDetail("bucket", bucketName)
	}
	return toBucketInfo(attrs), nil
}

// ListBuckets lists the project's buckets, optionally filtered by name
// prefix.
func (c *Client) ListBuckets(ctx context.Context, prefix string) ([]BucketInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing buckets", "prefix", prefix)

	it := c.client.Buckets(ctx, c.settings.ProjectID)
	it.Prefix = prefix

	var buckets []BucketInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return buckets, nil
		}
		if err != nil {
			return nil, c.classify("list buckets", err)
		}
		buckets = append(buckets, *toBucketInfo(attrs))
	}
}

// DeleteBucket deletes a bucket. With force, every object is deleted
// first using a bounded concurrent sweep; without it, deleting a
// non-empty bucket fails.
func (c *Client) DeleteBucket(ctx context.Context, bucketName string, force bool) error {
	if bucketName == "" {
		return gcperr.Validation(serviceName, "bucket name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting bucket", "bucket", bucketName, "force", force)

	bucket := c.client.Bucket(bucketName)

	if force {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(deleteConcurrency)

		it := bucket.Objects(gctx, nil)
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return c.classify("list objects", err).WithDetail("bucket", bucketName)
			}
			objectName := attrs.Name
			g.Go(func() error {
				return bucket.Object(objectName).Delete(gctx)
			})
		}
		if err := g.Wait(); err != nil {
			return c.classify("delete objects", err).WithDetail("bucket", bucketName)
		}
	}

	if err := bucket.Delete(ctx); err != nil {
		return c.classify("delete bucket", err).WithDetail("bucket", bucketName)
	}
	return nil
}

// Objects

// UploadFile uploads a local file. Content type is detected from the
// file extension unless overridden.
func (c *Client) UploadFile(ctx context.Context, bucketName, sourcePath, objectName string, opts ...UploadOption) (*UploadResult, error) {
	if bucketName == "" || objectName == "" {
		return nil, gcperr.Validation(serviceName, "bucket and object names are required")
	}
	info, err := os.Stat(sourcePath)
	if err != nil || !info.Mode().IsRegular() {
		return nil, gcperr.Validation(serviceName, "source file not found: "+sourcePath)
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, gcperr.New(serviceName, "failed to open "+sourcePath, err)
	}
	defer f.Close()

	o := applyUploadOptions(opts)
	if o.contentType == "" {
		o.contentType = detectContentType(sourcePath)
	}
	return c.upload(ctx, bucketName, objectName, f, o)
}

// UploadFromString uploads in-memory content as an object.
func (c *Client) UploadFromString(ctx context.Context, bucketName, objectName, content string, opts ...UploadOption) (*UploadResult, error) {
	if bucketName == "" || objectName == "" {
		return nil, gcperr.Validation(serviceName, "bucket and object names are required")
	}
	return c.upload(ctx, bucketName, objectName, strings.NewReader(content), applyUploadOptions(opts))
}

func (c *Client) upload(ctx context.Context, bucketName, objectName string, r io.Reader, o uploadOptions) (*UploadResult, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "uploading object", "bucket", bucketName, "object", objectName)

	obj := c.client.Bucket(bucketName).Object(objectName)
	w := obj.NewWriter(ctx)
	w.ContentType = o.contentType
	w.Metadata = o.metadata

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return nil, c.classify("upload object", err).
			WithDetail("bucket", bucketName).WithDetail("object", objectName)
	}
	if err := w.Close(); err != nil {
		return nil, c.classify("upload object", err).
			WithDetail("bucket", bucketName).WithDetail("object", objectName)
	}

	attrs := w.Attrs()
	result := &UploadResult{
		ObjectName: objectName,
		Bucket:     bucketName,
		Size:       attrs.Size,
		MD5Hash:    base64.StdEncoding.EncodeToString(attrs.MD5),
		Generation: attrs.Generation,
	}

	if o.public {
		if err := obj.ACL().Set(ctx, gcs.AllUsers, gcs.RoleReader); err != nil {
			return nil, c.classify("set public access", err).
				WithDetail("bucket", bucketName).WithDetail("object", objectName)
		}
		result.PublicURL = publicURL(bucketName, objectName)
	}
	return result, nil
}

// DownloadFile downloads an object to a local path, creating parent
// directories as needed.
func (c *Client) DownloadFile(ctx context.Context, bucketName, objectName, destPath string) error {
	if bucketName == "" || objectName == "" {
		return gcperr.Validation(serviceName, "bucket and object names are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "downloading object", "bucket", bucketName, "object", objectName, "dest", destPath)

	r, err := c.client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return c.classify("download object", err).
			WithDetail("bucket", bucketName).WithDetail("object", objectName)
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return gcperr.New(serviceName, "failed to create destination directory", err)
	}
	f, err := os.Create(destPath)
	if err != nil {
		return gcperr.New(serviceName, "failed to create "+destPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return c.classify("download object", err).
			WithDetail("bucket", bucketName).WithDetail("object", objectName)
	}
	return nil
}

// DownloadBytes returns an object's content in memory.
func (c *Client) DownloadBytes(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	if bucketName == "" || objectName == "" {
		return nil, gcperr.Validation(serviceName, "bucket and object names are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "downloading object", "bucket", bucketName, "object", objectName)

	r, err := c.client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, c.classify("download object", err).
			WithDetail("bucket", bucketName).WithDetail("object", objectName)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, c.classify("download object", err).
			WithDetail("bucket", bucketName).WithDetail("object", objectName)
	}
	return data, nil
}

// DownloadText returns an object's content as a string.
func (c *Client) DownloadText(ctx context.Context, bucketName, objectName string) (string, error) {
	data, err := c.DownloadBytes(ctx, bucketName, objectName)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListObjects lists objects in a bucket. prefix filters by name prefix,
// delimiter collapses hierarchy (synthetic directory entries are
// skipped), max > 0 caps the result count.
func (c *Client) ListObjects(ctx context.Context, bucketName, prefix, delimiter string, max int) ([]ObjectInfo, error) {
	if bucketName == "" {
		return nil, gcperr.Validation(serviceName, "bucket name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing objects", "bucket", bucketName, "prefix", prefix)

	it := c.client.Bucket(bucketName).Objects(ctx, &gcs.Query{
		Prefix:    prefix,
		Delimiter: delimiter,
	})

	var objects []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return objects, nil
		}
		if err != nil {
			return nil, c.classify("list objects", err).WithDetail("bucket", bucketName)
		}
		if attrs.Prefix != "" {
			continue
		}
		objects = append(objects, *toObjectInfo(attrs))
		if max > 0 && len(objects) >= max {
			return objects, nil
		}
	}
}

// GetObjectMetadata fetches a single object's metadata.
func (c *Client) GetObjectMetadata(ctx context.Context, bucketName, objectName string) (*ObjectInfo, error) {
	if bucketName == "" || objectName == "" {
		return nil, gcperr.Validation(serviceName, "bucket and object names are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting object metadata", "bucket", bucketName, "object", objectName)

	attrs, err := c.client.Bucket(bucketName).Object(objectName).Attrs(ctx)
	if err != nil {
		return nil, c.classify("get object metadata", err).
			WithDetail("bucket", bucketName).WithDetail("object", objectName)
	}
	return toObjectInfo(attrs), nil
}

// DeleteObject removes one object.
func (c *Client) DeleteObject(ctx context.Context, bucketName, objectName string) error {
	if bucketName == "" || objectName == "" {
		return gcperr.Validation(serviceName, "bucket and object names are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting object", "bucket", bucketName, "object", objectName)

	if err := c.client.Bucket(bucketName).Object(objectName).Delete(ctx); err != nil {
		return c.classify("delete object", err).
			WithDetail("bucket", bucketName).WithDetail("object", objectName)
	}
	return nil
}

// CopyObject copies an object, possibly across buckets.
func (c *Client) CopyObject(ctx context.Context, srcBucket, srcObject, dstBucket, dstObject string) (*ObjectInfo, error) {
	if srcBucket == "" || srcObject == "" || dstBucket == "" || dstObject == "" {
		return nil, gcperr.Validation(serviceName, "source and destination names are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "copying object",
		"src_bucket", srcBucket, "src_object", srcObject,
		"dst_bucket", dstBucket, "dst_object", dstObject)

	src := c.client.Bucket(srcBucket).Object(srcObject)
	dst := c.client.Bucket(dstBucket).Object(dstObject)

	attrs, err := dst.CopierFrom(src).Run(ctx)
	if err != nil {
		return nil, c.classify("copy object", err).
			WithDetail("src", srcBucket+"/"+srcObject).
			WithDetail("dst", dstBucket+"/"+dstObject)
	}
	return toObjectInfo(attrs), nil
}

// SignedURL returns a V4 signed URL granting temporary access to an
// object. expiry <= 0 defaults to one hour.
func (c *Client) SignedURL(bucketName, objectName, method string, expiry time.Duration) (string, error) {
	if bucketName == "" || objectName == "" {
		return "", gcperr.Validation(serviceName, "bucket and object names are required")
	}
	if expiry <= 0 {
		expiry = defaultSignedExpiry
	}

	url, err := c.client.Bucket(bucketName).SignedURL(objectName, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  strings.ToUpper(method),
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", c.classify("generate signed url", err).
			WithDetail("bucket", bucketName).WithDetail("object", objectName)
	}
	return url, nil
}

// Helpers

// classify maps the storage library's sentinel errors before the
// generic translation.
func (c *Client) classify(action string, err error) *gcperr.Error {
	switch {
	case errors.Is(err, gcs.ErrObjectNotExist):
		return gcperr.NotFound(serviceName, "failed to "+action+": object does not exist", err)
	case errors.Is(err, gcs.ErrBucketNotExist):
		return gcperr.NotFound(serviceName, "failed to "+action+": bucket does not exist", err)
	default:
		return gcperr.Classify(serviceName, action, err)
	}
}

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

func applyUploadOptions(opts []UploadOption) uploadOptions {
	var o uploadOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func detectContentType(path string) string {
	return mime.TypeByExtension(filepath.Ext(path))
}

func publicURL(bucketName, objectName string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucketName, objectName)
}

func toBucketInfo(attrs *gcs.BucketAttrs) *BucketInfo {
	return &BucketInfo{
		Name:              attrs.Name,
		Location:          attrs.Location,
		StorageClass:      attrs.StorageClass,
		Created:           attrs.Created,
		VersioningEnabled: attrs.VersioningEnabled,
		Labels:            attrs.Labels,
	}
}

func toObjectInfo(attrs *gcs.ObjectAttrs) *ObjectInfo {
	return &ObjectInfo{
		Name:           attrs.Name,
		Bucket:         attrs.Bucket,
		Size:           attrs.Size,
		ContentType:    attrs.ContentType,
		MD5Hash:        base64.StdEncoding.EncodeToString(attrs.MD5),
		Created:        attrs.Created,
		Updated:        attrs.Updated,
		Generation:     attrs.Generation,
		Metageneration: attrs.Metageneration,
		Metadata:       attrs.Metadata,
	}
}
