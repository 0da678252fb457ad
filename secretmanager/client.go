// Package secretmanager wraps Secret Manager with typed operations for
// secrets and their versions. Payloads travel base64-encoded on the
// wire; Access methods decode them back to the caller's bytes.
package secretmanager

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/option"
	smapi "google.golang.org/api/secretmanager/v1"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "secretmanager"

// latestVersion is the alias the service resolves to the newest
// enabled version.
const latestVersion = "latest"

// Client wraps the Secret Manager API for the configured project.
type Client struct {
	service  *smapi.Service
	settings *config.Settings
	logger   *slog.Logger
}

// NewClient builds a Secret Manager client using the settings' credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	service, err := smapi.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create secretmanager service", err)
	}

	return &Client{
		service:  service,
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
	}, nil
}

// Secrets

// CreateSecret creates an empty secret container. With no locations the
// secret is automatically replicated; passing locations selects
// user-managed replication across exactly those regions.
func (c *Client) CreateSecret(ctx context.Context, secretID string, labels map[string]string, locations ...string) (*SecretInfo, error) {
	if secretID == "" {
		return nil, gcperr.Validation(serviceName, "secret id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating secret", "secret", secretID)

	secret := &smapi.Secret{
		Replication: replicationFor(locations),
		Labels:      labels,
	}
	created, err := c.service.Projects.Secrets.Create("projects/"+c.settings.ProjectID, secret).
		SecretId(secretID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create secret", err).WithDetail("secret", secretID)
	}
	return toSecretInfo(created), nil
}

// GetSecret fetches secret metadata. It never returns payload data.
func (c *Client) GetSecret(ctx context.Context, secretID string) (*SecretInfo, error) {
	if secretID == "" {
		return nil, gcperr.Validation(serviceName, "secret id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting secret", "secret", secretID)

	secret, err := c.service.Projects.Secrets.Get(c.secretPath(secretID)).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get secret", err).WithDetail("secret", secretID)
	}
	return toSecretInfo(secret), nil
}

// ListSecrets lists every secret in the project.
func (c *Client) ListSecrets(ctx context.Context) ([]SecretInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing secrets")

	var secrets []SecretInfo
	err := c.service.Projects.Secrets.List("projects/"+c.settings.ProjectID).
		Pages(ctx, func(resp *smapi.ListSecretsResponse) error {
			for _, s := range resp.Secrets {
				secrets = append(secrets, *toSecretInfo(s))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list secrets", err)
	}
	return secrets, nil
}

// DeleteSecret removes a secret and every version it holds.
func (c *Client) DeleteSecret(ctx context.Context, secretID string) error {
	if secretID == "" {
		return gcperr.Validation(serviceName, "secret id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting secret", "secret", secretID)

	if _, err := c.service.Projects.Secrets.Delete(c.secretPath(secretID)).Context(ctx).Do(); err != nil {
		return gcperr.Classify(serviceName, "delete secret", err).WithDetail("secret", secretID)
	}
	return nil
}

// Versions

// AddSecretVersion stores a new payload as the next version of an
// existing secret.
func (c *Client) AddSecretVersion(ctx context.Context, secretID string, payload []byte) (*SecretVersionInfo, error) {
	if secretID == "" {
		return nil, gcperr.Validation(serviceName, "secret id is required")
	}
	if len(payload) == 0 {
		return nil, gcperr.Validation(serviceName, "secret payload is empty")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "adding secret version", "secret", secretID)

	req := &smapi.AddSecretVersionRequest{
		Payload: &smapi.SecretPayload{
			Data: base64.StdEncoding.EncodeToString(payload),
		},
	}
	version, err := c.service.Projects.Secrets.AddVersion(c.secretPath(secretID), req).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "add secret version", err).WithDetail("secret", secretID)
	}
	return toVersionInfo(version), nil
}

// AccessSecretVersion returns a version's payload as a string. An empty
// version selects "latest".
func (c *Client) AccessSecretVersion(ctx context.Context, secretID, version string) (string, error) {
	data, err := c.AccessSecretVersionBytes(ctx, secretID, version)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AccessSecretVersionBytes returns a version's payload as raw bytes. An
// empty version selects "latest".
func (c *Client) AccessSecretVersionBytes(ctx context.Context, secretID, version string) ([]byte, error) {
	if secretID == "" {
		return nil, gcperr.Validation(serviceName, "secret id is required")
	}
	if version == "" {
		version = latestVersion
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "accessing secret version", "secret", secretID, "version", version)

	resp, err := c.service.Projects.Secrets.Versions.Access(c.versionPath(secretID, version)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "access secret version", err).
			WithDetail("secret", secretID).WithDetail("version", version)
	}
	if resp.Payload == nil {
		return nil, gcperr.New(serviceName, "secret version carries no payload", nil).
			WithDetail("secret", secretID).WithDetail("version", version)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return nil, gcperr.New(serviceName, "failed to decode secret payload", err).
			WithDetail("secret", secretID).WithDetail("version", version)
	}
	return data, nil
}

// ListSecretVersions lists every version of a secret, including
// disabled and destroyed ones.
func (c *Client) ListSecretVersions(ctx context.Context, secretID string) ([]SecretVersionInfo, error) {
	if secretID == "" {
		return nil, gcperr.Validation(serviceName, "secret id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing secret versions", "secret", secretID)

	var versions []SecretVersionInfo
	err := c.service.Projects.Secrets.Versions.List(c.secretPath(secretID)).
		Pages(ctx, func(resp *smapi.ListSecretVersionsResponse) error {
			for _, v := range resp.Versions {
				versions = append(versions, *toVersionInfo(v))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list secret versions", err).WithDetail("secret", secretID)
	}
	return versions, nil
}

// DisableSecretVersion makes a version unreadable without destroying
// its payload.
func (c *Client) DisableSecretVersion(ctx context.Context, secretID, version string) (*SecretVersionInfo, error) {
	if err := c.validateVersionRef(secretID, version); err != nil {
		return nil, err
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "disabling secret version", "secret", secretID, "version", version)

	disabled, err := c.service.Projects.Secrets.Versions.Disable(
		c.versionPath(secretID, version), &smapi.DisableSecretVersionRequest{},
	).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "disable secret version", err).
			WithDetail("secret", secretID).WithDetail("version", version)
	}
	return toVersionInfo(disabled), nil
}

// EnableSecretVersion re-enables a previously disabled version.
func (c *Client) EnableSecretVersion(ctx context.Context, secretID, version string) (*SecretVersionInfo, error) {
	if err := c.validateVersionRef(secretID, version); err != nil {
		return nil, err
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "enabling secret version", "secret", secretID, "version", version)

	enabled, err := c.service.Projects.Secrets.Versions.Enable(
		c.versionPath(secretID, version), &smapi.EnableSecretVersionRequest{},
	).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "enable secret version", err).
			WithDetail("secret", secretID).WithDetail("version", version)
	}
	return toVersionInfo(enabled), nil
}

// DestroySecretVersion permanently wipes a version's payload. The
// version record survives in DESTROYED state.
func (c *Client) DestroySecretVersion(ctx context.Context, secretID, version string) (*SecretVersionInfo, error) {
	if err := c.validateVersionRef(secretID, version); err != nil {
		return nil, err
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "destroying secret version", "secret", secretID, "version", version)

	destroyed, err := c.service.Projects.Secrets.Versions.Destroy(
		c.versionPath(secretID, version), &smapi.DestroySecretVersionRequest{},
	).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "destroy secret version", err).
			WithDetail("secret", secretID).WithDetail("version", version)
	}
	return toVersionInfo(destroyed), nil
}

// CreateSecretWithValue creates a secret and stores payload as its
// first version. If storing the version fails, the just-created secret
// is deleted on a best-effort basis so no empty container is left
// behind. A secret that already existed before the call is never
// deleted.
func (c *Client) CreateSecretWithValue(ctx context.Context, secretID string, payload []byte, labels map[string]string) (*SecretVersionInfo, error) {
	if secretID == "" {
		return nil, gcperr.Validation(serviceName, "secret id is required")
	}
	if len(payload) == 0 {
		return nil, gcperr.Validation(serviceName, "secret payload is empty")
	}

	if _, err := c.CreateSecret(ctx, secretID, labels); err != nil {
		return nil, err
	}

	version, err := c.AddSecretVersion(ctx, secretID, payload)
	if err != nil {
		if cleanupErr := c.DeleteSecret(ctx, secretID); cleanupErr != nil {
			c.logger.WarnContext(ctx, "failed to clean up secret after version add failed",
				"secret", secretID, "error", cleanupErr)
		}
		return nil, err
	}
	return version, nil
}

// Helpers

func (c *Client) validateVersionRef(secretID, version string) error {
	if secretID == "" {
		return gcperr.Validation(serviceName, "secret id is required")
	}
	if version == "" {
		return gcperr.Validation(serviceName, "version is required")
	}
	return nil
}

func (c *Client) secretPath(secretID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", c.settings.ProjectID, secretID)
}

func (c *Client) versionPath(secretID, version string) string {
	return fmt.Sprintf("%s/versions/%s", c.secretPath(secretID), version)
}

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

func replicationFor(locations []string) *smapi.Replication {
	if len(locations) == 0 {
		return &smapi.Replication{Automatic: &smapi.Automatic{}}
	}
	replicas := make([]*smapi.Replica, len(locations))
	for i, loc := range locations {
		replicas[i] = &smapi.Replica{Location: loc}
	}
	return &smapi.Replication{UserManaged: &smapi.UserManaged{Replicas: replicas}}
}

func toSecretInfo(s *smapi.Secret) *SecretInfo {
	return &SecretInfo{
		Name:       shortName(s.Name),
		FullName:   s.Name,
		Labels:     s.Labels,
		CreateTime: parseTime(s.CreateTime),
	}
}

func toVersionInfo(v *smapi.SecretVersion) *SecretVersionInfo {
	return &SecretVersionInfo{
		Version:     shortName(v.Name),
		FullName:    v.Name,
		State:       v.State,
		CreateTime:  parseTime(v.CreateTime),
		DestroyTime: parseTime(v.DestroyTime),
	}
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
