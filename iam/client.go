// Package iam manages service accounts, their keys, and project-level
// IAM policy bindings.
package iam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
	"google.golang.org/api/option"

	crm "google.golang.org/api/cloudresourcemanager/v3"
	iamapi "google.golang.org/api/iam/v1"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "iam"

const (
	defaultListPageSize = 100

	keyAlgorithmRSA2048 = "KEY_ALG_RSA_2048"
	keyTypeCredentials  = "TYPE_GOOGLE_CREDENTIALS_FILE"
)

// Client wraps the IAM admin API together with Resource Manager for
// project-level policy work.
type Client struct {
	iamService      *iamapi.Service
	resourceManager *crm.Service
	projects        *resourcemanager.ProjectsClient
	settings        *config.Settings
	logger          *slog.Logger
}

// NewClient builds an IAM client using the settings' credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	iamService, err := iamapi.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create iam service", err)
	}
	rmService, err := crm.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create resourcemanager service", err)
	}
	projects, err := resourcemanager.NewProjectsClient(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create projects client", err)
	}

	return &Client{
		iamService:      iamService,
		resourceManager: rmService,
		projects:        projects,
		settings:        settings,
		logger:          slog.Default().With("service", serviceName),
	}, nil
}

// Close releases the underlying gRPC connection of the projects client.
func (c *Client) Close() error {
	if c.projects == nil {
		return nil
	}
	return c.projects.Close()
}

// Service accounts

// CreateServiceAccount creates a service account in the configured
// project. An empty displayName falls back to the account ID.
func (c *Client) CreateServiceAccount(ctx context.Context, accountID, displayName, description string) (*ServiceAccount, error) {
	if accountID == "" {
		return nil, gcperr.Validation(serviceName, "account id is required")
	}
	if displayName == "" {
		displayName = accountID
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating service account", "account", accountID)

	req := &iamapi.CreateServiceAccountRequest{
		AccountId: accountID,
		ServiceAccount: &iamapi.ServiceAccount{
			DisplayName: displayName,
			Description: description,
		},
	}
	sa, err := c.iamService.Projects.ServiceAccounts.Create("projects/"+c.settings.ProjectID, req).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create service account", err).WithDetail("account", accountID)
	}
	return toServiceAccount(sa), nil
}

// GetServiceAccount fetches a service account by email.
func (c *Client) GetServiceAccount(ctx context.Context, email string) (*ServiceAccount, error) {
	if email == "" {
		return nil, gcperr.Validation(serviceName, "service account email is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting service account", "email", email)

	sa, err := c.iamService.Projects.ServiceAccounts.Get(c.accountPath(email)).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get service account", err).WithDetail("email", email)
	}
	return toServiceAccount(sa), nil
}

// ListServiceAccounts lists up to max service accounts in the project.
// max <= 0 defaults to 100.
func (c *Client) ListServiceAccounts(ctx context.Context, max int) ([]ServiceAccount, error) {
	if max <= 0 {
		max = defaultListPageSize
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing service accounts", "max", max)

	var accounts []ServiceAccount
	err := c.iamService.Projects.ServiceAccounts.List("projects/"+c.settings.ProjectID).
		PageSize(int64(min(max, defaultListPageSize))).
		Pages(ctx, func(resp *iamapi.ListServiceAccountsResponse) error {
			for _, sa := range resp.Accounts {
				accounts = append(accounts, *toServiceAccount(sa))
				if len(accounts) >= max {
					return errStopPaging
				}
			}
			return nil
		})
	if err != nil && err != errStopPaging {
		return nil, gcperr.Classify(serviceName, "list service accounts", err)
	}
	return accounts, nil
}

// UpdateServiceAccount patches a service account's display name and/or
// description. Empty fields are left untouched.
func (c *Client) UpdateServiceAccount(ctx context.Context, email, displayName, description string) (*ServiceAccount, error) {
	if email == "" {
		return nil, gcperr.Validation(serviceName, "service account email is required")
	}
	if displayName == "" && description == "" {
		return nil, gcperr.Validation(serviceName, "nothing to update")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "updating service account", "email", email)

	var mask []string
	patch := &iamapi.ServiceAccount{}
	if displayName != "" {
		patch.DisplayName = displayName
		mask = append(mask, "display_name")
	}
	if description != "" {
		patch.Description = description
		mask = append(mask, "description")
	}

	sa, err := c.iamService.Projects.ServiceAccounts.Patch(c.accountPath(email), &iamapi.PatchServiceAccountRequest{
		ServiceAccount: patch,
		UpdateMask:     strings.Join(mask, ","),
	}).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "update service account", err).WithDetail("email", email)
	}
	return toServiceAccount(sa), nil
}

// DeleteServiceAccount removes a service account. Grants referencing it
// become inert but are not cleaned up.
func (c *Client) DeleteServiceAccount(ctx context.Context, email string) error {
	if email == "" {
		return gcperr.Validation(serviceName, "service account email is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting service account", "email", email)

	if _, err := c.iamService.Projects.ServiceAccounts.Delete(c.accountPath(email)).Context(ctx).Do(); err != nil {
		return gcperr.Classify(serviceName, "delete service account", err).WithDetail("email", email)
	}
	return nil
}

// Keys

// CreateServiceAccountKey mints a new RSA-2048 key in Google
// credentials file format. The returned PrivateKeyData is the only copy
// of the private key material.
func (c *Client) CreateServiceAccountKey(ctx context.Context, email string) (*ServiceAccountKey, error) {
	if email == "" {
		return nil, gcperr.Validation(serviceName, "service account email is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating service account key", "email", email)

	key, err := c.iamService.Projects.ServiceAccounts.Keys.Create(c.accountPath(email), &iamapi.CreateServiceAccountKeyRequest{
		PrivateKeyType: keyTypeCredentials,
		KeyAlgorithm:   keyAlgorithmRSA2048,
	}).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create service account key", err).WithDetail("email", email)
	}
	return toServiceAccountKey(key), nil
}

// ListServiceAccountKeys lists a service account's keys without private
// key material.
func (c *Client) ListServiceAccountKeys(ctx context.Context, email string) ([]ServiceAccountKey, error) {
	if email == "" {
		return nil, gcperr.Validation(serviceName, "service account email is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing service account keys", "email", email)

	resp, err := c.iamService.Projects.ServiceAccounts.Keys.List(c.accountPath(email)).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list service account keys", err).WithDetail("email", email)
	}
	keys := make([]ServiceAccountKey, 0, len(resp.Keys))
	for _, key := range resp.Keys {
		keys = append(keys, *toServiceAccountKey(key))
	}
	return keys, nil
}

// DeleteServiceAccountKey deletes a key by its full resource name, as
// returned in ServiceAccountKey.Name.
func (c *Client) DeleteServiceAccountKey(ctx context.Context, keyName string) error {
	if keyName == "" {
		return gcperr.Validation(serviceName, "key name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting service account key", "key", keyName)

	if _, err := c.iamService.Projects.ServiceAccounts.Keys.Delete(keyName).Context(ctx).Do(); err != nil {
		return gcperr.Classify(serviceName, "delete service account key", err).WithDetail("key", keyName)
	}
	return nil
}

// GetServiceAccountInfo bundles a service account with counts of its
// user-managed and system-managed keys.
func (c *Client) GetServiceAccountInfo(ctx context.Context, email string) (*ServiceAccountInfo, error) {
	account, err := c.GetServiceAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	keys, err := c.ListServiceAccountKeys(ctx, email)
	if err != nil {
		return nil, err
	}

	info := &ServiceAccountInfo{
		Account:  *account,
		KeyCount: len(keys),
	}
	for _, key := range keys {
		switch key.Type {
		case "USER_MANAGED":
			info.UserManagedKeyCount++
		case "SYSTEM_MANAGED":
			info.SystemManagedKeyCount++
		}
	}
	return info, nil
}

// Helpers

// errStopPaging is a sentinel to stop Pages early once max results are
// collected.
var errStopPaging = errors.New("stop paging")

func (c *Client) accountPath(email string) string {
	return fmt.Sprintf("projects/%s/serviceAccounts/%s", c.settings.ProjectID, email)
}

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

func toServiceAccount(sa *iamapi.ServiceAccount) *ServiceAccount {
	return &ServiceAccount{
		Name:           sa.Name,
		ProjectID:      sa.ProjectId,
		UniqueID:       sa.UniqueId,
		Email:          sa.Email,
		DisplayName:    sa.DisplayName,
		Description:    sa.Description,
		OAuth2ClientID: sa.Oauth2ClientId,
		Disabled:       sa.Disabled,
	}
}

func toServiceAccountKey(key *iamapi.ServiceAccountKey) *ServiceAccountKey {
	return &ServiceAccountKey{
		Name:            key.Name,
		Algorithm:       key.KeyAlgorithm,
		PrivateKeyType:  key.PrivateKeyType,
		PrivateKeyData:  key.PrivateKeyData,
		PublicKeyData:   key.PublicKeyData,
		ValidAfterTime:  parseTime(key.ValidAfterTime),
		ValidBeforeTime: parseTime(key.ValidBeforeTime),
		Origin:          key.KeyOrigin,
		Type:            key.KeyType,
	}
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
