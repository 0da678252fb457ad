// Package hosting is a typed client for the Firebase Hosting REST API
// (v1beta1): site and custom-domain management, version and release
// handling, and the multi-step deployment pipeline that drives a local
// directory to a live site.
package hosting

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"

	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

const serviceName = "firebasehosting"

const (
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
	firebaseScope      = "https://www.googleapis.com/auth/firebase"
)

// Client wraps the Firebase Hosting v1beta1 REST API.
type Client struct {
	settings *config.Settings
	logger   *slog.Logger
	rest     *restClient
}

// NewClient builds a Hosting client authenticated with the settings'
// credentials (or application default credentials).
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(),
		option.WithScopes(cloudPlatformScope, firebaseScope))
	allOpts = append(allOpts, opts...)

	hc, _, err := htransport.NewClient(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create authenticated client", err)
	}

	return &Client{
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
		rest:     &restClient{base: defaultBaseURL, hc: hc},
	}, nil
}

// Sites

// CreateSite creates a Hosting site. appID optionally associates the
// site with a Firebase web app.
func (c *Client) CreateSite(ctx context.Context, siteID, appID string) (*Site, error) {
	if siteID == "" {
		return nil, gcperr.Validation(serviceName, "site id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating site", "site_id", siteID)

	var payload any
	if appID != "" {
		payload = map[string]string{"appId": appID}
	}
	query := url.Values{"siteId": {siteID}}

	var resp wireSite
	if err := c.rest.do(ctx, http.MethodPost, c.sitesPath(), query, payload, &resp); err != nil {
		return nil, gcperr.Classify(serviceName, "create site", err).WithDetail("site_id", siteID)
	}
	return toSite(resp), nil
}

// GetSite fetches a site by its short identifier.
func (c *Client) GetSite(ctx context.Context, siteID string) (*Site, error) {
	siteID, err := c.resolveSite(siteID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting site", "site_id", siteID)

	var resp wireSite
	if err := c.rest.do(ctx, http.MethodGet, c.sitePath(siteID), nil, nil, &resp); err != nil {
		return nil, gcperr.Classify(serviceName, "get site", err).WithDetail("site_id", siteID)
	}
	return toSite(resp), nil
}

// ListSites returns every site in the project.
func (c *Client) ListSites(ctx context.Context) ([]Site, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing sites")

	var sites []Site
	pageToken := ""
	for {
		query := url.Values{}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var resp wireSiteList
		if err := c.rest.do(ctx, http.MethodGet, c.sitesPath(), query, nil, &resp); err != nil {
			return nil, gcperr.Classify(serviceName, "list sites", err)
		}
		for _, s := range resp.Sites {
			sites = append(sites, *toSite(s))
		}
		if resp.NextPageToken == "" {
			return sites, nil
		}
		pageToken = resp.NextPageToken
	}
}

// DeleteSite removes a site and everything served from it.
func (c *Client) DeleteSite(ctx context.Context, siteID string) error {
	if siteID == "" {
		return gcperr.Validation(serviceName, "site id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting site", "site_id", siteID)

	if err := c.rest.do(ctx, http.MethodDelete, c.sitePath(siteID), nil, nil, nil); err != nil {
		return gcperr.Classify(serviceName, "delete site", err).WithDetail("site_id", siteID)
	}
	return nil
}

// Custom domains

// AddCustomDomain attaches a custom domain to a site. The domain starts
// in a pending state until DNS and certificate provisioning complete.
func (c *Client) AddCustomDomain(ctx context.Context, siteID, domainName string) (*Domain, error) {
	siteID, err := c.resolveSite(siteID)
	if err != nil {
		return nil, err
	}
	if domainName == "" {
		return nil, gcperr.Validation(serviceName, "domain name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "adding custom domain", "site_id", siteID, "domain", domainName)

	payload := map[string]string{"domainName": domainName}
	var resp wireDomain
	if err := c.rest.do(ctx, http.MethodPost, c.domainsPath(siteID), nil, payload, &resp); err != nil {
		return nil, gcperr.Classify(serviceName, "add custom domain", err).
			WithDetail("site_id", siteID).WithDetail("domain", domainName)
	}
	return toDomain(resp), nil
}

// GetDomain fetches one custom domain.
func (c *Client) GetDomain(ctx context.Context, siteID, domainName string) (*Domain, error) {
	siteID, err := c.resolveSite(siteID)
	if err != nil {
		return nil, err
	}
	if domainName == "" {
		return nil, gcperr.Validation(serviceName, "domain name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting domain", "site_id", siteID, "domain", domainName)

	var resp wireDomain
	path := c.domainsPath(siteID) + "/" + domainName
	if err := c.rest.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, gcperr.Classify(serviceName, "get domain", err).
			WithDetail("site_id", siteID).WithDetail("domain", domainName)
	}
	return toDomain(resp), nil
}

// ListDomains returns the custom domains attached to a site.
func (c *Client) ListDomains(ctx context.Context, siteID string) ([]Domain, error) {
	siteID, err := c.resolveSite(siteID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing domains", "site_id", siteID)

	var domains []Domain
	pageToken := ""
	for {
		query := url.Values{}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var resp wireDomainList
		if err := c.rest.do(ctx, http.MethodGet, c.domainsPath(siteID), query, nil, &resp); err != nil {
			return nil, gcperr.Classify(serviceName, "list domains", err).WithDetail("site_id", siteID)
		}
		for _, d := range resp.Domains {
			domains = append(domains, *toDomain(d))
		}
		if resp.NextPageToken == "" {
			return domains, nil
		}
		pageToken = resp.NextPageToken
	}
}

// DeleteDomain detaches a custom domain from a site.
func (c *Client) DeleteDomain(ctx context.Context, siteID, domainName string) error {
	siteID, err := c.resolveSite(siteID)
	if err != nil {
		return err
	}
	if domainName == "" {
		return gcperr.Validation(serviceName, "domain name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting domain", "site_id", siteID, "domain", domainName)

	path := c.domainsPath(siteID) + "/" + domainName
	if err := c.rest.do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return gcperr.Classify(serviceName, "delete domain", err).
			WithDetail("site_id", siteID).WithDetail("domain", domainName)
	}
	return nil
}

// Versions

// CreateVersion opens a new deployment version on the site, optionally
// carrying serving config (redirects, rewrites, headers).
func (c *Client) CreateVersion(ctx context.Context, siteID string, cfg *SiteConfig) (*Version, error) {
	siteID, err := c.resolveSite(siteID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating version", "site_id", siteID)

	var payload any
	if cfg != nil {
		payload = map[string]*SiteConfig{"config": cfg}
	} else {
		payload = map[string]any{}
	}

	var resp wireVersion
	path := c.sitePath(siteID) + "/versions"
	if err := c.rest.do(ctx, http.MethodPost, path, nil, payload, &resp); err != nil {
		return nil, gcperr.Classify(serviceName, "create version", err).WithDetail("site_id", siteID)
	}
	return toVersion(resp), nil
}

// GetVersion fetches a version by its full resource name
// ("projects/P/sites/S/versions/V"). A name without the project prefix
// is resolved against the configured project.
func (c *Client) GetVersion(ctx context.Context, versionName string) (*Version, error) {
	if versionName == "" {
		return nil, gcperr.Validation(serviceName, "version name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting version", "version", versionName)

	var resp wireVersion
	if err := c.rest.do(ctx, http.MethodGet, c.qualifyName(versionName), nil, nil, &resp); err != nil {
		return nil, gcperr.Classify(serviceName, "get version", err).WithDetail("version", versionName)
	}
	return toVersion(resp), nil
}

// PopulateFiles submits the path -> SHA-256 manifest for a version in a
// single call. The server answers with the subset of hashes it does not
// already have and the upload endpoint for this version.
func (c *Client) PopulateFiles(ctx context.Context, versionName string, manifest map[string]string) (*PopulateResponse, error) {
	if versionName == "" {
		return nil, gcperr.Validation(serviceName, "version name is required")
	}
	if len(manifest) == 0 {
		return nil, gcperr.Validation(serviceName, "file manifest is empty")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "populating files", "version", versionName, "file_count", len(manifest))

	var resp wirePopulateResponse
	path := c.qualifyName(versionName) + ":populateFiles"
	if err := c.rest.do(ctx, http.MethodPost, path, nil, wirePopulateRequest{Files: manifest}, &resp); err != nil {
		return nil, gcperr.Classify(serviceName, "populate files", err).WithDetail("version", versionName)
	}
	return &PopulateResponse{
		UploadRequiredHashes: resp.UploadRequiredHashes,
		UploadURL:            resp.UploadURL,
	}, nil
}

// UploadFile PUTs one file body to {uploadURL}/{hash} with
// Content-Type application/octet-stream.
func (c *Client) UploadFile(ctx context.Context, uploadURL, hash, localPath string) error {
	if uploadURL == "" || hash == "" {
		return gcperr.Validation(serviceName, "upload url and hash are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "uploading file", "hash", hash, "path", localPath)

	if err := c.rest.upload(ctx, uploadURL, hash, localPath); err != nil {
		return gcperr.Classify(serviceName, "upload file", err).WithDetail("hash", hash)
	}
	return nil
}

// UploadFiles hashes the given (deploy path -> local path) mapping,
// populates the version with the manifest, and uploads exactly the
// bodies the server reports missing. It is the populate-and-upload
// phase of Deploy, usable on its own.
func (c *Client) UploadFiles(ctx context.Context, versionName string, files map[string]string) (*PopulateResult, error) {
	if err := validateFiles(files); err != nil {
		return nil, err
	}

	manifest, reverse, err := HashFiles(files)
	if err != nil {
		return nil, gcperr.New(serviceName, "failed to hash files", err)
	}

	resp, err := c.PopulateFiles(ctx, versionName, manifest)
	if err != nil {
		return nil, err
	}

	uploaded, err := uploadRequired(ctx, c, c.logger, resp, reverse, 0)
	if err != nil {
		return nil, err
	}

	return &PopulateResult{
		TotalFileCount:    len(files),
		UploadedFileCount: uploaded,
		CachedFileCount:   len(files) - uploaded,
		UploadURL:         resp.UploadURL,
	}, nil
}

// FinalizeVersion marks the version immutable. Finalization is required
// before the version can be released.
func (c *Client) FinalizeVersion(ctx context.Context, versionName string) (*Version, error) {
	if versionName == "" {
		return nil, gcperr.Validation(serviceName, "version name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "finalizing version", "version", versionName)

	query := url.Values{"updateMask": {"status"}}
	payload := map[string]string{"status": VersionStatusFinalized}

	var resp wireVersion
	if err := c.rest.do(ctx, http.MethodPatch, c.qualifyName(versionName), query, payload, &resp); err != nil {
		return nil, gcperr.Classify(serviceName, "finalize version", err).WithDetail("version", versionName)
	}
	return toVersion(resp), nil
}

// Releases

// CreateRelease atomically points the site's live serving path at the
// finalized version.
func (c *Client) CreateRelease(ctx context.Context, siteID, versionName, message string) (*Release, error) {
	siteID, err := c.resolveSite(siteID)
	if err != nil {
		return nil, err
	}
	if versionName == "" {
		return nil, gcperr.Validation(serviceName, "version name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating release", "site_id", siteID, "version", versionName)

	query := url.Values{"versionName": {versionName}}
	var payload any
	if message != "" {
		payload = map[string]string{"message": message}
	}

	var resp wireRelease
	path := c.sitePath(siteID) + "/releases"
	if err := c.rest.do(ctx, http.MethodPost, path, query, payload, &resp); err != nil {
		return nil, gcperr.Classify(serviceName, "create release", err).
			WithDetail("site_id", siteID).WithDetail("version", versionName)
	}
	return toRelease(resp), nil
}

// ListReleases returns up to limit releases for a site, newest first.
// limit <= 0 returns everything.
func (c *Client) ListReleases(ctx context.Context, siteID string, limit int) ([]Release, error) {
	siteID, err := c.resolveSite(siteID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing releases", "site_id", siteID)

	var releases []Release
	pageToken := ""
	for {
		query := url.Values{"pageSize": {"100"}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var resp wireReleaseList
		path := c.sitePath(siteID) + "/releases"
		if err := c.rest.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
			return nil, gcperr.Classify(serviceName, "list releases", err).WithDetail("site_id", siteID)
		}
		for _, r := range resp.Releases {
			releases = append(releases, *toRelease(r))
			if limit > 0 && len(releases) >= limit {
				return releases[:limit], nil
			}
		}
		if resp.NextPageToken == "" {
			return releases, nil
		}
		pageToken = resp.NextPageToken
	}
}

// Helpers

func (c *Client) sitesPath() string {
	return fmt.Sprintf("projects/%s/sites", c.settings.ProjectID)
}

func (c *Client) sitePath(siteID string) string {
	return fmt.Sprintf("projects/%s/sites/%s", c.settings.ProjectID, siteID)
}

func (c *Client) domainsPath(siteID string) string {
	return c.sitePath(siteID) + "/domains"
}

// qualifyName prefixes a bare "sites/..." resource name with the
// configured project.
func (c *Client) qualifyName(name string) string {
	if strings.HasPrefix(name, "projects/") {
		return name
	}
	return fmt.Sprintf("projects/%s/%s", c.settings.ProjectID, strings.TrimPrefix(name, "/"))
}

func (c *Client) resolveSite(siteID string) (string, error) {
	if siteID != "" {
		return siteID, nil
	}
	if c.settings.FirebaseHostingDefaultSite != "" {
		return c.settings.FirebaseHostingDefaultSite, nil
	}
	return "", gcperr.Validation(serviceName, "site id is required")
}

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

// Wire conversions

func toSite(w wireSite) *Site {
	return &Site{
		Name:       w.Name,
		SiteID:     shortID(w.Name),
		DefaultURL: w.DefaultURL,
		AppID:      w.AppID,
		Type:       w.Type,
	}
}

func toDomain(w wireDomain) *Domain {
	return &Domain{
		DomainName:   w.DomainName,
		Status:       w.Status,
		UpdateTime:   parseTime(w.UpdateTime),
		Provisioning: w.Provisioning,
		Cert:         w.Cert,
	}
}

func toVersion(w wireVersion) *Version {
	return &Version{
		Name:         w.Name,
		VersionID:    shortID(w.Name),
		Status:       w.Status,
		Config:       w.Config,
		CreateTime:   parseTime(w.CreateTime),
		FinalizeTime: parseTime(w.FinalizeTime),
		FileCount:    parseInt64(w.FileCount),
		VersionBytes: parseInt64(w.VersionBytes),
	}
}

func toRelease(w wireRelease) *Release {
	r := &Release{
		Name:        w.Name,
		Type:        w.Type,
		Message:     w.Message,
		ReleaseTime: parseTime(w.ReleaseTime),
		ReleaseUser: w.ReleaseUser,
	}
	if w.Version != nil {
		r.VersionName = w.Version.Name
	}
	return r
}

func shortID(name string) string {
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

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
