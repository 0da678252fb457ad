package hosting

import "time"

// Version status values reported by the Hosting API. The transition is
// one-way: CREATED -> FINALIZED. DELETED is terminal and triggered
// server-side.
const (
	VersionStatusCreated   = "CREATED"
	VersionStatusFinalized = "FINALIZED"
	VersionStatusDeleted   = "DELETED"
)

// Site is a Firebase Hosting site.
type Site struct {
	// Name is the full resource name ("projects/P/sites/S").
	Name string
	// SiteID is the short identifier (last segment of Name).
	SiteID string
	// DefaultURL is the site's web.app URL.
	DefaultURL string
	// AppID is the associated Firebase app, if any.
	AppID string
	// Type distinguishes the default site from additional sites.
	Type string
}

// Domain is a custom domain attached to a site.
type Domain struct {
	DomainName   string
	Status       string
	UpdateTime   time.Time
	Provisioning map[string]any
	Cert         map[string]any
}

// Version is one immutable snapshot of site content and config. A
// version is a disposable projection of server state; it is rebuilt on
// every call and carries no consistency guarantee across calls.
type Version struct {
	// Name is the full resource name
	// ("projects/P/sites/S/versions/V").
	Name string
	// VersionID is the short identifier (last segment of Name).
	VersionID string
	// Status is one of the VersionStatus values.
	Status string
	// Config holds the serving rules captured at creation.
	Config       *SiteConfig
	CreateTime   time.Time
	FinalizeTime time.Time
	FileCount    int64
	VersionBytes int64
}

// Release binds a finalized version to the live site.
type Release struct {
	// Name is the full resource name.
	Name string
	// VersionName is the released version's full resource name.
	VersionName string
	// Type is the release type reported by the API (e.g. "DEPLOY").
	Type        string
	Message     string
	ReleaseTime time.Time
	ReleaseUser map[string]string
}

// SiteConfig carries the serving rules attached to a version.
type SiteConfig struct {
	Redirects             []Redirect `json:"redirects,omitempty"`
	Rewrites              []Rewrite  `json:"rewrites,omitempty"`
	Headers               []Header   `json:"headers,omitempty"`
	CleanURLs             bool       `json:"cleanUrls,omitempty"`
	TrailingSlashBehavior string     `json:"trailingSlashBehavior,omitempty"`
}

// Redirect maps a URL glob to a redirect response.
type Redirect struct {
	Glob       string `json:"glob"`
	StatusCode int    `json:"statusCode"`
	Location   string `json:"location"`
}

// Rewrite serves alternate content for a URL glob. Exactly one of
// Path, Function, or Run should be set.
type Rewrite struct {
	Glob     string      `json:"glob"`
	Path     string      `json:"path,omitempty"`
	Function string      `json:"function,omitempty"`
	Run      *RunRewrite `json:"run,omitempty"`
}

// RunRewrite proxies a rewrite to a Cloud Run service.
type RunRewrite struct {
	ServiceID string `json:"serviceId"`
	Region    string `json:"region,omitempty"`
}

// Header attaches response headers to a URL glob.
type Header struct {
	Glob    string            `json:"glob"`
	Headers map[string]string `json:"headers"`
}

// PopulateResponse is the server's answer to a file manifest: the
// subset of hashes it does not already have, and the upload endpoint
// scoped to the version. Consumed immediately by the upload phase and
// discarded.
type PopulateResponse struct {
	UploadRequiredHashes []string
	UploadURL            string
}

// PopulateResult summarizes one populate-and-upload round.
type PopulateResult struct {
	TotalFileCount    int
	UploadedFileCount int
	CachedFileCount   int
	UploadURL         string
}

// DeployResult is the aggregate outcome of the deployment pipeline.
type DeployResult struct {
	VersionName   string
	ReleaseName   string
	SiteURL       string
	TotalFiles    int
	UploadedFiles int
	CachedFiles   int
	VersionStatus string
}
