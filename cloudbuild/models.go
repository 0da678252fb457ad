package cloudbuild

import "time"

// Build statuses reported by the service. A build is terminal in any
// status except queued, pending, and working.
const (
	StatusQueued        = "QUEUED"
	StatusPending       = "PENDING"
	StatusWorking       = "WORKING"
	StatusSuccess       = "SUCCESS"
	StatusFailure       = "FAILURE"
	StatusInternalError = "INTERNAL_ERROR"
	StatusTimeout       = "TIMEOUT"
	StatusCancelled     = "CANCELLED"
	StatusExpired       = "EXPIRED"
)

// BuildStep is one container execution inside a build.
type BuildStep struct {
	Name       string   `json:"name" yaml:"name"`
	Args       []string `json:"args,omitempty" yaml:"args"`
	Env        []string `json:"env,omitempty" yaml:"env"`
	Dir        string   `json:"dir,omitempty" yaml:"dir"`
	ID         string   `json:"id,omitempty" yaml:"id"`
	Entrypoint string   `json:"entrypoint,omitempty" yaml:"entrypoint"`
	WaitFor    []string `json:"wait_for,omitempty" yaml:"waitFor"`
}

// BuildRequest describes a build to submit. SourceBucket/SourceObject
// optionally point at a zipped source archive in Cloud Storage.
type BuildRequest struct {
	Steps         []BuildStep       `json:"steps"`
	Images        []string          `json:"images,omitempty"`
	Timeout       string            `json:"timeout,omitempty"`
	Substitutions map[string]string `json:"substitutions,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	LogsBucket    string            `json:"logs_bucket,omitempty"`
	SourceBucket  string            `json:"source_bucket,omitempty"`
	SourceObject  string            `json:"source_object,omitempty"`
}

// BuildInfo describes a submitted build.
type BuildInfo struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Status     string    `json:"status"`
	LogURL     string    `json:"log_url,omitempty"`
	Images     []string  `json:"images,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreateTime time.Time `json:"create_time,omitempty"`
	StartTime  time.Time `json:"start_time,omitempty"`
	FinishTime time.Time `json:"finish_time,omitempty"`
}

// Terminal reports whether the build has finished, successfully or not.
func (b *BuildInfo) Terminal() bool {
	switch b.Status {
	case StatusSuccess, StatusFailure, StatusInternalError, StatusTimeout, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// TriggerSpec describes a build trigger to create. Set either the
// Cloud Source Repositories fields (RepoName + branch/tag) or the
// GitHub fields. Filename points at the cloudbuild.yaml inside the
// repository.
type TriggerSpec struct {
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	RepoName      string            `json:"repo_name,omitempty"`
	BranchName    string            `json:"branch_name,omitempty"`
	TagName       string            `json:"tag_name,omitempty"`
	GitHubOwner   string            `json:"github_owner,omitempty"`
	GitHubRepo    string            `json:"github_repo,omitempty"`
	GitHubBranch  string            `json:"github_branch,omitempty"`
	Filename      string            `json:"filename,omitempty"`
	Substitutions map[string]string `json:"substitutions,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Disabled      bool              `json:"disabled,omitempty"`
}

// TriggerInfo describes an existing build trigger.
type TriggerInfo struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Filename      string            `json:"filename,omitempty"`
	Disabled      bool              `json:"disabled,omitempty"`
	Substitutions map[string]string `json:"substitutions,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	CreateTime    time.Time         `json:"create_time,omitempty"`
}

// TriggerUpdate carries the mutable trigger fields. Nil pointers leave
// the current value untouched.
type TriggerUpdate struct {
	Name          *string           `json:"name,omitempty"`
	Description   *string           `json:"description,omitempty"`
	Disabled      *bool             `json:"disabled,omitempty"`
	Substitutions map[string]string `json:"substitutions,omitempty"`
}
