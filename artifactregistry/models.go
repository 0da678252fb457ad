package artifactregistry

import "time"

// Repository formats accepted by CreateRepository.
const (
	FormatDocker = "DOCKER"
	FormatMaven  = "MAVEN"
	FormatNPM    = "NPM"
	FormatPython = "PYTHON"
	FormatApt    = "APT"
	FormatYum    = "YUM"
	FormatGo     = "GO"
)

// RepositorySpec describes a repository to create. Format defaults to
// DOCKER.
type RepositorySpec struct {
	Format      string            `json:"format,omitempty"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// RepositoryInfo describes an existing repository.
type RepositoryInfo struct {
	Name        string            `json:"name"`
	FullName    string            `json:"full_name"`
	Format      string            `json:"format"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	SizeBytes   int64             `json:"size_bytes,omitempty"`
	CreateTime  time.Time         `json:"create_time,omitempty"`
	UpdateTime  time.Time         `json:"update_time,omitempty"`
}

// DockerImageInfo describes one image version in a Docker repository.
type DockerImageInfo struct {
	Name       string    `json:"name"`
	URI        string    `json:"uri"`
	Tags       []string  `json:"tags,omitempty"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	MediaType  string    `json:"media_type,omitempty"`
	UploadTime time.Time `json:"upload_time,omitempty"`
}
