package secretmanager

import "time"

// SecretInfo describes a secret container without exposing any payload.
type SecretInfo struct {
	Name       string            `json:"name"`
	FullName   string            `json:"full_name"`
	Labels     map[string]string `json:"labels,omitempty"`
	CreateTime time.Time         `json:"create_time,omitempty"`
}

// SecretVersionInfo describes one version of a secret. State is one of
// ENABLED, DISABLED, or DESTROYED as reported by the service.
type SecretVersionInfo struct {
	Version     string    `json:"version"`
	FullName    string    `json:"full_name"`
	State       string    `json:"state"`
	CreateTime  time.Time `json:"create_time,omitempty"`
	DestroyTime time.Time `json:"destroy_time,omitempty"`
}
