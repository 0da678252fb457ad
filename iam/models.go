package iam

import "time"

// ServiceAccount describes one service account identity.
type ServiceAccount struct {
	Name           string `json:"name"`
	ProjectID      string `json:"project_id"`
	UniqueID       string `json:"unique_id,omitempty"`
	Email          string `json:"email"`
	DisplayName    string `json:"display_name,omitempty"`
	Description    string `json:"description,omitempty"`
	OAuth2ClientID string `json:"oauth2_client_id,omitempty"`
	Disabled       bool   `json:"disabled,omitempty"`
}

// ServiceAccountKey describes one key of a service account.
// PrivateKeyData is only populated on creation and never returned by
// list or get calls.
type ServiceAccountKey struct {
	Name            string    `json:"name"`
	Algorithm       string    `json:"algorithm,omitempty"`
	PrivateKeyType  string    `json:"private_key_type,omitempty"`
	PrivateKeyData  string    `json:"private_key_data,omitempty"`
	PublicKeyData   string    `json:"public_key_data,omitempty"`
	ValidAfterTime  time.Time `json:"valid_after_time,omitempty"`
	ValidBeforeTime time.Time `json:"valid_before_time,omitempty"`
	Origin          string    `json:"origin,omitempty"`
	Type            string    `json:"type,omitempty"`
}

// IAMBinding grants one role to a set of members.
type IAMBinding struct {
	Role    string   `json:"role"`
	Members []string `json:"members"`
}

// IAMPolicy is a resource's access control policy. Etag must be carried
// back unchanged on writes so concurrent edits are detected.
type IAMPolicy struct {
	Version  int64        `json:"version,omitempty"`
	Bindings []IAMBinding `json:"bindings,omitempty"`
	Etag     string       `json:"etag,omitempty"`
}

// ServiceAccountInfo bundles an account with its key statistics.
type ServiceAccountInfo struct {
	Account               ServiceAccount `json:"account"`
	KeyCount              int            `json:"key_count"`
	UserManagedKeyCount   int            `json:"user_managed_key_count"`
	SystemManagedKeyCount int            `json:"system_managed_key_count"`
}

// ProjectInfo describes the configured project.
type ProjectInfo struct {
	ProjectID   string            `json:"project_id"`
	Name        string            `json:"name"`
	Number      int64             `json:"number,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	State       string            `json:"state,omitempty"`
	Parent      string            `json:"parent,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	CreateTime  time.Time         `json:"create_time,omitempty"`
}
