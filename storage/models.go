package storage

import "time"

// BucketInfo describes a Cloud Storage bucket.
type BucketInfo struct {
	Name              string            `json:"name"`
	Location          string            `json:"location"`
	StorageClass      string            `json:"storage_class"`
	Created           time.Time         `json:"created"`
	VersioningEnabled bool              `json:"versioning_enabled"`
	Labels            map[string]string `json:"labels,omitempty"`
}

// ObjectInfo describes a single object (blob) in a bucket.
type ObjectInfo struct {
	Name           string            `json:"name"`
	Bucket         string            `json:"bucket"`
	Size           int64             `json:"size"`
	ContentType    string            `json:"content_type,omitempty"`
	MD5Hash        string            `json:"md5_hash,omitempty"`
	Created        time.Time         `json:"created"`
	Updated        time.Time         `json:"updated"`
	Generation     int64             `json:"generation"`
	Metageneration int64             `json:"metageneration"`
	PublicURL      string            `json:"public_url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// UploadResult reports a completed upload.
type UploadResult struct {
	ObjectName string `json:"object_name"`
	Bucket     string `json:"bucket"`
	Size       int64  `json:"size"`
	PublicURL  string `json:"public_url,omitempty"`
	MD5Hash    string `json:"md5_hash,omitempty"`
	Generation int64  `json:"generation"`
}
