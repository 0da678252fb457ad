package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"google.golang.org/api/googleapi"
)

// defaultBaseURL is the Firebase Hosting REST endpoint.
const defaultBaseURL = "https://firebasehosting.googleapis.com/v1beta1"

// restClient is the thin JSON-over-HTTP layer under Client. Failures
// carry the HTTP status as a *googleapi.Error so classification can
// rely on structured codes instead of message text.
type restClient struct {
	base string
	hc   *http.Client
}

func (r *restClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := r.base + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return apiError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// upload PUTs the raw bytes of localPath to {uploadURL}/{hash}. The
// body is streamed from disk with an explicit Content-Length.
func (r *restClient) upload(ctx context.Context, uploadURL, hash, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL+"/"+hash, f)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = info.Size()

	resp, err := r.hc.Do(req)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, data)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// apiError converts a non-2xx response into a *googleapi.Error,
// extracting the message from the standard Google error envelope when
// present.
func apiError(statusCode int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	message := http.StatusText(statusCode)
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}
	return &googleapi.Error{Code: statusCode, Message: message, Body: string(body)}
}

// Wire shapes for the v1beta1 surface. Firebase serializes int64 fields
// as JSON strings.

type wireSite struct {
	Name       string `json:"name,omitempty"`
	DefaultURL string `json:"defaultUrl,omitempty"`
	AppID      string `json:"appId,omitempty"`
	Type       string `json:"type,omitempty"`
}

type wireSiteList struct {
	Sites         []wireSite `json:"sites"`
	NextPageToken string     `json:"nextPageToken"`
}

type wireDomain struct {
	DomainName   string         `json:"domainName,omitempty"`
	Status       string         `json:"status,omitempty"`
	UpdateTime   string         `json:"updateTime,omitempty"`
	Provisioning map[string]any `json:"provisioning,omitempty"`
	Cert         map[string]any `json:"cert,omitempty"`
}

type wireDomainList struct {
	Domains       []wireDomain `json:"domains"`
	NextPageToken string       `json:"nextPageToken"`
}

type wireVersion struct {
	Name         string      `json:"name,omitempty"`
	Status       string      `json:"status,omitempty"`
	Config       *SiteConfig `json:"config,omitempty"`
	CreateTime   string      `json:"createTime,omitempty"`
	FinalizeTime string      `json:"finalizeTime,omitempty"`
	FileCount    string      `json:"fileCount,omitempty"`
	VersionBytes string      `json:"versionBytes,omitempty"`
}

type wireRelease struct {
	Name        string            `json:"name,omitempty"`
	Version     *wireVersion      `json:"version,omitempty"`
	Type        string            `json:"type,omitempty"`
	Message     string            `json:"message,omitempty"`
	ReleaseTime string            `json:"releaseTime,omitempty"`
	ReleaseUser map[string]string `json:"releaseUser,omitempty"`
}

type wireReleaseList struct {
	Releases      []wireRelease `json:"releases"`
	NextPageToken string        `json:"nextPageToken"`
}

type wirePopulateRequest struct {
	Files map[string]string `json:"files"`
}

type wirePopulateResponse struct {
	UploadRequiredHashes []string `json:"uploadRequiredHashes"`
	UploadURL            string   `json:"uploadUrl"`
}
