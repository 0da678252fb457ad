package hosting

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *Client {
	settings := config.New("test-project")
	return &Client{
		settings: settings,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		rest:     &restClient{base: srv.URL, hc: srv.Client()},
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func googleErrorBody(code int, message string) map[string]any {
	return map[string]any{
		"error": map[string]any{"code": code, "message": message},
	}
}

func TestGetSite(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/projects/test-project/sites/my-site", r.URL.Path)
		writeJSON(t, w, map[string]any{
			"name":       "projects/test-project/sites/my-site",
			"defaultUrl": "https://my-site.web.app",
			"appId":      "1:1234:web:abcd",
			"type":       "DEFAULT_SITE",
		})
	}))
	defer srv.Close()

	site, err := newTestClient(srv).GetSite(ctx, "my-site")
	require.NoError(t, err)
	assert.Equal(t, "my-site", site.SiteID)
	assert.Equal(t, "https://my-site.web.app", site.DefaultURL)
	assert.Equal(t, "1:1234:web:abcd", site.AppID)
	assert.Equal(t, "DEFAULT_SITE", site.Type)
}

func TestGetSiteNotFound(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(googleErrorBody(404, "Requested entity was not found."))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetSite(ctx, "missing-site")
	require.Error(t, err)
	assert.True(t, gcperr.IsNotFound(err))
	assert.Equal(t, serviceName, gcperr.ServiceOf(err))
	assert.Contains(t, err.Error(), "get site")
}

func TestCreateSite(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/projects/test-project/sites", r.URL.Path)
		assert.Equal(t, "new-site", r.URL.Query().Get("siteId"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "1:1234:web:abcd", body["appId"])

		writeJSON(t, w, map[string]any{
			"name":       "projects/test-project/sites/new-site",
			"defaultUrl": "https://new-site.web.app",
		})
	}))
	defer srv.Close()

	site, err := newTestClient(srv).CreateSite(ctx, "new-site", "1:1234:web:abcd")
	require.NoError(t, err)
	assert.Equal(t, "new-site", site.SiteID)
}

func TestCreateSiteRequiresID(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	_, err := newTestClient(srv).CreateSite(context.Background(), "", "")
	require.Error(t, err)
	assert.True(t, gcperr.IsValidation(err))
	assert.Zero(t, requests)
}

func TestListSitesPaginates(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(t, w, map[string]any{
				"sites":         []map[string]any{{"name": "projects/test-project/sites/site-a"}},
				"nextPageToken": "page-2",
			})
		case "page-2":
			writeJSON(t, w, map[string]any{
				"sites": []map[string]any{{"name": "projects/test-project/sites/site-b"}},
			})
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("pageToken"))
		}
	}))
	defer srv.Close()

	sites, err := newTestClient(srv).ListSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "site-a", sites[0].SiteID)
	assert.Equal(t, "site-b", sites[1].SiteID)
}

func TestDeleteSite(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/projects/test-project/sites/old-site", r.URL.Path)
		writeJSON(t, w, map[string]any{})
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv).DeleteSite(ctx, "old-site"))
}

func TestAddCustomDomain(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/projects/test-project/sites/my-site/domains", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "www.example.com", body["domainName"])

		writeJSON(t, w, map[string]any{
			"domainName": "www.example.com",
			"status":     "DOMAIN_CHANGE_PENDING",
			"updateTime": "2026-01-15T10:30:00Z",
		})
	}))
	defer srv.Close()

	domain, err := newTestClient(srv).AddCustomDomain(ctx, "my-site", "www.example.com")
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", domain.DomainName)
	assert.Equal(t, "DOMAIN_CHANGE_PENDING", domain.Status)
	assert.Equal(t, 2026, domain.UpdateTime.Year())
}

func TestCreateVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("without config sends empty body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/projects/test-project/sites/my-site/versions", r.URL.Path)

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Empty(t, body)

			writeJSON(t, w, map[string]any{
				"name":   "projects/test-project/sites/my-site/versions/v1",
				"status": "CREATED",
			})
		}))
		defer srv.Close()

		version, err := newTestClient(srv).CreateVersion(ctx, "my-site", nil)
		require.NoError(t, err)
		assert.Equal(t, "v1", version.VersionID)
		assert.Equal(t, VersionStatusCreated, version.Status)
	})

	t.Run("with config sends serving rules", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Config *SiteConfig `json:"config"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.NotNil(t, body.Config)
			require.Len(t, body.Config.Rewrites, 1)
			assert.Equal(t, "**", body.Config.Rewrites[0].Glob)

			writeJSON(t, w, map[string]any{
				"name":   "projects/test-project/sites/my-site/versions/v2",
				"status": "CREATED",
			})
		}))
		defer srv.Close()

		cfg := &SiteConfig{Rewrites: []Rewrite{{Glob: "**", Path: "/index.html"}}}
		version, err := newTestClient(srv).CreateVersion(ctx, "my-site", cfg)
		require.NoError(t, err)
		assert.Equal(t, "v2", version.VersionID)
	})
}

func TestGetVersionQualifiesName(t *testing.T) {
	ctx := context.Background()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeJSON(t, w, map[string]any{
			"name":         "projects/test-project/sites/my-site/versions/v1",
			"status":       "FINALIZED",
			"fileCount":    "12",
			"versionBytes": "3456",
		})
	}))
	defer srv.Close()

	client := newTestClient(srv)

	t.Run("bare name gains project prefix", func(t *testing.T) {
		version, err := client.GetVersion(ctx, "sites/my-site/versions/v1")
		require.NoError(t, err)
		assert.Equal(t, "/projects/test-project/sites/my-site/versions/v1", gotPath)
		assert.Equal(t, int64(12), version.FileCount)
		assert.Equal(t, int64(3456), version.VersionBytes)
	})

	t.Run("full name passes through", func(t *testing.T) {
		_, err := client.GetVersion(ctx, "projects/other-project/sites/s/versions/v9")
		require.NoError(t, err)
		assert.Equal(t, "/projects/other-project/sites/s/versions/v9", gotPath)
	})
}

func TestPopulateFiles(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/projects/test-project/sites/my-site/versions/v1:populateFiles", r.URL.Path)

		var body wirePopulateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "abc123", body.Files["/index.html"])

		writeJSON(t, w, map[string]any{
			"uploadRequiredHashes": []string{"abc123"},
			"uploadUrl":            "https://upload.example/v1/files",
		})
	}))
	defer srv.Close()

	resp, err := newTestClient(srv).PopulateFiles(ctx,
		"sites/my-site/versions/v1", map[string]string{"/index.html": "abc123"})
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123"}, resp.UploadRequiredHashes)
	assert.Equal(t, "https://upload.example/v1/files", resp.UploadURL)
}

func TestPopulateFilesEmptyManifest(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	_, err := newTestClient(srv).PopulateFiles(context.Background(), "sites/s/versions/v", nil)
	require.Error(t, err)
	assert.True(t, gcperr.IsValidation(err))
	assert.Zero(t, requests)
}

func TestFinalizeVersion(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/projects/test-project/sites/my-site/versions/v1", r.URL.Path)
		assert.Equal(t, "status", r.URL.Query().Get("updateMask"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "FINALIZED", body["status"])

		writeJSON(t, w, map[string]any{
			"name":         "projects/test-project/sites/my-site/versions/v1",
			"status":       "FINALIZED",
			"finalizeTime": "2026-01-15T10:30:00Z",
			"fileCount":    "3",
		})
	}))
	defer srv.Close()

	version, err := newTestClient(srv).FinalizeVersion(ctx, "sites/my-site/versions/v1")
	require.NoError(t, err)
	assert.Equal(t, VersionStatusFinalized, version.Status)
	assert.Equal(t, int64(3), version.FileCount)
	assert.False(t, version.FinalizeTime.IsZero())
}

func TestCreateRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("with message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/projects/test-project/sites/my-site/releases", r.URL.Path)
			assert.Equal(t, "sites/my-site/versions/v1", r.URL.Query().Get("versionName"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "ship it", body["message"])

			writeJSON(t, w, map[string]any{
				"name":        "projects/test-project/sites/my-site/releases/r1",
				"type":        "DEPLOY",
				"message":     "ship it",
				"releaseTime": "2026-01-15T10:30:00Z",
				"version":     map[string]any{"name": "projects/test-project/sites/my-site/versions/v1"},
			})
		}))
		defer srv.Close()

		release, err := newTestClient(srv).CreateRelease(ctx, "my-site", "sites/my-site/versions/v1", "ship it")
		require.NoError(t, err)
		assert.Equal(t, "projects/test-project/sites/my-site/versions/v1", release.VersionName)
		assert.Equal(t, "ship it", release.Message)
	})

	t.Run("without message sends no body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Empty(t, raw)

			writeJSON(t, w, map[string]any{
				"name": "projects/test-project/sites/my-site/releases/r2",
			})
		}))
		defer srv.Close()

		release, err := newTestClient(srv).CreateRelease(ctx, "my-site", "sites/my-site/versions/v1", "")
		require.NoError(t, err)
		assert.Equal(t, "projects/test-project/sites/my-site/releases/r2", release.Name)
	})
}

func TestListReleases(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(t, w, map[string]any{
				"releases": []map[string]any{
					{"name": "projects/test-project/sites/my-site/releases/r3"},
					{"name": "projects/test-project/sites/my-site/releases/r2"},
				},
				"nextPageToken": "next",
			})
		default:
			writeJSON(t, w, map[string]any{
				"releases": []map[string]any{
					{"name": "projects/test-project/sites/my-site/releases/r1"},
				},
			})
		}
	}))
	defer srv.Close()

	t.Run("all pages", func(t *testing.T) {
		releases, err := newTestClient(srv).ListReleases(ctx, "my-site", 0)
		require.NoError(t, err)
		assert.Len(t, releases, 3)
	})

	t.Run("limit stops early", func(t *testing.T) {
		releases, err := newTestClient(srv).ListReleases(ctx, "my-site", 2)
		require.NoError(t, err)
		require.Len(t, releases, 2)
		assert.Equal(t, "projects/test-project/sites/my-site/releases/r3", releases[0].Name)
	})
}

func TestUploadFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(path, []byte("<html></html>"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/upload/abc123", r.URL.Path)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "<html></html>", string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv).UploadFile(ctx, srv.URL+"/upload", "abc123", path)
	require.NoError(t, err)
}

func TestUploadFileServerError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(googleErrorBody(403, "upload forbidden"))
	}))
	defer srv.Close()

	err := newTestClient(srv).UploadFile(ctx, srv.URL+"/upload", "abc123", path)
	require.Error(t, err)
	assert.Equal(t, gcperr.KindPermissionDenied, gcperr.KindOf(err))
}

func TestResolveSiteDefault(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/test-project/sites/fallback-site", r.URL.Path)
		writeJSON(t, w, map[string]any{
			"name": "projects/test-project/sites/fallback-site",
		})
	}))
	defer srv.Close()

	client := newTestClient(srv)
	client.settings.FirebaseHostingDefaultSite = "fallback-site"

	site, err := client.GetSite(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "fallback-site", site.SiteID)
}

func TestResolveSiteMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetSite(context.Background(), "")
	require.Error(t, err)
	assert.True(t, gcperr.IsValidation(err))
}

func TestNewClientNilSettings(t *testing.T) {
	_, err := NewClient(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, gcperr.KindConfiguration, gcperr.KindOf(err))
}
