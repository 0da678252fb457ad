package iam

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	crm "google.golang.org/api/cloudresourcemanager/v3"
	iamapi "google.golang.org/api/iam/v1"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newIAMTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	svc, err := iamapi.NewService(context.Background(),
		option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return &Client{iamService: svc, settings: config.New("test-project"), logger: testLogger()}
}

func newCRMTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	svc, err := crm.NewService(context.Background(),
		option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return &Client{resourceManager: svc, settings: config.New("test-project"), logger: testLogger()}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestValidationBeforeAPICall(t *testing.T) {
	ctx := context.Background()
	client := &Client{settings: config.New("test-project")}

	t.Run("create account empty id", func(t *testing.T) {
		_, err := client.CreateServiceAccount(ctx, "", "", "")
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("get account empty email", func(t *testing.T) {
		_, err := client.GetServiceAccount(ctx, "")
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("update with nothing to change", func(t *testing.T) {
		_, err := client.UpdateServiceAccount(ctx, "sa@p.iam.gserviceaccount.com", "", "")
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("delete key empty name", func(t *testing.T) {
		err := client.DeleteServiceAccountKey(ctx, "")
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("add binding empty role", func(t *testing.T) {
		err := client.AddIAMBinding(ctx, "", "user:a@example.com")
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("sa binding empty member", func(t *testing.T) {
		err := client.AddServiceAccountBinding(ctx, "sa@p.iam.gserviceaccount.com", "roles/iam.serviceAccountUser", "")
		assert.True(t, gcperr.IsValidation(err))
	})
}

func TestCreateServiceAccount(t *testing.T) {
	var gotBody iamapi.CreateServiceAccountRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "projects/test-project/serviceAccounts"),
			"unexpected path %s", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(t, w, map[string]any{
			"name":        "projects/test-project/serviceAccounts/ci-deployer@test-project.iam.gserviceaccount.com",
			"projectId":   "test-project",
			"uniqueId":    "12345",
			"email":       "ci-deployer@test-project.iam.gserviceaccount.com",
			"displayName": "ci-deployer",
		})
	}))
	defer srv.Close()

	client := newIAMTestClient(t, srv)
	sa, err := client.CreateServiceAccount(context.Background(), "ci-deployer", "", "")
	require.NoError(t, err)

	assert.Equal(t, "ci-deployer", gotBody.AccountId)
	require.NotNil(t, gotBody.ServiceAccount)
	assert.Equal(t, "ci-deployer", gotBody.ServiceAccount.DisplayName, "display name defaults to the account id")

	assert.Equal(t, "ci-deployer@test-project.iam.gserviceaccount.com", sa.Email)
	assert.Equal(t, "12345", sa.UniqueID)
}

func TestListServiceAccountsStopsAtMax(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		writeJSON(t, w, map[string]any{
			"accounts": []map[string]any{
				{"email": "a@test-project.iam.gserviceaccount.com"},
				{"email": "b@test-project.iam.gserviceaccount.com"},
			},
			"nextPageToken": "more",
		})
	}))
	defer srv.Close()

	client := newIAMTestClient(t, srv)
	accounts, err := client.ListServiceAccounts(context.Background(), 2)
	require.NoError(t, err)

	assert.Len(t, accounts, 2)
	assert.Equal(t, 1, requests, "paging stops once max results are collected")
}

func TestUpdateServiceAccountMask(t *testing.T) {
	var gotPatch iamapi.PatchServiceAccountRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPatch))
		writeJSON(t, w, map[string]any{
			"email":       "sa@test-project.iam.gserviceaccount.com",
			"displayName": "Deploy Bot",
		})
	}))
	defer srv.Close()

	client := newIAMTestClient(t, srv)
	sa, err := client.UpdateServiceAccount(context.Background(),
		"sa@test-project.iam.gserviceaccount.com", "Deploy Bot", "")
	require.NoError(t, err)

	assert.Equal(t, "display_name", gotPatch.UpdateMask)
	assert.Equal(t, "Deploy Bot", gotPatch.ServiceAccount.DisplayName)
	assert.Equal(t, "Deploy Bot", sa.DisplayName)
}

func TestCreateServiceAccountKey(t *testing.T) {
	var gotBody iamapi.CreateServiceAccountKeyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(t, w, map[string]any{
			"name":           "projects/test-project/serviceAccounts/sa@test-project.iam.gserviceaccount.com/keys/k1",
			"privateKeyData": "eyJ0eXBlIjoi...",
			"keyAlgorithm":   "KEY_ALG_RSA_2048",
			"validAfterTime": "2026-08-20T10:00:00Z",
		})
	}))
	defer srv.Close()

	client := newIAMTestClient(t, srv)
	key, err := client.CreateServiceAccountKey(context.Background(), "sa@test-project.iam.gserviceaccount.com")
	require.NoError(t, err)

	assert.Equal(t, "TYPE_GOOGLE_CREDENTIALS_FILE", gotBody.PrivateKeyType)
	assert.Equal(t, "KEY_ALG_RSA_2048", gotBody.KeyAlgorithm)
	assert.Equal(t, "eyJ0eXBlIjoi...", key.PrivateKeyData)
	assert.Equal(t, 2026, key.ValidAfterTime.Year())
}

func TestAddIAMBinding(t *testing.T) {
	t.Run("appends new grant and carries etag", func(t *testing.T) {
		var setBody crm.SetIamPolicyRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.Contains(r.URL.Path, ":getIamPolicy"):
				writeJSON(t, w, map[string]any{
					"etag": "abc123",
					"bindings": []map[string]any{
						{"role": "roles/viewer", "members": []string{"user:a@example.com"}},
					},
				})
			case strings.Contains(r.URL.Path, ":setIamPolicy"):
				require.NoError(t, json.NewDecoder(r.Body).Decode(&setBody))
				writeJSON(t, w, map[string]any{"etag": "def456"})
			}
		}))
		defer srv.Close()

		client := newCRMTestClient(t, srv)
		err := client.AddIAMBinding(context.Background(), "roles/editor", "serviceAccount:sa@test-project.iam.gserviceaccount.com")
		require.NoError(t, err)

		require.NotNil(t, setBody.Policy)
		assert.Equal(t, "abc123", setBody.Policy.Etag)
		require.Len(t, setBody.Policy.Bindings, 2)
		assert.Equal(t, "roles/editor", setBody.Policy.Bindings[1].Role)
		assert.Equal(t, []string{"serviceAccount:sa@test-project.iam.gserviceaccount.com"}, setBody.Policy.Bindings[1].Members)
	})

	t.Run("existing grant is not duplicated", func(t *testing.T) {
		var setBody crm.SetIamPolicyRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.Contains(r.URL.Path, ":getIamPolicy"):
				writeJSON(t, w, map[string]any{
					"bindings": []map[string]any{
						{"role": "roles/editor", "members": []string{"user:a@example.com"}},
					},
				})
			case strings.Contains(r.URL.Path, ":setIamPolicy"):
				require.NoError(t, json.NewDecoder(r.Body).Decode(&setBody))
				writeJSON(t, w, map[string]any{})
			}
		}))
		defer srv.Close()

		client := newCRMTestClient(t, srv)
		err := client.AddIAMBinding(context.Background(), "roles/editor", "user:a@example.com")
		require.NoError(t, err)

		require.Len(t, setBody.Policy.Bindings, 1)
		assert.Equal(t, []string{"user:a@example.com"}, setBody.Policy.Bindings[0].Members)
	})
}

func TestRemoveIAMBinding(t *testing.T) {
	var setBody crm.SetIamPolicyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, ":getIamPolicy"):
			writeJSON(t, w, map[string]any{
				"bindings": []map[string]any{
					{"role": "roles/editor", "members": []string{"user:a@example.com", "user:b@example.com"}},
					{"role": "roles/viewer", "members": []string{"user:a@example.com"}},
				},
			})
		case strings.Contains(r.URL.Path, ":setIamPolicy"):
			require.NoError(t, json.NewDecoder(r.Body).Decode(&setBody))
			writeJSON(t, w, map[string]any{})
		}
	}))
	defer srv.Close()

	client := newCRMTestClient(t, srv)
	err := client.RemoveIAMBinding(context.Background(), "roles/viewer", "user:a@example.com")
	require.NoError(t, err)

	require.Len(t, setBody.Policy.Bindings, 1, "binding with no members left is dropped")
	assert.Equal(t, "roles/editor", setBody.Policy.Bindings[0].Role)
	assert.Len(t, setBody.Policy.Bindings[0].Members, 2)
}

func TestBindingHelpers(t *testing.T) {
	bindings := []*crm.Binding{
		{Role: "roles/editor", Members: []string{"user:a@example.com", "user:b@example.com"}},
	}

	assert.True(t, crmBindingExists(bindings, "roles/editor", "user:a@example.com"))
	assert.False(t, crmBindingExists(bindings, "roles/owner", "user:a@example.com"))

	trimmed := removeCRMBinding(bindings, "roles/editor", "user:a@example.com")
	require.Len(t, trimmed, 1)
	assert.Equal(t, []string{"user:b@example.com"}, trimmed[0].Members)
}

func TestPolicyConversionRoundTrip(t *testing.T) {
	wire := &crm.Policy{
		Version: 3,
		Etag:    "abc",
		Bindings: []*crm.Binding{
			{Role: "roles/editor", Members: []string{"user:a@example.com"}},
		},
	}

	local := toPolicy(wire)
	assert.Equal(t, int64(3), local.Version)
	assert.Equal(t, "abc", local.Etag)
	require.Len(t, local.Bindings, 1)

	back := fromPolicy(local)
	assert.Equal(t, wire.Version, back.Version)
	assert.Equal(t, wire.Etag, back.Etag)
	assert.Equal(t, wire.Bindings[0].Role, back.Bindings[0].Role)
}

func TestGetServiceAccountInfoCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/keys") {
			writeJSON(t, w, map[string]any{
				"keys": []map[string]any{
					{"name": "k1", "keyType": "USER_MANAGED"},
					{"name": "k2", "keyType": "USER_MANAGED"},
					{"name": "k3", "keyType": "SYSTEM_MANAGED"},
				},
			})
			return
		}
		writeJSON(t, w, map[string]any{
			"email": "sa@test-project.iam.gserviceaccount.com",
		})
	}))
	defer srv.Close()

	client := newIAMTestClient(t, srv)
	info, err := client.GetServiceAccountInfo(context.Background(), "sa@test-project.iam.gserviceaccount.com")
	require.NoError(t, err)

	assert.Equal(t, 3, info.KeyCount)
	assert.Equal(t, 2, info.UserManagedKeyCount)
	assert.Equal(t, 1, info.SystemManagedKeyCount)
}

func TestNewClientNilSettings(t *testing.T) {
	_, err := NewClient(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, gcperr.KindConfiguration, gcperr.KindOf(err))
}
