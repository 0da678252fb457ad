package cloudscheduler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cs "google.golang.org/api/cloudscheduler/v1"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), config.New("test-project"),
		option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestValidationBeforeAPICall(t *testing.T) {
	ctx := context.Background()
	client := &Client{settings: config.New("test-project")}

	t.Run("empty job id", func(t *testing.T) {
		_, err := client.CreateJob(ctx, "", JobSpec{Schedule: "* * * * *", HTTP: &HTTPTarget{URI: "https://x"}})
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("empty schedule", func(t *testing.T) {
		_, err := client.CreateHTTPJob(ctx, "j", "", HTTPTarget{URI: "https://x"})
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("no target", func(t *testing.T) {
		_, err := client.CreateJob(ctx, "j", JobSpec{Schedule: "* * * * *"})
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("both targets", func(t *testing.T) {
		_, err := client.CreateJob(ctx, "j", JobSpec{
			Schedule: "* * * * *",
			HTTP:     &HTTPTarget{URI: "https://x"},
			Pubsub:   &PubsubTarget{Topic: "t"},
		})
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("update with no fields", func(t *testing.T) {
		_, err := client.UpdateJob(ctx, "j", JobUpdate{})
		assert.True(t, gcperr.IsValidation(err))
	})
}

func TestCreateHTTPJob(t *testing.T) {
	var gotJob cs.Job
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotJob))
		writeJSON(t, w, map[string]any{
			"name":     gotJob.Name,
			"schedule": gotJob.Schedule,
			"timeZone": gotJob.TimeZone,
			"state":    StateEnabled,
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	info, err := client.CreateHTTPJob(context.Background(), "notify-users", "0 9 * * *", HTTPTarget{
		URI:                "https://api.example.com/notify",
		Method:             "post",
		Headers:            map[string]string{"X-Origin": "scheduler"},
		Body:               []byte(`{"action":"notify"}`),
		OIDCServiceAccount: "invoker@test-project.iam.gserviceaccount.com",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(gotPath, "/projects/test-project/locations/us-central1/jobs"))
	assert.Equal(t, "projects/test-project/locations/us-central1/jobs/notify-users", gotJob.Name)
	assert.Equal(t, "America/Los_Angeles", gotJob.TimeZone)
	require.NotNil(t, gotJob.HttpTarget)
	assert.Equal(t, "POST", gotJob.HttpTarget.HttpMethod)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(`{"action":"notify"}`)), gotJob.HttpTarget.Body)
	require.NotNil(t, gotJob.HttpTarget.OidcToken)
	assert.Equal(t, "invoker@test-project.iam.gserviceaccount.com", gotJob.HttpTarget.OidcToken.ServiceAccountEmail)
	assert.Nil(t, gotJob.HttpTarget.OauthToken)

	assert.Equal(t, "notify-users", info.ID)
	assert.Equal(t, StateEnabled, info.State)
}

func TestCreatePubsubJobQualifiesTopic(t *testing.T) {
	var gotJob cs.Job
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotJob))
		writeJSON(t, w, map[string]any{"name": gotJob.Name, "state": StateEnabled})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)

	t.Run("short topic name", func(t *testing.T) {
		_, err := client.CreatePubsubJob(context.Background(), "process", "0 */6 * * *", PubsubTarget{
			Topic:      "data-processing",
			Data:       []byte(`{"action":"process"}`),
			Attributes: map[string]string{"priority": "high"},
		})
		require.NoError(t, err)

		require.NotNil(t, gotJob.PubsubTarget)
		assert.Equal(t, "projects/test-project/topics/data-processing", gotJob.PubsubTarget.TopicName)
		assert.Equal(t, "high", gotJob.PubsubTarget.Attributes["priority"])
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(`{"action":"process"}`)), gotJob.PubsubTarget.Data)
	})

	t.Run("full topic path passes through", func(t *testing.T) {
		_, err := client.CreatePubsubJob(context.Background(), "process", "0 * * * *", PubsubTarget{
			Topic: "projects/other-project/topics/shared",
		})
		require.NoError(t, err)
		assert.Equal(t, "projects/other-project/topics/shared", gotJob.PubsubTarget.TopicName)
	})
}

func TestUpdateJobMask(t *testing.T) {
	var gotMask string
	var gotJob cs.Job
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		gotMask = r.URL.Query().Get("updateMask")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotJob))
		writeJSON(t, w, map[string]any{"name": gotJob.Name, "schedule": gotJob.Schedule})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	schedule := "*/5 * * * *"
	tz := "UTC"
	info, err := client.UpdateJob(context.Background(), "sync", JobUpdate{Schedule: &schedule, TimeZone: &tz})
	require.NoError(t, err)

	assert.Equal(t, "schedule,timeZone", gotMask)
	assert.Equal(t, "*/5 * * * *", info.Schedule)
}

func TestPauseResumeRun(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		state := StateEnabled
		if strings.HasSuffix(r.URL.Path, ":pause") {
			state = StatePaused
		}
		writeJSON(t, w, map[string]any{
			"name":  "projects/test-project/locations/us-central1/jobs/sync",
			"state": state,
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	ctx := context.Background()

	paused, err := client.PauseJob(ctx, "sync")
	require.NoError(t, err)
	assert.Equal(t, StatePaused, paused.State)

	resumed, err := client.ResumeJob(ctx, "sync")
	require.NoError(t, err)
	assert.Equal(t, StateEnabled, resumed.State)

	_, err = client.RunJob(ctx, "sync")
	require.NoError(t, err)

	require.Len(t, paths, 3)
	assert.True(t, strings.HasSuffix(paths[0], "/jobs/sync:pause"))
	assert.True(t, strings.HasSuffix(paths[1], "/jobs/sync:resume"))
	assert.True(t, strings.HasSuffix(paths[2], "/jobs/sync:run"))
}

func TestGetJobNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(t, w, map[string]any{
			"error": map[string]any{"code": 404, "message": "Job not found"},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.GetJob(context.Background(), "missing")
	assert.True(t, gcperr.IsNotFound(err))
}
