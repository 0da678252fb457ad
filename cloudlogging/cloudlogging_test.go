package cloudlogging

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lg "google.golang.org/api/logging/v2"
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

	t.Run("write empty log id", func(t *testing.T) {
		err := client.WriteLog(ctx, "", "hello", SeverityInfo, nil)
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("write nil payload", func(t *testing.T) {
		err := client.WriteLog(ctx, "app", nil, SeverityInfo, nil)
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("metric without filter", func(t *testing.T) {
		_, err := client.CreateMetric(ctx, "errors", "", "")
		assert.True(t, gcperr.IsValidation(err))
	})

	t.Run("sink without destination", func(t *testing.T) {
		_, err := client.CreateSink(ctx, "archive", "", "")
		assert.True(t, gcperr.IsValidation(err))
	})
}

func TestWriteLog(t *testing.T) {
	var gotReq lg.WriteLogEntriesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/entries:write"))
		gotReq = lg.WriteLogEntriesRequest{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeJSON(t, w, map[string]any{})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)

	t.Run("text payload", func(t *testing.T) {
		err := client.WriteLog(context.Background(), "app-log", "service started", "info",
			map[string]string{"env": "prod"})
		require.NoError(t, err)

		assert.Equal(t, "projects/test-project/logs/app-log", gotReq.LogName)
		assert.Equal(t, "global", gotReq.Resource.Type)
		require.Len(t, gotReq.Entries, 1)
		assert.Equal(t, SeverityInfo, gotReq.Entries[0].Severity)
		assert.Equal(t, "service started", gotReq.Entries[0].TextPayload)
		assert.Equal(t, "prod", gotReq.Entries[0].Labels["env"])
	})

	t.Run("structured payload", func(t *testing.T) {
		err := client.WriteLog(context.Background(), "app-log",
			map[string]any{"event": "deploy", "count": 3}, SeverityWarning, nil)
		require.NoError(t, err)

		require.Len(t, gotReq.Entries, 1)
		assert.Empty(t, gotReq.Entries[0].TextPayload)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(gotReq.Entries[0].JsonPayload, &payload))
		assert.Equal(t, "deploy", payload["event"])
		assert.Equal(t, float64(3), payload["count"])
	})

	t.Run("slash in log id is escaped", func(t *testing.T) {
		err := client.WriteLog(context.Background(), "svc/api", "x", "", nil)
		require.NoError(t, err)
		assert.Equal(t, "projects/test-project/logs/svc%2Fapi", gotReq.LogName)
		assert.Equal(t, SeverityDefault, gotReq.Entries[0].Severity)
	})
}

func TestListEntries(t *testing.T) {
	var gotReq lg.ListLogEntriesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/entries:list"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeJSON(t, w, map[string]any{
			"entries": []map[string]any{
				{
					"logName":     "projects/test-project/logs/app-log",
					"severity":    "ERROR",
					"textPayload": "boom",
					"timestamp":   "2026-08-20T10:00:00Z",
				},
				{
					"logName":     "projects/test-project/logs/app-log",
					"severity":    "INFO",
					"jsonPayload": map[string]any{"event": "start"},
				},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	entries, err := client.ListEntries(context.Background(), `severity>=ERROR`, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"projects/test-project"}, gotReq.ResourceNames)
	assert.Equal(t, `severity>=ERROR`, gotReq.Filter)
	assert.Equal(t, "timestamp desc", gotReq.OrderBy)
	assert.Equal(t, int64(10), gotReq.PageSize)

	require.Len(t, entries, 2)
	assert.Equal(t, "boom", entries[0].TextPayload)
	assert.Equal(t, 2026, entries[0].Timestamp.Year())
	assert.Equal(t, "start", entries[1].JSONPayload["event"])
}

func TestListLogEntriesFilter(t *testing.T) {
	var gotReq lg.ListLogEntriesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeJSON(t, w, map[string]any{})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.ListLogEntries(context.Background(), "app-log", 5)
	require.NoError(t, err)

	assert.Equal(t, `logName="projects/test-project/logs/app-log"`, gotReq.Filter)
}

func TestMetricLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			var m lg.LogMetric
			require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
			writeJSON(t, w, map[string]any{"name": m.Name, "filter": m.Filter})
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/metrics/"):
			writeJSON(t, w, map[string]any{"name": "error-count", "filter": "severity>=ERROR"})
		case r.Method == http.MethodGet:
			writeJSON(t, w, map[string]any{
				"metrics": []map[string]any{{"name": "error-count"}, {"name": "deploys"}},
			})
		case r.Method == http.MethodDelete:
			writeJSON(t, w, map[string]any{})
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	ctx := context.Background()

	created, err := client.CreateMetric(ctx, "error-count", "errors", "severity>=ERROR")
	require.NoError(t, err)
	assert.Equal(t, "error-count", created.Name)

	got, err := client.GetMetric(ctx, "error-count")
	require.NoError(t, err)
	assert.Equal(t, "severity>=ERROR", got.Filter)

	metrics, err := client.ListMetrics(ctx)
	require.NoError(t, err)
	assert.Len(t, metrics, 2)

	require.NoError(t, client.DeleteMetric(ctx, "error-count"))
}

func TestCreateSinkUniqueWriter(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("uniqueWriterIdentity")
		writeJSON(t, w, map[string]any{
			"name":           "archive",
			"destination":    "storage.googleapis.com/logs-bucket",
			"writerIdentity": "serviceAccount:sink@gcp-sa-logging.iam.gserviceaccount.com",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	sink, err := client.CreateSink(context.Background(), "archive", "storage.googleapis.com/logs-bucket", "")
	require.NoError(t, err)

	assert.Equal(t, "true", gotQuery)
	assert.Equal(t, "serviceAccount:sink@gcp-sa-logging.iam.gserviceaccount.com", sink.WriterIdentity)
}

func TestGetSinkNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(t, w, map[string]any{
			"error": map[string]any{"code": 404, "message": "Sink does not exist"},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.GetSink(context.Background(), "missing")
	assert.True(t, gcperr.IsNotFound(err))
}

func TestSlogHandler(t *testing.T) {
	var gotReq lg.WriteLogEntriesRequest
	writes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writes++
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeJSON(t, w, map[string]any{})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	logger := slog.New(NewSlogHandler(client, "app-log", slog.LevelInfo))

	t.Run("below level is dropped", func(t *testing.T) {
		logger.Debug("invisible")
		assert.Zero(t, writes)
	})

	t.Run("record becomes structured entry", func(t *testing.T) {
		logger.With("service", "api").WithGroup("request").Error("request failed",
			"method", "GET", "status", 500)
		require.Equal(t, 1, writes)

		require.Len(t, gotReq.Entries, 1)
		assert.Equal(t, SeverityError, gotReq.Entries[0].Severity)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(gotReq.Entries[0].JsonPayload, &payload))
		assert.Equal(t, "request failed", payload["message"])
		assert.Equal(t, "api", payload["service"])
		assert.Equal(t, "GET", payload["request.method"])
		assert.Equal(t, float64(500), payload["request.status"])
	})
}
