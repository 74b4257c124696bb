package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medatlas/synchub/pkg/hub"
	"github.com/medatlas/synchub/pkg/tracker"
)

// setupServer builds a server on a real hub and tracker, no database.
func setupServer(t *testing.T) (*Server, *tracker.Tracker) {
	t.Helper()

	registry := hub.NewRegistry(hub.RegistryConfig{}, nil)
	h := hub.NewHub(registry, hub.NewSubscriptionTable(nil), hub.NewReplayBuffer(hub.ReplayConfig{}), nil, nil)
	tr := tracker.NewTracker(tracker.Config{}, h.Broadcaster(), nil)
	h.SetTaskCanceller(tr)
	t.Cleanup(func() {
		tr.Stop()
		registry.Stop()
	})

	return NewServer(h, tr, Options{}), tr
}

func doJSON(t *testing.T, s *Server, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Forwarded-User", user)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateTask(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", "user-1",
		`{"task_type":"search","project_id":"42","params":{"query":"stent"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var snap tracker.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.NotEmpty(t, snap.SessionID)
	assert.Equal(t, tracker.StatusPending, snap.Status)
	assert.Equal(t, "user-1", snap.OwnerUserID)
}

func TestCreateTask_Validation(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", "",
		`{"task_type":"search","project_id":"42"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/tasks", "user-1",
		`{"task_type":"search"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/tasks", "user-1",
		`{"task_type":"divination","project_id":"42"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", "user-1",
		`{"task_type":"classification","project_id":"42"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var snap tracker.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))

	rec = doJSON(t, s, http.MethodPost, "/api/v1/tasks/"+snap.SessionID+"/progress", "",
		`{"message":"searching"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/tasks/"+snap.SessionID+"/complete", "",
		`{"result":{"deviceClass":"II"},"confidence":0.9}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/tasks/"+snap.SessionID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got tracker.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, tracker.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"deviceClass":"II"}`, string(got.Result))

	// Terminal transitions conflict from here on.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/tasks/"+snap.SessionID+"/cancel", "", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = doJSON(t, s, http.MethodPost, "/api/v1/tasks/"+snap.SessionID+"/fail", "",
		`{"error":"too late"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelTaskOverHTTP(t *testing.T) {
	s, tr := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/tasks", "user-1",
		`{"task_type":"comparison","project_id":"42"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var snap tracker.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))

	rec = doJSON(t, s, http.MethodPost, "/api/v1/tasks/"+snap.SessionID+"/cancel", "",
		`{"reason":"no longer needed"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	got, err := tr.StatusOf(context.Background(), snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusCancelled, got.Status)
}

func TestGetUnknownTask(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/tasks/ghost", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublishProjectEvent(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/projects/42/events", "",
		`{"data":{"name":"renamed"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Topic string `json:"topic"`
		Seq   uint64 `json:"seq"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "project:42", resp.Topic)
	assert.Equal(t, uint64(1), resp.Seq)

	// Sequence advances per publish.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/projects/42/events", "", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(2), resp.Seq)
}

func TestRetireProjectTopic(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/projects/42/events", "", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/projects/42/topic", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// A retired topic restarts its sequence.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/projects/42/events", "", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Seq uint64 `json:"seq"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1), resp.Seq)
}

func TestListProjectTasksWithoutStore(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/projects/42/tasks", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthWithoutDatabase(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestWSRequiresIdentity(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodGet, "/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/healthz", "", "")
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'",
		rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
