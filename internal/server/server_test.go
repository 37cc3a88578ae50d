package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pland/internal/registry"
)

func newTestServer(t *testing.T, launch RunLauncher) (*Server, *registry.Registry) {
	t.Helper()
	reg, err := registry.New("")
	require.NoError(t, err)
	s, err := New(reg, launch, zap.NewNop(), "")
	require.NoError(t, err)
	return s, reg
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, reg := newTestServer(t, nil)
	lease, err := reg.Acquire("repo#42")
	require.NoError(t, err)
	defer reg.Release(lease)

	rec := doRequest(s, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.ActiveRuns)
}

func TestListRuns(t *testing.T) {
	s, reg := newTestServer(t, nil)
	lease, err := reg.Acquire("repo#42")
	require.NoError(t, err)
	defer reg.Release(lease)

	rec := doRequest(s, http.MethodGet, "/api/v1/runs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var runs []registry.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "repo#42", runs[0].WorkItemKey)
}

func TestGetRun_ByIDAndByKey(t *testing.T) {
	s, reg := newTestServer(t, nil)
	lease, err := reg.Acquire("repo#42")
	require.NoError(t, err)
	defer reg.Release(lease)

	byID := doRequest(s, http.MethodGet, "/api/v1/runs/"+lease.RunID(), "")
	require.Equal(t, http.StatusOK, byID.Code)

	byKey := doRequest(s, http.MethodGet, "/api/v1/runs/repo%2342", "")
	require.Equal(t, http.StatusOK, byKey.Code)
	var rec registry.RunRecord
	require.NoError(t, json.Unmarshal(byKey.Body.Bytes(), &rec))
	assert.Equal(t, lease.RunID(), rec.RunID)
}

func TestGetRun_NotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(s, http.MethodGet, "/api/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRun_DisabledWithoutLauncher(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(s, http.MethodPost, "/api/v1/runs", `{"work_item_key":"repo#42"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStartRun_RequiresWorkItemKey(t *testing.T) {
	s, _ := newTestServer(t, func(ctx context.Context, key string) (string, error) {
		return "run-1", nil
	})
	rec := doRequest(s, http.MethodPost, "/api/v1/runs", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRun_Accepted(t *testing.T) {
	var launched string
	s, _ := newTestServer(t, func(ctx context.Context, key string) (string, error) {
		launched = key
		return "run-1", nil
	})

	rec := doRequest(s, http.MethodPost, "/api/v1/runs", `{"work_item_key":"repo#42"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "repo#42", launched)
	var resp StartRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
}

func TestStartRun_ConflictWhenAlreadyRunning(t *testing.T) {
	s, _ := newTestServer(t, func(ctx context.Context, key string) (string, error) {
		return "", registry.ErrAlreadyRunning
	})

	rec := doRequest(s, http.MethodPost, "/api/v1/runs", `{"work_item_key":"repo#42"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}
