// Package server_test provides unit tests for the HTTP server package.
package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklight/tracklight/internal/config"
	"github.com/tracklight/tracklight/internal/server"
	"github.com/tracklight/tracklight/internal/storage/sqlite"
	"github.com/tracklight/tracklight/pkg/types"
)

// startTestServer starts a test server with an in-memory SQLite store.
// It returns the base URL and registers cleanup with t.Cleanup.
func startTestServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	if cfg == nil {
		var err error
		cfg, err = config.LoadConfig()
		require.NoError(t, err)
	}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0 // random port

	store, err := sqlite.NewTimelineStore(":memory:")
	require.NoError(t, err, "failed to create in-memory SQLite store")

	ctx, cancel := context.WithCancel(context.Background())

	addrChan := make(chan string, 1)
	go func() {
		addr, _ := server.Start(ctx, cfg, store, nil)
		addrChan <- addr
	}()

	var addr string
	select {
	case addr = <-addrChan:
	case <-time.After(5 * time.Second):
		cancel()
		_ = store.Close()
		t.Fatal("server did not start within timeout")
	}

	time.Sleep(100 * time.Millisecond)

	t.Cleanup(func() {
		cancel()
		time.Sleep(100 * time.Millisecond)
		_ = store.Close()
	})

	return "http://" + addr
}

func putBatch(t *testing.T, baseURL string, entities ...*types.TimelineEntity) *http.Response {
	t.Helper()

	body, err := json.Marshal(map[string]interface{}{"entities": entities})
	require.NoError(t, err)

	resp, err := http.Post(baseURL+"/api/v1/timeline", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	baseURL := startTestServer(t, nil)

	resp, err := http.Get(baseURL + "/api/v1/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestSecurityHeaders(t *testing.T) {
	baseURL := startTestServer(t, nil)

	resp, err := http.Get(baseURL + "/api/v1/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestPutAndGetEntity(t *testing.T) {
	baseURL := startTestServer(t, nil)

	entity := types.NewTimelineEntity(types.EntityTypeApplication, "app_1")
	entity.SetStartTime(1000)
	entity.AddPrimaryFilter("user", types.String("etta"))
	entity.AddEvent(types.NewTimelineEvent(1000, types.EventTypeCreated))

	resp := putBatch(t, baseURL, entity)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var putResult struct {
		BatchID  string `json:"batchid"`
		Accepted int    `json:"accepted"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&putResult))
	assert.Equal(t, 1, putResult.Accepted)
	assert.NotEmpty(t, putResult.BatchID)

	getResp, err := http.Get(baseURL + "/api/v1/timeline/" + types.EntityTypeApplication + "/app_1")
	require.NoError(t, err)
	defer func() { _ = getResp.Body.Close() }()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var got types.TimelineEntity
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&got))
	assert.Equal(t, "app_1", got.EntityID())
	assert.Equal(t, int64(1000), got.StartTime())
	assert.Len(t, got.Events(), 1)
}

func TestGetEntityNotFound(t *testing.T) {
	baseURL := startTestServer(t, nil)

	resp, err := http.Get(baseURL + "/api/v1/timeline/APP/missing")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListEntities(t *testing.T) {
	baseURL := startTestServer(t, nil)

	for i := 0; i < 3; i++ {
		e := types.NewTimelineEntity("JOB", fmt.Sprintf("job_%d", i))
		e.SetStartTime(int64(1000 + i))
		resp := putBatch(t, baseURL, e)
		_ = resp.Body.Close()
	}

	resp, err := http.Get(baseURL + "/api/v1/timeline/JOB?limit=2")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Entities []*types.TimelineEntity `json:"entities"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Entities, 2)
	// Newest start time first
	assert.Equal(t, "job_2", body.Entities[0].EntityID())
}

func TestGetEvents(t *testing.T) {
	baseURL := startTestServer(t, nil)

	e := types.NewTimelineEntity("JOB", "job_ev")
	e.SetStartTime(1000)
	e.AddEvent(types.NewTimelineEvent(1000, types.EventTypeStarted))
	e.AddEvent(types.NewTimelineEvent(2000, types.EventTypeFinished))
	resp := putBatch(t, baseURL, e)
	_ = resp.Body.Close()

	evResp, err := http.Get(baseURL + "/api/v1/timeline/JOB/events?entityId=job_ev&eventType=FINISHED")
	require.NoError(t, err)
	defer func() { _ = evResp.Body.Close() }()
	require.Equal(t, http.StatusOK, evResp.StatusCode)

	var body struct {
		Events []struct {
			EntityID string            `json:"entity"`
			Events   []json.RawMessage `json:"events"`
		} `json:"events"`
	}
	require.NoError(t, json.NewDecoder(evResp.Body).Decode(&body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "job_ev", body.Events[0].EntityID)
	assert.Len(t, body.Events[0].Events, 1)
}

func TestPutValidationErrors(t *testing.T) {
	baseURL := startTestServer(t, nil)

	// An entity without an id is reported per-entity, not as a request failure.
	e := types.NewTimelineEntity("JOB", "")

	resp := putBatch(t, baseURL, e)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var putResult struct {
		Accepted int `json:"accepted"`
		Errors   []struct {
			ErrorCode string `json:"errorcode"`
		} `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&putResult))
	assert.Equal(t, 0, putResult.Accepted)
	require.Len(t, putResult.Errors, 1)
	assert.Equal(t, "NO_ENTITY_ID", putResult.Errors[0].ErrorCode)
}

func TestPutEmptyBatchRejected(t *testing.T) {
	baseURL := startTestServer(t, nil)

	resp, err := http.Post(baseURL+"/api/v1/timeline", "application/json",
		bytes.NewReader([]byte(`{"entities":[]}`)))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	baseURL := startTestServer(t, nil)

	req, err := http.NewRequest(http.MethodDelete, baseURL+"/api/v1/timeline", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestProductionModeRequiresToken(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	cfg.Security.SecurityMode = "production"
	cfg.Security.APIToken = "secret-token"

	baseURL := startTestServer(t, cfg)

	// No token
	resp, err := http.Get(baseURL + "/api/v1/stats")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong token
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/stats", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct token
	req, err = http.NewRequest(http.MethodGet, baseURL+"/api/v1/stats", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open
	resp, err = http.Get(baseURL + "/api/v1/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	baseURL := startTestServer(t, nil)

	e := types.NewTimelineEntity("JOB", "job_stats")
	e.SetStartTime(1)
	resp := putBatch(t, baseURL, e)
	_ = resp.Body.Close()

	statsResp, err := http.Get(baseURL + "/api/v1/stats")
	require.NoError(t, err)
	defer func() { _ = statsResp.Body.Close() }()
	require.Equal(t, http.StatusOK, statsResp.StatusCode)

	var stats struct {
		EntityCounts map[string]int `json:"entity_counts"`
		TotalCount   int            `json:"total_count"`
	}
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.EntityCounts["JOB"])
	assert.Equal(t, 1, stats.TotalCount)
}
