package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixedQueue int

func (q fixedQueue) QueueLen() int { return int(q) }

func TestStatsHandler(t *testing.T) {
	store := new(MockTimelineStore)
	store.On("EntityTypeCounts", mock.Anything).
		Return(map[string]int{"JOB": 3, "APP": 2}, nil)

	h := NewStatsHandler(store, fixedQueue(7), "prod-east")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "prod-east", resp.ClusterName)
	assert.Equal(t, 3, resp.EntityCounts["JOB"])
	assert.Equal(t, 2, resp.EntityCounts["APP"])
	assert.Equal(t, 5, resp.TotalCount)
	assert.Equal(t, 7, resp.QueueDepth)
}

func TestStatsHandler_StoreError(t *testing.T) {
	store := new(MockTimelineStore)
	store.On("EntityTypeCounts", mock.Anything).
		Return(nil, errors.New("boom"))

	h := NewStatsHandler(store, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
