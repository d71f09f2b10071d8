package handlers

import (
	"net/http"

	"github.com/tracklight/tracklight/internal/storage"
)

// QueueSizeGetter exposes the aggregator queue depth for stats.
type QueueSizeGetter interface {
	QueueLen() int
}

// StatsHandler serves operational stats for the service.
type StatsHandler struct {
	store       storage.TimelineStore
	queue       QueueSizeGetter
	clusterName string
}

// NewStatsHandler creates a stats handler. queue may be nil when the
// aggregator is disabled; clusterName may be empty for unnamed deployments.
func NewStatsHandler(store storage.TimelineStore, queue QueueSizeGetter, clusterName string) *StatsHandler {
	return &StatsHandler{store: store, queue: queue, clusterName: clusterName}
}

// ServeHTTP handles GET /api/v1/stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.EntityTypeCounts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load stats", err)
		return
	}

	total := 0
	for _, c := range counts {
		total += c
	}

	resp := StatsResponse{
		ClusterName:  h.clusterName,
		EntityCounts: counts,
		TotalCount:   total,
	}
	if h.queue != nil {
		resp.QueueDepth = h.queue.QueueLen()
	}

	respondJSON(w, http.StatusOK, resp)
}
