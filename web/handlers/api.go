// Package handlers provides HTTP handlers and middleware for the Tracklight
// REST API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tracklight/tracklight/internal/aggregator"
	"github.com/tracklight/tracklight/internal/storage"
	"github.com/tracklight/tracklight/pkg/types"
)

// maxPutBodyBytes caps the request body for put batches (4 MB).
const maxPutBodyBytes = 4 << 20

// putRequest is the envelope for POST /api/v1/timeline.
type putRequest struct {
	Entities []*types.TimelineEntity `json:"entities"`
}

// APIHandlers contains the HTTP handlers for the timeline REST API.
type APIHandlers struct {
	store storage.TimelineStore
	agg   *aggregator.Aggregator
	hub   *WebSocketHub
}

// NewAPIHandlers creates handlers over the given store. The aggregator and
// hub are optional: without an aggregator the async put path is disabled,
// and without a hub no batch notifications are broadcast.
func NewAPIHandlers(store storage.TimelineStore, agg *aggregator.Aggregator, hub *WebSocketHub) *APIHandlers {
	return &APIHandlers{store: store, agg: agg, hub: hub}
}

// PutEntities handles POST /api/v1/timeline - store a batch of entities.
//
// By default the batch is written synchronously and per-entity errors are
// returned in the response. With ?async=true the batch is handed to the
// aggregator and accepted with 202; validation errors then surface on the
// WebSocket feed instead of in the response.
func (h *APIHandlers) PutEntities(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPutBodyBytes)

	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Entities) == 0 {
		respondError(w, http.StatusBadRequest, "entities are required", nil)
		return
	}

	batchID := uuid.New().String()

	if r.URL.Query().Get("async") == "true" {
		if h.agg == nil {
			respondError(w, http.StatusBadRequest, "async ingestion is not enabled", nil)
			return
		}
		accepted := h.agg.Submit(req.Entities)
		status := http.StatusAccepted
		if accepted < len(req.Entities) {
			// Partial acceptance means the queue is full.
			status = http.StatusTooManyRequests
		}
		respondJSON(w, status, PutResult{
			BatchID:  batchID,
			Accepted: accepted,
			Queued:   true,
			Errors:   []storage.PutError{},
		})
		return
	}

	resp, err := h.store.Put(r.Context(), req.Entities)
	if err != nil {
		if errors.Is(err, storage.ErrCircuitOpen) {
			respondError(w, http.StatusServiceUnavailable, "storage backend unavailable", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to store entities", err)
		return
	}

	result := PutResult{
		BatchID:  batchID,
		Accepted: len(req.Entities) - len(resp.Errors),
		Errors:   resp.Errors,
	}
	if h.hub != nil {
		h.hub.Broadcast(BatchNotification{
			Type:     "entities_put",
			BatchID:  batchID,
			Accepted: result.Accepted,
			Errors:   resp.Errors,
		})
	}
	respondJSON(w, http.StatusOK, result)
}

// GetEntity handles GET /api/v1/timeline/{entityType}/{entityId} - fetch a
// single entity with its full event sequence.
func (h *APIHandlers) GetEntity(w http.ResponseWriter, r *http.Request) {
	entityType := extractID(r, "entityType")
	entityID := extractID(r, "entityId")
	if entityType == "" || entityID == "" {
		respondError(w, http.StatusBadRequest, "entity type and id are required", nil)
		return
	}

	entity, err := h.store.GetEntity(r.Context(), entityType, entityID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "entity not found", nil)
			return
		}
		if errors.Is(err, storage.ErrCircuitOpen) {
			respondError(w, http.StatusServiceUnavailable, "storage backend unavailable", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load entity", err)
		return
	}

	respondJSON(w, http.StatusOK, entity)
}

// ListEntities handles GET /api/v1/timeline/{entityType} - list entities of
// one type, newest start time first.
//
// Query parameters: limit, windowStart, windowEnd (epoch millis, inclusive),
// primaryFilter (name:value), events (true to include each entity's events).
func (h *APIHandlers) ListEntities(w http.ResponseWriter, r *http.Request) {
	entityType := extractID(r, "entityType")
	if entityType == "" {
		respondError(w, http.StatusBadRequest, "entity type is required", nil)
		return
	}

	q := storage.EntityQuery{
		Limit:         parseInt(r.URL.Query().Get("limit"), 0),
		WindowStart:   parseInt64(r.URL.Query().Get("windowStart"), 0),
		WindowEnd:     parseInt64(r.URL.Query().Get("windowEnd"), 0),
		IncludeEvents: r.URL.Query().Get("events") == "true",
	}

	if raw := r.URL.Query().Get("primaryFilter"); raw != "" {
		filter, err := parsePrimaryFilter(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid primaryFilter", err)
			return
		}
		q.PrimaryFilter = filter
	}

	entities, err := h.store.GetEntities(r.Context(), entityType, q)
	if err != nil {
		if errors.Is(err, storage.ErrCircuitOpen) {
			respondError(w, http.StatusServiceUnavailable, "storage backend unavailable", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to list entities", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"entities": entities})
}

// GetEvents handles GET /api/v1/timeline/{entityType}/events - retrieve the
// event windows for the named entities.
//
// Query parameters: entityId (repeatable), limit, windowStart, windowEnd
// (epoch millis, inclusive), eventType (repeatable).
func (h *APIHandlers) GetEvents(w http.ResponseWriter, r *http.Request) {
	entityType := extractID(r, "entityType")
	if entityType == "" {
		respondError(w, http.StatusBadRequest, "entity type is required", nil)
		return
	}

	entityIDs := r.URL.Query()["entityId"]
	if len(entityIDs) == 0 {
		respondError(w, http.StatusBadRequest, "at least one entityId is required", nil)
		return
	}

	q := storage.EventQuery{
		Limit:       parseInt(r.URL.Query().Get("limit"), 0),
		WindowStart: parseInt64(r.URL.Query().Get("windowStart"), 0),
		WindowEnd:   parseInt64(r.URL.Query().Get("windowEnd"), 0),
		EventTypes:  r.URL.Query()["eventType"],
	}

	results, err := h.store.GetEvents(r.Context(), entityType, entityIDs, q)
	if err != nil {
		if errors.Is(err, storage.ErrCircuitOpen) {
			respondError(w, http.StatusServiceUnavailable, "storage backend unavailable", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load events", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"events": results})
}

// parsePrimaryFilter parses a "name:value" pair. The value part is decoded
// as JSON when possible (numbers, booleans, quoted strings) and treated as a
// bare string otherwise, so ?primaryFilter=user:etta and
// ?primaryFilter=retries:3 both do what they look like.
func parsePrimaryFilter(raw string) (*storage.NameValue, error) {
	name, rawValue, ok := strings.Cut(raw, ":")
	if !ok || name == "" {
		return nil, fmt.Errorf("expected name:value, got %q", raw)
	}

	var value types.Value
	if err := json.Unmarshal([]byte(rawValue), &value); err != nil {
		value = types.String(rawValue)
	}
	return &storage.NameValue{Name: name, Value: value}, nil
}

// Helper functions

// extractID extracts a path parameter from the request.
func extractID(r *http.Request, key string) string {
	return r.PathValue(key)
}

// parseInt parses an integer from a string, returning defaultValue if
// parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// parseInt64 parses a 64-bit integer from a string, returning defaultValue
// if parsing fails.
func parseInt64(s string, defaultValue int64) int64 {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; nothing more to do than note it.
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
