package handlers

import "github.com/tracklight/tracklight/internal/storage"

// ErrorResponse is the standard error envelope returned by the REST API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PutResult is the response body for POST /api/v1/timeline. BatchID lets
// clients correlate the submission with the live WebSocket feed.
type PutResult struct {
	BatchID  string             `json:"batchid"`
	Accepted int                `json:"accepted"`
	Queued   bool               `json:"queued"`
	Errors   []storage.PutError `json:"errors"`
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	ClusterName  string         `json:"cluster_name,omitempty"`
	EntityCounts map[string]int `json:"entity_counts"`
	TotalCount   int            `json:"total_count"`
	QueueDepth   int            `json:"queue_depth"`
}

// BatchNotification is broadcast to WebSocket subscribers whenever a put
// batch lands in the store.
type BatchNotification struct {
	Type     string             `json:"type"`
	BatchID  string             `json:"batchid,omitempty"`
	Accepted int                `json:"accepted"`
	Errors   []storage.PutError `json:"errors,omitempty"`
}
