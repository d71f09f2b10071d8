// Package spool provides cross-process timeline ingestion through a shared
// spool directory. Producers drop batch files into {dataPath}/spool/ and the
// web process picks them up with a filesystem watcher and feeds them to the
// aggregator.
package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tracklight/tracklight/pkg/types"
)

// Batch is the payload written to a spool file.
type Batch struct {
	BatchID  string                  `json:"batchid"`
	Time     int64                   `json:"time"`
	Entities []*types.TimelineEntity `json:"entities"`
}

// BatchWriter writes entity batch files to a shared spool directory.
type BatchWriter struct {
	dir string
}

// NewBatchWriter creates a writer that emits batches to {dataPath}/spool/.
func NewBatchWriter(dataPath string) *BatchWriter {
	return &BatchWriter{dir: filepath.Join(dataPath, "spool")}
}

// Write stores a batch of entities as a spool file. The file is written to a
// temporary name and renamed into place so the watcher never reads a partial
// batch. Safe to call concurrently.
func (w *BatchWriter) Write(entities []*types.TimelineEntity) (string, error) {
	if len(entities) == 0 {
		return "", fmt.Errorf("spool: batch must contain at least one entity")
	}
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return "", fmt.Errorf("spool: mkdir %s: %w", w.dir, err)
	}

	batch := Batch{
		BatchID:  uuid.New().String(),
		Time:     time.Now().UnixNano(),
		Entities: entities,
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("spool: marshal batch: %w", err)
	}

	filename := fmt.Sprintf("%d-%s.batch", batch.Time, batch.BatchID)
	tmpPath := filepath.Join(w.dir, filename+".tmp")
	finalPath := filepath.Join(w.dir, filename)

	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return "", fmt.Errorf("spool: write batch file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("spool: publish batch file: %w", err)
	}

	return batch.BatchID, nil
}
