package spool

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// BatchWatcher watches the spool directory and dispatches batches.
type BatchWatcher struct {
	dir      string
	callback func(batch Batch)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewBatchWatcher creates a watcher for {dataPath}/spool/.
func NewBatchWatcher(dataPath string, callback func(batch Batch)) *BatchWatcher {
	return &BatchWatcher{
		dir:      filepath.Join(dataPath, "spool"),
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching. It drains any existing batch files first,
// then watches for new ones. Call Stop() to clean up.
func (bw *BatchWatcher) Start() error {
	if err := os.MkdirAll(bw.dir, 0o700); err != nil {
		return err
	}

	bw.drainExisting()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(bw.dir); err != nil {
		_ = w.Close()
		return err
	}
	bw.watcher = w

	go bw.loop()
	log.Printf("spool: watching %s for entity batches", bw.dir)
	return nil
}

// Stop shuts down the watcher.
func (bw *BatchWatcher) Stop() {
	if bw.watcher != nil {
		_ = bw.watcher.Close()
	}
	<-bw.done
}

func (bw *BatchWatcher) loop() {
	defer close(bw.done)
	for {
		select {
		case evt, ok := <-bw.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && strings.HasSuffix(evt.Name, ".batch") {
				bw.processFile(evt.Name)
			}
		case err, ok := <-bw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("spool: watcher error: %v", err)
		}
	}
}

func (bw *BatchWatcher) drainExisting() {
	entries, err := os.ReadDir(bw.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".batch") {
			bw.processFile(filepath.Join(bw.dir, entry.Name()))
		}
	}
}

func (bw *BatchWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file already consumed by another process
	}
	_ = os.Remove(path)

	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		log.Printf("spool: invalid batch file %s: %v", filepath.Base(path), err)
		return
	}

	if len(batch.Entities) > 0 && bw.callback != nil {
		bw.callback(batch)
	}
}
