// Command tracklight-web runs the timeline ingestion and query service.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tracklight/tracklight/internal/aggregator"
	"github.com/tracklight/tracklight/internal/config"
	"github.com/tracklight/tracklight/internal/server"
	"github.com/tracklight/tracklight/internal/spool"
	"github.com/tracklight/tracklight/internal/storage"
	"github.com/tracklight/tracklight/internal/storage/postgres"
	"github.com/tracklight/tracklight/internal/storage/sqlite"
	"github.com/tracklight/tracklight/web/handlers"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional, uses env vars by default)")
	flag.Parse()

	// If no config path specified, use the default file when it exists
	if *configPath == "" {
		defaultPath := "config/tracklight.yaml"
		if _, err := os.Stat(defaultPath); err == nil {
			*configPath = defaultPath
		}
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadConfigFile(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
		log.Printf("Using config file: %s", *configPath)
	} else {
		cfg, err = config.LoadConfig()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	store, db, dialect, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	// Cluster settings persist in the settings table and win over the
	// environment, so a renamed deployment keeps its name across restarts.
	if dbCfg, err := config.LoadConfigFromDB(db, dialect); err != nil {
		log.Printf("WARNING: failed to load cluster settings from database: %v", err)
	} else {
		if dbCfg.Cluster.ClusterName != "" {
			cfg.Cluster.ClusterName = dbCfg.Cluster.ClusterName
		}
		if cfg.Cluster.ClusterName != "" {
			if err := cfg.SaveConfig(db, dialect); err != nil {
				log.Printf("WARNING: failed to persist cluster settings: %v", err)
			}
		}
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the write-path aggregator
	agg := aggregator.New(store, aggregator.Config{
		QueueSize:     cfg.Ingest.QueueSize,
		FlushInterval: time.Duration(cfg.Ingest.FlushIntervalMS) * time.Millisecond,
		MaxBatch:      cfg.Ingest.MaxBatch,
	})
	agg.Start()

	// Start server
	addr, hub := server.Start(ctx, cfg, store, agg)
	log.Printf("Tracklight timeline service running at http://%s", addr)

	// Flushed spool and async batches surface on the WebSocket feed.
	agg.OnFlush(func(result aggregator.FlushResult) {
		hub.Broadcast(handlers.BatchNotification{
			Type:     "entities_put",
			Accepted: result.Accepted,
			Errors:   result.Errors,
		})
	})

	// Watch the spool directory for entity batches from other processes
	var watcher *spool.BatchWatcher
	if cfg.Ingest.SpoolEnabled {
		watcher = spool.NewBatchWatcher(cfg.Storage.DataPath, func(batch spool.Batch) {
			accepted := agg.Submit(batch.Entities)
			if accepted < len(batch.Entities) {
				log.Printf("spool: batch %s partially accepted (%d/%d), queue full",
					batch.BatchID, accepted, len(batch.Entities))
			}
		})
		if err := watcher.Start(); err != nil {
			log.Fatalf("Failed to start spool watcher: %v", err)
		}
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	if watcher != nil {
		watcher.Stop()
	}

	// Stop accepting HTTP traffic first, then drain pending submissions so a
	// late async put cannot land in a stopped aggregator.
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close

	agg.Stop()
}

// openStore builds the configured timeline store, wrapped in a circuit
// breaker. The raw connection and its dialect are returned alongside so main
// can read and persist the cluster settings.
func openStore(cfg *config.Config) (storage.TimelineStore, *sql.DB, config.Dialect, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		inner, err := postgres.NewTimelineStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, "", err
		}
		return storage.NewBreakerStore(inner), inner.GetDB(), config.DialectPostgres, nil
	default:
		inner, err := sqlite.NewTimelineStore(cfg.Storage.DataPath + "/timeline.db")
		if err != nil {
			return nil, nil, "", err
		}
		return storage.NewBreakerStore(inner), inner.GetDB(), config.DialectSQLite, nil
	}
}
