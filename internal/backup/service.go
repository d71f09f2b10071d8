package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Service performs scheduled timeline database backups with verification and
// retention.
type Service struct {
	dbPath    string
	dir       string
	interval  time.Duration
	retention Retention
	verify    bool

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	lastRun  time.Time
	nextRun  time.Time
}

// NewService creates a backup service with the given configuration.
func NewService(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Hour
	}
	if cfg.Retention.Hourly == 0 {
		cfg.Retention.Hourly = 24
	}
	if cfg.Retention.Daily == 0 {
		cfg.Retention.Daily = 7
	}
	if cfg.Retention.Weekly == 0 {
		cfg.Retention.Weekly = 4
	}
	if cfg.Retention.Monthly == 0 {
		cfg.Retention.Monthly = 12
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &Service{
		dbPath:    cfg.DBPath,
		dir:       cfg.Dir,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		verify:    cfg.Verify,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start runs the scheduled backup loop until the context is cancelled or
// Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup service is already running")
	}
	s.running = true
	s.nextRun = time.Now().Add(s.interval)
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("backup: service started: interval=%v, dir=%s", s.interval, s.dir)

	for {
		select {
		case <-ctx.Done():
			log.Println("backup: service stopping (context cancelled)")
			return ctx.Err()

		case <-s.stopCh:
			log.Println("backup: service stopping (stop requested)")
			return nil

		case <-ticker.C:
			result, err := s.BackupNow(ctx)
			if err != nil {
				log.Printf("backup: scheduled backup failed: %v", err)
			} else {
				log.Printf("backup: completed: path=%s, size=%d bytes, duration=%v, verified=%v",
					result.Path, result.Size, result.Duration, result.Verified)
			}

			s.mu.Lock()
			s.nextRun = time.Now().Add(s.interval)
			s.mu.Unlock()
		}
	}
}

// Stop stops the backup service gracefully.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("backup service is not running")
	}

	close(s.stopCh)
	s.running = false
	return nil
}

// BackupNow performs an immediate backup of the timeline database. It writes
// a timestamped snapshot, optionally verifies it, then applies the retention
// policy.
func (s *Service) BackupNow(ctx context.Context) (*Result, error) {
	startTime := time.Now()

	if _, err := os.Stat(s.dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	// Microseconds in the timestamp keep names unique under rapid backups.
	timestamp := time.Now().Format("20060102-150405.000000")
	name := fmt.Sprintf("tracklight-backup-%s.db", timestamp)
	path := filepath.Join(s.dir, name)

	if err := snapshotSQLite(s.dbPath, path); err != nil {
		return &Result{Path: path, Duration: time.Since(startTime), Err: err}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		err = fmt.Errorf("failed to stat snapshot: %w", err)
		return &Result{Path: path, Duration: time.Since(startTime), Err: err}, err
	}

	result := &Result{
		Path:     path,
		Duration: time.Since(startTime),
		Size:     info.Size(),
	}

	if s.verify {
		if err := verifySnapshot(path); err != nil {
			result.Err = fmt.Errorf("backup verification failed: %w", err)
			return result, result.Err
		}
		result.Verified = true
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	if err := applyRetention(s.dir, s.retention); err != nil {
		// Retention failures never fail the backup itself.
		log.Printf("backup: failed to apply retention policy: %v", err)
	}

	return result, nil
}

// ListSnapshots lists all stored snapshots, newest first.
func (s *Service) ListSnapshots() ([]Snapshot, error) {
	return listSnapshots(s.dir)
}

// Restore restores the timeline database from a snapshot. The service must
// be stopped first, and the database must not be in use.
func (s *Service) Restore(ctx context.Context, snapshotPath string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if running {
		return fmt.Errorf("cannot restore while backup service is running")
	}

	if _, err := os.Stat(snapshotPath); err != nil {
		return fmt.Errorf("snapshot not found: %w", err)
	}

	// Keep a pre-restore copy of the current database for rollback.
	tempBackup := s.dbPath + ".pre-restore"
	if _, err := os.Stat(s.dbPath); err == nil {
		if err := snapshotSQLite(s.dbPath, tempBackup); err != nil {
			return fmt.Errorf("failed to create pre-restore snapshot: %w", err)
		}
		defer func() {
			_ = os.Remove(tempBackup)
		}()
	}

	if err := restoreSQLite(snapshotPath, s.dbPath); err != nil {
		if _, statErr := os.Stat(tempBackup); statErr == nil {
			if restoreErr := restoreSQLite(tempBackup, s.dbPath); restoreErr != nil {
				return fmt.Errorf("restore failed and rollback failed: %v (restore error: %w)", restoreErr, err)
			}
			return fmt.Errorf("restore failed, rolled back to previous state: %w", err)
		}
		return err
	}

	log.Printf("backup: database restored from %s", snapshotPath)
	return nil
}

// HealthCheck reports the current health of the backup service.
func (s *Service) HealthCheck() (*Health, error) {
	s.mu.Lock()
	lastRun := s.lastRun
	nextRun := s.nextRun
	s.mu.Unlock()

	snapshots, err := s.ListSnapshots()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	usage, err := diskUsage(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate disk usage: %w", err)
	}

	health := &Health{
		LastBackup:    lastRun,
		NextBackup:    nextRun,
		Total:         len(snapshots),
		Dir:           s.dir,
		DiskSpaceUsed: usage,
		Status:        "healthy",
	}

	switch {
	case lastRun.IsZero():
		health.Message = "No backups yet"
	case time.Since(lastRun) > s.interval*2:
		health.Status = "warning"
		health.Message = fmt.Sprintf("Backup overdue by %v", time.Since(lastRun)-s.interval)
	default:
		health.Message = fmt.Sprintf("Last backup: %v ago", time.Since(lastRun).Round(time.Minute))
	}

	return health, nil
}
