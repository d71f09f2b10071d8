// Package backup provides automated timeline database backups with tiered
// retention policies and integrity verification.
package backup

import (
	"time"
)

// Config holds backup service configuration.
type Config struct {
	// DBPath is the path to the SQLite timeline database to back up
	DBPath string

	// Dir is the directory where snapshots are stored
	Dir string

	// Interval is the duration between automated backups (default: 1 hour)
	Interval time.Duration

	// Retention defines how many snapshots to keep per tier
	Retention Retention

	// Verify enables integrity checking after each backup
	Verify bool
}

// Retention defines how many snapshots to keep at each tier.
// Snapshots are categorized by age:
// - Hourly: less than 24 hours old
// - Daily: between 1 and 7 days old
// - Weekly: between 7 and 30 days old
// - Monthly: between 30 and 365 days old
// Snapshots older than a year are always removed.
type Retention struct {
	Hourly  int // hourly snapshots to keep (default: 24)
	Daily   int // daily snapshots to keep (default: 7)
	Weekly  int // weekly snapshots to keep (default: 4)
	Monthly int // monthly snapshots to keep (default: 12)
}

// Snapshot contains metadata about a backup file.
type Snapshot struct {
	Path      string
	Timestamp time.Time
	Size      int64
	Verified  bool
}

// Result contains the outcome of a single backup run.
type Result struct {
	Path     string
	Duration time.Duration
	Size     int64
	Verified bool
	Err      error
}

// Health represents the health of the backup service.
type Health struct {
	// Status is "healthy", "warning", or "error"
	Status string

	// Message provides additional context about the status
	Message string

	LastBackup time.Time
	NextBackup time.Time

	// Total is the number of snapshots currently stored
	Total int

	Dir string

	// DiskSpaceUsed is total bytes used by all snapshots
	DiskSpaceUsed int64
}
