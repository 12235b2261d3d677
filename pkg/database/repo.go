package database

import (
	"context"
	"errors"
	"os"
	"time"

	"gorm.io/gorm"
)

var ErrNoCheckpoint = errors.New("no checkpoint recorded for run")

// inserts a single checkpoint record into the database
func AddCheckpoint(ctx context.Context, db *gorm.DB, cp *Checkpoint) error {
	if cp == nil {
		return nil
	}
	return db.WithContext(ctx).Create(cp).Error
}

// LatestCheckpoint returns the newest checkpoint recorded for runID.
func LatestCheckpoint(ctx context.Context, db *gorm.DB, runID string) (*Checkpoint, error) {
	var cp Checkpoint
	err := db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at DESC").
		First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// NewCheckpoint creates a new Checkpoint object with the provided parameters
func NewCheckpoint(runID, path string, samples int, sizeBytes int64) *Checkpoint {
	hostname, _ := os.Hostname()
	return &Checkpoint{
		RunID:     runID,
		CreatedAt: time.Now(),
		Path:      path,
		Samples:   samples,
		SizeBytes: sizeBytes,
		Instance:  hostname,
	}
}
