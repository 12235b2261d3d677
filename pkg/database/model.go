package database

import (
	"time"
)

// Checkpoint represents a record in the public.checkpoints table. One row is
// written per exported corpus snapshot; resuming a run picks the newest row
// for its run id.
type Checkpoint struct {
	ID        int       `gorm:"primaryKey;column:id"`
	RunID     string    `gorm:"column:run_id;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;default:now()"`
	Path      string    `gorm:"column:path;not null"`
	Samples   int       `gorm:"column:samples"`
	SizeBytes int64     `gorm:"column:size_bytes"`
	Instance  string    `gorm:"column:instance"`
}

func (Checkpoint) TableName() string {
	return "checkpoints"
}
