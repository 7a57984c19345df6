package models

import (
	"time"

	"gorm.io/datatypes"
)

// SweepRun records one billing conversion sweep for operators.
type SweepRun struct {
	ID uint64 `json:"id" gorm:"primaryKey;autoIncrement"` // Primary key.

	RunID   string `json:"run_id" gorm:"type:varchar(36);not null;uniqueIndex"` // Run identifier.
	Trigger string `json:"trigger" gorm:"type:varchar(16);not null"`            // cron, http or admin.

	StartedAt  time.Time `json:"started_at" gorm:"not null;index"` // Run start.
	FinishedAt time.Time `json:"finished_at" gorm:"not null"`      // Run end.

	WindowStart time.Time `json:"window_start" gorm:"not null"` // Inclusive lower bound on trial expiry.
	WindowEnd   time.Time `json:"window_end" gorm:"not null"`   // Exclusive upper bound on trial expiry.

	Candidates int `json:"candidates" gorm:"not null;default:0"` // Profiles selected.
	Succeeded  int `json:"succeeded" gorm:"not null;default:0"`  // Profiles converted.
	Failed     int `json:"failed" gorm:"not null;default:0"`     // Profiles left untouched.
	Expired    int `json:"expired" gorm:"not null;default:0"`    // Stale trials marked expired.

	Results datatypes.JSON `json:"results" gorm:"type:jsonb;not null;default:'[]'"` // Per-profile outcomes.

	CreatedAt time.Time `json:"created_at" gorm:"not null;autoCreateTime"` // Creation timestamp.
}
