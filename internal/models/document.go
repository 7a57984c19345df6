package models

import (
	"time"

	"gorm.io/datatypes"
)

// Document is metadata for a file kept by the practice. Bytes live in external storage.
type Document struct {
	ID uint64 `json:"id" gorm:"primaryKey;autoIncrement"` // Primary key.

	ProfileID string  `json:"profile_id" gorm:"type:varchar(64);not null;index"` // Owning tenant.
	CaseID    *uint64 `json:"case_id" gorm:"index"`                              // Related case.

	Name        string         `json:"name" gorm:"type:varchar(255);not null"`        // File name.
	ContentType string         `json:"content_type" gorm:"type:varchar(128)"`         // MIME type.
	SizeBytes   int64          `json:"size_bytes" gorm:"not null;default:0"`          // File size.
	StorageKey  string         `json:"storage_key" gorm:"type:varchar(512);not null"` // Opaque object storage key.
	Tags        datatypes.JSON `json:"tags" gorm:"type:jsonb;not null;default:'[]'"`  // Free-form tag list.

	CreatedAt time.Time `json:"created_at" gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
