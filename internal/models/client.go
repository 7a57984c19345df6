package models

import "time"

// Client is a person or organization represented by the practice.
type Client struct {
	ID uint64 `json:"id" gorm:"primaryKey;autoIncrement"` // Primary key.

	ProfileID string `json:"profile_id" gorm:"type:varchar(64);not null;index"` // Owning tenant.

	Name    string `json:"name" gorm:"type:varchar(255);not null"` // Display name.
	Email   string `json:"email" gorm:"type:varchar(320)"`         // Contact email.
	Phone   string `json:"phone" gorm:"type:varchar(64)"`          // Contact phone.
	Company string `json:"company" gorm:"type:varchar(255)"`       // Company name.
	Notes   string `json:"notes" gorm:"type:text"`                 // Free-form notes.

	CreatedAt time.Time `json:"created_at" gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
