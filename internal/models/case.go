package models

import "time"

// CaseStatus represents the lifecycle of a legal matter.
type CaseStatus string

// CaseStatus constants.
const (
	CaseStatusOpen    CaseStatus = "open"
	CaseStatusPending CaseStatus = "pending"
	CaseStatusClosed  CaseStatus = "closed"
)

// Valid reports whether s is a known case status.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusOpen, CaseStatusPending, CaseStatusClosed:
		return true
	default:
		return false
	}
}

// Case is a legal matter handled for a client.
type Case struct {
	ID uint64 `json:"id" gorm:"primaryKey;autoIncrement"` // Primary key.

	ProfileID string  `json:"profile_id" gorm:"type:varchar(64);not null;index"` // Owning tenant.
	ClientID  *uint64 `json:"client_id" gorm:"index"`                            // Related client.

	Title       string     `json:"title" gorm:"type:varchar(255);not null"`                // Matter title.
	Reference   string     `json:"reference" gorm:"type:varchar(128)"`                     // Court or internal reference.
	Status      CaseStatus `json:"status" gorm:"type:varchar(16);not null;default:'open'"` // Matter status.
	Description string     `json:"description" gorm:"type:text"`                           // Summary.

	OpenedAt time.Time  `json:"opened_at" gorm:"not null"` // Date the matter was opened.
	ClosedAt *time.Time `json:"closed_at"`                 // Date the matter was closed.

	CreatedAt time.Time `json:"created_at" gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
