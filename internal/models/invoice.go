package models

import "time"

// InvoiceStatus represents the lifecycle of an invoice issued to a client.
type InvoiceStatus string

// InvoiceStatus constants.
const (
	InvoiceStatusDraft InvoiceStatus = "draft"
	InvoiceStatusSent  InvoiceStatus = "sent"
	InvoiceStatusPaid  InvoiceStatus = "paid"
	InvoiceStatusVoid  InvoiceStatus = "void"
)

// Valid reports whether s is a known invoice status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusVoid:
		return true
	default:
		return false
	}
}

// Invoice is a bill the practice issues to one of its clients.
type Invoice struct {
	ID uint64 `json:"id" gorm:"primaryKey;autoIncrement"` // Primary key.

	ProfileID string  `json:"profile_id" gorm:"type:varchar(64);not null;index"` // Owning tenant.
	ClientID  uint64  `json:"client_id" gorm:"not null;index"`                   // Billed client.
	CaseID    *uint64 `json:"case_id" gorm:"index"`                              // Related case.

	Number      string        `json:"number" gorm:"type:varchar(64);not null"`                 // Invoice number.
	AmountCents int64         `json:"amount_cents" gorm:"not null;default:0"`                  // Total in minor units.
	Currency    string        `json:"currency" gorm:"type:varchar(3);not null;default:'usd'"`  // ISO currency code.
	Status      InvoiceStatus `json:"status" gorm:"type:varchar(16);not null;default:'draft'"` // Invoice status.

	IssuedAt time.Time  `json:"issued_at" gorm:"not null"` // Issue date.
	DueAt    *time.Time `json:"due_at"`                    // Payment due date.

	CreatedAt time.Time `json:"created_at" gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
