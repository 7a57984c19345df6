package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SubscriptionStatus is the lifecycle state of a tenant profile.
type SubscriptionStatus string

// SubscriptionStatus constants define the closed set of lifecycle states.
const (
	// StatusUnconfirmed marks a signed-up user whose email is not yet confirmed.
	StatusUnconfirmed SubscriptionStatus = "unconfirmed"
	// StatusTrialing marks an active, time-boxed, count-limited trial.
	StatusTrialing SubscriptionStatus = "trialing"
	// StatusTrialExpired marks a trial whose expiry has passed without conversion.
	StatusTrialExpired SubscriptionStatus = "trial_expired"
	// StatusActive marks a paying (or demo) account.
	StatusActive SubscriptionStatus = "active"
	// StatusInactive marks a canceled or lapsed subscription.
	StatusInactive SubscriptionStatus = "inactive"
)

var subscriptionStatuses = []SubscriptionStatus{
	StatusUnconfirmed,
	StatusTrialing,
	StatusTrialExpired,
	StatusActive,
	StatusInactive,
}

// SubscriptionStatuses returns every known status in lifecycle order.
func SubscriptionStatuses() []SubscriptionStatus {
	out := make([]SubscriptionStatus, len(subscriptionStatuses))
	copy(out, subscriptionStatuses)
	return out
}

// Valid reports whether s is one of the known statuses.
func (s SubscriptionStatus) Valid() bool {
	for _, known := range subscriptionStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSubscriptionStatus parses a status string, rejecting unknown values.
func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	status := SubscriptionStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("models: unknown subscription status %q", raw)
	}
	return status, nil
}

// Value implements driver.Valuer.
func (s SubscriptionStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("models: unknown subscription status %q", string(s))
	}
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *SubscriptionStatus) Scan(src any) error {
	raw, errRaw := scanString(src)
	if errRaw != nil {
		return fmt.Errorf("models: scan subscription status: %w", errRaw)
	}
	parsed, errParse := ParseSubscriptionStatus(raw)
	if errParse != nil {
		return errParse
	}
	*s = parsed
	return nil
}

// UnmarshalText rejects unknown statuses when decoding JSON or form input.
func (s *SubscriptionStatus) UnmarshalText(text []byte) error {
	parsed, errParse := ParseSubscriptionStatus(string(text))
	if errParse != nil {
		return errParse
	}
	*s = parsed
	return nil
}

// Role is the application role of a profile.
type Role string

// Role constants define the closed set of roles.
const (
	// RoleUser is a regular tenant.
	RoleUser Role = "user"
	// RoleAdmin can inspect profiles and override subscription state.
	RoleAdmin Role = "admin"
	// RoleDemo is a permanent read-only showcase account.
	RoleDemo Role = "demo"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleDemo:
		return true
	default:
		return false
	}
}

// ParseRole parses a role string, rejecting unknown values.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("models: unknown role %q", raw)
	}
	return role, nil
}

// Value implements driver.Valuer.
func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("models: unknown role %q", string(r))
	}
	return string(r), nil
}

// Scan implements sql.Scanner.
func (r *Role) Scan(src any) error {
	raw, errRaw := scanString(src)
	if errRaw != nil {
		return fmt.Errorf("models: scan role: %w", errRaw)
	}
	parsed, errParse := ParseRole(raw)
	if errParse != nil {
		return errParse
	}
	*r = parsed
	return nil
}

// UnmarshalText rejects unknown roles when decoding JSON or form input.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, errParse := ParseRole(string(text))
	if errParse != nil {
		return errParse
	}
	*r = parsed
	return nil
}

func scanString(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", errors.New("null value")
	default:
		return "", fmt.Errorf("unsupported type %T", src)
	}
}

// Profile is the per-tenant subscription record keyed by the identity provider's user id.
type Profile struct {
	ID    string `gorm:"primaryKey;type:varchar(64)"`              // Identity provider user id.
	Email string `gorm:"type:varchar(320);not null;uniqueIndex"` // Login email.

	Role Role `gorm:"type:varchar(16);not null;default:'user'"` // Application role.

	SubscriptionStatus SubscriptionStatus `gorm:"type:varchar(32);not null;index:idx_profiles_status_expiry,priority:1"` // Stored lifecycle state.
	SubscriptionPlan   *string            `gorm:"type:varchar(64)"`                                                     // Paid plan identifier.

	TrialExpiresAt *time.Time `gorm:"index:idx_profiles_status_expiry,priority:2"` // Exclusive end of the trial.
	TrialLimit     int        `gorm:"not null;default:20"`                         // Max records per entity kind while trialing.

	StripeCustomerID     *string `gorm:"type:varchar(255);uniqueIndex"` // Payment provider customer id.
	StripeSubscriptionID *string `gorm:"type:varchar(255);uniqueIndex"` // Payment provider subscription id.

	ConversionAttempts int `gorm:"not null;default:0"` // Conversions the provider answered with an error.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsDemo reports whether the profile is the read-only demo account.
func (p Profile) IsDemo() bool { return p.Role == RoleDemo }

// Validate checks the cross-field invariants of a profile.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("profile: missing id")
	}
	if !p.SubscriptionStatus.Valid() {
		return fmt.Errorf("profile: unknown status %q", string(p.SubscriptionStatus))
	}
	if !p.Role.Valid() {
		return fmt.Errorf("profile: unknown role %q", string(p.Role))
	}
	inTrial := p.SubscriptionStatus == StatusTrialing || p.SubscriptionStatus == StatusTrialExpired
	if inTrial && p.TrialExpiresAt == nil {
		return fmt.Errorf("profile: status %s requires trial_expires_at", p.SubscriptionStatus)
	}
	if !inTrial && p.TrialExpiresAt != nil {
		return fmt.Errorf("profile: status %s must not carry trial_expires_at", p.SubscriptionStatus)
	}
	if p.SubscriptionStatus == StatusActive && !p.IsDemo() && strings.TrimSpace(StringValue(p.StripeSubscriptionID)) == "" {
		return errors.New("profile: active status requires a subscription id")
	}
	if p.TrialLimit < 0 {
		return errors.New("profile: negative trial limit")
	}
	return nil
}

// StringValue dereferences an optional string.
func StringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// StringPtr returns nil for blank input and a trimmed pointer otherwise.
func StringPtr(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
