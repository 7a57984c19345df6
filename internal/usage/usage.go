// Package usage decides whether a profile may create or modify tenant records.
package usage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/trial"
)

// EntityKind names a trial-limited record type.
type EntityKind string

// EntityKind constants.
const (
	KindClient   EntityKind = "client"
	KindCase     EntityKind = "case"
	KindDocument EntityKind = "document"
)

// Kinds returns every limited entity kind.
func Kinds() []EntityKind {
	return []EntityKind{KindClient, KindCase, KindDocument}
}

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindClient, KindCase, KindDocument:
		return true
	default:
		return false
	}
}

// ParseKind parses a kind name.
func ParseKind(raw string) (EntityKind, error) {
	kind := EntityKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", fmt.Errorf("usage: unknown entity kind %q", raw)
	}
	return kind, nil
}

// Reason explains a denial.
type Reason string

// Reason constants.
const (
	ReasonNone         Reason = ""
	ReasonLimitReached Reason = "limit_reached"
	ReasonTrialExpired Reason = "trial_expired"
	ReasonInactive     Reason = "inactive"
	ReasonReadOnly     Reason = "read_only"
	ReasonUnconfirmed  Reason = "unconfirmed"
)

// Admission errors. Every denial error wraps ErrAdmissionDenied.
var (
	ErrAdmissionDenied = errors.New("usage: admission denied")
	ErrLimitReached    = fmt.Errorf("%w: trial limit reached", ErrAdmissionDenied)
	ErrTrialExpired    = fmt.Errorf("%w: trial expired", ErrAdmissionDenied)
	ErrInactive        = fmt.Errorf("%w: subscription inactive", ErrAdmissionDenied)
	ErrReadOnly        = fmt.Errorf("%w: read-only account", ErrAdmissionDenied)
	ErrUnconfirmed     = fmt.Errorf("%w: email not confirmed", ErrAdmissionDenied)
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason Reason) Decision { return Decision{Reason: reason} }

// Err returns nil for allowed decisions and the typed denial error otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonLimitReached:
		return ErrLimitReached
	case ReasonTrialExpired:
		return ErrTrialExpired
	case ReasonInactive:
		return ErrInactive
	case ReasonReadOnly:
		return ErrReadOnly
	case ReasonUnconfirmed:
		return ErrUnconfirmed
	default:
		return ErrAdmissionDenied
	}
}

// ReasonOf maps a denial error back to its reason.
func ReasonOf(err error) (Reason, bool) {
	switch {
	case errors.Is(err, ErrLimitReached):
		return ReasonLimitReached, true
	case errors.Is(err, ErrTrialExpired):
		return ReasonTrialExpired, true
	case errors.Is(err, ErrInactive):
		return ReasonInactive, true
	case errors.Is(err, ErrReadOnly):
		return ReasonReadOnly, true
	case errors.Is(err, ErrUnconfirmed):
		return ReasonUnconfirmed, true
	case errors.Is(err, ErrAdmissionDenied):
		return ReasonNone, true
	default:
		return ReasonNone, false
	}
}

// UpgradeRequired reports whether paying would lift the denial.
func (r Reason) UpgradeRequired() bool {
	switch r {
	case ReasonLimitReached, ReasonTrialExpired, ReasonInactive:
		return true
	default:
		return false
	}
}

// CanWrite decides whether p may modify existing records at now.
func CanWrite(p models.Profile, now time.Time) Decision {
	if p.IsDemo() {
		return deny(ReasonReadOnly)
	}
	switch trial.DeriveStatus(p, now) {
	case models.StatusActive, models.StatusTrialing:
		return allow()
	case models.StatusTrialExpired:
		return deny(ReasonTrialExpired)
	case models.StatusInactive:
		return deny(ReasonInactive)
	case models.StatusUnconfirmed:
		return deny(ReasonUnconfirmed)
	default:
		return deny(ReasonInactive)
	}
}

// CanCreate decides whether p may create one more record of a kind it already
// holds currentCount of. Counts are per kind.
func CanCreate(p models.Profile, currentCount int64, now time.Time) Decision {
	write := CanWrite(p, now)
	if !write.Allowed {
		return write
	}
	if trial.DeriveStatus(p, now) != models.StatusTrialing {
		return allow()
	}
	if currentCount >= int64(p.TrialLimit) {
		return deny(ReasonLimitReached)
	}
	return allow()
}

// Remaining returns how many more records of one kind a trialing profile may
// create; -1 means unlimited.
func Remaining(p models.Profile, currentCount int64, now time.Time) int64 {
	if !CanWrite(p, now).Allowed {
		return 0
	}
	if trial.DeriveStatus(p, now) != models.StatusTrialing {
		return -1
	}
	left := int64(p.TrialLimit) - currentCount
	if left < 0 {
		return 0
	}
	return left
}
