// Package trial holds the subscription lifecycle state machine of a profile.
// It is pure: callers load a profile, apply an event and persist the result.
package trial

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/casedesk/casedesk-api/internal/models"
)

// ErrIllegalTransition is returned when an event is not accepted in the current state.
var ErrIllegalTransition = errors.New("trial: illegal transition")

// Event is a lifecycle event applied to a profile.
type Event string

// Event constants.
const (
	EventSignup               Event = "signup"
	EventEmailConfirmed       Event = "email_confirmed"
	EventTrialObservedExpired Event = "trial_observed_expired"
	EventPaymentConverted     Event = "payment_converted"
	EventPaymentCanceled      Event = "payment_canceled"
	EventAdminOverride        Event = "admin_override"
)

// Policy carries the trial parameters applied on email confirmation.
type Policy struct {
	TrialDuration time.Duration
	TrialLimit    int
}

// DefaultPolicy is a seven day trial limited to twenty records per entity kind.
var DefaultPolicy = Policy{TrialDuration: 7 * 24 * time.Hour, TrialLimit: 20}

func (p Policy) normalized() Policy {
	if p.TrialDuration <= 0 {
		p.TrialDuration = DefaultPolicy.TrialDuration
	}
	if p.TrialLimit <= 0 {
		p.TrialLimit = DefaultPolicy.TrialLimit
	}
	return p
}

// Input carries the event and its payload.
type Input struct {
	Event Event

	// Payment fields for EventPaymentConverted.
	CustomerID     string
	SubscriptionID string
	Plan           string

	// Target for EventAdminOverride; only active and inactive are accepted.
	Target models.SubscriptionStatus
}

// Transition is the result of applying an event.
type Transition struct {
	Event Event
	From  models.SubscriptionStatus
	To    models.SubscriptionStatus
	Next  models.Profile
	NoOp  bool
}

// Engine applies lifecycle events under a policy.
type Engine struct {
	policy Policy
}

// NewEngine constructs an Engine, filling unset policy fields with defaults.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy.normalized()}
}

// Policy returns the effective policy.
func (e *Engine) Policy() Policy {
	if e == nil {
		return DefaultPolicy
	}
	return e.policy
}

// DeriveStatus returns the effective status at now. A trial is valid on
// [confirmation, expiry); at the expiry instant it is already expired.
// Demo profiles are always active.
func DeriveStatus(p models.Profile, now time.Time) models.SubscriptionStatus {
	if p.IsDemo() {
		return models.StatusActive
	}
	if p.SubscriptionStatus == models.StatusTrialing && p.TrialExpiresAt != nil && !now.Before(*p.TrialExpiresAt) {
		return models.StatusTrialExpired
	}
	return p.SubscriptionStatus
}

// NewProfile builds the unconfirmed profile created on signup.
func NewProfile(id, email string, now time.Time) (models.Profile, error) {
	id = strings.TrimSpace(id)
	email = strings.TrimSpace(email)
	if id == "" || email == "" {
		return models.Profile{}, fmt.Errorf("trial: signup requires id and email")
	}
	now = now.UTC()
	return models.Profile{
		ID:                 id,
		Email:              strings.ToLower(email),
		Role:               models.RoleUser,
		SubscriptionStatus: models.StatusUnconfirmed,
		TrialLimit:         DefaultPolicy.TrialLimit,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Apply applies in to p at now using the default policy.
func Apply(p models.Profile, in Input, now time.Time) (Transition, error) {
	return NewEngine(DefaultPolicy).Apply(p, in, now)
}

// Apply applies in to p at now.
func (e *Engine) Apply(p models.Profile, in Input, now time.Time) (Transition, error) {
	policy := e.Policy()
	now = now.UTC()
	from := p.SubscriptionStatus
	derived := DeriveStatus(p, now)
	next := p
	next.UpdatedAt = now

	tr := Transition{Event: in.Event, From: from}

	switch in.Event {
	case EventSignup:
		return Transition{}, illegal(from, in.Event)

	case EventEmailConfirmed:
		if from != models.StatusUnconfirmed {
			return noOp(tr, p), nil
		}
		expires := now.Add(policy.TrialDuration)
		next.SubscriptionStatus = models.StatusTrialing
		next.TrialExpiresAt = &expires
		next.TrialLimit = policy.TrialLimit

	case EventTrialObservedExpired:
		if from == models.StatusTrialExpired {
			return noOp(tr, p), nil
		}
		if from != models.StatusTrialing || derived != models.StatusTrialExpired {
			return Transition{}, illegal(from, in.Event)
		}
		next.SubscriptionStatus = models.StatusTrialExpired

	case EventPaymentConverted:
		subscriptionID := strings.TrimSpace(in.SubscriptionID)
		if subscriptionID == "" {
			return Transition{}, fmt.Errorf("%w: %s requires a subscription id", ErrIllegalTransition, in.Event)
		}
		if from == models.StatusActive && models.StringValue(p.StripeSubscriptionID) == subscriptionID {
			return noOp(tr, p), nil
		}
		// Inactive profiles come back through a new checkout or a recovered subscription.
		if from != models.StatusTrialing && from != models.StatusTrialExpired && from != models.StatusInactive {
			return Transition{}, illegal(from, in.Event)
		}
		next.SubscriptionStatus = models.StatusActive
		next.StripeSubscriptionID = &subscriptionID
		next.SubscriptionPlan = models.StringPtr(in.Plan)
		if customerID := models.StringPtr(in.CustomerID); customerID != nil {
			next.StripeCustomerID = customerID
		}
		next.TrialExpiresAt = nil

	case EventPaymentCanceled:
		if from == models.StatusInactive {
			return noOp(tr, p), nil
		}
		if from != models.StatusActive {
			return Transition{}, illegal(from, in.Event)
		}
		next.SubscriptionStatus = models.StatusInactive
		next.SubscriptionPlan = nil

	case EventAdminOverride:
		switch in.Target {
		case models.StatusActive:
			if subscriptionID := models.StringPtr(in.SubscriptionID); subscriptionID != nil {
				next.StripeSubscriptionID = subscriptionID
			}
			if !p.IsDemo() && next.StripeSubscriptionID == nil {
				return Transition{}, fmt.Errorf("%w: override to active requires a subscription id", ErrIllegalTransition)
			}
			if plan := models.StringPtr(in.Plan); plan != nil {
				next.SubscriptionPlan = plan
			}
		case models.StatusInactive:
			next.SubscriptionPlan = nil
		default:
			return Transition{}, fmt.Errorf("%w: override target %q", ErrIllegalTransition, string(in.Target))
		}
		if from == in.Target &&
			models.StringValue(next.SubscriptionPlan) == models.StringValue(p.SubscriptionPlan) &&
			models.StringValue(next.StripeSubscriptionID) == models.StringValue(p.StripeSubscriptionID) {
			return noOp(tr, p), nil
		}
		next.SubscriptionStatus = in.Target
		next.TrialExpiresAt = nil

	default:
		return Transition{}, fmt.Errorf("%w: unknown event %q", ErrIllegalTransition, string(in.Event))
	}

	if errValidate := next.Validate(); errValidate != nil {
		return Transition{}, fmt.Errorf("%w: %v", ErrIllegalTransition, errValidate)
	}
	tr.To = next.SubscriptionStatus
	tr.Next = next
	return tr, nil
}

func noOp(tr Transition, p models.Profile) Transition {
	tr.To = p.SubscriptionStatus
	tr.Next = p
	tr.NoOp = true
	return tr
}

func illegal(from models.SubscriptionStatus, ev Event) error {
	return fmt.Errorf("%w: %s from %s", ErrIllegalTransition, ev, from)
}
