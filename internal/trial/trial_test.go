package trial

import (
	"errors"
	"testing"
	"time"

	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func trialingProfile(expires time.Time) models.Profile {
	return models.Profile{
		ID:                 "user-1",
		Email:              "a@example.com",
		Role:               models.RoleUser,
		SubscriptionStatus: models.StatusTrialing,
		TrialExpiresAt:     &expires,
		TrialLimit:         20,
	}
}

func TestDeriveStatus(t *testing.T) {
	expires := t0.Add(7 * 24 * time.Hour)
	p := trialingProfile(expires)

	tests := []struct {
		name string
		now  time.Time
		want models.SubscriptionStatus
	}{
		{"before expiry", expires.Add(-time.Second), models.StatusTrialing},
		{"at expiry", expires, models.StatusTrialExpired},
		{"after expiry", expires.Add(time.Second), models.StatusTrialExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(p, tt.now))
			// Same inputs, same answer.
			assert.Equal(t, DeriveStatus(p, tt.now), DeriveStatus(p, tt.now))
		})
	}
}

func TestDeriveStatus_DemoIsAlwaysActive(t *testing.T) {
	p := trialingProfile(t0)
	p.Role = models.RoleDemo
	assert.Equal(t, models.StatusActive, DeriveStatus(p, t0.Add(time.Hour)))
}

func TestDeriveStatus_NonTrialStatusesPassThrough(t *testing.T) {
	for _, status := range []models.SubscriptionStatus{models.StatusUnconfirmed, models.StatusActive, models.StatusInactive} {
		p := models.Profile{ID: "u", Role: models.RoleUser, SubscriptionStatus: status}
		assert.Equal(t, status, DeriveStatus(p, t0))
	}
}

func TestApply_EmailConfirmedStartsTrial(t *testing.T) {
	p, err := NewProfile("user-1", "A@Example.com", t0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnconfirmed, p.SubscriptionStatus)
	assert.Equal(t, "a@example.com", p.Email)

	tr, err := Apply(p, Input{Event: EventEmailConfirmed}, t0)
	require.NoError(t, err)
	assert.False(t, tr.NoOp)
	assert.Equal(t, models.StatusUnconfirmed, tr.From)
	assert.Equal(t, models.StatusTrialing, tr.To)
	require.NotNil(t, tr.Next.TrialExpiresAt)
	assert.True(t, tr.Next.TrialExpiresAt.Equal(t0.Add(7*24*time.Hour)))
	assert.Equal(t, 20, tr.Next.TrialLimit)
}

func TestApply_EmailConfirmedIsIdempotent(t *testing.T) {
	p, err := NewProfile("user-1", "a@example.com", t0)
	require.NoError(t, err)

	first, err := Apply(p, Input{Event: EventEmailConfirmed}, t0)
	require.NoError(t, err)

	second, err := Apply(first.Next, Input{Event: EventEmailConfirmed}, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, second.NoOp)
	assert.Equal(t, first.Next.TrialExpiresAt, second.Next.TrialExpiresAt)
	assert.Equal(t, models.StatusTrialing, second.To)
}

func TestApply_CustomPolicy(t *testing.T) {
	engine := NewEngine(Policy{TrialDuration: 48 * time.Hour, TrialLimit: 5})
	p, err := NewProfile("user-1", "a@example.com", t0)
	require.NoError(t, err)

	tr, err := engine.Apply(p, Input{Event: EventEmailConfirmed}, t0)
	require.NoError(t, err)
	assert.True(t, tr.Next.TrialExpiresAt.Equal(t0.Add(48*time.Hour)))
	assert.Equal(t, 5, tr.Next.TrialLimit)
}

func TestApply_TrialObservedExpired(t *testing.T) {
	expires := t0.Add(time.Hour)
	p := trialingProfile(expires)

	_, err := Apply(p, Input{Event: EventTrialObservedExpired}, t0)
	require.ErrorIs(t, err, ErrIllegalTransition)

	tr, err := Apply(p, Input{Event: EventTrialObservedExpired}, expires.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.StatusTrialExpired, tr.To)
	assert.Equal(t, p.TrialExpiresAt, tr.Next.TrialExpiresAt)
}

func TestApply_PaymentConvertedFromTrial(t *testing.T) {
	for _, status := range []models.SubscriptionStatus{models.StatusTrialing, models.StatusTrialExpired} {
		p := trialingProfile(t0)
		p.SubscriptionStatus = status

		tr, err := Apply(p, Input{
			Event:          EventPaymentConverted,
			CustomerID:     "cus_1",
			SubscriptionID: "sub_1",
			Plan:           "basic",
		}, t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, tr.To)
		assert.Nil(t, tr.Next.TrialExpiresAt)
		assert.Equal(t, "sub_1", models.StringValue(tr.Next.StripeSubscriptionID))
		assert.Equal(t, "cus_1", models.StringValue(tr.Next.StripeCustomerID))
		assert.Equal(t, "basic", models.StringValue(tr.Next.SubscriptionPlan))
		require.NoError(t, tr.Next.Validate())
	}
}

func TestApply_PaymentConvertedReplayIsNoOp(t *testing.T) {
	p := trialingProfile(t0)
	tr, err := Apply(p, Input{Event: EventPaymentConverted, SubscriptionID: "sub_1", Plan: "basic"}, t0)
	require.NoError(t, err)

	replay, err := Apply(tr.Next, Input{Event: EventPaymentConverted, SubscriptionID: "sub_1", Plan: "basic"}, t0)
	require.NoError(t, err)
	assert.True(t, replay.NoOp)

	_, err = Apply(tr.Next, Input{Event: EventPaymentConverted, SubscriptionID: "sub_2"}, t0)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestApply_PaymentConvertedReactivatesInactive(t *testing.T) {
	oldSubscription := "sub_old"
	p := models.Profile{
		ID:                   "user-1",
		Role:                 models.RoleUser,
		SubscriptionStatus:   models.StatusInactive,
		StripeCustomerID:     models.StringPtr("cus_1"),
		StripeSubscriptionID: &oldSubscription,
	}
	tr, err := Apply(p, Input{Event: EventPaymentConverted, SubscriptionID: "sub_new", Plan: "pro"}, t0)
	require.NoError(t, err)
	assert.False(t, tr.NoOp)
	assert.Equal(t, models.StatusInactive, tr.From)
	assert.Equal(t, models.StatusActive, tr.To)
	assert.Equal(t, "sub_new", models.StringValue(tr.Next.StripeSubscriptionID))
	assert.Equal(t, "cus_1", models.StringValue(tr.Next.StripeCustomerID))
	assert.Equal(t, "pro", models.StringValue(tr.Next.SubscriptionPlan))
	assert.Nil(t, tr.Next.TrialExpiresAt)
}

func TestApply_PaymentCanceled(t *testing.T) {
	subscriptionID := "sub_1"
	plan := "basic"
	p := models.Profile{
		ID:                   "user-1",
		Role:                 models.RoleUser,
		SubscriptionStatus:   models.StatusActive,
		SubscriptionPlan:     &plan,
		StripeSubscriptionID: &subscriptionID,
	}
	tr, err := Apply(p, Input{Event: EventPaymentCanceled}, t0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, tr.To)
	assert.Nil(t, tr.Next.SubscriptionPlan)

	again, err := Apply(tr.Next, Input{Event: EventPaymentCanceled}, t0)
	require.NoError(t, err)
	assert.True(t, again.NoOp)
}

func TestApply_IllegalTransitions(t *testing.T) {
	unconfirmed, err := NewProfile("user-1", "a@example.com", t0)
	require.NoError(t, err)

	cases := []struct {
		name string
		p    models.Profile
		in   Input
	}{
		{"signup on existing profile", unconfirmed, Input{Event: EventSignup}},
		{"convert unconfirmed", unconfirmed, Input{Event: EventPaymentConverted, SubscriptionID: "sub_1"}},
		{"cancel trialing", trialingProfile(t0.Add(time.Hour)), Input{Event: EventPaymentCanceled}},
		{"convert without subscription", trialingProfile(t0), Input{Event: EventPaymentConverted}},
		{"override to trialing", unconfirmed, Input{Event: EventAdminOverride, Target: models.StatusTrialing}},
		{"override active without subscription", unconfirmed, Input{Event: EventAdminOverride, Target: models.StatusActive}},
		{"unknown event", unconfirmed, Input{Event: "bogus"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, errApply := Apply(tc.p, tc.in, t0)
			require.Error(t, errApply)
			assert.True(t, errors.Is(errApply, ErrIllegalTransition))
		})
	}
}

func TestApply_AdminOverride(t *testing.T) {
	p := trialingProfile(t0.Add(time.Hour))

	tr, err := Apply(p, Input{Event: EventAdminOverride, Target: models.StatusActive, SubscriptionID: "sub_manual", Plan: "basic"}, t0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, tr.To)
	assert.Nil(t, tr.Next.TrialExpiresAt)

	off, err := Apply(tr.Next, Input{Event: EventAdminOverride, Target: models.StatusInactive}, t0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, off.To)

	same, err := Apply(off.Next, Input{Event: EventAdminOverride, Target: models.StatusInactive}, t0)
	require.NoError(t, err)
	assert.True(t, same.NoOp)
}

func TestApply_AdminOverrideDemoWithoutSubscription(t *testing.T) {
	p := models.Profile{ID: "demo", Role: models.RoleDemo, SubscriptionStatus: models.StatusInactive}
	tr, err := Apply(p, Input{Event: EventAdminOverride, Target: models.StatusActive}, t0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, tr.To)
}
