package sweeper

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/casedesk/casedesk-api/internal/db"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/payment"
	"github.com/casedesk/casedesk-api/internal/store"
	"github.com/casedesk/casedesk-api/internal/trial"
	"github.com/casedesk/casedesk-api/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu            sync.Mutex
	failFor       map[string]bool
	timeoutFor    map[string]bool
	customers     map[string]int
	subscriptions map[string]string
	subCalls      int
	requests      []payment.SubscriptionRequest

	// When set, CreateSubscription signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		failFor:       map[string]bool{},
		timeoutFor:    map[string]bool{},
		customers:     map[string]int{},
		subscriptions: map[string]string{},
	}
}

func (f *fakeProvider) setFailing(profileID string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFor[profileID] = failing
}

func (f *fakeProvider) CreateCustomer(_ context.Context, _ string, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profileID := metadata["profile_id"]
	f.customers[profileID]++
	return "cus_" + profileID, nil
}

func (f *fakeProvider) CreateSubscription(_ context.Context, req payment.SubscriptionRequest) (string, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	f.requests = append(f.requests, req)
	if f.failFor[req.Metadata["profile_id"]] {
		return "", &payment.ResponseError{StatusCode: 402, Code: "card_declined", Err: errors.New("card_declined")}
	}
	if f.timeoutFor[req.Metadata["profile_id"]] {
		return "", context.DeadlineExceeded
	}
	if id, ok := f.subscriptions[req.IdempotencyKey]; ok {
		return id, nil
	}
	id := fmt.Sprintf("sub_%d", len(f.subscriptions)+1)
	f.subscriptions[req.IdempotencyKey] = id
	return id, nil
}

func (f *fakeProvider) CancelSubscription(context.Context, string) error { return nil }

func (f *fakeProvider) GetSubscription(context.Context, string) (payment.SubscriptionStatus, error) {
	return payment.SubscriptionActive, nil
}

type fixture struct {
	profiles *store.ProfileStore
	runs     *store.SweepRunStore
	provider *fakeProvider
	sweeper  *Sweeper
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "sweeper.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	if opts.PriceID == "" {
		opts.PriceID = "price_basic"
	}
	if opts.Plan == "" {
		opts.Plan = "basic"
	}
	f := &fixture{
		profiles: store.NewProfileStore(conn),
		runs:     store.NewSweepRunStore(conn),
		provider: newFakeProvider(),
	}
	f.sweeper = New(f.profiles, f.runs, f.provider, trial.NewEngine(trial.DefaultPolicy), opts)
	return f
}

func (f *fixture) seed(t *testing.T, id string, signupAt, confirmedAt time.Time) models.Profile {
	t.Helper()
	ctx := context.Background()
	p, err := trial.NewProfile(id, id+"@example.com", signupAt)
	require.NoError(t, err)
	_, err = f.profiles.Create(ctx, p)
	require.NoError(t, err)
	tr, err := trial.Apply(p, trial.Input{Event: trial.EventEmailConfirmed}, confirmedAt)
	require.NoError(t, err)
	require.NoError(t, f.profiles.ApplyTransition(ctx, tr))
	return tr.Next
}

func (f *fixture) get(t *testing.T, id string) models.Profile {
	t.Helper()
	p, err := f.profiles.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

var t1 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestSweep_FullLifecycle(t *testing.T) {
	f := newFixture(t, Options{})
	t0 := t1.Add(-time.Hour)
	f.seed(t, "u1", t0, t1)

	p := f.get(t, "u1")
	assert.Equal(t, models.StatusTrialing, p.SubscriptionStatus)
	require.NotNil(t, p.TrialExpiresAt)
	assert.True(t, p.TrialExpiresAt.Equal(t1.Add(7*24*time.Hour)))
	assert.True(t, usage.CanCreate(p, 0, t1.Add(time.Hour)).Allowed)

	justAfter := t1.Add(7*24*time.Hour + time.Second)
	assert.Equal(t, models.StatusTrialExpired, trial.DeriveStatus(p, justAfter))
	d := usage.CanCreate(p, 0, justAfter)
	assert.False(t, d.Allowed)
	assert.Equal(t, usage.ReasonTrialExpired, d.Reason)

	sweepAt := t1.Add(7*24*time.Hour + 30*time.Minute)
	report, err := f.sweeper.Sweep(context.Background(), sweepAt)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomeSuccess, report.Results[0].Outcome)

	p = f.get(t, "u1")
	assert.Equal(t, models.StatusActive, p.SubscriptionStatus)
	assert.Equal(t, "basic", models.StringValue(p.SubscriptionPlan))
	assert.Equal(t, "cus_u1", models.StringValue(p.StripeCustomerID))
	assert.Equal(t, "sub_1", models.StringValue(p.StripeSubscriptionID))
	assert.Nil(t, p.TrialExpiresAt)
	assert.True(t, usage.CanCreate(p, 500, sweepAt).Allowed)

	require.Len(t, f.provider.requests, 1)
	req := f.provider.requests[0]
	assert.Equal(t, "price_basic", req.PriceID)
	assert.True(t, req.TrialEnd.Equal(sweepAt))
	assert.Equal(t, ConversionKey("u1", t1.Add(7*24*time.Hour), 0), req.IdempotencyKey)

	run, err := f.runs.Get(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Candidates)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, string(TriggerHTTP), run.Trigger)
}

func TestSweep_TwiceCreatesOneSubscription(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "u1", t1, t1)
	sweepAt := t1.Add(7*24*time.Hour + 10*time.Minute)

	first, err := f.sweeper.Sweep(context.Background(), sweepAt)
	require.NoError(t, err)
	require.Len(t, first.Results, 1)

	second, err := f.sweeper.Sweep(context.Background(), sweepAt.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, second.Results)

	assert.Equal(t, 1, f.provider.subCalls)
	assert.Equal(t, 1, f.provider.customers["u1"])
}

func TestSweep_FailedProfileStaysTrialingAndIsRetried(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "ok", t1, t1)
	f.seed(t, "declined", t1, t1)
	f.provider.setFailing("declined", true)
	sweepAt := t1.Add(7*24*time.Hour + 10*time.Minute)

	report, err := f.sweeper.Sweep(context.Background(), sweepAt)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, 1, report.Succeeded())
	assert.Equal(t, 1, report.Failed())

	assert.Equal(t, models.StatusActive, f.get(t, "ok").SubscriptionStatus)
	declined := f.get(t, "declined")
	assert.Equal(t, models.StatusTrialing, declined.SubscriptionStatus)
	assert.Equal(t, "cus_declined", models.StringValue(declined.StripeCustomerID))
	assert.Nil(t, declined.StripeSubscriptionID)

	f.provider.setFailing("declined", false)
	retry, err := f.sweeper.Sweep(context.Background(), sweepAt.Add(20*time.Minute))
	require.NoError(t, err)
	require.Len(t, retry.Results, 1)
	assert.Equal(t, "declined", retry.Results[0].ProfileID)
	assert.Equal(t, OutcomeSuccess, retry.Results[0].Outcome)

	assert.Equal(t, models.StatusActive, f.get(t, "declined").SubscriptionStatus)
	assert.Equal(t, 1, f.provider.customers["declined"])
}

func TestSweep_MarksTrialsOutsideWindowExpired(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "abandoned", t1, t1)
	sweepAt := t1.Add(7*24*time.Hour + 3*time.Hour)

	report, err := f.sweeper.Sweep(context.Background(), sweepAt)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 0, f.provider.subCalls)

	p := f.get(t, "abandoned")
	assert.Equal(t, models.StatusTrialExpired, p.SubscriptionStatus)
	assert.NotNil(t, p.TrialExpiresAt)
}

func TestSweep_BoundedConcurrency(t *testing.T) {
	f := newFixture(t, Options{MaxConcurrency: 3})
	for i := 0; i < 6; i++ {
		f.seed(t, fmt.Sprintf("u%d", i), t1, t1.Add(time.Duration(i)*time.Minute))
	}
	report, err := f.sweeper.Sweep(context.Background(), t1.Add(7*24*time.Hour+30*time.Minute))
	require.NoError(t, err)
	require.Len(t, report.Results, 6)
	assert.Equal(t, 6, report.Succeeded())
	assert.Equal(t, 6, f.provider.subCalls)
}

func TestSweep_MissingPriceFailsEveryProfile(t *testing.T) {
	f := newFixture(t, Options{})
	f.sweeper.opts.PriceID = ""
	f.seed(t, "u1", t1, t1)

	report, err := f.sweeper.Sweep(context.Background(), t1.Add(7*24*time.Hour+time.Minute))
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomeError, report.Results[0].Outcome)
	assert.Equal(t, models.StatusTrialing, f.get(t, "u1").SubscriptionStatus)
}

func TestSweep_CandidateQueryFailure(t *testing.T) {
	f := newFixture(t, Options{})
	sqlDB, err := f.profiles.DB().DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = f.sweeper.Sweep(context.Background(), t1)
	assert.Error(t, err)
}

func TestSweep_TriggerIsRecorded(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := WithTrigger(context.Background(), TriggerAdmin)
	report, err := f.sweeper.Sweep(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, TriggerAdmin, report.Trigger)

	runs, err := f.runs.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "admin", runs[0].Trigger)
}

func TestConversionKeyIsStable(t *testing.T) {
	exp := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "convert-u1-"+fmt.Sprint(exp.Unix()), ConversionKey("u1", exp, 0))
	assert.Equal(t, ConversionKey("u1", exp, 0), ConversionKey("u1", exp.In(time.FixedZone("x", 3600)), 0))
	assert.Equal(t, "convert-u1-"+fmt.Sprint(exp.Unix())+"-r2", ConversionKey("u1", exp, 2))
}

func TestSweep_ProviderRejectionMovesToFreshKey(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "declined", t1, t1)
	f.provider.setFailing("declined", true)
	expires := t1.Add(7 * 24 * time.Hour)

	_, err := f.sweeper.Sweep(context.Background(), expires.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, f.get(t, "declined").ConversionAttempts)

	f.provider.setFailing("declined", false)
	report, err := f.sweeper.Sweep(context.Background(), expires.Add(20*time.Minute))
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomeSuccess, report.Results[0].Outcome)

	require.Len(t, f.provider.requests, 2)
	assert.Equal(t, ConversionKey("declined", expires, 0), f.provider.requests[0].IdempotencyKey)
	assert.Equal(t, ConversionKey("declined", expires, 1), f.provider.requests[1].IdempotencyKey)
}

func TestSweep_TimeoutKeepsKey(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "slow", t1, t1)
	f.provider.timeoutFor["slow"] = true
	expires := t1.Add(7 * 24 * time.Hour)

	first, err := f.sweeper.Sweep(context.Background(), expires.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Failed())
	assert.Equal(t, 0, f.get(t, "slow").ConversionAttempts)

	f.provider.mu.Lock()
	f.provider.timeoutFor["slow"] = false
	f.provider.mu.Unlock()
	_, err = f.sweeper.Sweep(context.Background(), expires.Add(20*time.Minute))
	require.NoError(t, err)

	require.Len(t, f.provider.requests, 2)
	assert.Equal(t, f.provider.requests[0].IdempotencyKey, f.provider.requests[1].IdempotencyKey)
	assert.Equal(t, models.StatusActive, f.get(t, "slow").SubscriptionStatus)
}

func TestSweep_OverlappingRunIsRejected(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, "u1", t1, t1)
	f.provider.entered = make(chan struct{})
	f.provider.release = make(chan struct{})
	sweepAt := t1.Add(7*24*time.Hour + 10*time.Minute)

	type outcome struct {
		report Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := f.sweeper.Sweep(context.Background(), sweepAt)
		done <- outcome{report, err}
	}()
	<-f.provider.entered

	_, err := f.sweeper.Sweep(WithTrigger(context.Background(), TriggerAdmin), sweepAt)
	assert.ErrorIs(t, err, ErrSweepRunning)

	close(f.provider.release)
	first := <-done
	require.NoError(t, first.err)
	require.Len(t, first.report.Results, 1)
	assert.Equal(t, OutcomeSuccess, first.report.Results[0].Outcome)
	assert.Equal(t, 1, f.provider.subCalls)

	runs, err := f.runs.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	f.provider.entered = nil
	_, err = f.sweeper.Sweep(context.Background(), sweepAt.Add(time.Minute))
	assert.NoError(t, err)
}

func TestScheduler(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := NewScheduler(f.sweeper, "not a schedule", 0)
	assert.Error(t, err)

	sch, err := NewScheduler(f.sweeper, "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "@hourly", sch.schedule)

	sch.Start()
	assert.False(t, sch.Next().IsZero())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sch.Stop(ctx)
}
