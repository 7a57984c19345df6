// Package sweeper converts expired trials into paid subscriptions.
package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/casedesk/casedesk-api/internal/metrics"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/notify"
	"github.com/casedesk/casedesk-api/internal/payment"
	"github.com/casedesk/casedesk-api/internal/store"
	"github.com/casedesk/casedesk-api/internal/trial"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

const (
	defaultWindow          = time.Hour
	defaultProviderTimeout = 15 * time.Second
	defaultStaleBatch      = 500
)

// ErrSweepRunning is returned when a sweep is requested while another one is in progress.
var ErrSweepRunning = errors.New("sweeper: sweep already running")

// Trigger names what started a sweep.
type Trigger string

// Trigger constants.
const (
	TriggerCron  Trigger = "cron"
	TriggerHTTP  Trigger = "http"
	TriggerAdmin Trigger = "admin"
)

// Outcome is the per-profile result of a sweep.
type Outcome string

// Outcome constants.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// Result is the outcome for one candidate profile.
type Result struct {
	ProfileID string  `json:"profile_id"`
	Outcome   Outcome `json:"status"`
	Detail    string  `json:"detail,omitempty"`
}

// Report summarizes one sweep.
type Report struct {
	RunID       string
	Trigger     Trigger
	StartedAt   time.Time
	FinishedAt  time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Results     []Result
	Expired     int
}

// Succeeded counts successful conversions.
func (r Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeSuccess {
			n++
		}
	}
	return n
}

// Failed counts failed conversions.
func (r Report) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// Options tune a Sweeper. Zero values fall back to defaults.
type Options struct {
	Window          time.Duration
	PriceID         string
	Plan            string
	ProviderTimeout time.Duration
	MaxConcurrency  int
}

// Sweeper runs billing conversion sweeps.
type Sweeper struct {
	profiles *store.ProfileStore
	runs     *store.SweepRunStore
	provider payment.Provider
	engine   *trial.Engine
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time

	// running is held for the whole of a sweep; overlapping triggers fail fast.
	running sync.Mutex
}

// New constructs a Sweeper. runs may be nil to skip the audit row.
func New(profiles *store.ProfileStore, runs *store.SweepRunStore, provider payment.Provider, engine *trial.Engine, opts Options) *Sweeper {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if engine == nil {
		engine = trial.NewEngine(trial.DefaultPolicy)
	}
	return &Sweeper{
		profiles: profiles,
		runs:     runs,
		provider: provider,
		engine:   engine,
		opts:     opts,
		now:      time.Now,
	}
}

// SetNotifier attaches the email notifier used after conversions.
func (s *Sweeper) SetNotifier(n *notify.Notifier) { s.notifier = n }

// SetMetrics attaches the metrics sink.
func (s *Sweeper) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetClock replaces the clock used by RunNow.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Options returns the effective options.
func (s *Sweeper) Options() Options { return s.opts }

type triggerKey struct{}

// WithTrigger tags ctx with the trigger recorded on the sweep run.
func WithTrigger(ctx context.Context, trigger Trigger) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) Trigger {
	if t, ok := ctx.Value(triggerKey{}).(Trigger); ok && t != "" {
		return t
	}
	return TriggerHTTP
}

// RunNow sweeps at the current time.
func (s *Sweeper) RunNow(ctx context.Context) (Report, error) {
	clock := s.now
	if clock == nil {
		clock = time.Now
	}
	return s.Sweep(ctx, clock())
}

// Sweep converts every profile whose trial expired within the window ending at now.
// Only one sweep runs at a time per Sweeper; a concurrent call returns
// ErrSweepRunning without touching any profile. Otherwise it fails only when the
// candidate query fails; per-profile failures are reported in the results and
// leave the profile untouched for the next run.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Report, error) {
	if s == nil || s.profiles == nil || s.provider == nil {
		return Report{}, fmt.Errorf("sweeper: not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.running.TryLock() {
		return Report{}, ErrSweepRunning
	}
	defer s.running.Unlock()

	now = now.UTC()
	report := Report{
		RunID:       uuid.NewString(),
		Trigger:     triggerFrom(ctx),
		StartedAt:   now,
		WindowStart: now.Add(-s.opts.Window),
		WindowEnd:   now,
	}
	started := time.Now()

	candidates, err := s.profiles.ListConversionCandidates(ctx, now, s.opts.Window)
	if err != nil {
		return report, fmt.Errorf("sweeper: %w", err)
	}
	log.Infof("billing sweep %s: %d candidate(s) in [%s, %s)", report.RunID, len(candidates),
		report.WindowStart.Format(time.RFC3339), report.WindowEnd.Format(time.RFC3339))

	report.Results = make([]Result, len(candidates))
	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrency)
	for i := range candidates {
		g.Go(func() error {
			report.Results[i] = s.convert(ctx, report.RunID, candidates[i], now)
			return nil
		})
	}
	_ = g.Wait()

	report.Expired = s.expireStale(ctx, now)
	report.FinishedAt = now.Add(time.Since(started))

	s.metrics.ObserveSweep(string(report.Trigger), report.Succeeded(), report.Failed(), time.Since(started))
	s.record(ctx, report)
	log.Infof("billing sweep %s finished: %d succeeded, %d failed, %d marked expired",
		report.RunID, report.Succeeded(), report.Failed(), report.Expired)
	return report, nil
}

func (s *Sweeper) convert(ctx context.Context, runID string, p models.Profile, now time.Time) Result {
	logger := log.WithFields(log.Fields{
		"run_id":     runID,
		"profile_id": p.ID,
	})
	fail := func(detail string, err error) Result {
		logger.WithError(err).Warn("billing sweep: " + detail)
		return Result{ProfileID: p.ID, Outcome: OutcomeError, Detail: fmt.Sprintf("%s: %v", detail, err)}
	}

	if trial.DeriveStatus(p, now) != models.StatusTrialExpired || p.TrialExpiresAt == nil {
		return fail("skip", fmt.Errorf("profile is not an expired trial"))
	}
	if strings.TrimSpace(s.opts.PriceID) == "" {
		return fail("create subscription", payment.ErrNotConfigured)
	}

	customerID := models.StringValue(p.StripeCustomerID)
	if customerID == "" {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
		id, errCustomer := s.provider.CreateCustomer(callCtx, p.Email, map[string]string{"profile_id": p.ID})
		cancel()
		if errCustomer != nil {
			return fail("create customer", errCustomer)
		}
		if errSet := s.profiles.SetStripeCustomerID(ctx, p.ID, id); errSet != nil {
			return fail("persist customer", errSet)
		}
		customerID = id
		p.StripeCustomerID = models.StringPtr(id)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	subscriptionID, errSub := s.provider.CreateSubscription(callCtx, payment.SubscriptionRequest{
		CustomerID:     customerID,
		PriceID:        s.opts.PriceID,
		TrialEnd:       now,
		Metadata:       map[string]string{"profile_id": p.ID},
		IdempotencyKey: ConversionKey(p.ID, *p.TrialExpiresAt, p.ConversionAttempts),
	})
	cancel()
	if errSub != nil {
		if payment.IsResponse(errSub) {
			if errRecord := s.profiles.RecordRejectedConversion(ctx, p.ID); errRecord != nil {
				logger.WithError(errRecord).Warn("billing sweep: record rejected conversion failed")
			}
		}
		return fail("create subscription", errSub)
	}

	tr, errApply := s.engine.Apply(p, trial.Input{
		Event:          trial.EventPaymentConverted,
		CustomerID:     customerID,
		SubscriptionID: subscriptionID,
		Plan:           s.opts.Plan,
	}, now)
	if errApply != nil {
		return fail("apply transition", errApply)
	}
	if errPersist := s.profiles.ApplyTransition(ctx, tr); errPersist != nil {
		return fail("persist transition", errPersist)
	}
	s.metrics.ObserveTransition(string(tr.Event), string(tr.From), string(tr.To))
	logger.WithField("subscription_id", subscriptionID).Info("billing sweep: trial converted")

	if errNotify := s.notifier.SubscriptionActivated(ctx, p.Email, s.opts.Plan); errNotify != nil {
		s.metrics.ObserveNotificationError()
		logger.WithError(errNotify).Warn("billing sweep: activation email failed")
	}
	return Result{ProfileID: p.ID, Outcome: OutcomeSuccess, Detail: subscriptionID}
}

// ConversionKey is the provider idempotency key for converting one trial.
// Retries after a timeout reuse the key, so a request that reached the provider
// cannot bill twice. attempt counts error answers from the provider; each one
// moves to a new key because the provider replays the cached answer otherwise.
func ConversionKey(profileID string, trialExpiresAt time.Time, attempt int) string {
	key := fmt.Sprintf("convert-%s-%d", profileID, trialExpiresAt.UTC().Unix())
	if attempt > 0 {
		key += fmt.Sprintf("-r%d", attempt)
	}
	return key
}

// expireStale stores trial_expired on trials that left the conversion window unconverted.
func (s *Sweeper) expireStale(ctx context.Context, now time.Time) int {
	stale, err := s.profiles.ListStaleTrials(ctx, now.Add(-s.opts.Window), defaultStaleBatch)
	if err != nil {
		log.WithError(err).Warn("billing sweep: list stale trials failed")
		return 0
	}
	expired := 0
	for _, p := range stale {
		tr, errApply := s.engine.Apply(p, trial.Input{Event: trial.EventTrialObservedExpired}, now)
		if errApply != nil {
			log.WithError(errApply).WithField("profile_id", p.ID).Warn("billing sweep: expire trial rejected")
			continue
		}
		if errPersist := s.profiles.ApplyTransition(ctx, tr); errPersist != nil {
			if !errors.Is(errPersist, store.ErrConflict) {
				log.WithError(errPersist).WithField("profile_id", p.ID).Warn("billing sweep: expire trial failed")
			}
			continue
		}
		s.metrics.ObserveTransition(string(tr.Event), string(tr.From), string(tr.To))
		expired++
	}
	return expired
}

func (s *Sweeper) record(ctx context.Context, report Report) {
	if s.runs == nil {
		return
	}
	results := report.Results
	if results == nil {
		results = []Result{}
	}
	payload, err := json.Marshal(results)
	if err != nil {
		log.WithError(err).Warn("billing sweep: encode results failed")
		payload = []byte("[]")
	}
	run := &models.SweepRun{
		RunID:       report.RunID,
		Trigger:     string(report.Trigger),
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		WindowStart: report.WindowStart,
		WindowEnd:   report.WindowEnd,
		Candidates:  len(report.Results),
		Succeeded:   report.Succeeded(),
		Failed:      report.Failed(),
		Expired:     report.Expired,
		Results:     datatypes.JSON(payload),
	}
	if errRecord := s.runs.Record(ctx, run); errRecord != nil {
		log.WithError(errRecord).Warn("billing sweep: record run failed")
	}
}
