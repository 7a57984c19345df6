package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/casedesk/casedesk-api/internal/db"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/trial"
	"github.com/casedesk/casedesk-api/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	return conn
}

func seedTrialing(t *testing.T, profiles *ProfileStore, id string, confirmedAt time.Time) models.Profile {
	t.Helper()
	ctx := context.Background()
	p, err := trial.NewProfile(id, id+"@example.com", confirmedAt)
	require.NoError(t, err)
	created, err := profiles.Create(ctx, p)
	require.NoError(t, err)
	require.True(t, created)

	tr, err := trial.Apply(p, trial.Input{Event: trial.EventEmailConfirmed}, confirmedAt)
	require.NoError(t, err)
	require.NoError(t, profiles.ApplyTransition(ctx, tr))
	return tr.Next
}

func TestProfileStore_CreateIsIdempotent(t *testing.T) {
	profiles := NewProfileStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	p, err := trial.NewProfile("user-1", "a@example.com", now)
	require.NoError(t, err)

	created, err := profiles.Create(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = profiles.Create(ctx, p)
	require.NoError(t, err)
	assert.False(t, created)

	other, err := trial.NewProfile("user-2", "a@example.com", now)
	require.NoError(t, err)
	_, err = profiles.Create(ctx, other)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestProfileStore_GetMissing(t *testing.T) {
	profiles := NewProfileStore(newTestDB(t))
	_, err := profiles.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfileStore_ApplyTransitionIsConditional(t *testing.T) {
	profiles := NewProfileStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	p, err := trial.NewProfile("user-1", "a@example.com", now)
	require.NoError(t, err)
	_, err = profiles.Create(ctx, p)
	require.NoError(t, err)

	tr, err := trial.Apply(p, trial.Input{Event: trial.EventEmailConfirmed}, now)
	require.NoError(t, err)
	require.NoError(t, profiles.ApplyTransition(ctx, tr))

	stored, err := profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTrialing, stored.SubscriptionStatus)
	require.NotNil(t, stored.TrialExpiresAt)
	assert.True(t, stored.TrialExpiresAt.Equal(now.Add(7*24*time.Hour)))

	// A transition computed from the stale unconfirmed snapshot must not win.
	stale, err := trial.Apply(p, trial.Input{Event: trial.EventEmailConfirmed}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.ErrorIs(t, profiles.ApplyTransition(ctx, stale), ErrConflict)

	stored, err = profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, stored.TrialExpiresAt.Equal(now.Add(7*24*time.Hour)))
}

func TestProfileStore_SetStripeCustomerID(t *testing.T) {
	profiles := NewProfileStore(newTestDB(t))
	ctx := context.Background()
	seedTrialing(t, profiles, "user-1", time.Now().UTC().Truncate(time.Second))

	require.NoError(t, profiles.SetStripeCustomerID(ctx, "user-1", "cus_1"))
	require.NoError(t, profiles.SetStripeCustomerID(ctx, "user-1", "cus_1"))
	assert.ErrorIs(t, profiles.SetStripeCustomerID(ctx, "user-1", "cus_2"), ErrConflict)

	found, err := profiles.FindByStripeCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", found.ID)
}

func TestProfileStore_RecordRejectedConversion(t *testing.T) {
	profiles := NewProfileStore(newTestDB(t))
	ctx := context.Background()
	seedTrialing(t, profiles, "user-1", time.Now().UTC().Truncate(time.Second))

	require.NoError(t, profiles.RecordRejectedConversion(ctx, "user-1"))
	require.NoError(t, profiles.RecordRejectedConversion(ctx, "user-1"))
	stored, err := profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ConversionAttempts)

	assert.ErrorIs(t, profiles.RecordRejectedConversion(ctx, "nobody"), ErrConflict)
}

func TestProfileStore_ListConversionCandidatesWindow(t *testing.T) {
	profiles := NewProfileStore(newTestDB(t))
	ctx := context.Background()
	trialLength := 7 * 24 * time.Hour
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

	// Expired 30 minutes ago: inside the window.
	seedTrialing(t, profiles, "inside", now.Add(-trialLength-30*time.Minute))
	// Expires in 30 minutes: still trialing.
	seedTrialing(t, profiles, "future", now.Add(-trialLength+30*time.Minute))
	// Expired two hours ago: outside a one hour window.
	seedTrialing(t, profiles, "stale", now.Add(-trialLength-2*time.Hour))
	// Expired exactly at now: not yet due (upper bound is exclusive).
	seedTrialing(t, profiles, "boundary", now.Add(-trialLength))

	rows, err := profiles.ListConversionCandidates(ctx, now, time.Hour)
	require.NoError(t, err)
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	assert.Equal(t, []string{"inside"}, ids)

	stale, err := profiles.ListStaleTrials(ctx, now.Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "stale", stale[0].ID)
}

func TestProfileStore_List(t *testing.T) {
	profiles := NewProfileStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	seedTrialing(t, profiles, "alpha", now)
	p, err := trial.NewProfile("beta", "beta@example.com", now)
	require.NoError(t, err)
	_, err = profiles.Create(ctx, p)
	require.NoError(t, err)

	rows, total, err := profiles.List(ctx, ProfileFilter{Status: models.StatusTrialing})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, rows, 1)
	assert.Equal(t, "alpha", rows[0].ID)

	_, total, err = profiles.List(ctx, ProfileFilter{Email: "BETA"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestEntityStore_CreateWithinLimit(t *testing.T) {
	conn := newTestDB(t)
	profiles := NewProfileStore(conn)
	entities := NewEntityStore(conn)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	p := seedTrialing(t, profiles, "user-1", now)
	require.NoError(t, conn.Model(&models.Profile{}).Where("id = ?", p.ID).Update("trial_limit", 2).Error)

	for i := 0; i < 2; i++ {
		require.NoError(t, entities.CreateWithinLimit(ctx, p.ID, usage.KindClient, now, &models.Client{ProfileID: p.ID, Name: "client"}))
	}
	err := entities.CreateWithinLimit(ctx, p.ID, usage.KindClient, now, &models.Client{ProfileID: p.ID, Name: "third"})
	require.ErrorIs(t, err, usage.ErrLimitReached)

	// Limits are counted per kind.
	require.NoError(t, entities.CreateWithinLimit(ctx, p.ID, usage.KindCase, now, &models.Case{ProfileID: p.ID, Title: "matter", OpenedAt: now}))

	counts, err := entities.Counts(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[usage.KindClient])
	assert.Equal(t, int64(1), counts[usage.KindCase])
	assert.Equal(t, int64(0), counts[usage.KindDocument])
}

func TestEntityStore_CreateWithinLimitExpired(t *testing.T) {
	conn := newTestDB(t)
	profiles := NewProfileStore(conn)
	entities := NewEntityStore(conn)
	confirmed := time.Now().UTC().Truncate(time.Second)
	p := seedTrialing(t, profiles, "user-1", confirmed)

	afterExpiry := p.TrialExpiresAt.Add(time.Second)
	err := entities.CreateWithinLimit(context.Background(), p.ID, usage.KindDocument, afterExpiry, &models.Document{ProfileID: p.ID, Name: "a.pdf", StorageKey: "k"})
	assert.ErrorIs(t, err, usage.ErrTrialExpired)
}

func TestEntityStore_ConcurrentCreatesRespectLimit(t *testing.T) {
	conn := newTestDB(t)
	profiles := NewProfileStore(conn)
	entities := NewEntityStore(conn)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	p := seedTrialing(t, profiles, "user-1", now)
	require.NoError(t, conn.Model(&models.Profile{}).Where("id = ?", p.ID).Update("trial_limit", 5).Error)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		denied  int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCreate := entities.CreateWithinLimit(ctx, p.ID, usage.KindClient, now, &models.Client{ProfileID: p.ID, Name: "c"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errCreate == nil:
				created++
			case assert.ErrorIs(t, errCreate, usage.ErrLimitReached):
				denied++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, created)
	assert.Equal(t, 7, denied)
	n, err := entities.Count(ctx, p.ID, usage.KindClient)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestSweepRunStore(t *testing.T) {
	runs := NewSweepRunStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, runs.Record(ctx, &models.SweepRun{
		RunID: "run-1", Trigger: "cron", StartedAt: now, FinishedAt: now,
		WindowStart: now.Add(-time.Hour), WindowEnd: now, Results: []byte("[]"),
	}))
	rows, err := runs.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got, err := runs.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "cron", got.Trigger)

	_, err = runs.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
