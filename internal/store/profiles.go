package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/trial"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileStore persists tenant profiles.
type ProfileStore struct {
	db *gorm.DB
}

// NewProfileStore constructs a ProfileStore.
func NewProfileStore(db *gorm.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// DB exposes the underlying handle for callers composing their own queries.
func (s *ProfileStore) DB() *gorm.DB { return s.db }

// Create inserts p unless a profile with the same id exists. It reports
// whether a row was inserted; a duplicate id is not an error.
func (s *ProfileStore) Create(ctx context.Context, p models.Profile) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("profile store: not initialized")
	}
	if errValidate := p.Validate(); errValidate != nil {
		return false, fmt.Errorf("profile store: %w", errValidate)
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&p)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, fmt.Errorf("profile store: create %s: %w", p.ID, ErrAlreadyExists)
		}
		return false, fmt.Errorf("profile store: create: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Get loads a profile by id.
func (s *ProfileStore) Get(ctx context.Context, id string) (models.Profile, error) {
	return s.findOne(ctx, "id = ?", strings.TrimSpace(id))
}

// FindByStripeCustomerID loads the profile owning a payment provider customer.
func (s *ProfileStore) FindByStripeCustomerID(ctx context.Context, customerID string) (models.Profile, error) {
	return s.findOne(ctx, "stripe_customer_id = ?", strings.TrimSpace(customerID))
}

// FindByStripeSubscriptionID loads the profile owning a payment provider subscription.
func (s *ProfileStore) FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (models.Profile, error) {
	return s.findOne(ctx, "stripe_subscription_id = ?", strings.TrimSpace(subscriptionID))
}

func (s *ProfileStore) findOne(ctx context.Context, query string, arg string) (models.Profile, error) {
	if s == nil || s.db == nil {
		return models.Profile{}, fmt.Errorf("profile store: not initialized")
	}
	if arg == "" {
		return models.Profile{}, ErrNotFound
	}
	var p models.Profile
	if errFind := s.db.WithContext(ctx).Where(query, arg).Take(&p).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Profile{}, ErrNotFound
		}
		return models.Profile{}, fmt.Errorf("profile store: find: %w", errFind)
	}
	return p, nil
}

// ProfileFilter narrows admin listings.
type ProfileFilter struct {
	Status models.SubscriptionStatus
	Email  string
	Limit  int
	Offset int
}

// List returns profiles matching f, newest first, with the total match count.
func (s *ProfileStore) List(ctx context.Context, f ProfileFilter) ([]models.Profile, int64, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("profile store: not initialized")
	}
	q := s.db.WithContext(ctx).Model(&models.Profile{})
	if f.Status != "" {
		q = q.Where("subscription_status = ?", f.Status)
	}
	if email := strings.TrimSpace(f.Email); email != "" {
		q = q.Where("LOWER(email) LIKE ?", "%"+strings.ToLower(email)+"%")
	}
	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		return nil, 0, fmt.Errorf("profile store: count: %w", errCount)
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.Profile
	if errFind := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&rows).Error; errFind != nil {
		return nil, 0, fmt.Errorf("profile store: list: %w", errFind)
	}
	return rows, total, nil
}

// lifecycleColumns maps the state-machine owned columns of p.
func lifecycleColumns(p models.Profile) map[string]any {
	return map[string]any{
		"subscription_status":    p.SubscriptionStatus,
		"subscription_plan":      p.SubscriptionPlan,
		"trial_expires_at":       p.TrialExpiresAt,
		"trial_limit":            p.TrialLimit,
		"stripe_customer_id":     p.StripeCustomerID,
		"stripe_subscription_id": p.StripeSubscriptionID,
		"updated_at":             p.UpdatedAt,
	}
}

// ApplyTransition persists tr.Next if the stored status still equals tr.From.
// It returns ErrConflict when another writer moved the profile first.
func (s *ProfileStore) ApplyTransition(ctx context.Context, tr trial.Transition) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("profile store: not initialized")
	}
	if tr.NoOp {
		return nil
	}
	if errValidate := tr.Next.Validate(); errValidate != nil {
		return fmt.Errorf("profile store: %w", errValidate)
	}
	res := s.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ? AND subscription_status = ?", tr.Next.ID, tr.From).
		Updates(lifecycleColumns(tr.Next))
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return fmt.Errorf("profile store: apply %s: %w", tr.Event, ErrAlreadyExists)
		}
		return fmt.Errorf("profile store: apply %s: %w", tr.Event, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, errGet := s.Get(ctx, tr.Next.ID); errors.Is(errGet, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("profile store: apply %s on %s: %w", tr.Event, tr.Next.ID, ErrConflict)
	}
	return nil
}

// SetStripeCustomerID records the payment provider customer id if none is stored yet.
func (s *ProfileStore) SetStripeCustomerID(ctx context.Context, profileID, customerID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("profile store: not initialized")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("profile store: empty customer id")
	}
	res := s.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ? AND (stripe_customer_id IS NULL OR stripe_customer_id = '')", profileID).
		Updates(map[string]any{
			"stripe_customer_id": customerID,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("profile store: set customer id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		existing, errGet := s.Get(ctx, profileID)
		if errGet != nil {
			return errGet
		}
		if models.StringValue(existing.StripeCustomerID) != customerID {
			return fmt.Errorf("profile store: customer id already set for %s: %w", profileID, ErrConflict)
		}
	}
	return nil
}

// RecordRejectedConversion counts a conversion the payment provider answered with
// an error. Only trialing profiles are counted.
func (s *ProfileStore) RecordRejectedConversion(ctx context.Context, profileID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("profile store: not initialized")
	}
	res := s.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ? AND subscription_status = ?", profileID, models.StatusTrialing).
		Updates(map[string]any{
			"conversion_attempts": gorm.Expr("conversion_attempts + 1"),
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("profile store: record rejected conversion: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("profile store: record rejected conversion for %s: %w", profileID, ErrConflict)
	}
	return nil
}

// ListConversionCandidates returns stored trialing profiles whose trial
// expired within [now-window, now).
func (s *ProfileStore) ListConversionCandidates(ctx context.Context, now time.Time, window time.Duration) ([]models.Profile, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("profile store: not initialized")
	}
	now = now.UTC()
	var rows []models.Profile
	if errFind := s.db.WithContext(ctx).
		Where("subscription_status = ?", models.StatusTrialing).
		Where("role <> ?", models.RoleDemo).
		Where("trial_expires_at >= ? AND trial_expires_at < ?", now.Add(-window), now).
		Order("trial_expires_at ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("profile store: list conversion candidates: %w", errFind)
	}
	return rows, nil
}

// ListStaleTrials returns stored trialing profiles whose expiry is before cutoff.
func (s *ProfileStore) ListStaleTrials(ctx context.Context, cutoff time.Time, limit int) ([]models.Profile, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("profile store: not initialized")
	}
	if limit <= 0 {
		limit = 500
	}
	var rows []models.Profile
	if errFind := s.db.WithContext(ctx).
		Where("subscription_status = ? AND trial_expires_at < ?", models.StatusTrialing, cutoff.UTC()).
		Order("trial_expires_at ASC").
		Limit(limit).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("profile store: list stale trials: %w", errFind)
	}
	return rows, nil
}
