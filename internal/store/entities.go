package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/casedesk/casedesk-api/internal/db"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/usage"

	"gorm.io/gorm"
)

// EntityStore writes trial-limited tenant records.
type EntityStore struct {
	db *gorm.DB
}

// NewEntityStore constructs an EntityStore.
func NewEntityStore(db *gorm.DB) *EntityStore {
	return &EntityStore{db: db}
}

// modelForKind returns the table model for a limited kind.
func modelForKind(kind usage.EntityKind) (any, error) {
	switch kind {
	case usage.KindClient:
		return &models.Client{}, nil
	case usage.KindCase:
		return &models.Case{}, nil
	case usage.KindDocument:
		return &models.Document{}, nil
	default:
		return nil, fmt.Errorf("entity store: unknown kind %q", string(kind))
	}
}

// Count returns how many records of kind the profile owns.
func (s *EntityStore) Count(ctx context.Context, profileID string, kind usage.EntityKind) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("entity store: not initialized")
	}
	return countOwned(s.db.WithContext(ctx), profileID, kind)
}

// Counts returns per-kind record counts for the profile.
func (s *EntityStore) Counts(ctx context.Context, profileID string) (map[usage.EntityKind]int64, error) {
	out := make(map[usage.EntityKind]int64, len(usage.Kinds()))
	for _, kind := range usage.Kinds() {
		n, errCount := s.Count(ctx, profileID, kind)
		if errCount != nil {
			return nil, errCount
		}
		out[kind] = n
	}
	return out, nil
}

func countOwned(conn *gorm.DB, profileID string, kind usage.EntityKind) (int64, error) {
	model, errModel := modelForKind(kind)
	if errModel != nil {
		return 0, errModel
	}
	var n int64
	if errCount := conn.Model(model).Where("profile_id = ?", profileID).Count(&n).Error; errCount != nil {
		return 0, fmt.Errorf("entity store: count %s: %w", kind, errCount)
	}
	return n, nil
}

// CreateWithinLimit inserts record for profileID after re-running the
// admission check inside the insert transaction. The profile row is locked
// first so concurrent creates for the same tenant cannot both pass the
// count. record must be a pointer to the model of kind.
func (s *EntityStore) CreateWithinLimit(ctx context.Context, profileID string, kind usage.EntityKind, now time.Time, record any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("entity store: not initialized")
	}
	if record == nil {
		return fmt.Errorf("entity store: nil record")
	}
	if _, errModel := modelForKind(kind); errModel != nil {
		return errModel
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile models.Profile
		if errFind := db.WithRowLock(tx).Where("id = ?", profileID).Take(&profile).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("entity store: lock profile: %w", errFind)
		}

		count, errCount := countOwned(tx, profileID, kind)
		if errCount != nil {
			return errCount
		}
		if errAdmit := usage.CanCreate(profile, count, now).Err(); errAdmit != nil {
			return errAdmit
		}

		if errCreate := tx.Create(record).Error; errCreate != nil {
			return fmt.Errorf("entity store: create %s: %w", kind, errCreate)
		}
		return nil
	})
	return errTx
}
