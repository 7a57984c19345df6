package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/casedesk/casedesk-api/internal/models"

	"gorm.io/gorm"
)

// SweepRunStore persists conversion sweep audit rows.
type SweepRunStore struct {
	db *gorm.DB
}

// NewSweepRunStore constructs a SweepRunStore.
func NewSweepRunStore(db *gorm.DB) *SweepRunStore {
	return &SweepRunStore{db: db}
}

// Record inserts a sweep run.
func (s *SweepRunStore) Record(ctx context.Context, run *models.SweepRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sweep run store: not initialized")
	}
	if errCreate := s.db.WithContext(ctx).Create(run).Error; errCreate != nil {
		return fmt.Errorf("sweep run store: record: %w", errCreate)
	}
	return nil
}

// List returns the most recent sweep runs.
func (s *SweepRunStore) List(ctx context.Context, limit int) ([]models.SweepRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sweep run store: not initialized")
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var rows []models.SweepRun
	if errFind := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("sweep run store: list: %w", errFind)
	}
	return rows, nil
}

// Get loads a sweep run by run id.
func (s *SweepRunStore) Get(ctx context.Context, runID string) (models.SweepRun, error) {
	if s == nil || s.db == nil {
		return models.SweepRun{}, fmt.Errorf("sweep run store: not initialized")
	}
	var row models.SweepRun
	if errFind := s.db.WithContext(ctx).Where("run_id = ?", runID).Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.SweepRun{}, ErrNotFound
		}
		return models.SweepRun{}, fmt.Errorf("sweep run store: get: %w", errFind)
	}
	return row, nil
}
