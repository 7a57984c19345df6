package handlers

import (
	"context"

	"gorm.io/gorm"
)

// ownsRecord reports whether the row with id in model's table belongs to profileID.
func ownsRecord(ctx context.Context, db *gorm.DB, model any, profileID string, id uint64) (bool, error) {
	var n int64
	if errCount := db.WithContext(ctx).Model(model).
		Where("id = ? AND profile_id = ?", id, profileID).
		Count(&n).Error; errCount != nil {
		return false, errCount
	}
	return n > 0, nil
}
