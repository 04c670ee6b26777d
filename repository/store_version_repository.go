package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/camden-git/faceregistry/models"
)

// StoreVersionRepository maintains the single-row monotonic change counter.
// Person and Face repositories bump it exactly once per tracked mutation,
// after the mutation itself has committed.
type StoreVersionRepository struct {
	DB *gorm.DB
}

// Ensure StoreVersionRepository implements StoreVersionRepositoryInterface
var _ StoreVersionRepositoryInterface = (*StoreVersionRepository)(nil)

// NewStoreVersionRepository creates a new instance of StoreVersionRepository
func NewStoreVersionRepository(db *gorm.DB) *StoreVersionRepository {
	return &StoreVersionRepository{DB: db}
}

// Current returns the persisted counter value; a missing row reads as 0.
func (r *StoreVersionRepository) Current() (int64, error) {
	var row models.StoreVersion
	err := r.DB.First(&row, models.StoreVersionRowID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read store version: %w", err)
	}
	return row.Version, nil
}

// Increment bumps the counter by exactly one, creating the row on first use.
func (r *StoreVersionRepository) Increment() error {
	result := r.DB.Model(&models.StoreVersion{}).
		Where("id = ?", models.StoreVersionRowID).
		UpdateColumn("version", gorm.Expr("version + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to increment store version: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		row := models.StoreVersion{ID: models.StoreVersionRowID, Version: 1}
		if err := r.DB.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to initialize store version: %w", err)
		}
	}
	return nil
}
