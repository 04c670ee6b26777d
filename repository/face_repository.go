package repository

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/camden-git/faceregistry/models"
)

// FaceRepository handles database operations for Face entities
type FaceRepository struct {
	DB       *gorm.DB
	Versions StoreVersionRepositoryInterface
}

// Ensure FaceRepository implements FaceRepositoryInterface
var _ FaceRepositoryInterface = (*FaceRepository)(nil)

// NewFaceRepository creates a new instance of FaceRepository
func NewFaceRepository(db *gorm.DB, versions StoreVersionRepositoryInterface) *FaceRepository {
	return &FaceRepository{DB: db, Versions: versions}
}

// Create creates a new face record, generating a UUID if none is set
func (r *FaceRepository) Create(face *models.Face) error {
	now := time.Now().Unix()
	if face.ID == "" {
		face.ID = uuid.NewString()
	}
	if face.CreatedAt == 0 {
		face.CreatedAt = now
	}
	face.UpdatedAt = now
	face.Path = filepath.ToSlash(face.Path)

	err := r.DB.Create(face).Error
	if err != nil {
		return fmt.Errorf("failed to create face for person ID %d: %w", face.PersonID, err)
	}
	return r.bump()
}

// GetByID retrieves a face by its ID, preloading the owning Person
func (r *FaceRepository) GetByID(id string) (*models.Face, error) {
	var face models.Face
	err := r.DB.Preload("Person").Where("id = ?", id).First(&face).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get face by ID %s: %w", id, err)
	}
	return &face, nil
}

// ListByPersonID retrieves all faces owned by a person, oldest first
func (r *FaceRepository) ListByPersonID(personID uint) ([]models.Face, error) {
	var faces []models.Face
	err := r.DB.Where("person_id = ?", personID).Order("created_at ASC").Find(&faces).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list faces for person ID %d: %w", personID, err)
	}
	return faces, nil
}

// Reassign moves a face to a different owning person
func (r *FaceRepository) Reassign(faceID string, newPersonID uint) error {
	updates := map[string]interface{}{
		"person_id":  newPersonID,
		"updated_at": time.Now().Unix(),
	}
	result := r.DB.Model(&models.Face{}).Where("id = ?", faceID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to reassign face ID %s to person ID %d: %w", faceID, newPersonID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return r.bump()
}

// Delete removes a face row by its ID
func (r *FaceRepository) Delete(id string) error {
	result := r.DB.Where("id = ?", id).Delete(&models.Face{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete face ID %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return r.bump()
}

func (r *FaceRepository) bump() error {
	if r.Versions == nil {
		return nil
	}
	return r.Versions.Increment()
}
