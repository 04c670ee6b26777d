package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/faceregistry/models"
)

// NormalizeName returns the canonical form used for person name lookups:
// lower-cased, leading/trailing whitespace trimmed, interior runs of
// whitespace collapsed to single spaces. Case and spacing variants of the
// same name therefore resolve to the same person.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// PersonRepository handles database operations for Person entities
type PersonRepository struct {
	DB       *gorm.DB
	Versions StoreVersionRepositoryInterface
}

// Ensure PersonRepository implements PersonRepositoryInterface
var _ PersonRepositoryInterface = (*PersonRepository)(nil)

// NewPersonRepository creates a new instance of PersonRepository
func NewPersonRepository(db *gorm.DB, versions StoreVersionRepositoryInterface) *PersonRepository {
	return &PersonRepository{DB: db, Versions: versions}
}

// Create creates a new person record in the database. Always inserts a new
// row; callers that want find-or-create semantics must probe FindByName
// first and accept the documented race between the two calls.
func (r *PersonRepository) Create(person *models.Person) error {
	now := time.Now().Unix()
	if person.CreatedAt == 0 {
		person.CreatedAt = now
	}
	person.UpdatedAt = now
	if person.Name != nil {
		normalized := NormalizeName(*person.Name)
		person.NormalizedName = &normalized
	}

	err := r.DB.Create(person).Error
	if err != nil {
		return fmt.Errorf("failed to create person: %w", err)
	}
	return r.bump()
}

// GetByID retrieves a non-deleted person by ID, preloading Faces
func (r *PersonRepository) GetByID(id uint) (*models.Person, error) {
	var person models.Person
	err := r.DB.Preload("Faces").Where("is_deleted = ?", false).First(&person, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get person by ID %d: %w", id, err)
	}
	return &person, nil
}

// FindByName retrieves a non-deleted person by normalized name
func (r *PersonRepository) FindByName(name string) (*models.Person, error) {
	normalized := NormalizeName(name)
	var person models.Person
	err := r.DB.Preload("Faces").
		Where("normalized_name = ? AND is_deleted = ?", normalized, false).
		First(&person).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find person by name %q: %w", name, err)
	}
	return &person, nil
}

// ListAll retrieves all visible people: not deleted, not hidden, and owning
// at least one face. Persons stranded with zero faces by a failed
// registration are excluded until the reconciler or a new face resolves them.
func (r *PersonRepository) ListAll() ([]models.Person, error) {
	var people []models.Person
	err := r.DB.Preload("Faces").
		Where("is_deleted = ? AND is_hidden = ?", false, false).
		Where("id IN (?)", r.DB.Model(&models.Face{}).Select("person_id")).
		Order("id ASC").
		Find(&people).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	return people, nil
}

// ListAllAdmin retrieves all non-deleted people, including hidden ones and
// ones without faces
func (r *PersonRepository) ListAllAdmin() ([]models.Person, error) {
	var people []models.Person
	err := r.DB.Preload("Faces").
		Where("is_deleted = ?", false).
		Order("id ASC").
		Find(&people).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list people (admin): %w", err)
	}
	return people, nil
}

// Update applies a partial update; only non-nil fields change. A pointer
// to an empty keyFaceID clears the stored key face back to NULL.
func (r *PersonRepository) Update(id uint, name *string, isHidden *bool, keyFaceID *string) error {
	updates := make(map[string]interface{})
	if name != nil {
		updates["name"] = *name
		updates["normalized_name"] = NormalizeName(*name)
	}
	if isHidden != nil {
		updates["is_hidden"] = *isHidden
	}
	if keyFaceID != nil {
		if *keyFaceID == "" {
			updates["key_face_id"] = nil
		} else {
			updates["key_face_id"] = *keyFaceID
		}
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().Unix()

	result := r.DB.Model(&models.Person{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update person ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return r.bump()
}

// SoftDelete marks a person as deleted without removing the row
func (r *PersonRepository) SoftDelete(id uint) error {
	result := r.DB.Model(&models.Person{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{"is_deleted": true, "updated_at": time.Now().Unix()})
	if result.Error != nil {
		return fmt.Errorf("failed to soft delete person ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return r.bump()
}

// Restore clears the deleted flag; the only lookup that sees deleted rows
func (r *PersonRepository) Restore(id uint) error {
	result := r.DB.Model(&models.Person{}).
		Where("id = ? AND is_deleted = ?", id, true).
		Updates(map[string]interface{}{"is_deleted": false, "updated_at": time.Now().Unix()})
	if result.Error != nil {
		return fmt.Errorf("failed to restore person ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return r.bump()
}

// HardDelete removes a person row and all of its faces in one transaction.
// Cascade ownership: faces never outlive their person.
func (r *PersonRepository) HardDelete(id uint) error {
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("person_id = ?", id).Delete(&models.Face{}).Error; err != nil {
			return fmt.Errorf("failed to delete faces for person ID %d: %w", id, err)
		}
		result := tx.Delete(&models.Person{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete person ID %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.bump()
}

func (r *PersonRepository) bump() error {
	if r.Versions == nil {
		return nil
	}
	return r.Versions.Increment()
}
