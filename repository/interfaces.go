package repository

import (
	"github.com/camden-git/faceregistry/models"
)

// PersonRepositoryInterface defines the methods for person data operations
type PersonRepositoryInterface interface {
	Create(person *models.Person) error
	GetByID(id uint) (*models.Person, error)
	FindByName(name string) (*models.Person, error)
	ListAll() ([]models.Person, error)
	ListAllAdmin() ([]models.Person, error)
	Update(id uint, name *string, isHidden *bool, keyFaceID *string) error
	SoftDelete(id uint) error
	Restore(id uint) error
	HardDelete(id uint) error
}

// FaceRepositoryInterface defines the methods for face data operations
type FaceRepositoryInterface interface {
	Create(face *models.Face) error
	GetByID(id string) (*models.Face, error)
	ListByPersonID(personID uint) ([]models.Face, error)
	Reassign(faceID string, newPersonID uint) error
	Delete(id string) error
}

// StoreVersionRepositoryInterface defines the methods for the change counter
type StoreVersionRepositoryInterface interface {
	Current() (int64, error)
	Increment() error
}
