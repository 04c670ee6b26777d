package repository

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/faceregistry/models"
)

func TestCreateFaceGeneratesUUID(t *testing.T) {
	db := setupTestDB(t)
	personRepo := NewPersonRepository(db, nil)
	faceRepo := NewFaceRepository(db, nil)

	person := &models.Person{Name: strPtr("Ada")}
	require.NoError(t, personRepo.Create(person))

	face := &models.Face{PersonID: person.ID, Path: "faces/a.png"}
	require.NoError(t, faceRepo.Create(face))

	_, err := uuid.Parse(face.ID)
	require.NoError(t, err)
}

func TestCreateFaceKeepsProvidedID(t *testing.T) {
	db := setupTestDB(t)
	personRepo := NewPersonRepository(db, nil)
	faceRepo := NewFaceRepository(db, nil)

	person := &models.Person{Name: strPtr("Ada")}
	require.NoError(t, personRepo.Create(person))

	id := uuid.NewString()
	face := &models.Face{ID: id, PersonID: person.ID, Path: "faces/a.png"}
	require.NoError(t, faceRepo.Create(face))
	assert.Equal(t, id, face.ID)
}

func TestGetFacePreloadsOwner(t *testing.T) {
	db := setupTestDB(t)
	personRepo := NewPersonRepository(db, nil)
	faceRepo := NewFaceRepository(db, nil)

	person := &models.Person{Name: strPtr("Ada")}
	require.NoError(t, personRepo.Create(person))
	face := &models.Face{PersonID: person.ID, Path: "faces/a.png"}
	require.NoError(t, faceRepo.Create(face))

	found, err := faceRepo.GetByID(face.ID)
	require.NoError(t, err)
	require.NotNil(t, found.Person)
	assert.Equal(t, person.ID, found.Person.ID)
}

func TestListByPersonIDOldestFirst(t *testing.T) {
	db := setupTestDB(t)
	personRepo := NewPersonRepository(db, nil)
	faceRepo := NewFaceRepository(db, nil)

	person := &models.Person{Name: strPtr("Ada")}
	require.NoError(t, personRepo.Create(person))

	older := &models.Face{PersonID: person.ID, Path: "faces/old.png", CreatedAt: 100}
	newer := &models.Face{PersonID: person.ID, Path: "faces/new.png", CreatedAt: 200}
	require.NoError(t, faceRepo.Create(newer))
	require.NoError(t, faceRepo.Create(older))

	faces, err := faceRepo.ListByPersonID(person.ID)
	require.NoError(t, err)
	require.Len(t, faces, 2)
	assert.Equal(t, older.ID, faces[0].ID)
	assert.Equal(t, newer.ID, faces[1].ID)
}

func TestReassignFace(t *testing.T) {
	db := setupTestDB(t)
	personRepo := NewPersonRepository(db, nil)
	faceRepo := NewFaceRepository(db, nil)

	from := &models.Person{Name: strPtr("From")}
	to := &models.Person{Name: strPtr("To")}
	require.NoError(t, personRepo.Create(from))
	require.NoError(t, personRepo.Create(to))

	face := &models.Face{PersonID: from.ID, Path: "faces/a.png"}
	require.NoError(t, faceRepo.Create(face))

	require.NoError(t, faceRepo.Reassign(face.ID, to.ID))
	found, err := faceRepo.GetByID(face.ID)
	require.NoError(t, err)
	assert.Equal(t, to.ID, found.PersonID)

	require.ErrorIs(t, faceRepo.Reassign("missing", to.ID), gorm.ErrRecordNotFound)
}

func TestDeleteFace(t *testing.T) {
	db := setupTestDB(t)
	personRepo := NewPersonRepository(db, nil)
	faceRepo := NewFaceRepository(db, nil)

	person := &models.Person{Name: strPtr("Ada")}
	require.NoError(t, personRepo.Create(person))
	face := &models.Face{PersonID: person.ID, Path: "faces/a.png"}
	require.NoError(t, faceRepo.Create(face))

	require.NoError(t, faceRepo.Delete(face.ID))
	_, err := faceRepo.GetByID(face.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.ErrorIs(t, faceRepo.Delete(face.ID), gorm.ErrRecordNotFound)
}
