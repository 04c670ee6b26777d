package repository

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/faceregistry/database"
	"github.com/camden-git/faceregistry/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.InitGormDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateModels(db))
	return db
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "ada lovelace", NormalizeName("  Ada   Lovelace "))
	assert.Equal(t, "ada lovelace", NormalizeName("ADA LOVELACE"))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestCreatePersonNormalizesName(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPersonRepository(db, nil)

	person := &models.Person{Name: strPtr("Ada   Lovelace")}
	require.NoError(t, repo.Create(person))
	require.NotZero(t, person.ID)

	found, err := repo.FindByName("  ada LOVELACE ")
	require.NoError(t, err)
	assert.Equal(t, person.ID, found.ID)
}

func TestFindByNameUnknown(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPersonRepository(db, nil)

	_, err := repo.FindByName("nobody")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestVersionBumpsOncePerMutation(t *testing.T) {
	db := setupTestDB(t)
	versions := NewStoreVersionRepository(db)
	personRepo := NewPersonRepository(db, versions)
	faceRepo := NewFaceRepository(db, versions)

	current, err := versions.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(0), current)

	person := &models.Person{Name: strPtr("Ada")}
	require.NoError(t, personRepo.Create(person))
	assertVersion(t, versions, 1)

	require.NoError(t, personRepo.Update(person.ID, strPtr("Ada L"), nil, nil))
	assertVersion(t, versions, 2)

	face := &models.Face{PersonID: person.ID, Path: "faces/a.png"}
	require.NoError(t, faceRepo.Create(face))
	assertVersion(t, versions, 3)

	require.NoError(t, faceRepo.Delete(face.ID))
	assertVersion(t, versions, 4)

	require.NoError(t, personRepo.SoftDelete(person.ID))
	assertVersion(t, versions, 5)

	require.NoError(t, personRepo.Restore(person.ID))
	assertVersion(t, versions, 6)

	// reads never bump
	_, err = personRepo.GetByID(person.ID)
	require.NoError(t, err)
	assertVersion(t, versions, 6)
}

func assertVersion(t *testing.T, versions StoreVersionRepositoryInterface, want int64) {
	t.Helper()
	current, err := versions.Current()
	require.NoError(t, err)
	assert.Equal(t, want, current)
}

func TestSoftDeleteHidesAndRestoreRevives(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPersonRepository(db, nil)

	person := &models.Person{Name: strPtr("Ada")}
	require.NoError(t, repo.Create(person))

	require.NoError(t, repo.SoftDelete(person.ID))
	_, err := repo.GetByID(person.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = repo.FindByName("ada")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// deleting twice finds nothing to delete
	require.ErrorIs(t, repo.SoftDelete(person.ID), gorm.ErrRecordNotFound)

	require.NoError(t, repo.Restore(person.ID))
	found, err := repo.GetByID(person.ID)
	require.NoError(t, err)
	assert.Equal(t, person.ID, found.ID)
}

func TestListAllVisibilityRules(t *testing.T) {
	db := setupTestDB(t)
	personRepo := NewPersonRepository(db, nil)
	faceRepo := NewFaceRepository(db, nil)

	visible := &models.Person{Name: strPtr("Visible")}
	require.NoError(t, personRepo.Create(visible))
	require.NoError(t, faceRepo.Create(&models.Face{PersonID: visible.ID, Path: "faces/v.png"}))

	hidden := &models.Person{Name: strPtr("Hidden"), IsHidden: true}
	require.NoError(t, personRepo.Create(hidden))
	require.NoError(t, faceRepo.Create(&models.Face{PersonID: hidden.ID, Path: "faces/h.png"}))

	faceless := &models.Person{Name: strPtr("Faceless")}
	require.NoError(t, personRepo.Create(faceless))

	deleted := &models.Person{Name: strPtr("Deleted")}
	require.NoError(t, personRepo.Create(deleted))
	require.NoError(t, faceRepo.Create(&models.Face{PersonID: deleted.ID, Path: "faces/d.png"}))
	require.NoError(t, personRepo.SoftDelete(deleted.ID))

	listed, err := personRepo.ListAll()
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, visible.ID, listed[0].ID)

	admin, err := personRepo.ListAllAdmin()
	require.NoError(t, err)
	require.Len(t, admin, 3)
	ids := []uint{admin[0].ID, admin[1].ID, admin[2].ID}
	assert.Equal(t, []uint{visible.ID, hidden.ID, faceless.ID}, ids)
}

func TestUpdateUnknownPerson(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPersonRepository(db, nil)

	err := repo.Update(9999, strPtr("Ghost"), nil, nil)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUpdatePartialFields(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPersonRepository(db, nil)

	person := &models.Person{Name: strPtr("Ada")}
	require.NoError(t, repo.Create(person))

	require.NoError(t, repo.Update(person.ID, nil, boolPtr(true), nil))
	found, err := repo.GetByID(person.ID)
	require.NoError(t, err)
	assert.True(t, found.IsHidden)
	require.NotNil(t, found.Name)
	assert.Equal(t, "Ada", *found.Name)
}

func TestUpdateEmptyKeyFaceClearsToNull(t *testing.T) {
	db := setupTestDB(t)
	personRepo := NewPersonRepository(db, nil)
	faceRepo := NewFaceRepository(db, nil)

	person := &models.Person{Name: strPtr("Ada")}
	require.NoError(t, personRepo.Create(person))
	face := &models.Face{PersonID: person.ID, Path: "faces/a.png"}
	require.NoError(t, faceRepo.Create(face))

	require.NoError(t, personRepo.Update(person.ID, nil, nil, &face.ID))
	found, err := personRepo.GetByID(person.ID)
	require.NoError(t, err)
	require.NotNil(t, found.KeyFaceID)
	assert.Equal(t, face.ID, *found.KeyFaceID)

	require.NoError(t, personRepo.Update(person.ID, nil, nil, strPtr("")))
	found, err = personRepo.GetByID(person.ID)
	require.NoError(t, err)
	assert.Nil(t, found.KeyFaceID)
}

func TestHardDeleteCascadesToFaces(t *testing.T) {
	db := setupTestDB(t)
	personRepo := NewPersonRepository(db, nil)
	faceRepo := NewFaceRepository(db, nil)

	person := &models.Person{Name: strPtr("Ada")}
	require.NoError(t, personRepo.Create(person))
	faceA := &models.Face{PersonID: person.ID, Path: "faces/a.png"}
	faceB := &models.Face{PersonID: person.ID, Path: "faces/b.png"}
	require.NoError(t, faceRepo.Create(faceA))
	require.NoError(t, faceRepo.Create(faceB))

	require.NoError(t, personRepo.HardDelete(person.ID))

	_, err := personRepo.GetByID(person.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = faceRepo.GetByID(faceA.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = faceRepo.GetByID(faceB.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
