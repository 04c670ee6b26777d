package services

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/faceregistry/database"
	"github.com/camden-git/faceregistry/hardware"
	"github.com/camden-git/faceregistry/media"
	"github.com/camden-git/faceregistry/models"
	"github.com/camden-git/faceregistry/repository"
	"github.com/camden-git/faceregistry/sessions"
	"github.com/camden-git/faceregistry/vectorindex"
)

type stubNotifier struct {
	progress []string
	results  []interface{}
}

func (n *stubNotifier) Progress(sessionID, message string) {
	n.progress = append(n.progress, message)
}

func (n *stubNotifier) Result(sessionID string, payload interface{}) {
	n.results = append(n.results, payload)
}

type testEnv struct {
	service    *RecognitionService
	index      *vectorindex.Index
	versions   repository.StoreVersionRepositoryInterface
	store      media.Store
	arbiter    *hardware.Arbiter
	registry   *sessions.Registry
	notifier   *stubNotifier
	faceRepo   repository.FaceRepositoryInterface
	personRepo repository.PersonRepositoryInterface
}

// rebuild wires a second service over the same stores, swapping in stub
// components for failure-path tests.
func (env *testEnv) rebuild(index VectorIndex, faceRepo repository.FaceRepositoryInterface, detector media.Detector, embedder media.Embedder, aligner media.Aligner) *RecognitionService {
	return NewRecognitionService(
		env.personRepo, faceRepo, env.versions,
		index, env.store, env.arbiter, env.registry,
		detector, embedder, aligner, env.notifier,
		0.99, 0.3, 2,
	)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.InitGormDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateModels(db))

	store, err := media.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	registry, err := sessions.NewRegistry(t.TempDir())
	require.NoError(t, err)

	versions := repository.NewStoreVersionRepository(db)
	personRepo := repository.NewPersonRepository(db, versions)
	faceRepo := repository.NewFaceRepository(db, versions)
	index := vectorindex.NewIndex(4)
	arbiter := hardware.NewArbiter()
	notifier := &stubNotifier{}

	service := NewRecognitionService(
		personRepo, faceRepo, versions,
		index, store, arbiter, registry,
		nil, nil, nil, notifier,
		0.99, 0.3, 2,
	)
	return &testEnv{
		service:    service,
		index:      index,
		versions:   versions,
		store:      store,
		arbiter:    arbiter,
		registry:   registry,
		notifier:   notifier,
		faceRepo:   faceRepo,
		personRepo: personRepo,
	}
}

func imageBytes() []byte { return []byte("not-a-real-png") }

func TestRegisterRejectsInvalidVectorWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.service.Register(nil, imageBytes(), []float32{1, 0})
	require.ErrorIs(t, err, ErrInvalidVector)

	assert.Equal(t, 0, env.index.Len())
	version, err := env.versions.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
	people, err := env.service.ListPersonsAdmin()
	require.NoError(t, err)
	assert.Empty(t, people)
}

func TestRegisterNamedPerson(t *testing.T) {
	env := newTestEnv(t)

	identity := IdentityByName("Ada Lovelace")
	person, faceID, err := env.service.Register(&identity, imageBytes(), []float32{1, 0, 0, 0})
	require.NoError(t, err)

	require.NotNil(t, person.Name)
	assert.Equal(t, "Ada Lovelace", *person.Name)
	require.Len(t, person.FaceIDs, 1)
	assert.Equal(t, faceID, person.FaceIDs[0])
	require.NotNil(t, person.KeyFaceID)
	assert.Equal(t, faceID, *person.KeyFaceID)

	assert.Equal(t, 1, env.index.Len())
	face, err := env.service.GetFace(faceID)
	require.NoError(t, err)
	assert.True(t, env.store.Exists(face.Path))
}

func TestRegisterDeduplicatesNearIdenticalEmbedding(t *testing.T) {
	env := newTestEnv(t)

	identity := IdentityByName("Ada")
	first, firstFace, err := env.service.Register(&identity, imageBytes(), []float32{1, 0, 0, 0})
	require.NoError(t, err)

	// same embedding under a different name: resolves to the existing face
	other := IdentityByName("Someone Else")
	second, secondFace, err := env.service.Register(&other, imageBytes(), []float32{1, 0, 0, 0})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, firstFace, secondFace)
	assert.Equal(t, 1, env.index.Len())

	// no second person was created
	people, err := env.service.ListPersonsAdmin()
	require.NoError(t, err)
	assert.Len(t, people, 1)
}

func TestRegisterDistinctEmbeddingsSamePerson(t *testing.T) {
	env := newTestEnv(t)

	identity := IdentityByName("Ada")
	first, _, err := env.service.Register(&identity, imageBytes(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	second, _, err := env.service.Register(&identity, imageBytes(), []float32{0, 1, 0, 0})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.FaceIDs, 2)
	assert.Equal(t, 2, env.index.Len())
}

func TestSearchGroupsMatchesPerPerson(t *testing.T) {
	env := newTestEnv(t)

	identity := IdentityByName("Ada")
	person, bestFace, err := env.service.Register(&identity, imageBytes(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, _, err = env.service.Register(&identity, imageBytes(), []float32{1, 1, 0, 0})
	require.NoError(t, err)

	matches, err := env.service.Search(imageBytes(), []float32{1, 0, 0, 0}, 0, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, person.ID, matches[0].Person.ID)
	assert.Equal(t, bestFace, matches[0].FaceID)
	assert.InDelta(t, 1.0, matches[0].Confidence, 0.01)
}

func TestSearchAutoRegistersUnknownFace(t *testing.T) {
	env := newTestEnv(t)

	matches, err := env.service.Search(imageBytes(), []float32{0, 0, 1, 0}, 0, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Nil(t, matches[0].Person.Name)
	assert.Equal(t, float32(1.0), matches[0].Confidence)
	assert.Equal(t, 1, env.index.Len())

	// the new person is immediately searchable
	again, err := env.service.Search(imageBytes(), []float32{0, 0, 1, 0}, 0, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, matches[0].Person.ID, again[0].Person.ID)
}

func TestSearchRejectsInvalidVector(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Search(imageBytes(), []float32{1}, 0, 0)
	require.ErrorIs(t, err, ErrInvalidVector)
}

func TestRecognizeUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Recognize("nope", "some-file.png")
	require.ErrorIs(t, err, sessions.ErrSessionNotFound)
}

func TestRecognizeWhileHardwareBusy(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.registry.Create("sess-1")
	require.NoError(t, err)

	require.NoError(t, env.arbiter.TryAcquire())
	defer env.arbiter.Release()

	_, err = env.service.Recognize("sess-1", "some-file.png")
	require.ErrorIs(t, err, hardware.ErrBusy)
	require.NotEmpty(t, env.notifier.results)
}

func TestRecognizeMissingUpload(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.registry.Create("sess-1")
	require.NoError(t, err)

	_, err = env.service.Recognize("sess-1", "missing.png")
	require.ErrorIs(t, err, ErrUploadNotFound)
	// hardware was released again
	require.NoError(t, env.arbiter.TryAcquire())
}

func TestDeleteFaceCleansAllStores(t *testing.T) {
	env := newTestEnv(t)

	person, faceID, err := env.service.Register(nil, imageBytes(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	face, err := env.service.GetFace(faceID)
	require.NoError(t, err)

	require.NoError(t, env.service.DeleteFace(faceID))

	_, err = env.service.GetFace(faceID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Equal(t, 0, env.index.Len())
	assert.False(t, env.store.Exists(face.Path))

	// the anonymous owner had nothing else, so it was reaped
	_, err = env.service.GetPerson(person.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDeleteFaceKeepsNamedPerson(t *testing.T) {
	env := newTestEnv(t)

	identity := IdentityByName("Ada")
	person, faceID, err := env.service.Register(&identity, imageBytes(), []float32{1, 0, 0, 0})
	require.NoError(t, err)

	require.NoError(t, env.service.DeleteFace(faceID))

	kept, err := env.service.GetPerson(person.ID)
	require.NoError(t, err)
	assert.Empty(t, kept.FaceIDs)
}

func TestReassignFaceCreatesTargetByName(t *testing.T) {
	env := newTestEnv(t)

	anon, faceID, err := env.service.Register(nil, imageBytes(), []float32{1, 0, 0, 0})
	require.NoError(t, err)

	face, err := env.service.ReassignFace(faceID, IdentityByName("Grace Hopper"))
	require.NoError(t, err)
	require.NotNil(t, face.PersonName)
	assert.Equal(t, "Grace Hopper", *face.PersonName)

	// the emptied anonymous person is reaped
	_, err = env.service.GetPerson(anon.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPurgePersonRemovesEverything(t *testing.T) {
	env := newTestEnv(t)

	identity := IdentityByName("Ada")
	person, faceID, err := env.service.Register(&identity, imageBytes(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	face, err := env.service.GetFace(faceID)
	require.NoError(t, err)

	require.NoError(t, env.service.PurgePerson(person.ID))

	_, err = env.service.GetPerson(person.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = env.service.GetFace(faceID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Equal(t, 0, env.index.Len())
	assert.False(t, env.store.Exists(face.Path))
}

func TestSoftDeleteHidesFromSearch(t *testing.T) {
	env := newTestEnv(t)

	identity := IdentityByName("Ada")
	person, _, err := env.service.Register(&identity, imageBytes(), []float32{1, 0, 0, 0})
	require.NoError(t, err)

	require.NoError(t, env.service.DeletePerson(person.ID))

	// the vector still hits, but the owner no longer resolves; the probe is
	// treated as unknown and auto-registered
	matches, err := env.service.Search(imageBytes(), []float32{1, 0, 0, 0}, 0, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.NotEqual(t, person.ID, matches[0].Person.ID)
	assert.Nil(t, matches[0].Person.Name)
}

type failingFaceRepo struct {
	repository.FaceRepositoryInterface
}

func (failingFaceRepo) Create(face *models.Face) error {
	return errors.New("disk full")
}

type failingIndex struct {
	*vectorindex.Index
}

func (failingIndex) Add(faceID string, vector []float32) error {
	return errors.New("index unavailable")
}

func TestRegisterCleansUpBlobWhenFaceCreateFails(t *testing.T) {
	env := newTestEnv(t)
	svc := env.rebuild(env.index, failingFaceRepo{env.faceRepo}, nil, nil, nil)

	identity := IdentityByName("Ada")
	_, _, err := svc.Register(&identity, imageBytes(), []float32{1, 0, 0, 0})
	require.Error(t, err)

	// the blob written before the row failure was removed again
	blobs, err := env.store.List(media.AssetTypeFace)
	require.NoError(t, err)
	assert.Empty(t, blobs)
	assert.Equal(t, 0, env.index.Len())
}

func TestRegisterCleansUpRowAndBlobWhenIndexAddFails(t *testing.T) {
	env := newTestEnv(t)
	svc := env.rebuild(failingIndex{env.index}, env.faceRepo, nil, nil, nil)

	identity := IdentityByName("Ada")
	_, _, err := svc.Register(&identity, imageBytes(), []float32{1, 0, 0, 0})
	require.Error(t, err)

	blobs, err := env.store.List(media.AssetTypeFace)
	require.NoError(t, err)
	assert.Empty(t, blobs)
	assert.Equal(t, 0, env.index.Len())

	// the face row written before the index failure was rolled back
	people, err := env.service.ListPersonsAdmin()
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Empty(t, people[0].FaceIDs)
}

func TestUpdatePersonClearsKeyFace(t *testing.T) {
	env := newTestEnv(t)

	identity := IdentityByName("Ada")
	person, first, err := env.service.Register(&identity, imageBytes(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	_, second, err := env.service.Register(&identity, imageBytes(), []float32{0, 1, 0, 0})
	require.NoError(t, err)

	rec, err := env.service.UpdatePerson(person.ID, nil, nil, &second)
	require.NoError(t, err)
	require.NotNil(t, rec.KeyFaceID)
	assert.Equal(t, second, *rec.KeyFaceID)

	// an empty id clears the stored key face, the earliest face takes over
	empty := ""
	rec, err = env.service.UpdatePerson(person.ID, nil, nil, &empty)
	require.NoError(t, err)
	require.NotNil(t, rec.KeyFaceID)
	assert.Equal(t, first, *rec.KeyFaceID)

	stored, err := env.personRepo.GetByID(person.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.KeyFaceID)
}

type scriptedDetector struct {
	faces map[string]int
}

func (d *scriptedDetector) Scan(path string) (*media.ScanResult, error) {
	result := &media.ScanResult{Info: path}
	for i := 0; i < d.faces[filepath.Base(path)]; i++ {
		result.Faces = append(result.Faces, media.FaceDetection{
			BBox:       media.BoundingBox{X2: 10, Y2: 10},
			Landmarks:  []media.Point{{X: 1, Y: 1}, {X: 3, Y: 1}, {X: 2, Y: 2}, {X: 1, Y: 3}, {X: 3, Y: 3}},
			Confidence: 0.9,
		})
	}
	return result, nil
}

func (d *scriptedDetector) BatchScan(paths []string) ([]*media.ScanResult, error) {
	results := make([]*media.ScanResult, 0, len(paths))
	for _, path := range paths {
		result, err := d.Scan(path)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (d *scriptedDetector) Close() {}

type fixedAligner struct{}

func (fixedAligner) Align(img image.Image, landmarks []media.Point) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

type fixedEmbedder struct {
	vector []float32
}

func (e fixedEmbedder) Embed(aligned image.Image) ([]float32, error) {
	return e.vector, nil
}

func uploadPNG(t *testing.T, registry *sessions.Registry, sessionID string, shade uint8) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: shade, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	result, err := registry.Upload(sessionID, "photo.png", &buf)
	require.NoError(t, err)
	return result.FileIdentifier
}

func TestBatchRegisterUploadsSkipsUnusableImages(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.registry.Create("sess-1")
	require.NoError(t, err)

	single := uploadPNG(t, env.registry, "sess-1", 1)
	empty := uploadPNG(t, env.registry, "sess-1", 2)
	crowd := uploadPNG(t, env.registry, "sess-1", 3)

	detector := &scriptedDetector{faces: map[string]int{single: 1, empty: 0, crowd: 2}}
	svc := env.rebuild(env.index, env.faceRepo, detector, fixedEmbedder{vector: []float32{1, 0, 0, 0}}, fixedAligner{})

	identity := IdentityByName("Margaret")
	report, err := svc.BatchRegisterUploads("sess-1", []string{single, empty, crowd, "missing.png"}, &identity)
	require.NoError(t, err)

	require.Len(t, report.FaceIDs, 1)
	require.NotNil(t, report.Person)
	require.NotNil(t, report.Person.Name)
	assert.Equal(t, "Margaret", *report.Person.Name)
	assert.Equal(t, 1, env.index.Len())

	reasons := make(map[string]string)
	for _, skip := range report.Skipped {
		reasons[skip.Identifier] = skip.Reason
	}
	assert.Equal(t, "no face detected", reasons[empty])
	assert.Equal(t, "2 faces detected, need exactly one", reasons[crowd])
	assert.Equal(t, "uploaded file not found", reasons["missing.png"])

	// hardware was released again
	require.NoError(t, env.arbiter.TryAcquire())
}

func TestBatchRegisterUploadsWhileHardwareBusy(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.registry.Create("sess-1")
	require.NoError(t, err)

	detector := &scriptedDetector{faces: map[string]int{}}
	svc := env.rebuild(env.index, env.faceRepo, detector, fixedEmbedder{vector: []float32{1, 0, 0, 0}}, fixedAligner{})

	require.NoError(t, env.arbiter.TryAcquire())
	defer env.arbiter.Release()

	_, err = svc.BatchRegisterUploads("sess-1", []string{"anything.png"}, nil)
	require.ErrorIs(t, err, hardware.ErrBusy)
}

func TestUpdatePersonRejectsForeignKeyFace(t *testing.T) {
	env := newTestEnv(t)

	ada := IdentityByName("Ada")
	adaRec, _, err := env.service.Register(&ada, imageBytes(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	grace := IdentityByName("Grace")
	_, graceFace, err := env.service.Register(&grace, imageBytes(), []float32{0, 1, 0, 0})
	require.NoError(t, err)

	_, err = env.service.UpdatePerson(adaRec.ID, nil, nil, &graceFace)
	require.Error(t, err)
}
