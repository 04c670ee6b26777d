package services

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"log"
	"os"
	"sort"

	"github.com/disintegration/imaging"
	"gorm.io/gorm"

	"github.com/camden-git/faceregistry/hardware"
	"github.com/camden-git/faceregistry/media"
	"github.com/camden-git/faceregistry/models"
	"github.com/camden-git/faceregistry/repository"
	"github.com/camden-git/faceregistry/sessions"
	"github.com/camden-git/faceregistry/vectorindex"
)

// Notifier pushes realtime events to a connected session. A nil notifier
// is allowed; the service then works silently.
type Notifier interface {
	Progress(sessionID, message string)
	Result(sessionID string, payload interface{})
}

// VectorIndex is the slice of the embedding index the service needs.
type VectorIndex interface {
	Dims() int
	Add(faceID string, vector []float32) error
	Remove(faceID string)
	VectorSearch(vector []float32, threshold float32, count int) ([]vectorindex.Candidate, error)
}

// PersonRecord is the outward-facing shape of a person.
type PersonRecord struct {
	ID        uint     `json:"id"`
	Name      *string  `json:"name"`
	KeyFaceID *string  `json:"key_face_id,omitempty"`
	IsHidden  bool     `json:"is_hidden"`
	IsDeleted bool     `json:"is_deleted,omitempty"`
	FaceIDs   []string `json:"face_ids"`
}

// FaceRecord is the outward-facing shape of a registered face.
type FaceRecord struct {
	ID         string  `json:"id"`
	PersonID   uint    `json:"person_id"`
	PersonName *string `json:"person_name,omitempty"`
	Path       string  `json:"path"`
}

// PersonMatch is one person recognized in a probe image. Confidence is the
// similarity of that person's best-matching face, rounded for display.
type PersonMatch struct {
	Person     PersonRecord `json:"person"`
	FaceID     string       `json:"face_id"`
	Confidence float32      `json:"confidence"`
}

// AlignedFace is one detected face with the storage id of its aligned crop.
type AlignedFace struct {
	BBox       media.BoundingBox `json:"bbox"`
	Landmarks  []media.Point     `json:"landmarks"`
	Confidence float32           `json:"confidence"`
	StorageID  string            `json:"storage_id,omitempty"`
}

// DetectionReport is the outcome of a detect-and-align pass over one image.
type DetectionReport struct {
	Faces  []AlignedFace `json:"faces"`
	Width  int           `json:"width,omitempty"`
	Height int           `json:"height,omitempty"`
}

// RecognitionResult is what a session-scoped recognition run returns.
type RecognitionResult struct {
	Identifier string        `json:"identifier"`
	Faces      []AlignedFace `json:"faces"`
	Width      int           `json:"width,omitempty"`
	Height     int           `json:"height,omitempty"`
}

// RecognitionService coordinates the identity store, the vector index, the
// blob store and the inference hardware. It is the only component that
// mutates more than one of them in a single operation, so the compensation
// logic for partial failures lives here.
type RecognitionService struct {
	personRepo repository.PersonRepositoryInterface
	faceRepo   repository.FaceRepositoryInterface
	versions   repository.StoreVersionRepositoryInterface
	index      VectorIndex
	store      media.Store
	arbiter    *hardware.Arbiter
	registry   *sessions.Registry
	detector   media.Detector
	embedder   media.Embedder
	aligner    media.Aligner
	notifier   Notifier

	dedupThreshold  float32
	searchThreshold float32
	searchCount     int
}

// NewRecognitionService wires the service. detector, embedder, aligner and
// notifier may be nil; the operations that need a missing component fail
// with an explicit error instead.
func NewRecognitionService(
	personRepo repository.PersonRepositoryInterface,
	faceRepo repository.FaceRepositoryInterface,
	versions repository.StoreVersionRepositoryInterface,
	index VectorIndex,
	store media.Store,
	arbiter *hardware.Arbiter,
	registry *sessions.Registry,
	detector media.Detector,
	embedder media.Embedder,
	aligner media.Aligner,
	notifier Notifier,
	dedupThreshold, searchThreshold float32,
	searchCount int,
) *RecognitionService {
	return &RecognitionService{
		personRepo:      personRepo,
		faceRepo:        faceRepo,
		versions:        versions,
		index:           index,
		store:           store,
		arbiter:         arbiter,
		registry:        registry,
		detector:        detector,
		embedder:        embedder,
		aligner:         aligner,
		notifier:        notifier,
		dedupThreshold:  dedupThreshold,
		searchThreshold: searchThreshold,
		searchCount:     searchCount,
	}
}

// StoreVersion returns the current identity store change counter.
func (s *RecognitionService) StoreVersion() (int64, error) {
	return s.versions.Current()
}

func (s *RecognitionService) notifyProgress(sessionID, message string) {
	if s.notifier != nil {
		s.notifier.Progress(sessionID, message)
	}
}

func (s *RecognitionService) notifyResult(sessionID string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.Result(sessionID, payload)
	}
}

func (s *RecognitionService) validateVector(vector []float32) error {
	if len(vector) != s.index.Dims() {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidVector, len(vector), s.index.Dims())
	}
	return nil
}

// keyFaceID is the stored representative face if set, otherwise the
// earliest registered face.
func keyFaceID(person *models.Person) *string {
	if person.KeyFaceID != nil {
		return person.KeyFaceID
	}
	if len(person.Faces) == 0 {
		return nil
	}
	faces := person.Faces
	first := faces[0]
	for _, f := range faces[1:] {
		if f.CreatedAt < first.CreatedAt {
			first = f
		}
	}
	id := first.ID
	return &id
}

func buildPersonRecord(person *models.Person) PersonRecord {
	faces := make([]models.Face, len(person.Faces))
	copy(faces, person.Faces)
	sort.Slice(faces, func(i, j int) bool {
		if faces[i].CreatedAt != faces[j].CreatedAt {
			return faces[i].CreatedAt < faces[j].CreatedAt
		}
		return faces[i].ID < faces[j].ID
	})

	ids := make([]string, len(faces))
	for i, f := range faces {
		ids[i] = f.ID
	}
	return PersonRecord{
		ID:        person.ID,
		Name:      person.Name,
		KeyFaceID: keyFaceID(person),
		IsHidden:  person.IsHidden,
		IsDeleted: person.IsDeleted,
		FaceIDs:   ids,
	}
}

func buildFaceRecord(face *models.Face) FaceRecord {
	rec := FaceRecord{
		ID:       face.ID,
		PersonID: face.PersonID,
		Path:     face.Path,
	}
	if face.Person != nil {
		rec.PersonName = face.Person.Name
	}
	return rec
}

// resolvePerson finds the person an Identity points at, creating a new row
// for an unknown name. The anonymous flag asks for a fresh unnamed person.
func (s *RecognitionService) resolvePerson(identity *Identity) (*models.Person, error) {
	if identity == nil {
		person := &models.Person{}
		if err := s.personRepo.Create(person); err != nil {
			return nil, fmt.Errorf("failed to create anonymous person: %w", err)
		}
		return person, nil
	}

	if !identity.byName {
		person, err := s.personRepo.GetByID(identity.id)
		if err != nil {
			return nil, err
		}
		return person, nil
	}

	if repository.NormalizeName(identity.name) == "" {
		return s.resolvePerson(nil)
	}
	person, err := s.personRepo.FindByName(identity.name)
	if err == nil {
		return person, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	name := identity.name
	person = &models.Person{Name: &name}
	if err := s.personRepo.Create(person); err != nil {
		return nil, fmt.Errorf("failed to create person %q: %w", name, err)
	}
	return person, nil
}

// Register adds a face image and its embedding under the given identity.
// A nil identity registers the face to a fresh anonymous person. If an
// existing face matches the embedding at or above the dedup threshold the
// call is a no-op and the existing face's owner is returned.
func (s *RecognitionService) Register(identity *Identity, imageData []byte, vector []float32) (*PersonRecord, string, error) {
	if err := s.validateVector(vector); err != nil {
		return nil, "", err
	}

	// dedup probe runs before any row is created so a hit leaves nothing behind
	hits, err := s.index.VectorSearch(vector, s.dedupThreshold, 1)
	if err != nil {
		return nil, "", err
	}
	if len(hits) > 0 {
		if rec, faceID, ok := s.lookupOwner(hits[0].FaceID); ok {
			log.Printf("services: register deduplicated against face %s (similarity %.2f)", faceID, hits[0].Display)
			return rec, faceID, nil
		}
		// index entry with no backing row, the reconciler will collect it
		log.Printf("services: dedup hit %s has no face row, registering fresh", hits[0].FaceID)
	}

	person, err := s.resolvePerson(identity)
	if err != nil {
		return nil, "", err
	}

	blobPath, err := s.store.Save(media.AssetTypeFace, "", ".png", bytes.NewReader(imageData))
	if err != nil {
		return nil, "", fmt.Errorf("failed to store face image: %w", err)
	}

	face := &models.Face{PersonID: person.ID, Path: blobPath}
	if err := s.faceRepo.Create(face); err != nil {
		if delErr := s.store.Delete(blobPath); delErr != nil {
			log.Printf("services: failed to clean up blob %s after face create error: %v", blobPath, delErr)
		}
		return nil, "", fmt.Errorf("failed to create face row: %w", err)
	}

	if err := s.index.Add(face.ID, vector); err != nil {
		if delErr := s.faceRepo.Delete(face.ID); delErr != nil {
			log.Printf("services: failed to clean up face %s after index error: %v", face.ID, delErr)
		}
		if delErr := s.store.Delete(blobPath); delErr != nil {
			log.Printf("services: failed to clean up blob %s after index error: %v", blobPath, delErr)
		}
		return nil, "", fmt.Errorf("failed to index face %s: %w", face.ID, err)
	}

	fresh, err := s.personRepo.GetByID(person.ID)
	if err != nil {
		return nil, "", err
	}
	rec := buildPersonRecord(fresh)
	log.Printf("services: registered face %s for person %d", face.ID, person.ID)
	return &rec, face.ID, nil
}

// lookupOwner maps a face id from the index back to its person. Returns
// false when either row is gone (the index entry is an orphan).
func (s *RecognitionService) lookupOwner(faceID string) (*PersonRecord, string, bool) {
	face, err := s.faceRepo.GetByID(faceID)
	if err != nil {
		return nil, "", false
	}
	person, err := s.personRepo.GetByID(face.PersonID)
	if err != nil {
		return nil, "", false
	}
	rec := buildPersonRecord(person)
	return &rec, face.ID, true
}

// Search finds the persons whose faces match the probe embedding. Results
// are grouped per person keeping each person's best face, ordered by
// descending confidence. Threshold and count fall back to the configured
// defaults when not positive. When nothing clears the threshold the probe
// is auto-registered to a new anonymous person, returned with confidence 1.0.
func (s *RecognitionService) Search(imageData []byte, vector []float32, threshold float32, count int) ([]PersonMatch, error) {
	if err := s.validateVector(vector); err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = s.searchThreshold
	}
	if count <= 0 {
		count = s.searchCount
	}

	hits, err := s.index.VectorSearch(vector, threshold, count)
	if err != nil {
		return nil, err
	}

	var matches []PersonMatch
	seen := make(map[uint]bool)
	for _, hit := range hits {
		rec, faceID, ok := s.lookupOwner(hit.FaceID)
		if !ok {
			continue
		}
		// hits arrive best-first, so the first face per person is its best
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		matches = append(matches, PersonMatch{
			Person:     *rec,
			FaceID:     faceID,
			Confidence: hit.Display,
		})
	}

	if len(matches) > 0 {
		return matches, nil
	}

	rec, faceID, err := s.Register(nil, imageData, vector)
	if err != nil {
		return nil, fmt.Errorf("failed to auto-register unknown face: %w", err)
	}
	return []PersonMatch{{Person: *rec, FaceID: faceID, Confidence: 1.0}}, nil
}

// DetectAndAlign runs the detector over an image on disk, aligns every
// found face and stores the aligned crops. The returned storage ids let
// callers fetch or embed individual crops later.
func (s *RecognitionService) DetectAndAlign(path string) (*DetectionReport, error) {
	if s.detector == nil {
		return nil, errors.New("no face detector configured")
	}

	scan, err := s.detector.Scan(path)
	if err != nil {
		return nil, fmt.Errorf("detection failed for %s: %w", path, err)
	}

	report := &DetectionReport{}
	if meta, metaErr := media.GetImageMetadata(path); metaErr == nil {
		if meta.Width != nil {
			report.Width = *meta.Width
		}
		if meta.Height != nil {
			report.Height = *meta.Height
		}
	}

	if len(scan.Faces) == 0 {
		return report, nil
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for alignment: %w", path, err)
	}

	for _, det := range scan.Faces {
		af := AlignedFace{
			BBox:       det.BBox,
			Landmarks:  det.Landmarks,
			Confidence: det.Confidence,
		}
		if s.aligner != nil {
			aligned, alignErr := s.aligner.Align(img, det.Landmarks)
			if alignErr != nil {
				log.Printf("services: failed to align face in %s: %v", path, alignErr)
			} else {
				var buf bytes.Buffer
				if encErr := png.Encode(&buf, aligned); encErr == nil {
					if storageID, saveErr := s.store.Save(media.AssetTypeAligned, "", ".png", &buf); saveErr == nil {
						af.StorageID = storageID
					} else {
						log.Printf("services: failed to store aligned crop from %s: %v", path, saveErr)
					}
				}
			}
		}
		report.Faces = append(report.Faces, af)
	}
	return report, nil
}

// RegisterFromImage runs the full pipeline over an image on disk: detect,
// align, embed, then register under the given identity. The image must
// contain exactly one face.
func (s *RecognitionService) RegisterFromImage(identity *Identity, path string) (*PersonRecord, string, error) {
	if s.detector == nil || s.embedder == nil || s.aligner == nil {
		return nil, "", errors.New("full pipeline requires detector, embedder and aligner")
	}

	scan, err := s.detector.Scan(path)
	if err != nil {
		return nil, "", fmt.Errorf("detection failed for %s: %w", path, err)
	}
	switch len(scan.Faces) {
	case 0:
		return nil, "", ErrNoFaceDetected
	case 1:
	default:
		return nil, "", fmt.Errorf("%w: found %d", ErrAmbiguousFace, len(scan.Faces))
	}
	return s.registerDetection(identity, path, scan.Faces[0])
}

// registerDetection aligns, embeds and registers one already-detected face.
func (s *RecognitionService) registerDetection(identity *Identity, path string, det media.FaceDetection) (*PersonRecord, string, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	aligned, err := s.aligner.Align(img, det.Landmarks)
	if err != nil {
		return nil, "", fmt.Errorf("failed to align face from %s: %w", path, err)
	}
	vector, err := s.embedder.Embed(aligned)
	if err != nil {
		return nil, "", fmt.Errorf("failed to embed face from %s: %w", path, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, aligned); err != nil {
		return nil, "", fmt.Errorf("failed to encode aligned crop: %w", err)
	}
	return s.Register(identity, buf.Bytes(), vector)
}

// RegisterUpload runs RegisterFromImage against a session's uploaded file,
// holding the hardware for the duration of the pipeline.
func (s *RecognitionService) RegisterUpload(sessionID, identifier string, identity *Identity) (*PersonRecord, string, error) {
	if _, err := s.registry.Get(sessionID); err != nil {
		return nil, "", err
	}
	if err := s.registry.Touch(sessionID); err != nil {
		return nil, "", err
	}

	if err := s.arbiter.TryAcquire(); err != nil {
		return nil, "", err
	}
	defer s.arbiter.Release()

	path, err := s.registry.UploadPath(sessionID, identifier)
	if err != nil {
		return nil, "", err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrUploadNotFound, identifier)
	}
	return s.RegisterFromImage(identity, path)
}

// BatchSkip records one image a batch registration passed over and why.
type BatchSkip struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// BatchRegisterReport summarizes a batch registration run. Person is the
// final state of the person the faces were registered to, nil when every
// image was skipped.
type BatchRegisterReport struct {
	Person  *PersonRecord `json:"person,omitempty"`
	FaceIDs []string      `json:"face_ids"`
	Skipped []BatchSkip   `json:"skipped"`
}

// BatchRegisterUploads registers several of a session's uploaded files
// under one identity, holding the hardware for a single batch detection
// pass. Images with zero or more than one face are skipped, not failed; so
// are images the pipeline cannot process. A nil identity registers the
// whole batch to one fresh anonymous person.
func (s *RecognitionService) BatchRegisterUploads(sessionID string, identifiers []string, identity *Identity) (*BatchRegisterReport, error) {
	if s.detector == nil || s.embedder == nil || s.aligner == nil {
		return nil, errors.New("full pipeline requires detector, embedder and aligner")
	}
	if _, err := s.registry.Get(sessionID); err != nil {
		return nil, err
	}
	if err := s.registry.Touch(sessionID); err != nil {
		return nil, err
	}

	if err := s.arbiter.TryAcquire(); err != nil {
		return nil, err
	}
	defer s.arbiter.Release()

	report := &BatchRegisterReport{}
	var paths, found []string
	for _, identifier := range identifiers {
		path, err := s.registry.UploadPath(sessionID, identifier)
		if err != nil {
			return nil, err
		}
		if _, statErr := os.Stat(path); statErr != nil {
			report.Skipped = append(report.Skipped, BatchSkip{Identifier: identifier, Reason: "uploaded file not found"})
			continue
		}
		paths = append(paths, path)
		found = append(found, identifier)
	}
	if len(paths) == 0 {
		return report, nil
	}

	scans, err := s.detector.BatchScan(paths)
	if err != nil {
		return nil, fmt.Errorf("batch detection failed: %w", err)
	}

	for i, scan := range scans {
		identifier := found[i]
		switch len(scan.Faces) {
		case 0:
			report.Skipped = append(report.Skipped, BatchSkip{Identifier: identifier, Reason: "no face detected"})
			continue
		case 1:
		default:
			report.Skipped = append(report.Skipped, BatchSkip{
				Identifier: identifier,
				Reason:     fmt.Sprintf("%d faces detected, need exactly one", len(scan.Faces)),
			})
			continue
		}

		person, faceID, regErr := s.registerDetection(identity, paths[i], scan.Faces[0])
		if regErr != nil {
			log.Printf("services: batch register skipped %s: %v", identifier, regErr)
			report.Skipped = append(report.Skipped, BatchSkip{Identifier: identifier, Reason: regErr.Error()})
			continue
		}
		report.Person = person
		report.FaceIDs = append(report.FaceIDs, faceID)
		if identity == nil {
			// keep the rest of the batch on the person the first image created
			id := IdentityByID(person.ID)
			identity = &id
		}
	}
	log.Printf("services: batch registered %d face(s) for session %s, skipped %d", len(report.FaceIDs), sessionID, len(report.Skipped))
	return report, nil
}

// Recognize runs detection over a previously uploaded file within a
// session, guarded by the hardware arbiter. Progress and the final outcome
// are also pushed to the session through the notifier.
func (s *RecognitionService) Recognize(sessionID, identifier string) (*RecognitionResult, error) {
	if _, err := s.registry.Get(sessionID); err != nil {
		return nil, err
	}
	if err := s.registry.Touch(sessionID); err != nil {
		return nil, err
	}
	s.notifyProgress(sessionID, "recognition request received")

	if err := s.arbiter.TryAcquire(); err != nil {
		s.notifyResult(sessionID, map[string]interface{}{
			"identifier": identifier,
			"status":     "failed",
			"error":      "resource is busy",
		})
		return nil, err
	}
	defer s.arbiter.Release()
	s.notifyProgress(sessionID, "hardware acquired, running detection")

	path, err := s.registry.UploadPath(sessionID, identifier)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		s.notifyResult(sessionID, map[string]interface{}{
			"identifier": identifier,
			"status":     "failed",
			"error":      "uploaded file not found",
		})
		return nil, fmt.Errorf("%w: %s", ErrUploadNotFound, identifier)
	}

	report, err := s.DetectAndAlign(path)
	if err != nil {
		s.notifyResult(sessionID, map[string]interface{}{
			"identifier": identifier,
			"status":     "failed",
			"error":      err.Error(),
		})
		return nil, err
	}

	result := &RecognitionResult{
		Identifier: identifier,
		Faces:      report.Faces,
		Width:      report.Width,
		Height:     report.Height,
	}
	s.notifyResult(sessionID, map[string]interface{}{
		"identifier": identifier,
		"status":     "success",
		"result":     result,
	})
	return result, nil
}

// GetPerson returns one active person.
func (s *RecognitionService) GetPerson(id uint) (*PersonRecord, error) {
	person, err := s.personRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	rec := buildPersonRecord(person)
	return &rec, nil
}

// ListPersons returns all listable persons: active, not hidden, with at
// least one registered face.
func (s *RecognitionService) ListPersons() ([]PersonRecord, error) {
	persons, err := s.personRepo.ListAll()
	if err != nil {
		return nil, err
	}
	records := make([]PersonRecord, len(persons))
	for i := range persons {
		records[i] = buildPersonRecord(&persons[i])
	}
	return records, nil
}

// ListPersonsAdmin returns every non-deleted person including hidden and
// faceless ones.
func (s *RecognitionService) ListPersonsAdmin() ([]PersonRecord, error) {
	persons, err := s.personRepo.ListAllAdmin()
	if err != nil {
		return nil, err
	}
	records := make([]PersonRecord, len(persons))
	for i := range persons {
		records[i] = buildPersonRecord(&persons[i])
	}
	return records, nil
}

// UpdatePerson applies a partial update. Nil fields are left unchanged; an
// empty keyFaceID clears the stored key face so the earliest registered
// face becomes the representative again.
func (s *RecognitionService) UpdatePerson(id uint, name *string, isHidden *bool, keyFaceID *string) (*PersonRecord, error) {
	if keyFaceID != nil && *keyFaceID != "" {
		face, err := s.faceRepo.GetByID(*keyFaceID)
		if err != nil {
			return nil, fmt.Errorf("key face %s: %w", *keyFaceID, err)
		}
		if face.PersonID != id {
			return nil, fmt.Errorf("key face %s does not belong to person %d", *keyFaceID, id)
		}
	}
	if err := s.personRepo.Update(id, name, isHidden, keyFaceID); err != nil {
		return nil, err
	}
	return s.GetPerson(id)
}

// DeletePerson soft-deletes a person. Their faces stay registered and
// searchable results simply stop resolving to them until restored.
func (s *RecognitionService) DeletePerson(id uint) error {
	return s.personRepo.SoftDelete(id)
}

// RestorePerson undoes a soft delete.
func (s *RecognitionService) RestorePerson(id uint) (*PersonRecord, error) {
	if err := s.personRepo.Restore(id); err != nil {
		return nil, err
	}
	return s.GetPerson(id)
}

// PurgePerson permanently removes a person together with all their faces,
// embeddings and stored images.
func (s *RecognitionService) PurgePerson(id uint) error {
	faces, err := s.faceRepo.ListByPersonID(id)
	if err != nil {
		return err
	}
	for _, face := range faces {
		s.index.Remove(face.ID)
		if err := s.store.Delete(face.Path); err != nil {
			log.Printf("services: failed to delete blob %s while purging person %d: %v", face.Path, id, err)
		}
	}
	if err := s.personRepo.HardDelete(id); err != nil {
		return err
	}
	log.Printf("services: purged person %d with %d faces", id, len(faces))
	return nil
}

// GetFace returns one registered face.
func (s *RecognitionService) GetFace(id string) (*FaceRecord, error) {
	face, err := s.faceRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	rec := buildFaceRecord(face)
	return &rec, nil
}

// ReassignFace moves a face to the person named by identity, creating the
// person if the identity is an unknown name. If the previous owner is left
// with no faces and no name it is purged.
func (s *RecognitionService) ReassignFace(faceID string, identity Identity) (*FaceRecord, error) {
	face, err := s.faceRepo.GetByID(faceID)
	if err != nil {
		return nil, err
	}
	target, err := s.resolvePerson(&identity)
	if err != nil {
		return nil, err
	}
	if target.ID == face.PersonID {
		rec := buildFaceRecord(face)
		return &rec, nil
	}

	oldPersonID := face.PersonID
	if err := s.faceRepo.Reassign(faceID, target.ID); err != nil {
		return nil, err
	}
	s.reapIfEmpty(oldPersonID)

	return s.GetFace(faceID)
}

// DeleteFace removes a face from the row store, the vector index and the
// blob store. An anonymous owner left with no faces is purged with it.
func (s *RecognitionService) DeleteFace(faceID string) error {
	face, err := s.faceRepo.GetByID(faceID)
	if err != nil {
		return err
	}
	if err := s.faceRepo.Delete(faceID); err != nil {
		return err
	}
	s.index.Remove(faceID)
	if err := s.store.Delete(face.Path); err != nil {
		log.Printf("services: failed to delete blob %s for face %s: %v", face.Path, faceID, err)
	}
	s.reapIfEmpty(face.PersonID)
	log.Printf("services: deleted face %s", faceID)
	return nil
}

// reapIfEmpty purges an unnamed person that no longer owns any faces.
// Named persons are kept even when empty so their identity survives.
func (s *RecognitionService) reapIfEmpty(personID uint) {
	person, err := s.personRepo.GetByID(personID)
	if err != nil {
		return
	}
	if person.Name != nil || len(person.Faces) > 0 {
		return
	}
	if err := s.personRepo.HardDelete(personID); err != nil {
		log.Printf("services: failed to reap empty person %d: %v", personID, err)
		return
	}
	log.Printf("services: reaped empty anonymous person %d", personID)
}
