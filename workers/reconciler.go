package workers

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/facette/natsort"

	"github.com/camden-git/faceregistry/database"
	"github.com/camden-git/faceregistry/media"
	"github.com/camden-git/faceregistry/repository"
	"github.com/camden-git/faceregistry/vectorindex"
)

// Reconciler periodically cross-checks the three face stores: the row
// table, the vector index and the blob store. Registration writes them in
// a fixed order with best-effort compensation, so after a crash or a
// failed cleanup the stores can disagree; this sweep restores agreement.
//
// Face rows older than the grace window with no vector are removed along
// with their blob. Vectors with no face row are dropped outright, since a
// vector is always written last. Blobs referenced by no row and older than
// the grace window are deleted. Unnamed persons stranded with zero faces
// past the grace window are reaped as well.
type Reconciler struct {
	DB         database.Querier
	FaceRepo   repository.FaceRepositoryInterface
	PersonRepo repository.PersonRepositoryInterface
	Index      *vectorindex.Index
	Store      media.Store
	Grace      time.Duration
	Interval   time.Duration
	Wg         sync.WaitGroup
	StopChan   chan struct{}
}

func NewReconciler(db database.Querier, faceRepo repository.FaceRepositoryInterface, personRepo repository.PersonRepositoryInterface, index *vectorindex.Index, store media.Store, grace, interval time.Duration) *Reconciler {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	rec := &Reconciler{
		DB:         db,
		FaceRepo:   faceRepo,
		PersonRepo: personRepo,
		Index:      index,
		Store:      store,
		Grace:      grace,
		Interval:   interval,
		StopChan:   make(chan struct{}),
	}
	rec.Wg.Add(1)
	go rec.run()
	log.Printf("Started store reconciler (grace %s, interval %s)", grace, interval)
	return rec
}

func (r *Reconciler) run() {
	defer r.Wg.Done()

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.RunOnce(); err != nil {
				log.Printf("Reconciler: pass failed: %v", err)
			}
		case <-r.StopChan:
			log.Println("Reconciler stopping: Stop signal received")
			return
		}
	}
}

// RunOnce performs a single reconciliation pass.
func (r *Reconciler) RunOnce() error {
	refs, err := database.ListFaceRefs(r.DB)
	if err != nil {
		return err
	}
	byID := make(map[string]database.FaceRef, len(refs))
	byPath := make(map[string]bool, len(refs))
	for _, ref := range refs {
		byID[ref.ID] = ref
		byPath[ref.Path] = true
	}

	indexed := make(map[string]bool)
	for _, id := range r.Index.ListIDs() {
		indexed[id] = true
	}

	cutoff := time.Now().Add(-r.Grace)

	// rows with no vector: the face can never match a search, drop it
	var removedRows int
	for _, ref := range refs {
		if indexed[ref.ID] {
			continue
		}
		if time.Unix(ref.CreatedAt, 0).After(cutoff) {
			continue // possibly mid-registration
		}
		if err := r.FaceRepo.Delete(ref.ID); err != nil {
			log.Printf("Reconciler: failed to delete orphan face row %s: %v", ref.ID, err)
			continue
		}
		if err := r.Store.Delete(ref.Path); err != nil {
			log.Printf("Reconciler: failed to delete blob %s of orphan face %s: %v", ref.Path, ref.ID, err)
		}
		removedRows++
	}

	// vectors with no row: the row store is authoritative
	var removedVectors int
	for id := range indexed {
		if _, ok := byID[id]; ok {
			continue
		}
		r.Index.Remove(id)
		removedVectors++
	}

	// blobs referenced by no row, past grace by file modtime
	removedBlobs := r.pruneBlobs(media.AssetTypeFace, byPath, cutoff)

	// aligned crops are transient detection output, age them all out
	removedBlobs += r.pruneBlobs(media.AssetTypeAligned, nil, cutoff)

	// unnamed persons left without faces past grace, after the row sweep so
	// persons it just emptied are caught in the same pass
	removedPersons := r.reapEmptyPersons(cutoff)

	if removedRows > 0 || removedVectors > 0 || removedBlobs > 0 || removedPersons > 0 {
		log.Printf("Reconciler: removed %d orphan row(s), %d orphan vector(s), %d stale blob(s), %d empty person(s)",
			removedRows, removedVectors, removedBlobs, removedPersons)
	}
	return nil
}

// reapEmptyPersons hard-deletes anonymous persons with no faces created
// before the cutoff. Named persons survive empty so a curated identity is
// never lost to a failed registration.
func (r *Reconciler) reapEmptyPersons(cutoff time.Time) int {
	if r.PersonRepo == nil {
		return 0
	}
	people, err := r.PersonRepo.ListAllAdmin()
	if err != nil {
		log.Printf("Reconciler: failed to list persons: %v", err)
		return 0
	}

	var removed int
	for i := range people {
		p := &people[i]
		if p.Name != nil || len(p.Faces) > 0 {
			continue
		}
		if time.Unix(p.CreatedAt, 0).After(cutoff) {
			continue // possibly mid-registration
		}
		if err := r.PersonRepo.HardDelete(p.ID); err != nil {
			log.Printf("Reconciler: failed to reap empty person %d: %v", p.ID, err)
			continue
		}
		removed++
	}
	return removed
}

func (r *Reconciler) pruneBlobs(assetType media.AssetType, referenced map[string]bool, cutoff time.Time) int {
	paths, err := r.Store.List(assetType)
	if err != nil {
		log.Printf("Reconciler: failed to list %s blobs: %v", assetType, err)
		return 0
	}
	natsort.Sort(paths)

	var removed int
	for _, path := range paths {
		if referenced[path] {
			continue
		}
		full, err := r.Store.GetFullPath(path)
		if err != nil {
			continue
		}
		info, err := os.Stat(full)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := r.Store.Delete(path); err != nil {
			log.Printf("Reconciler: failed to delete stale blob %s: %v", path, err)
			continue
		}
		removed++
	}
	return removed
}

func (r *Reconciler) Stop() {
	log.Println("Stopping reconciler...")
	close(r.StopChan)
	r.Wg.Wait()
}
