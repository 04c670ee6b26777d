package vectorindex

import (
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// ErrSchemaMismatch is returned when a vector's width does not match the
// width the index was opened with. It is fatal for that operation; the
// index instance itself stays usable for correctly-sized vectors.
var ErrSchemaMismatch = errors.New("vectorindex: vector width does not match index schema")

const hnswMaxNeighbors = 16

// Candidate is a single vector search hit.
type Candidate struct {
	FaceID     string  `json:"face_id"`
	Similarity float32 `json:"similarity"`         // full precision, used for thresholding
	Display    float32 `json:"display_similarity"` // rounded to 2 decimals for presentation
}

type entry struct {
	Vector []float32
	Seq    uint64 // insertion order, breaks similarity ties deterministically
}

// Index is a nearest-neighbor store over fixed-width face embeddings,
// keyed by face id. Search goes through an HNSW graph; a side map carries
// the authoritative live set since the graph has no true deletion, so
// removed ids are filtered out of results.
type Index struct {
	mu      sync.RWMutex
	dims    int
	graph   *hnsw.Graph[string]
	entries map[string]entry
	seq     uint64
	dead    int // tombstoned nodes still present in the graph
	path    string
}

// NewIndex creates an empty index for vectors of the given width.
func NewIndex(dims int) *Index {
	return &Index{
		dims:    dims,
		entries: make(map[string]entry),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Dims returns the vector width the index was opened with.
func (idx *Index) Dims() int {
	return idx.dims
}

// Len returns the number of live entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Add appends a new embedding keyed by face id. Re-adding an existing id
// replaces its vector.
func (idx *Index) Add(faceID string, vector []float32) error {
	if len(vector) != idx.dims {
		return fmt.Errorf("%w: got %d, want %d", ErrSchemaMismatch, len(vector), idx.dims)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.graph == nil {
		idx.graph = newGraph()
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)

	idx.seq++
	idx.graph.Add(hnsw.MakeNode(faceID, stored))
	idx.entries[faceID] = entry{Vector: stored, Seq: idx.seq}
	return nil
}

// Remove tombstones an entry. Removing an unknown id is not an error.
func (idx *Index) Remove(faceID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.entries[faceID]; !ok {
		return
	}
	delete(idx.entries, faceID)
	// the HNSW graph keeps the node; Search filters it out via the entries map
	idx.dead++
}

// Search is a point lookup by face id. The returned vector is a copy.
func (idx *Index) Search(faceID string) ([]float32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	e, ok := idx.entries[faceID]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(e.Vector))
	copy(out, e.Vector)
	return out, true
}

// ListIDs returns the ids of all live entries, in insertion order. The
// reconciler uses this to cross-check the index against the face table.
func (idx *Index) ListIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make([]string, 0, len(idx.entries))
	for id := range idx.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return idx.entries[ids[i]].Seq < idx.entries[ids[j]].Seq
	})
	return ids
}

// VectorSearch returns up to count candidates with cosine similarity >=
// threshold, ordered by descending similarity, ties broken by insertion
// order. Thresholding uses full precision; Candidate.Display carries the
// rounded value.
func (idx *Index) VectorSearch(vector []float32, threshold float32, count int) ([]Candidate, error) {
	if len(vector) != idx.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchemaMismatch, len(vector), idx.dims)
	}
	if count <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph == nil || len(idx.entries) == 0 {
		return nil, nil
	}

	// over-fetch to compensate for tombstoned graph nodes
	k := count + idx.dead
	if k > len(idx.entries)+idx.dead {
		k = len(idx.entries) + idx.dead
	}

	neighbors := idx.graph.Search(vector, k)

	type scored struct {
		id  string
		sim float32
		seq uint64
	}
	var hits []scored
	for _, n := range neighbors {
		e, ok := idx.entries[n.Key]
		if !ok {
			continue // removed
		}
		sim := CosineSimilarity(vector, e.Vector)
		if sim < threshold {
			continue
		}
		hits = append(hits, scored{id: n.Key, sim: sim, seq: e.Seq})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].sim != hits[j].sim {
			return hits[i].sim > hits[j].sim
		}
		return hits[i].seq < hits[j].seq
	})
	if len(hits) > count {
		hits = hits[:count]
	}

	results := make([]Candidate, len(hits))
	for i, h := range hits {
		results[i] = Candidate{
			FaceID:     h.id,
			Similarity: h.sim,
			Display:    float32(math.Round(float64(h.sim)*100) / 100),
		}
	}
	return results, nil
}

// CosineSimilarity calculates cosine similarity between two embedding vectors
func CosineSimilarity(embedding1, embedding2 []float32) float32 {
	if len(embedding1) != len(embedding2) || len(embedding1) == 0 {
		return 0.0
	}

	var dotProduct float32
	var norm1 float32
	var norm2 float32

	for i := 0; i < len(embedding1); i++ {
		dotProduct += embedding1[i] * embedding2[i]
		norm1 += embedding1[i] * embedding1[i]
		norm2 += embedding2[i] * embedding2[i]
	}

	if norm1 == 0 || norm2 == 0 {
		return 0.0
	}

	norm1Sqrt := float32(math.Sqrt(float64(norm1)))
	norm2Sqrt := float32(math.Sqrt(float64(norm2)))

	return dotProduct / (norm1Sqrt * norm2Sqrt)
}

type manifest struct {
	Dims    int
	Seq     uint64
	Entries map[string]entry
}

// SetPath sets the file used by Save and Load.
func (idx *Index) SetPath(path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.path = path
}

// Save persists the live entry set to disk. The HNSW graph itself is not
// exported; Load rebuilds it from the entries, which also sheds tombstones.
func (idx *Index) Save() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.path == "" {
		return nil
	}

	f, err := os.Create(idx.path)
	if err != nil {
		return fmt.Errorf("failed to create index file %s: %w", idx.path, err)
	}
	defer f.Close()

	m := manifest{Dims: idx.dims, Seq: idx.seq, Entries: idx.entries}
	if err := gob.NewEncoder(f).Encode(&m); err != nil {
		return fmt.Errorf("failed to encode index manifest: %w", err)
	}
	log.Printf("vectorindex: saved %d entries to %s", len(idx.entries), idx.path)
	return nil
}

// Load replaces the index contents with the persisted entry set, rebuilding
// the graph. A missing file leaves the index empty and is not an error.
// A manifest written for a different vector width fails with
// ErrSchemaMismatch; that index file cannot serve this instance.
func (idx *Index) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			idx.SetPath(path)
			return nil
		}
		return fmt.Errorf("failed to open index file %s: %w", path, err)
	}
	defer f.Close()

	var m manifest
	if err := gob.NewDecoder(f).Decode(&m); err != nil {
		return fmt.Errorf("failed to decode index manifest %s: %w", path, err)
	}
	if m.Dims != idx.dims {
		return fmt.Errorf("%w: file has width %d, index opened with %d", ErrSchemaMismatch, m.Dims, idx.dims)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.path = path
	idx.seq = m.Seq
	idx.dead = 0
	idx.entries = m.Entries
	if idx.entries == nil {
		idx.entries = make(map[string]entry)
	}

	idx.graph = nil
	if len(idx.entries) > 0 {
		g := newGraph()
		// insert in original order so graph construction is deterministic
		for _, id := range idx.listIDsLocked() {
			g.Add(hnsw.MakeNode(id, idx.entries[id].Vector))
		}
		idx.graph = g
	}
	log.Printf("vectorindex: loaded %d entries from %s", len(idx.entries), path)
	return nil
}

func (idx *Index) listIDsLocked() []string {
	ids := make([]string, 0, len(idx.entries))
	for id := range idx.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return idx.entries[ids[i]].Seq < idx.entries[ids[j]].Seq
	})
	return ids
}
