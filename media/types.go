// media/types.go
package media

import "image"

type AssetType string

const (
	AssetTypeFace    AssetType = "faces"   // registered face crops
	AssetTypeAligned AssetType = "aligned" // transient aligned crops from detection runs
	AssetTypeUnknown AssetType = "unknown"
)

// Point is a single landmark coordinate in image space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BoundingBox is a face location as corner coordinates.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// FaceDetection is one face found by the detector: its box, the five
// facial landmarks (left eye, right eye, nose, mouth corners) and the
// detector's confidence.
type FaceDetection struct {
	BBox       BoundingBox `json:"bbox"`
	Landmarks  []Point     `json:"landmarks"`
	Confidence float32     `json:"confidence"`
}

// ScanResult is the outcome of running the detector over one image.
type ScanResult struct {
	Faces []FaceDetection `json:"faces"`
	Info  string          `json:"info"` // source path or other provenance
}

// Detector finds faces in images on disk. Implementations wrap whatever
// inference backend is available; the engine treats them as a black box.
type Detector interface {
	Scan(path string) (*ScanResult, error)
	BatchScan(paths []string) ([]*ScanResult, error)
	Close()
}

// Embedder converts an aligned face crop into a fixed-width identity vector.
type Embedder interface {
	Embed(aligned image.Image) ([]float32, error)
}

// Aligner normalizes a face crop using its landmarks so embeddings are
// comparable across poses.
type Aligner interface {
	Align(img image.Image, landmarks []Point) (image.Image, error)
}
