package media

import (
	"fmt"
	"image"
	"log"

	"gocv.io/x/gocv"
)

// DNNEmbedder extracts fixed-width face embeddings with an ArcFace-style
// DNN via gocv. It implements the Embedder interface.
type DNNEmbedder struct {
	net     gocv.Net
	enabled bool
	dims    int

	inputSizeW int
	inputSizeH int
}

// Ensure DNNEmbedder implements Embedder
var _ Embedder = (*DNNEmbedder)(nil)

// NewDNNEmbedder loads an embedding model producing vectors of width dims.
// An empty model path yields a disabled embedder whose Embed always fails.
func NewDNNEmbedder(modelPath string, dims int) *DNNEmbedder {
	if modelPath == "" {
		log.Println("embedding: model path is empty, disabling embedder")
		return &DNNEmbedder{enabled: false, dims: dims}
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		log.Printf("embedding: ERROR - ReadNet returned an empty network. Check file path and integrity.")
		return &DNNEmbedder{enabled: false, dims: dims}
	}
	log.Printf("embedding: loaded model from %s", modelPath)

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &DNNEmbedder{
		net:        net,
		enabled:    true,
		dims:       dims,
		inputSizeW: AlignedWidth,
		inputSizeH: AlignedHeight,
	}
}

// Close releases the underlying network.
func (e *DNNEmbedder) Close() {
	if e != nil && e.enabled {
		e.net.Close()
		e.enabled = false
	}
}

// Embed converts an aligned face crop into an identity vector.
func (e *DNNEmbedder) Embed(aligned image.Image) ([]float32, error) {
	if e == nil || !e.enabled {
		return nil, fmt.Errorf("embedding: embedder is disabled")
	}

	mat, err := gocv.ImageToMatRGB(aligned)
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to convert image: %w", err)
	}
	defer mat.Close()

	// ArcFace normalization: scale to [0,1], fixed input size
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(e.inputSizeW, e.inputSizeH), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	defer output.Close()

	flat := output.Reshape(1, 1)
	defer flat.Close()

	if flat.Cols() != e.dims {
		return nil, fmt.Errorf("embedding: model produced %d values, want %d", flat.Cols(), e.dims)
	}

	embedding := make([]float32, e.dims)
	for i := 0; i < e.dims; i++ {
		embedding[i] = flat.GetFloatAt(0, i)
	}
	return embedding, nil
}
