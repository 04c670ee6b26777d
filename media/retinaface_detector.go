package media

import (
	"fmt"
	"image"
	"log"
	"math"

	"gocv.io/x/gocv"
)

// RetinaFace prior box generation and box decoding utilities

// priorBox defines an anchor box (center_x, center_y, width, height)
type priorBox struct {
	Cx, Cy, W, H float32
}

// generateRetinaFacePriors generates priors for the detector input size
func generateRetinaFacePriors(imgW, imgH int) []priorBox {
	// these settings match the standard RetinaFace/ONNX config
	minSizes := [][]int{{16, 32}, {64, 128}, {256, 512}}
	steps := []int{8, 16, 32}
	featureMapSizes := [][]int{
		{imgH / 8, imgW / 8},
		{imgH / 16, imgW / 16},
		{imgH / 32, imgW / 32},
	}
	priors := []priorBox{}
	for k, fms := range featureMapSizes {
		fmH, fmW := fms[0], fms[1]
		for i := 0; i < fmH; i++ {
			for j := 0; j < fmW; j++ {
				for _, minSize := range minSizes[k] {
					cx := (float32(j) + 0.5) * float32(steps[k]) / float32(imgW)
					cy := (float32(i) + 0.5) * float32(steps[k]) / float32(imgH)
					w := float32(minSize) / float32(imgW)
					h := float32(minSize) / float32(imgH)
					priors = append(priors, priorBox{Cx: cx, Cy: cy, W: w, H: h})
				}
			}
		}
	}
	return priors
}

// decodeBox decodes a single box prediction using the prior and variances
func decodeBox(rawBox [4]float32, prior priorBox, variances [2]float32) [4]float32 {
	// rawBox: [dx, dy, dw, dh]
	cx := prior.Cx + rawBox[0]*variances[0]*prior.W
	cy := prior.Cy + rawBox[1]*variances[0]*prior.H
	w := prior.W * float32(math.Exp(float64(rawBox[2]*variances[1])))
	h := prior.H * float32(math.Exp(float64(rawBox[3]*variances[1])))
	// convert center to corner
	return [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2}
}

// RetinaFaceDetector provides face detection using a RetinaFace DNN via gocv.
// It implements the Detector interface.
type RetinaFaceDetector struct {
	net     gocv.Net
	enabled bool

	inputSizeW    int
	inputSizeH    int
	meanVal       gocv.Scalar
	confThreshold float32
	iouThreshold  float32
}

// Ensure RetinaFaceDetector implements Detector
var _ Detector = (*RetinaFaceDetector)(nil)

// NewRetinaFaceDetector loads the RetinaFace model. An empty model path
// yields a disabled detector whose Scan always fails; the rest of the
// engine still works for API-only deployments.
func NewRetinaFaceDetector(modelPath string) *RetinaFaceDetector {
	if modelPath == "" {
		log.Println("detection(retinaface): model path is empty, disabling detector")
		return &RetinaFaceDetector{enabled: false}
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		log.Printf("detection(retinaface): ERROR - ReadNet returned an empty network. Check file path and integrity.")
		return &RetinaFaceDetector{enabled: false}
	}
	log.Printf("detection(retinaface): loaded model from %s", modelPath)

	// Try to use CUDA if available
	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)
	if cudaBackendErr != nil || cudaTargetErr != nil {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		log.Println("detection(retinaface): CUDA unavailable, using CPU")
	}

	return &RetinaFaceDetector{
		net:           net,
		enabled:       true,
		inputSizeW:    640,
		inputSizeH:    640,
		meanVal:       gocv.NewScalar(104.0, 117.0, 123.0, 0),
		confThreshold: 0.5,
		iouThreshold:  0.5,
	}
}

// Close releases the underlying network.
func (r *RetinaFaceDetector) Close() {
	if r != nil && r.enabled {
		r.net.Close()
		r.enabled = false
	}
}

// Scan runs detection over a single image on disk.
func (r *RetinaFaceDetector) Scan(path string) (*ScanResult, error) {
	if r == nil || !r.enabled {
		return nil, fmt.Errorf("detection(retinaface): detector is disabled")
	}

	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		return nil, fmt.Errorf("detection(retinaface): failed to read image %s", path)
	}
	defer img.Close()

	faces := r.detect(img)
	return &ScanResult{Faces: faces, Info: path}, nil
}

// BatchScan runs detection over multiple images, one result per path.
func (r *RetinaFaceDetector) BatchScan(paths []string) ([]*ScanResult, error) {
	results := make([]*ScanResult, 0, len(paths))
	for _, path := range paths {
		result, err := r.Scan(path)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *RetinaFaceDetector) detect(img gocv.Mat) []FaceDetection {
	imgHeight := float32(img.Rows())
	imgWidth := float32(img.Cols())

	blob := gocv.BlobFromImage(img, 1.0, image.Pt(r.inputSizeW, r.inputSizeH), r.meanVal, false, false)
	defer blob.Close()

	r.net.SetInput(blob, "input")

	outputs := r.net.ForwardLayers([]string{"bbox", "confidence", "landmark"})
	if len(outputs) < 3 {
		log.Printf("detection(retinaface): expected 3 outputs (boxes, scores, landmarks), got %d", len(outputs))
		return nil
	}
	defer func() {
		for _, mat := range outputs {
			mat.Close()
		}
	}()

	return r.parseOutput(outputs[0], outputs[1], outputs[2], imgWidth, imgHeight)
}

func (r *RetinaFaceDetector) parseOutput(boxes, scores, landmarks gocv.Mat, imgWidth, imgHeight float32) []FaceDetection {
	numDetections := boxes.Size()[1]

	priors := generateRetinaFacePriors(r.inputSizeW, r.inputSizeH)
	if len(priors) != numDetections {
		log.Printf("detection(retinaface): priors count (%d) != detections (%d)", len(priors), numDetections)
		return nil
	}
	variances := [2]float32{0.1, 0.2}

	var detections []FaceDetection
	for i := 0; i < numDetections; i++ {
		scoreFace := scores.GetFloatAt(0, i*2+1)
		if scoreFace < r.confThreshold {
			continue
		}

		var rawBox [4]float32
		for j := 0; j < 4; j++ {
			rawBox[j] = boxes.GetFloatAt(0, i*4+j)
		}
		decoded := decodeBox(rawBox, priors[i], variances)
		x1 := float64(clamp(decoded[0]*imgWidth, 0, imgWidth))
		y1 := float64(clamp(decoded[1]*imgHeight, 0, imgHeight))
		x2 := float64(clamp(decoded[2]*imgWidth, 0, imgWidth))
		y2 := float64(clamp(decoded[3]*imgHeight, 0, imgHeight))
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		// 5 landmark points
		pts := make([]Point, 0, 5)
		for j := 0; j < 5; j++ {
			lx := float64(landmarks.GetFloatAt(0, i*10+j*2+0) * imgWidth)
			ly := float64(landmarks.GetFloatAt(0, i*10+j*2+1) * imgHeight)
			pts = append(pts, Point{X: lx, Y: ly})
		}

		detections = append(detections, FaceDetection{
			BBox:       BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
			Landmarks:  pts,
			Confidence: scoreFace,
		})
	}

	return r.nonMaxSuppression(detections)
}

// nonMaxSuppression removes overlapping detections, keeping higher scores
func (r *RetinaFaceDetector) nonMaxSuppression(detections []FaceDetection) []FaceDetection {
	if len(detections) == 0 {
		return detections
	}

	for i := 0; i < len(detections)-1; i++ {
		for j := i + 1; j < len(detections); j++ {
			if detections[i].Confidence < detections[j].Confidence {
				detections[i], detections[j] = detections[j], detections[i]
			}
		}
	}

	var result []FaceDetection
	used := make([]bool, len(detections))
	for i := 0; i < len(detections); i++ {
		if used[i] {
			continue
		}
		result = append(result, detections[i])
		used[i] = true
		for j := i + 1; j < len(detections); j++ {
			if !used[j] && iou(detections[i].BBox, detections[j].BBox) > r.iouThreshold {
				used[j] = true
			}
		}
	}
	return result
}

func iou(a, b BoundingBox) float32 {
	x1 := math.Max(a.X1, b.X1)
	y1 := math.Max(a.Y1, b.Y1)
	x2 := math.Min(a.X2, b.X2)
	y2 := math.Min(a.Y2, b.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	return float32(intersection / (areaA + areaB - intersection))
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
