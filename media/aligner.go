package media

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Aligned crop size expected by ArcFace-style embedding models.
const (
	AlignedWidth  = 112
	AlignedHeight = 112
)

// CropAligner normalizes a face by rotating the image so the eye line is
// horizontal, then cropping around the landmark centroid and resizing to
// the embedding model's input size.
type CropAligner struct{}

// NewCropAligner creates the default landmark-based aligner.
func NewCropAligner() *CropAligner {
	return &CropAligner{}
}

// Align rotates, crops and resizes img using the detector's landmarks.
// Landmarks are ordered left eye, right eye, nose, mouth corners.
func (a *CropAligner) Align(img image.Image, landmarks []Point) (image.Image, error) {
	if len(landmarks) < 2 {
		return nil, fmt.Errorf("aligner: need at least eye landmarks, got %d", len(landmarks))
	}

	leftEye, rightEye := landmarks[0], landmarks[1]
	angle := math.Atan2(rightEye.Y-leftEye.Y, rightEye.X-leftEye.X) * 180 / math.Pi

	// rotate about the image center; recompute the landmark centroid in
	// rotated coordinates
	bounds := img.Bounds()
	cx := float64(bounds.Dx()) / 2
	cy := float64(bounds.Dy()) / 2
	rotated := imaging.Rotate(img, angle, image.Transparent)

	rad := -angle * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	rcx := float64(rotated.Bounds().Dx()) / 2
	rcy := float64(rotated.Bounds().Dy()) / 2

	var mx, my float64
	for _, lm := range landmarks {
		dx, dy := lm.X-cx, lm.Y-cy
		mx += rcx + dx*cos - dy*sin
		my += rcy + dx*sin + dy*cos
	}
	mx /= float64(len(landmarks))
	my /= float64(len(landmarks))

	// crop a square around the centroid sized from the eye distance
	eyeDist := math.Hypot(rightEye.X-leftEye.X, rightEye.Y-leftEye.Y)
	half := eyeDist * 1.6
	if half < 16 {
		half = 16
	}

	cropRect := image.Rect(
		int(mx-half), int(my-half*1.1),
		int(mx+half), int(my+half*1.3),
	)
	cropped := imaging.Crop(rotated, cropRect)
	if cropped.Bounds().Empty() {
		return nil, fmt.Errorf("aligner: crop rectangle %v is outside the image", cropRect)
	}

	return imaging.Fill(cropped, AlignedWidth, AlignedHeight, imaging.Center, imaging.Lanczos), nil
}
