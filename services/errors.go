package services

import "errors"

var (
	// ErrInvalidVector is returned when an embedding does not match the
	// width the vector index was created with.
	ErrInvalidVector = errors.New("embedding vector has invalid dimension")

	// ErrNoFaceDetected is returned by image registration when the
	// detector finds nothing usable in the input.
	ErrNoFaceDetected = errors.New("no face detected in image")

	// ErrAmbiguousFace is returned by image registration when more than
	// one face is present and the caller asked for exactly one.
	ErrAmbiguousFace = errors.New("multiple faces detected in image")

	// ErrUploadNotFound is returned when a session-scoped identifier does
	// not resolve to a previously uploaded file.
	ErrUploadNotFound = errors.New("uploaded file not found")
)
