package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/faceregistry/hardware"
	"github.com/camden-git/faceregistry/services"
	"github.com/camden-git/faceregistry/sessions"
)

type RecognitionHandler struct {
	Service *services.RecognitionService
}

// Version returns the identity store change counter. Clients cache person
// listings and re-fetch when the counter moves.
func (rh *RecognitionHandler) Version(w http.ResponseWriter, r *http.Request) {
	version, err := rh.Service.StoreVersion()
	if err != nil {
		log.Printf("Error reading store version: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to read store version")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"version": version})
}

type registerRequest struct {
	Name   *string   `json:"name"`
	Image  string    `json:"image"` // base64-encoded face crop
	Vector []float32 `json:"vector"`
}

func (req *registerRequest) decodeImage() ([]byte, error) {
	if req.Image == "" {
		return nil, errors.New("missing required field: image")
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

// Register adds a face under the named person, or a new anonymous person
// when no name is given. Duplicate embeddings resolve to the existing face.
func (rh *RecognitionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}
	imageData, err := req.decodeImage()
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_image", err.Error())
		return
	}

	var identity *services.Identity
	if req.Name != nil {
		id := services.IdentityByName(*req.Name)
		identity = &id
	}

	person, faceID, err := rh.Service.Register(identity, imageData, req.Vector)
	if err != nil {
		if errors.Is(err, services.ErrInvalidVector) {
			WriteAPIError(w, http.StatusBadRequest, "invalid_vector", err.Error())
		} else {
			log.Printf("Error registering face: %v", err)
			WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to register face")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"person":  person,
		"face_id": faceID,
	})
}

// Search matches a probe embedding against all registered faces. An
// unmatched probe is registered to a new anonymous person. Threshold and
// count are optional and fall back to the server defaults.
func (rh *RecognitionHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		registerRequest
		Threshold float32 `json:"threshold"`
		Count     int     `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}
	imageData, err := req.decodeImage()
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_image", err.Error())
		return
	}

	matches, err := rh.Service.Search(imageData, req.Vector, req.Threshold, req.Count)
	if err != nil {
		if errors.Is(err, services.ErrInvalidVector) {
			WriteAPIError(w, http.StatusBadRequest, "invalid_vector", err.Error())
		} else {
			log.Printf("Error searching faces: %v", err)
			WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to search faces")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

// RegisterUpload runs the full pipeline over a previously uploaded file
// and registers the single face it contains.
func (rh *RecognitionHandler) RegisterUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	var req struct {
		Identifier string  `json:"identifier"`
		Name       *string `json:"name"`
		PersonID   *uint   `json:"person_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}
	if req.Identifier == "" {
		WriteAPIError(w, http.StatusBadRequest, "invalid_identifier", "Missing required field: identifier")
		return
	}

	var identity *services.Identity
	switch {
	case req.PersonID != nil && req.Name != nil:
		WriteAPIError(w, http.StatusBadRequest, "invalid_identity", "Provide person_id or name, not both")
		return
	case req.PersonID != nil:
		id := services.IdentityByID(*req.PersonID)
		identity = &id
	case req.Name != nil:
		id := services.IdentityByName(*req.Name)
		identity = &id
	}

	person, faceID, err := rh.Service.RegisterUpload(sessionID, req.Identifier, identity)
	if err != nil {
		switch {
		case errors.Is(err, sessions.ErrSessionNotFound):
			WriteAPIError(w, http.StatusNotFound, "session_not_found", "Session not found, reconnect")
		case errors.Is(err, hardware.ErrBusy):
			WriteAPIError(w, http.StatusConflict, "busy", "Recognition hardware is busy, retry later")
		case errors.Is(err, services.ErrUploadNotFound):
			WriteAPIError(w, http.StatusNotFound, "upload_not_found", "Uploaded file not found")
		case errors.Is(err, services.ErrNoFaceDetected):
			WriteAPIError(w, http.StatusUnprocessableEntity, "no_face", "No face detected in the uploaded image")
		case errors.Is(err, services.ErrAmbiguousFace):
			WriteAPIError(w, http.StatusUnprocessableEntity, "ambiguous_face", "More than one face detected in the uploaded image")
		default:
			log.Printf("Error registering upload %s for session %s: %v", req.Identifier, sessionID, err)
			WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Registration failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"person":  person,
		"face_id": faceID,
	})
}

// BatchRegisterUploads registers several uploaded files under one identity
// in a single hardware hold. Unusable images are reported as skipped.
func (rh *RecognitionHandler) BatchRegisterUploads(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	var req struct {
		Identifiers []string `json:"identifiers"`
		Name        *string  `json:"name"`
		PersonID    *uint    `json:"person_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}
	if len(req.Identifiers) == 0 {
		WriteAPIError(w, http.StatusBadRequest, "invalid_identifiers", "Missing required field: identifiers")
		return
	}

	var identity *services.Identity
	switch {
	case req.PersonID != nil && req.Name != nil:
		WriteAPIError(w, http.StatusBadRequest, "invalid_identity", "Provide person_id or name, not both")
		return
	case req.PersonID != nil:
		id := services.IdentityByID(*req.PersonID)
		identity = &id
	case req.Name != nil:
		id := services.IdentityByName(*req.Name)
		identity = &id
	}

	report, err := rh.Service.BatchRegisterUploads(sessionID, req.Identifiers, identity)
	if err != nil {
		switch {
		case errors.Is(err, sessions.ErrSessionNotFound):
			WriteAPIError(w, http.StatusNotFound, "session_not_found", "Session not found, reconnect")
		case errors.Is(err, hardware.ErrBusy):
			WriteAPIError(w, http.StatusConflict, "busy", "Recognition hardware is busy, retry later")
		default:
			log.Printf("Error batch registering for session %s: %v", sessionID, err)
			WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Batch registration failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// Recognize runs detection over a previously uploaded file. Only one
// recognition runs at a time; a concurrent request gets 409.
func (rh *RecognitionHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}
	if req.Identifier == "" {
		WriteAPIError(w, http.StatusBadRequest, "invalid_identifier", "Missing required field: identifier")
		return
	}

	result, err := rh.Service.Recognize(sessionID, req.Identifier)
	if err != nil {
		switch {
		case errors.Is(err, sessions.ErrSessionNotFound):
			WriteAPIError(w, http.StatusNotFound, "session_not_found", "Session not found, reconnect")
		case errors.Is(err, hardware.ErrBusy):
			WriteAPIError(w, http.StatusConflict, "busy", "Recognition hardware is busy, retry later")
		case errors.Is(err, services.ErrUploadNotFound):
			WriteAPIError(w, http.StatusNotFound, "upload_not_found", "Uploaded file not found")
		default:
			log.Printf("Error recognizing %s for session %s: %v", req.Identifier, sessionID, err)
			WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Recognition failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}
