package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/camden-git/faceregistry/media"
	"github.com/camden-git/faceregistry/services"
)

type FaceHandler struct {
	Service *services.RecognitionService
	Store   media.Store
}

func (fh *FaceHandler) GetFace(w http.ResponseWriter, r *http.Request) {
	faceID := chi.URLParam(r, "face_id")

	face, err := fh.Service.GetFace(faceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Face not found"})
		} else {
			log.Printf("Error getting face %s: %v", faceID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve face"})
		}
		return
	}
	writeJSON(w, http.StatusOK, face)
}

// GetFaceImage streams the stored crop for a face.
func (fh *FaceHandler) GetFaceImage(w http.ResponseWriter, r *http.Request) {
	faceID := chi.URLParam(r, "face_id")

	face, err := fh.Service.GetFace(faceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Face not found"})
		} else {
			log.Printf("Error getting face %s: %v", faceID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve face"})
		}
		return
	}

	reader, info, err := fh.Store.Get(face.Path)
	if err != nil {
		log.Printf("Error opening blob %s for face %s: %v", face.Path, faceID, err)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Face image not found"})
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if _, err := io.Copy(w, reader); err != nil {
		log.Printf("Error streaming blob %s: %v", face.Path, err)
	}
}

// ReassignFace moves a face to another person, addressed either by id or
// by name. An unknown name creates the person.
func (fh *FaceHandler) ReassignFace(w http.ResponseWriter, r *http.Request) {
	faceID := chi.URLParam(r, "face_id")

	var req struct {
		PersonID *uint   `json:"person_id"`
		Name     *string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}

	var identity services.Identity
	switch {
	case req.PersonID != nil && req.Name != nil:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Provide person_id or name, not both"})
		return
	case req.PersonID != nil:
		identity = services.IdentityByID(*req.PersonID)
	case req.Name != nil:
		identity = services.IdentityByName(*req.Name)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required field: person_id or name"})
		return
	}

	face, err := fh.Service.ReassignFace(faceID, identity)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Face or person not found"})
		} else {
			log.Printf("Error reassigning face %s to %s: %v", faceID, identity, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to reassign face"})
		}
		return
	}
	writeJSON(w, http.StatusOK, face)
}

func (fh *FaceHandler) DeleteFace(w http.ResponseWriter, r *http.Request) {
	faceID := chi.URLParam(r, "face_id")

	if err := fh.Service.DeleteFace(faceID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Face not found"})
		} else {
			log.Printf("Error deleting face %s: %v", faceID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to delete face"})
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
