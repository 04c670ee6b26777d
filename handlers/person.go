package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/camden-git/faceregistry/services"
)

type PersonHandler struct {
	Service *services.RecognitionService
}

func parsePersonID(r *http.Request) (uint, error) {
	idStr := chi.URLParam(r, "person_id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

func (ph *PersonHandler) ListPeople(w http.ResponseWriter, r *http.Request) {
	var (
		people []services.PersonRecord
		err    error
	)
	if r.URL.Query().Get("include_hidden") == "true" {
		people, err = ph.Service.ListPersonsAdmin()
	} else {
		people, err = ph.Service.ListPersons()
	}
	if err != nil {
		log.Printf("Error listing people: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve people"})
		return
	}
	if people == nil {
		people = []services.PersonRecord{}
	}
	writeJSON(w, http.StatusOK, people)
}

func (ph *PersonHandler) GetPerson(w http.ResponseWriter, r *http.Request) {
	personID, err := parsePersonID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid person ID format"})
		return
	}

	person, err := ph.Service.GetPerson(personID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Person not found"})
		} else {
			log.Printf("Error getting person %d: %v", personID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve person"})
		}
		return
	}
	writeJSON(w, http.StatusOK, person)
}

func (ph *PersonHandler) UpdatePerson(w http.ResponseWriter, r *http.Request) {
	personID, err := parsePersonID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid person ID format"})
		return
	}

	var req struct {
		Name      *string `json:"name"`
		IsHidden  *bool   `json:"is_hidden"`
		KeyFaceID *string `json:"key_face_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Name == nil && req.IsHidden == nil && req.KeyFaceID == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No fields to update"})
		return
	}

	person, err := ph.Service.UpdatePerson(personID, req.Name, req.IsHidden, req.KeyFaceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Person not found"})
		} else {
			log.Printf("Error updating person %d: %v", personID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to update person"})
		}
		return
	}
	writeJSON(w, http.StatusOK, person)
}

// DeletePerson soft-deletes by default; ?purge=true removes the person and
// all their faces permanently.
func (ph *PersonHandler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	personID, err := parsePersonID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid person ID format"})
		return
	}

	if r.URL.Query().Get("purge") == "true" {
		err = ph.Service.PurgePerson(personID)
	} else {
		err = ph.Service.DeletePerson(personID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Person not found"})
		} else {
			log.Printf("Error deleting person %d: %v", personID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to delete person"})
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ph *PersonHandler) RestorePerson(w http.ResponseWriter, r *http.Request) {
	personID, err := parsePersonID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid person ID format"})
		return
	}

	person, err := ph.Service.RestorePerson(personID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Person not found"})
		} else {
			log.Printf("Error restoring person %d: %v", personID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to restore person"})
		}
		return
	}
	writeJSON(w, http.StatusOK, person)
}
