package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/camden-git/faceregistry/media"
	"github.com/camden-git/faceregistry/sessions"
)

// SessionHandler exposes session lifecycle and uploads over plain HTTP.
// Clients connecting via websocket get their session from the hub instead.
type SessionHandler struct {
	Registry *sessions.Registry
}

func (sh *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	session, err := sh.Registry.Create(id)
	if err != nil {
		log.Printf("Error creating session: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to create session"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": session.ID})
}

func (sh *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := sh.Registry.Remove(sessionID); err != nil {
		log.Printf("Error removing session %s: %v", sessionID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to remove session"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadFile stores a multipart upload in the session's private area. The
// returned identifier is derived from the file content, so re-uploading
// the same bytes reports duplicate instead of storing a second copy.
func (sh *SessionHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required multipart field: file"})
		return
	}
	defer file.Close()

	if !media.IsRasterImage(header.Filename) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unsupported file type"})
		return
	}

	result, err := sh.Registry.Upload(sessionID, header.Filename, file)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found, reconnect"})
		} else {
			log.Printf("Error storing upload %s for session %s: %v", header.Filename, sessionID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to store upload"})
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}
