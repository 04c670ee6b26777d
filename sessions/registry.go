package sessions

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/camden-git/faceregistry/media"
)

// ErrSessionNotFound signals an unknown session id. Callers must treat it
// as "must reconnect": the registry never re-creates a session implicitly.
var ErrSessionNotFound = errors.New("sessions: session not found, reconnect")

// Upload statuses
const (
	UploadStatusSuccess   = "success"
	UploadStatusDuplicate = "duplicate"
)

// UploadResult describes the outcome of storing one uploaded blob.
type UploadResult struct {
	FileIdentifier string          `json:"file_identifier"`
	Status         string          `json:"status"`
	MD5            string          `json:"md5"`
	Metadata       *media.Metadata `json:"metadata,omitempty"`
}

// Session holds the state for one connected client: its private upload
// directory and the last-activity timestamp used by the idle sweep.
type Session struct {
	ID         string
	Dir        string
	LastActive time.Time
}

// UploadDir returns the directory uploaded blobs are stored in.
func (s *Session) UploadDir() string {
	return filepath.Join(s.Dir, "uploaded")
}

// IsExpired reports whether the session has been idle longer than timeout.
func (s *Session) IsExpired(timeout time.Duration) bool {
	return time.Since(s.LastActive) > timeout
}

// Registry owns the per-client session map. All map access is serialized
// through its mutex; eviction is cooperative, driven by an external sweep
// calling ListIdle then Remove.
type Registry struct {
	baseDir  string
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a registry storing session directories under baseDir.
func NewRegistry(baseDir string) (*Registry, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("invalid session base path '%s': %w", baseDir, err)
	}
	if err := os.MkdirAll(absBase, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session base directory '%s': %w", absBase, err)
	}
	return &Registry{
		baseDir:  absBase,
		sessions: make(map[string]*Session),
	}, nil
}

// Create registers a new session and provisions its upload directory.
// Creating an id that already exists resets its activity clock.
func (r *Registry) Create(id string) (*Session, error) {
	session := &Session{
		ID:         id,
		Dir:        filepath.Join(r.baseDir, id),
		LastActive: time.Now(),
	}
	if err := os.MkdirAll(session.UploadDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory for %s: %w", id, err)
	}

	r.mu.Lock()
	r.sessions[id] = session
	r.mu.Unlock()

	log.Printf("sessions: created session %s", id)
	return session, nil
}

// Get returns the session for id, or ErrSessionNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Touch refreshes the session's activity timestamp.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.LastActive = time.Now()
	return nil
}

// ListIdle returns the ids of all sessions idle longer than timeout.
func (r *Registry) ListIdle(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idle []string
	for id, session := range r.sessions {
		if session.IsExpired(timeout) {
			idle = append(idle, id)
		}
	}
	return idle
}

// Remove deletes the session's on-disk storage and drops it from the
// registry. Unknown ids are ignored.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.RemoveAll(session.Dir); err != nil {
		return fmt.Errorf("failed to wipe session directory for %s: %w", id, err)
	}
	log.Printf("sessions: removed session %s", id)
	return nil
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Upload stores an uploaded blob in the session's upload area, addressed by
// the MD5 of its content. If a blob with the same hash already exists the
// upload reports duplicate and nothing is overwritten.
func (r *Registry) Upload(id, filename string, data io.Reader) (UploadResult, error) {
	session, err := r.Get(id)
	if err != nil {
		return UploadResult{}, err
	}
	if err := r.Touch(id); err != nil {
		return UploadResult{}, err
	}

	tmp, err := os.CreateTemp(session.Dir, "upload-*")
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to create temp file for upload %s: %w", filename, err)
	}
	tmpPath := tmp.Name()

	hasher := md5.New()
	_, err = io.Copy(io.MultiWriter(tmp, hasher), data)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmpPath)
		if err == nil {
			err = closeErr
		}
		return UploadResult{}, fmt.Errorf("failed to write upload %s: %w", filename, err)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	ext := strings.ToLower(filepath.Ext(filename))
	identifier := sum + ext
	finalPath := filepath.Join(session.UploadDir(), identifier)

	result := UploadResult{FileIdentifier: identifier, MD5: sum}
	if _, statErr := os.Stat(finalPath); statErr == nil {
		os.Remove(tmpPath)
		result.Status = UploadStatusDuplicate
	} else {
		if err := os.Rename(tmpPath, finalPath); err != nil {
			os.Remove(tmpPath)
			return UploadResult{}, fmt.Errorf("failed to place upload %s: %w", identifier, err)
		}
		result.Status = UploadStatusSuccess
	}

	// metadata extraction is best-effort; uploads without decodable image
	// data or EXIF still succeed
	if meta, metaErr := media.GetImageMetadata(finalPath); metaErr == nil {
		result.Metadata = meta
	}

	log.Printf("sessions: upload %s for session %s: %s", filename, id, result.Status)
	return result, nil
}

// UploadPath resolves an upload identifier to its absolute path within the
// session's private area. The identifier must not escape the upload dir.
func (r *Registry) UploadPath(id, identifier string) (string, error) {
	session, err := r.Get(id)
	if err != nil {
		return "", err
	}
	full := filepath.Join(session.UploadDir(), filepath.Clean("/"+identifier))
	if !strings.HasPrefix(full, session.UploadDir()) {
		return "", fmt.Errorf("invalid upload identifier '%s'", identifier)
	}
	return full, nil
}
