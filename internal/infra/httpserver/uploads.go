package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
	"github.com/bryanwahyu/vendor-compliance/internal/middleware"
)

// Uploads is the write side of the file store used by the upload routes.
type Uploads interface {
	Save(ctx context.Context, sessionID, filename string, r io.Reader) (domain.FileDescriptor, error)
	ListFiles(ctx context.Context, sessionID string) ([]domain.FileDescriptor, error)
	Delete(ctx context.Context, sessionID, fileID string) (bool, error)
	CleanupSession(ctx context.Context, sessionID string) error
}

type uploadResponse struct {
	Success bool                   `json:"success"`
	File    *domain.FileDescriptor `json:"file,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func sessionParam(req *http.Request) (string, error) {
	sessionID := chi.URLParam(req, "session_id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		return "", badRequest("Invalid session ID")
	}
	return sessionID, nil
}

// POST /api/v1/upload (multipart: session_id, file)
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUploadBytes+1<<20)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return badRequest("invalid multipart form")
	}
	defer func() {
		if req.MultipartForm != nil {
			_ = req.MultipartForm.RemoveAll()
		}
	}()

	sessionID := req.FormValue("session_id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		return badRequest("Session ID must be alphanumeric with hyphens only")
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		return badRequest("file is required")
	}
	defer file.Close()

	fd, err := r.uploads.Save(req.Context(), sessionID, header.Filename, file)
	if err != nil {
		if isUploadRejection(err) {
			return writeJSON(w, http.StatusBadRequest, uploadResponse{Success: false, Error: err.Error()})
		}
		return err
	}
	r.logger.Printf("session_id=%s file_id=%s msg=file uploaded size=%d", sessionID, fd.ID, fd.SizeBytes)
	return writeJSON(w, http.StatusOK, uploadResponse{Success: true, File: &fd})
}

// GET /api/v1/upload/{session_id}
func (r *Router) handleListFiles(w http.ResponseWriter, req *http.Request) error {
	sessionID, err := sessionParam(req)
	if err != nil {
		return err
	}
	files, err := r.uploads.ListFiles(req.Context(), sessionID)
	if err != nil {
		return err
	}
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"session_id":       sessionID,
		"files":            files,
		"total_size_bytes": total,
	})
}

// DELETE /api/v1/upload/{session_id}/{file_id}
func (r *Router) handleDeleteFile(w http.ResponseWriter, req *http.Request) error {
	sessionID, err := sessionParam(req)
	if err != nil {
		return err
	}
	fileID := chi.URLParam(req, "file_id")
	if err := middleware.ValidateFileID(fileID); err != nil {
		return badRequest("Invalid file ID")
	}
	deleted, err := r.uploads.Delete(req.Context(), sessionID, fileID)
	if err != nil {
		return err
	}
	if !deleted {
		return writeJSON(w, http.StatusOK, uploadResponse{Success: false, Error: "File not found"})
	}
	return writeJSON(w, http.StatusOK, uploadResponse{Success: true})
}

// DELETE /api/v1/upload/{session_id}
// Runs of the session are canceled before the files go away.
func (r *Router) handleCleanupSession(w http.ResponseWriter, req *http.Request) error {
	sessionID, err := sessionParam(req)
	if err != nil {
		return err
	}
	r.analyses.CleanupSession(req.Context(), sessionID)
	if err := r.uploads.CleanupSession(req.Context(), sessionID); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, uploadResponse{Success: true})
}
