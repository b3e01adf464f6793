package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/vendor-compliance/internal/middleware"
)

// POST /api/v1/chat
// Body: {"session_id": "...", "message": "..."}
func (r *Router) handleChat(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 64<<10)).Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}
	if err := middleware.ValidateSessionID(body.SessionID); err != nil {
		return badRequest(err.Error())
	}

	content, err := r.chat.Reply(req.Context(), body.SessionID, middleware.SanitizeString(body.Message), nil)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"message_id": uuid.NewString(),
		"role":       "assistant",
		"content":    content,
		"timestamp":  time.Now().UTC(),
	})
}

// GET /api/v1/chat/{session_id}/history?limit=
func (r *Router) handleChatHistory(w http.ResponseWriter, req *http.Request) error {
	sessionID, err := sessionParam(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	return writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   r.chat.History(sessionID, middleware.ValidateLimit(limit)),
	})
}

// DELETE /api/v1/chat/{session_id}/history
func (r *Router) handleClearChatHistory(w http.ResponseWriter, req *http.Request) error {
	sessionID, err := sessionParam(req)
	if err != nil {
		return err
	}
	r.chat.ClearHistory(sessionID)
	return writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
