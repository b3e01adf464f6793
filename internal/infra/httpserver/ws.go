package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bryanwahyu/vendor-compliance/internal/infra/realtime"
	"github.com/bryanwahyu/vendor-compliance/internal/middleware"
)

// closeInvalidSession is the application close code for a bad session id.
const closeInvalidSession = 4000

// GET /ws/analysis/{session_id}
func (r *Router) handleAnalysisWS(w http.ResponseWriter, req *http.Request) {
	r.serveWS(w, req, "analysis", r.control.HandleAnalysis)
}

// GET /ws/chat/{session_id}
func (r *Router) handleChatWS(w http.ResponseWriter, req *http.Request) {
	r.serveWS(w, req, "chat", r.control.HandleChat)
}

func (r *Router) serveWS(w http.ResponseWriter, req *http.Request, stream string,
	handle func(ctx context.Context, id realtime.ConnID, sessionID string, raw []byte)) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		r.logger.Printf("stream=%s msg=websocket upgrade failed err=%v", stream, err)
		return
	}
	// clear the server's ReadTimeout deadline left on the hijacked conn
	_ = ws.SetReadDeadline(time.Time{})
	conn := realtime.NewWSConn(ws, r.wsWriteTimeout)
	defer conn.Close()

	sessionID := chi.URLParam(req, "session_id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		_ = conn.CloseWith(closeInvalidSession, "Invalid session ID")
		return
	}
	r.logger.Printf("session_id=%s stream=%s msg=websocket connected", sessionID, stream)
	r.control.Serve(req.Context(), conn, sessionID, stream, handle)
	r.logger.Printf("session_id=%s stream=%s msg=websocket disconnected", sessionID, stream)
}
