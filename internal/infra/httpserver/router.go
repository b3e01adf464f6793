package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	analysisapp "github.com/bryanwahyu/vendor-compliance/internal/application/analysis"
	chatapp "github.com/bryanwahyu/vendor-compliance/internal/application/chat"
	domai "github.com/bryanwahyu/vendor-compliance/internal/domain/ai"
	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/filestore"
	"github.com/bryanwahyu/vendor-compliance/internal/infra/realtime"
	"github.com/bryanwahyu/vendor-compliance/internal/middleware"
)

// Options wires the router. Metrics and Health are optional.
type Options struct {
	Analyses *analysisapp.Service
	Uploads  Uploads
	Chat     *chatapp.Service
	Control  *realtime.Control
	Metrics  *middleware.Metrics
	Health   map[string]middleware.HealthChecker
	Logger   *log.Logger

	CORSOrigins       []string
	APIKeys           map[string]string
	RequestsPerSecond float64
	Burst             int
	// MaxUploadBytes caps one multipart request body.
	MaxUploadBytes int64
	WSWriteTimeout time.Duration
}

type Router struct {
	analyses *analysisapp.Service
	uploads  Uploads
	chat     *chatapp.Service
	control  *realtime.Control
	upgrader *websocket.Upgrader
	logger   *log.Logger

	maxUploadBytes int64
	wsWriteTimeout time.Duration
}

func NewRouter(o Options) http.Handler {
	logger := o.Logger
	if logger == nil {
		logger = log.Default()
	}
	maxUpload := o.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 100 << 20
	}
	r := &Router{
		analyses:       o.Analyses,
		uploads:        o.Uploads,
		chat:           o.Chat,
		control:        o.Control,
		upgrader:       realtime.NewUpgrader(o.CORSOrigins),
		logger:         logger,
		maxUploadBytes: maxUpload,
		wsWriteTimeout: o.WSWriteTimeout,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(logger))
	if o.Metrics != nil {
		mux.Use(o.Metrics.Middleware)
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   o.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	mux.Get("/health", middleware.HealthHandler("vendor-compliance", o.Health))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	if o.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", o.Metrics.Handler())
	}

	mux.Group(func(g chi.Router) {
		// auth sebelum rate limit, supaya bucket per client bukan per IP
		g.Use(middleware.APIKeyAuth(o.APIKeys))
		g.Use(middleware.RateLimit(o.RequestsPerSecond, o.Burst))

		g.Route("/api/v1", func(rt chi.Router) {
			rt.Post("/upload", r.wrap(r.handleUpload))
			rt.Get("/upload/{session_id}", r.wrap(r.handleListFiles))
			rt.Delete("/upload/{session_id}/{file_id}", r.wrap(r.handleDeleteFile))
			rt.Delete("/upload/{session_id}", r.wrap(r.handleCleanupSession))

			rt.Post("/analysis/start", r.wrap(r.handleStartAnalysis))
			rt.Get("/analysis/{id}/status", r.wrap(r.handleStatus))
			rt.Get("/analysis/{id}/results", r.wrap(r.handleResults))
			rt.Delete("/analysis/{id}", r.wrap(r.handleCancel))

			rt.Get("/export/json/{id}", r.wrap(r.handleExportJSON))

			rt.Post("/chat", r.wrap(r.handleChat))
			rt.Get("/chat/{session_id}/history", r.wrap(r.handleChatHistory))
			rt.Delete("/chat/{session_id}/history", r.wrap(r.handleClearChatHistory))
		})

		g.Get("/ws/analysis/{session_id}", r.handleAnalysisWS)
		g.Get("/ws/chat/{session_id}", r.handleChatWS)
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// httpError carries a status chosen by the handler itself.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(msg string) error { return &httpError{status: http.StatusBadRequest, msg: msg} }

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		status, msg := r.classify(err)
		if status >= http.StatusInternalServerError {
			r.logger.Printf("request_id=%s method=%s path=%s msg=handler failed err=%v",
				chimw.GetReqID(req.Context()), req.Method, req.URL.Path, err)
		}
		_ = writeJSON(w, status, map[string]string{"detail": msg})
	}
}

func (r *Router) classify(err error) (int, string) {
	var he *httpError
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &he):
		return he.status, he.msg
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Analysis not found"
	case errors.Is(err, domain.ErrNoDocuments):
		return http.StatusBadRequest, "No files uploaded for this session"
	case errors.Is(err, domain.ErrNotCompleted),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, chatapp.ErrEmptyMessage),
		isUploadRejection(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, analysisapp.ErrNotRunning), errors.Is(err, domain.ErrAlreadyStarted):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domai.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "ai quota exceeded"
	}
	return http.StatusInternalServerError, err.Error()
}

func isUploadRejection(err error) bool {
	return errors.Is(err, filestore.ErrExtension) ||
		errors.Is(err, filestore.ErrFileTooLarge) ||
		errors.Is(err, filestore.ErrSessionFull) ||
		errors.Is(err, filestore.ErrContentMismatch) ||
		errors.Is(err, filestore.ErrUnsupportedFormat)
}
