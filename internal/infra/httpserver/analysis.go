package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	analysisapp "github.com/bryanwahyu/vendor-compliance/internal/application/analysis"
	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
	"github.com/bryanwahyu/vendor-compliance/internal/middleware"
)

func analysisParam(req *http.Request) domain.ID {
	return domain.ID(chi.URLParam(req, "id"))
}

// POST /api/v1/analysis/start
// Body: {"session_id": "...", "frameworks": [...], "vendor_name": "...", "auto_start": false}
// The job stays PENDING until a websocket client sends "start", unless auto_start is set.
func (r *Router) handleStartAnalysis(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		analysisapp.CreateRequest
		AutoStart bool `json:"auto_start"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 64<<10)).Decode(&body); err != nil {
		return badRequest("invalid JSON body")
	}
	if err := middleware.ValidateSessionID(body.SessionID); err != nil {
		return badRequest(err.Error())
	}
	body.VendorName = middleware.SanitizeString(body.VendorName)

	job, err := r.analyses.Create(req.Context(), body.CreateRequest)
	if err != nil {
		return err
	}
	msg := "Analysis queued. Connect to WebSocket /ws/analysis/" + job.SessionID + " to start and receive progress updates."
	status := job.Status
	if body.AutoStart {
		launched, err := r.analyses.Start(req.Context(), job.SessionID, job.ID)
		if err != nil {
			return err
		}
		if launched {
			msg = "Analysis started. Progress is streamed on /ws/analysis/" + job.SessionID + "."
			status = domain.StatusProcessing
		} else {
			// not launched (shutting down): report the stored state
			if cur, err := r.analyses.Get(req.Context(), job.ID); err == nil {
				status = cur.Status
			}
			msg = "Analysis could not be started; status is " + string(status) + "."
		}
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"analysis_id": job.ID,
		"session_id":  job.SessionID,
		"status":      status,
		"message":     msg,
	})
}

// GET /api/v1/analysis/{id}/status
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) error {
	v, err := r.analyses.Status(req.Context(), analysisParam(req))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, v)
}

type resultsResponse struct {
	AnalysisID domain.ID     `json:"analysis_id"`
	Status     domain.Status `json:"status"`
	*domain.Report
	ReportURL   string     `json:"report_url,omitempty"`
	CompletedAt *time.Time `json:"completed_at"`
}

// GET /api/v1/analysis/{id}/results
func (r *Router) handleResults(w http.ResponseWriter, req *http.Request) error {
	job, err := r.analyses.Results(req.Context(), analysisParam(req))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, resultsResponse{
		AnalysisID:  job.ID,
		Status:      job.Status,
		Report:      job.Results,
		ReportURL:   job.ReportURL,
		CompletedAt: job.CompletedAt,
	})
}

// DELETE /api/v1/analysis/{id}?session_id=...
func (r *Router) handleCancel(w http.ResponseWriter, req *http.Request) error {
	id := analysisParam(req)
	sessionID := req.URL.Query().Get("session_id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		return badRequest(err.Error())
	}
	if err := r.analyses.Cancel(req.Context(), sessionID, id); err != nil {
		return err
	}
	return writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "analysis_id": id, "message": "cancel requested"})
}

// GET /api/v1/export/json/{id}
func (r *Router) handleExportJSON(w http.ResponseWriter, req *http.Request) error {
	filename, body, err := r.analyses.Export(req.Context(), analysisParam(req))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(body)
	return err
}
