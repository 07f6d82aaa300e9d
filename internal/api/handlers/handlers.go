package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/spendflow/spendflow/internal/api/middleware"
	"github.com/spendflow/spendflow/internal/jobs"
	"github.com/spendflow/spendflow/internal/logger"
)

// requestLogger prefers the request-scoped logger injected by the middleware,
// which carries the request ID.
func requestLogger(r *http.Request, fallback zerolog.Logger) zerolog.Logger {
	if l, ok := r.Context().Value(logger.LoggerKey).(zerolog.Logger); ok {
		return l
	}
	return fallback
}

// maxUploadBytes bounds statement uploads. Bank CSV exports are small; anything
// larger is almost certainly not a statement.
const maxUploadBytes = 10 << 20

// StatementsHandler handles statement ingestion endpoints.
type StatementsHandler struct {
	publisher jobs.Publisher
	inboxDir  string
	log       zerolog.Logger
}

// NewStatementsHandler creates a new statements handler. Uploaded files are
// staged under inboxDir before the ingestion job picks them up.
func NewStatementsHandler(publisher jobs.Publisher, inboxDir string, log zerolog.Logger) *StatementsHandler {
	return &StatementsHandler{
		publisher: publisher,
		inboxDir:  inboxDir,
		log:       log,
	}
}

// UploadStatement handles POST /api/statements
// Accepts a multipart form with a "file" field, stages the file in the inbox
// and enqueues an ingestion job for it.
func (h *StatementsHandler) UploadStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := requestLogger(r, h.log)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." {
		middleware.WriteError(w, http.StatusBadRequest, "Filename is required")
		return
	}
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		middleware.WriteError(w, http.StatusBadRequest, "Only CSV statements are accepted")
		return
	}

	if err := os.MkdirAll(h.inboxDir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", h.inboxDir).Msg("Failed to create inbox directory")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to stage file")
		return
	}

	// Prefix with a UUID so repeated uploads of the same filename never clash.
	stagedPath := filepath.Join(h.inboxDir, uuid.NewString()+"-"+filename)
	dst, err := os.Create(stagedPath)
	if err != nil {
		log.Error().Err(err).Str("path", stagedPath).Msg("Failed to create staged file")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to stage file")
		return
	}

	written, err := io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Error().Err(err).Str("path", stagedPath).Msg("Failed to write staged file")
		os.Remove(stagedPath)
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to stage file")
		return
	}

	job := &jobs.IngestStatementJob{
		Source:     stagedPath,
		Filename:   filename,
		MaxRetries: 2,
	}
	if err := h.publisher.PublishIngest(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue ingestion job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue ingestion job")
		return
	}

	log.Info().
		Str("job_id", job.JobID).
		Str("filename", filename).
		Int64("bytes", written).
		Msg("Statement upload accepted")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":   job.JobID,
		"filename": filename,
		"status":   string(job.Status),
	})
}

// EnqueueIngest handles POST /api/statements/ingest
// Enqueues ingestion of a statement that already exists as a local path or a
// gs:// URI, without going through an upload.
func (h *StatementsHandler) EnqueueIngest(w http.ResponseWriter, r *http.Request) {
	log := requestLogger(r, h.log)

	var req struct {
		Source string `json:"source"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Source == "" {
		middleware.WriteError(w, http.StatusBadRequest, "source is required")
		return
	}

	job := &jobs.IngestStatementJob{
		Source:     req.Source,
		Filename:   filepath.Base(req.Source),
		MaxRetries: 2,
	}
	if err := h.publisher.PublishIngest(r.Context(), job); err != nil {
		log.Error().Err(err).Str("source", req.Source).Msg("Failed to enqueue ingestion job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue ingestion job")
		return
	}

	log.Info().Str("job_id", job.JobID).Str("source", req.Source).Msg("Ingestion job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"source": req.Source,
		"status": string(job.Status),
	})
}

// JobsHandler handles job status endpoints.
type JobsHandler struct {
	store jobs.Store
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.Store, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		log := requestLogger(r, h.log)
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.Filter{
		Status: jobs.Status(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		log := requestLogger(r, h.log)
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.IngestStatementJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// HealthHandler handles GET /health.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
