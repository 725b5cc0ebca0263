package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iago/risk-reanalysis/internal/domain"
	"github.com/iago/risk-reanalysis/internal/repository"
	"github.com/iago/risk-reanalysis/internal/service"
)

const minIdempotencyKeyLength = 16

type createJobRequest struct {
	EntityID         string `json:"entity_id"`
	AnalysisType     string `json:"analysis_type"`
	Priority         string `json:"priority,omitempty"`
	PreviousResultID string `json:"previous_result_id,omitempty"`
	MaxRetries       int    `json:"max_retries,omitempty"`
}

type jobAccepted struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	StatusURL  string    `json:"status_url"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type jobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type jobView struct {
	JobID              string                     `json:"job_id"`
	EntityID           string                     `json:"entity_id"`
	AnalysisType       string                     `json:"analysis_type"`
	Priority           string                     `json:"priority"`
	Status             string                     `json:"status"`
	PreviousResultID   string                     `json:"previous_result_id,omitempty"`
	ResultID           string                     `json:"result_id,omitempty"`
	RetryCount         int                        `json:"retry_count"`
	MaxRetries         int                        `json:"max_retries"`
	CreatedAt          time.Time                  `json:"created_at"`
	StartedAt          *time.Time                 `json:"started_at,omitempty"`
	CompletedAt        *time.Time                 `json:"completed_at,omitempty"`
	LastRetryAt        *time.Time                 `json:"last_retry_at,omitempty"`
	Error              *jobError                  `json:"error,omitempty"`
	ImprovementSummary *domain.ImprovementSummary `json:"improvement_summary,omitempty"`
}

func newJobView(job *domain.Job) jobView {
	view := jobView{
		JobID:              job.ID,
		EntityID:           job.EntityID,
		AnalysisType:       string(job.AnalysisType),
		Priority:           job.Priority.String(),
		Status:             string(job.Status),
		PreviousResultID:   job.PreviousResultID,
		ResultID:           job.ResultID,
		RetryCount:         job.RetryCount,
		MaxRetries:         job.RetryBudget(),
		CreatedAt:          job.CreatedAt,
		StartedAt:          job.StartedAt,
		CompletedAt:        job.CompletedAt,
		LastRetryAt:        job.LastRetryAt,
		ImprovementSummary: job.ImprovementSummary,
	}
	if strings.TrimSpace(job.ErrorMessage) != "" {
		view.Error = &jobError{Code: "processing_error", Message: job.ErrorMessage}
	}
	return view
}

// CreateJob queues a re-analysis. An Idempotency-Key header replays the
// original job for identical payloads and rejects different ones.
func (api *API) CreateJob(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" && len(idempotencyKey) < minIdempotencyKeyLength {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Idempotency-Key must be at least 16 characters")
		return
	}

	var request createJobRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "request body is not valid JSON for a job")
		return
	}

	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		entry, reserved := api.idempotency.Reserve(idempotencyKey, payloadHash)
		if !reserved {
			switch {
			case entry.PayloadHash != payloadHash:
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key was used with a different payload")
			case entry.pending():
				w.Header().Set("Retry-After", "1")
				writeError(w, r, http.StatusConflict, "idempotency_in_progress", "a request with this Idempotency-Key is still being processed")
			default:
				w.Header().Set("Idempotent-Replayed", "true")
				writeJSON(w, http.StatusAccepted, jobAccepted{
					JobID:      entry.JobID,
					Status:     string(domain.JobStatusPending),
					StatusURL:  "/v1/jobs/" + entry.JobID,
					AcceptedAt: entry.AcceptedAt,
				})
			}
			return
		}
	}

	job, err := api.jobsService.Enqueue(r.Context(), service.EnqueueRequest{
		EntityID:         request.EntityID,
		AnalysisType:     domain.AnalysisType(strings.TrimSpace(request.AnalysisType)),
		Priority:         request.Priority,
		PreviousResultID: request.PreviousResultID,
		MaxRetries:       request.MaxRetries,
	})
	if err != nil {
		if idempotencyKey != "" {
			api.idempotency.Release(idempotencyKey)
		}
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to queue job")
		return
	}

	if idempotencyKey != "" {
		api.idempotency.Complete(idempotencyKey, job.ID, job.CreatedAt)
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, jobAccepted{
		JobID:      job.ID,
		Status:     string(job.Status),
		StatusURL:  "/v1/jobs/" + job.ID,
		AcceptedAt: job.CreatedAt,
	})
}

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	job, err := api.jobsService.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}

	writeJSON(w, http.StatusOK, newJobView(job))
}

func (api *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	jobs, err := api.jobsService.ListJobs(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}

	items := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, newJobView(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}
