package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/iago/risk-reanalysis/internal/http/middleware"
	"github.com/iago/risk-reanalysis/internal/worker"
)

type drainRequest struct {
	MaxJobs int `json:"max_jobs,omitempty"`
}

// interruptedDrain is the 503 body for a cancelled drain. It carries the
// counters of the jobs that finished before the cancellation.
type interruptedDrain struct {
	errorPayload
	worker.DrainResult
}

// DrainQueue runs one dispatcher pass inline and reports its counters.
// max_jobs may come from the query string or a JSON body.
func (api *API) DrainQueue(w http.ResponseWriter, r *http.Request) {
	if api.drainer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "worker_disabled", "queue processing is not enabled on this instance")
		return
	}

	var request drainRequest
	if raw := strings.TrimSpace(r.URL.Query().Get("max_jobs")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "max_jobs must be a non-negative integer")
			return
		}
		request.MaxJobs = parsed
	} else if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &request); err != nil || request.MaxJobs < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "max_jobs must be a non-negative integer")
			return
		}
	}

	result, err := api.drainer.DrainQueue(r.Context(), request.MaxJobs)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			payload := interruptedDrain{DrainResult: result}
			payload.RequestID = middleware.GetRequestID(r.Context())
			payload.Error.Code = "drain_interrupted"
			payload.Error.Message = "drain was interrupted"
			if payload.Errors == nil {
				payload.Errors = []string{}
			}
			writeJSON(w, http.StatusServiceUnavailable, payload)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to drain queue")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
