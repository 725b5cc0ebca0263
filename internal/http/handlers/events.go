package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/iago/risk-reanalysis/internal/domain"
	"github.com/iago/risk-reanalysis/internal/queue"
	"github.com/iago/risk-reanalysis/internal/service"
)

type publishEventRequest struct {
	EventID          string     `json:"event_id,omitempty"`
	EntityID         string     `json:"entity_id"`
	AnalysisType     string     `json:"analysis_type"`
	Priority         string     `json:"priority,omitempty"`
	PreviousResultID string     `json:"previous_result_id,omitempty"`
	Source           string     `json:"source,omitempty"`
	OccurredAt       *time.Time `json:"occurred_at,omitempty"`
}

// PublishEvent accepts a data-change notification for asynchronous intake.
func (api *API) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var request publishEventRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "request body is not valid JSON for an event")
		return
	}

	event := domain.DataChangeEvent{
		EventID:          strings.TrimSpace(request.EventID),
		EntityID:         request.EntityID,
		AnalysisType:     domain.AnalysisType(strings.TrimSpace(request.AnalysisType)),
		Priority:         request.Priority,
		PreviousResultID: strings.TrimSpace(request.PreviousResultID),
		Source:           strings.TrimSpace(request.Source),
	}
	if request.OccurredAt != nil {
		event.OccurredAt = request.OccurredAt.UTC()
	}

	published, err := api.jobsService.PublishChange(r.Context(), event)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, queue.ErrQueueBackpressure):
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusServiceUnavailable, "queue_backpressure", "event queue is saturated, retry shortly")
		case errors.Is(err, service.ErrPublishingDisabled):
			writeError(w, r, http.StatusServiceUnavailable, "publishing_disabled", err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to publish event")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"event_id":    published.EventID,
		"accepted_at": published.OccurredAt,
	})
}
