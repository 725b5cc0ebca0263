package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/iago/risk-reanalysis/internal/http/middleware"
	"github.com/iago/risk-reanalysis/internal/service"
	"github.com/iago/risk-reanalysis/internal/worker"
)

var errInvalidPayload = errors.New("invalid payload")

const (
	maxBodyBytes   = 1 << 20
	idempotencyTTL = 24 * time.Hour
)

// Drainer runs one pass over the pending queue.
type Drainer interface {
	DrainQueue(ctx context.Context, maxJobs int) (worker.DrainResult, error)
}

type API struct {
	jobsService *service.JobsService
	drainer     Drainer
	idempotency *idempotencyStore
}

// NewAPI builds the handlers. drainer may be nil when this process does not
// run the dispatcher; the drain endpoint then answers 503.
func NewAPI(jobsService *service.JobsService, drainer Drainer) *API {
	return &API{
		jobsService: jobsService,
		drainer:     drainer,
		idempotency: newIdempotencyStore(idempotencyTTL),
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// NotFound and MethodNotAllowed keep router errors in the JSON envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "not_found", "route not found")
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

// idempotencyEntry is pending while JobID is empty: a request holding the
// key has not finished enqueueing yet.
type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	AcceptedAt  time.Time
	CreatedAt   time.Time
}

func (e idempotencyEntry) pending() bool { return e.JobID == "" }

type idempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]idempotencyEntry
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]idempotencyEntry),
	}
}

// Reserve claims key for the caller. When the key is already held, the
// existing entry is returned with reserved set to false.
func (s *idempotencyStore) Reserve(key string, payloadHash uint64) (existing idempotencyEntry, reserved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for stored, entry := range s.entries {
		if now.Sub(entry.CreatedAt) > s.ttl {
			delete(s.entries, stored)
		}
	}
	if entry, ok := s.entries[key]; ok {
		return entry, false
	}
	s.entries[key] = idempotencyEntry{PayloadHash: payloadHash, CreatedAt: now}
	return idempotencyEntry{}, true
}

// Complete records the job created under a reserved key.
func (s *idempotencyStore) Complete(key, jobID string, acceptedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return
	}
	entry.JobID = jobID
	entry.AcceptedAt = acceptedAt
	s.entries[key] = entry
}

// Release drops a reservation whose request failed, so a retry can use the key.
func (s *idempotencyStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok && entry.pending() {
		delete(s.entries, key)
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
