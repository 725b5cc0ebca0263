package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuth(t *testing.T) {
	handler := RequestID(Auth("secret-token")(okHandler))

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "health is public", path: "/healthz", want: http.StatusOK},
		{name: "missing header", path: "/v1/jobs", want: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/v1/jobs", header: "Basic secret-token", want: http.StatusUnauthorized},
		{name: "wrong token", path: "/v1/jobs", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid token", path: "/v1/jobs", header: "Bearer secret-token", want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				request.Header.Set("Authorization", tc.header)
			}
			recorder := httptest.NewRecorder()

			handler.ServeHTTP(recorder, request)

			assert.Equal(t, tc.want, recorder.Code)
		})
	}
}

func TestAuthErrorBodyCarriesRequestID(t *testing.T) {
	handler := RequestID(Auth("secret-token")(okHandler))
	request := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	request.Header.Set("X-Request-Id", "req-42")
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, request)

	var body errorBody
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body.Error.Code)
	assert.Equal(t, "req-42", body.RequestID)
	assert.Equal(t, "req-42", recorder.Header().Get("X-Request-Id"))
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	recorder := httptest.NewRecorder()
	Auth("")(okHandler).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestRateLimitRejectsAfterBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, 0.001, 2)(okHandler)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		request := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		request.RemoteAddr = "10.0.0.1:5000"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		statuses = append(statuses, recorder.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)

	other := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, other)
	assert.Equal(t, http.StatusOK, recorder.Code, "buckets are per client IP")
}

func TestRequestIDReplacesOversizedHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))
	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set("X-Request-Id", string(bytes.Repeat([]byte("a"), 200)))

	handler.ServeHTTP(httptest.NewRecorder(), request)

	assert.Len(t, seen, 36)
	assert.Equal(t, "unknown", GetRequestID(context.Background()))
}

func TestTraceLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	handler := RequestID(Trace(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})))
	request := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
	request.Header.Set("X-Request-Id", "req-7")

	handler.ServeHTTP(httptest.NewRecorder(), request)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-7", entry["request_id"])
	assert.Equal(t, float64(http.StatusAccepted), entry["status"])
	assert.Equal(t, float64(2), entry["bytes"])
	assert.Equal(t, "/v1/events", entry["path"])
}
