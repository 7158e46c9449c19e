package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/models"
	"github.com/ternarybob/ramus/internal/storage/badger"
)

func newIdempotencyMiddleware(t *testing.T) *IdempotencyMiddleware {
	t.Helper()

	logger := arbor.NewLogger()
	store, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewIdempotencyMiddleware(store.IdempotencyStorage(), logger)
}

// countingHandler records how many times the wrapped endpoint actually ran
func countingHandler(calls *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		WriteJSON(w, http.StatusCreated, map[string]interface{}{"call": n})
	})
}

func postWithKey(t *testing.T, handler http.Handler, key, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest("POST", "/api/jobs/submit", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_ReplayIsByteIdentical(t *testing.T) {
	middleware := newIdempotencyMiddleware(t)
	var calls atomic.Int32
	handler := middleware.Wrap(countingHandler(&calls))

	first := postWithKey(t, handler, "key-1", `{"a":1}`)
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, int32(1), calls.Load())

	second := postWithKey(t, handler, "key-1", `{"a":1}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String(), "replay returns the stored bytes")
	assert.Equal(t, first.Header().Get("Content-Type"), second.Header().Get("Content-Type"))
	assert.Equal(t, "true", second.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, int32(1), calls.Load(), "the endpoint ran once")
}

func TestIdempotency_DifferentBodyConflicts(t *testing.T) {
	middleware := newIdempotencyMiddleware(t)
	var calls atomic.Int32
	handler := middleware.Wrap(countingHandler(&calls))

	first := postWithKey(t, handler, "key-1", `{"a":1}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := postWithKey(t, handler, "key-1", `{"a":2}`)
	assert.Equal(t, http.StatusConflict, second.Code)

	var resp models.ErrorResponse
	decodeBody(t, second, &resp)
	assert.Contains(t, resp.Error, "different request")
	assert.Equal(t, int32(1), calls.Load())
}

func TestIdempotency_InFlightConflicts(t *testing.T) {
	middleware := newIdempotencyMiddleware(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := middleware.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		WriteJSON(w, http.StatusCreated, map[string]string{"done": "yes"})
	}))

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- postWithKey(t, blocking, "key-1", `{"a":1}`)
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the endpoint")
	}

	second := postWithKey(t, blocking, "key-1", `{"a":1}`)
	assert.Equal(t, http.StatusConflict, second.Code)
	var resp models.ErrorResponse
	decodeBody(t, second, &resp)
	assert.Contains(t, resp.Error, "in flight")

	close(release)
	select {
	case first := <-firstDone:
		require.Equal(t, http.StatusCreated, first.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("first request never finished")
	}

	// With the first request complete, the same key now replays
	third := postWithKey(t, blocking, "key-1", `{"a":1}`)
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, "true", third.Header().Get("Idempotency-Replayed"))
}

func TestIdempotency_NoHeaderPassesThrough(t *testing.T) {
	middleware := newIdempotencyMiddleware(t)
	var calls atomic.Int32
	handler := middleware.Wrap(countingHandler(&calls))

	postWithKey(t, handler, "", `{"a":1}`)
	postWithKey(t, handler, "", `{"a":1}`)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_OnlyGuardsPosts(t *testing.T) {
	middleware := newIdempotencyMiddleware(t)
	var calls atomic.Int32
	handler := middleware.Wrap(countingHandler(&calls))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/jobs", nil)
		req.Header.Set(IdempotencyHeader, "key-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_SubmitEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	middleware := NewIdempotencyMiddleware(env.store.IdempotencyStorage(), arbor.NewLogger())
	handler := middleware.Wrap(http.HandlerFunc(env.jobs.SubmitJobHandler))

	body := `{"task_description":"exactly once"}`
	first := postWithKey(t, handler, "submit-1", body)
	require.Equal(t, http.StatusCreated, first.Code, "body: %s", first.Body.String())

	second := postWithKey(t, handler, "submit-1", body)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	// Exactly one job row exists despite two accepted submissions
	jobs, err := env.store.JobStorage().ListJobs(context.Background(), models.JobListOptions{})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestRequestFingerprint(t *testing.T) {
	a := RequestFingerprint("POST", "/api/jobs/submit", []byte(`{"a":1}`))
	b := RequestFingerprint("POST", "/api/jobs/submit", []byte(`{"a":1}`))
	c := RequestFingerprint("POST", "/api/jobs/submit", []byte(`{"a":2}`))
	d := RequestFingerprint("POST", "/api/resources/allocate", []byte(`{"a":1}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "body changes the fingerprint")
	assert.NotEqual(t, a, d, "path changes the fingerprint")
	assert.True(t, strings.HasPrefix(a, "POST|/api/jobs/submit|"))
}
