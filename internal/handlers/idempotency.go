// -----------------------------------------------------------------------
// Idempotency Middleware - At-most-once execution for mutating requests
// -----------------------------------------------------------------------

package handlers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

// IdempotencyHeader carries the client-chosen key on mutating requests
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyMiddleware makes POSTs carrying an Idempotency-Key execute
// at most once. The first request claims the key and runs; a repeat with
// the same body replays the stored response byte for byte; a repeat with
// a different body, or one arriving while the first is still in flight,
// is rejected with 409. Requests without the header pass through.
type IdempotencyMiddleware struct {
	storage interfaces.IdempotencyStorage
	logger  arbor.ILogger
}

// NewIdempotencyMiddleware creates the middleware
func NewIdempotencyMiddleware(storage interfaces.IdempotencyStorage, logger arbor.ILogger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		storage: storage,
		logger:  logger,
	}
}

// Wrap applies the idempotency protocol around next
func (m *IdempotencyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if key == "" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		fingerprint := RequestFingerprint(r.Method, r.URL.Path, body)

		record, fresh, err := m.storage.Claim(r.Context(), key, fingerprint)
		if err != nil {
			m.logger.Error().Err(err).Str("key", key).Msg("Idempotency claim failed")
			WriteDomainError(w, err)
			return
		}

		if !fresh {
			m.replay(w, key, fingerprint, record)
			return
		}

		recorder := newResponseRecorder(w)
		next.ServeHTTP(recorder, r)

		// A panic in next unwinds past this point; the record then stays
		// in flight until the maintenance sweep retires it.
		if err := m.storage.Complete(r.Context(), key, recorder.status, recorder.Header().Get("Content-Type"), recorder.body.Bytes()); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Failed to snapshot idempotent response")
		}
	})
}

func (m *IdempotencyMiddleware) replay(w http.ResponseWriter, key, fingerprint string, record *models.IdempotencyRecord) {
	if record.Fingerprint != fingerprint {
		WriteDomainError(w, &models.IdempotencyConflictError{
			Key:     key,
			Message: fmt.Sprintf("idempotency key %s was already used with a different request", key),
		})
		return
	}
	if !record.Completed() {
		WriteDomainError(w, &models.IdempotencyConflictError{
			Key:     key,
			Message: fmt.Sprintf("request for idempotency key %s is still in flight", key),
		})
		return
	}

	m.logger.Debug().Str("key", key).Msg("Replaying idempotent response")
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set("Idempotency-Replayed", "true")
	w.WriteHeader(record.Status)
	w.Write(record.Body)
}

// RequestFingerprint binds an idempotency key to one exact request shape
func RequestFingerprint(method, path string, body []byte) string {
	sum := sha256.Sum256(body)
	return method + "|" + path + "|" + hex.EncodeToString(sum[:])
}

// responseRecorder tees the response into a buffer so it can be stored
// for replays while still streaming to the client.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
