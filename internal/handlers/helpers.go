// -----------------------------------------------------------------------
// Handler Helpers - JSON plumbing and error-to-status mapping
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/ramus/internal/models"
)

// validate is shared across handlers; the instance caches struct
// metadata and is safe for concurrent use.
var validate = validator.New()

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes the uniform error body with an explicit status.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, &models.ErrorResponse{Error: message})
}

// WriteDomainError maps a domain error to its HTTP status and writes the
// uniform error body. Errors outside the taxonomy become a 500 with a
// generic message so internals never reach clients.
func WriteDomainError(w http.ResponseWriter, err error) error {
	status, body := errorBody(err)
	return WriteJSON(w, status, body)
}

func errorBody(err error) (int, *models.ErrorResponse) {
	var (
		validation *models.ValidationError
		transition *models.StateTransitionError
		authErr    *models.AuthError
		scope      *models.ScopeError
		notFound   *models.NotFoundError
		allocation *models.AllocationError
		idem       *models.IdempotencyConflictError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, &models.ErrorResponse{Error: validation.Error()}
	case errors.As(err, &transition):
		return http.StatusBadRequest, &models.ErrorResponse{
			Error: transition.Error(),
			Detail: map[string]interface{}{
				"entity_id": transition.EntityID,
				"from":      transition.From,
				"to":        transition.To,
			},
		}
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, &models.ErrorResponse{Error: authErr.Error()}
	case errors.As(err, &scope):
		return http.StatusForbidden, &models.ErrorResponse{Error: scope.Error()}
	case errors.As(err, &notFound):
		return http.StatusNotFound, &models.ErrorResponse{Error: notFound.Error()}
	case errors.As(err, &allocation):
		return http.StatusConflict, &models.ErrorResponse{
			Error: allocation.Error(),
			Detail: map[string]interface{}{
				"job_id": allocation.JobID,
				"depth":  allocation.Depth,
			},
		}
	case errors.As(err, &idem):
		return http.StatusConflict, &models.ErrorResponse{Error: idem.Error()}
	}
	return http.StatusInternalServerError, &models.ErrorResponse{Error: "internal error"}
}

// DecodeJSON parses the request body into dst and runs its validation
// tags. Failures come back as ValidationError so callers can hand them
// straight to WriteDomainError.
func DecodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return models.NewValidationError("invalid request body: %s", err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return models.NewValidationError("invalid request body")
		}
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			f := fields[0]
			return models.NewValidationError("field %s failed validation on %s", f.Field(), f.Tag())
		}
		return models.NewValidationError("%s", err.Error())
	}
	return nil
}

// QueryInt reads an integer query parameter, returning def when absent.
// A malformed value is a ValidationError.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError("query parameter %s must be an integer, got %q", name, raw)
	}
	return parsed, nil
}
