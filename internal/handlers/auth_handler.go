package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

// AuthHandler issues bearer tokens. Verification happens in the server
// middleware; this handler only covers the unauthenticated login path.
type AuthHandler struct {
	auth   interfaces.AuthService
	logger arbor.ILogger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth interfaces.AuthService, logger arbor.ILogger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger,
	}
}

// LoginHandler exchanges credentials for a fresh bearer token
// POST /api/auth/login
func (h *AuthHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	ctx := r.Context()

	var req models.LoginRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteDomainError(w, err)
		return
	}

	token, err := h.auth.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		// Same body for unknown user and wrong password; nothing here may
		// say which one it was.
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().Str("user_id", token.UserID).Msg("Login succeeded")
	WriteJSON(w, http.StatusOK, &models.LoginResponse{
		Token:     token.ID,
		ExpiresAt: token.ExpiresAt,
		Scopes:    token.Scopes,
	})
}
