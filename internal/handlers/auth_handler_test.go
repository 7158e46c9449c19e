package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/models"
	"github.com/ternarybob/ramus/internal/services/auth"
	"github.com/ternarybob/ramus/internal/storage/badger"
)

func newAuthTestHandler(t *testing.T) *AuthHandler {
	t.Helper()

	logger := arbor.NewLogger()
	store, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := auth.NewService(store.UserStorage(), store.TokenStorage(), &common.AuthConfig{
		TokenTTL: "1h",
		// Fast parameters; production values come from config defaults
		Argon2Time:     1,
		Argon2MemoryKB: 8 * 1024,
		Argon2Threads:  1,
		Argon2KeyLen:   32,
	}, logger)

	_, err = svc.CreateUser(context.Background(), "operator", "correct horse battery", []string{models.ScopeJobsRead, models.ScopeJobsWrite})
	require.NoError(t, err)

	return NewAuthHandler(svc, logger)
}

func TestLogin_IssuesToken(t *testing.T) {
	handler := newAuthTestHandler(t)

	rec := doJSON(t, handler.LoginHandler, "POST", "/api/auth/login", &models.LoginRequest{
		Username: "operator",
		Password: "correct horse battery",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var resp models.LoginResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)
	assert.False(t, resp.ExpiresAt.IsZero())
	assert.ElementsMatch(t, []string{models.ScopeJobsRead, models.ScopeJobsWrite}, resp.Scopes)
}

func TestLogin_BadCredentialsLookAlike(t *testing.T) {
	handler := newAuthTestHandler(t)

	wrongPassword := doJSON(t, handler.LoginHandler, "POST", "/api/auth/login", &models.LoginRequest{
		Username: "operator",
		Password: "wrong",
	})
	unknownUser := doJSON(t, handler.LoginHandler, "POST", "/api/auth/login", &models.LoginRequest{
		Username: "nobody",
		Password: "wrong",
	})

	// Neither response may reveal whether the account exists
	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownUser.Body.String())
}

func TestLogin_MissingFields(t *testing.T) {
	handler := newAuthTestHandler(t)

	rec := doJSON(t, handler.LoginHandler, "POST", "/api/auth/login", &models.LoginRequest{
		Username: "operator",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp models.ErrorResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.Error)
}
