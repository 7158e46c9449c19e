// -----------------------------------------------------------------------
// Auth Service - Accounts, bearer tokens and scope grants
// -----------------------------------------------------------------------

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/common"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
)

// Service issues opaque bearer tokens backed by storage. A token string
// is its storage key; verification is a lookup plus an expiry check, so
// revocation is just deletion.
type Service struct {
	users  interfaces.UserStorage
	tokens interfaces.TokenStorage
	config *common.AuthConfig
	params Argon2Params
	logger arbor.ILogger
}

// NewService creates a new auth service
func NewService(users interfaces.UserStorage, tokens interfaces.TokenStorage, config *common.AuthConfig, logger arbor.ILogger) *Service {
	params := Argon2Params{
		Time:     config.Argon2Time,
		MemoryKB: config.Argon2MemoryKB,
		Threads:  config.Argon2Threads,
		KeyLen:   config.Argon2KeyLen,
	}
	if params.Time == 0 || params.MemoryKB == 0 || params.Threads == 0 || params.KeyLen == 0 {
		params = DefaultArgon2Params()
	}

	return &Service{
		users:  users,
		tokens: tokens,
		config: config,
		params: params,
		logger: logger,
	}
}

// CreateUser registers an account with the given scope grants.
func (s *Service) CreateUser(ctx context.Context, username, password string, scopes []string) (*models.User, error) {
	if username == "" {
		return nil, models.NewValidationError("username is required")
	}
	if password == "" {
		return nil, models.NewValidationError("password is required")
	}
	for _, scope := range scopes {
		if !models.IsKnownScope(scope) {
			return nil, models.NewValidationError("unknown scope %q", scope)
		}
	}

	hash, err := HashPassword(password, s.params)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           common.NewUserID(),
		Username:     username,
		PasswordHash: hash,
		Scopes:       scopes,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("username", username).
		Int("scopes", len(scopes)).
		Msg("User created")

	return user, nil
}

// Authenticate checks the credentials and issues a token carrying the
// user's scopes. Wrong username and wrong password fail identically.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.Token, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, &models.AuthError{Message: "invalid credentials"}
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, &models.AuthError{Message: "invalid credentials"}
	}

	now := time.Now().UTC()
	token := &models.Token{
		ID:        common.NewTokenID(),
		UserID:    user.ID,
		Scopes:    append([]string(nil), user.Scopes...),
		ExpiresAt: now.Add(s.config.TokenTTLDuration()),
		CreatedAt: now,
	}

	if err := s.tokens.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	s.logger.Debug().
		Str("user_id", user.ID).
		Str("username", username).
		Msg("Token issued")

	return token, nil
}

// VerifyToken resolves a raw bearer token to its claims. Unknown and
// expired tokens both fail with an AuthError.
func (s *Service) VerifyToken(ctx context.Context, raw string) (*models.TokenClaims, error) {
	if raw == "" {
		return nil, &models.AuthError{Message: "missing token"}
	}

	token, err := s.tokens.GetToken(ctx, raw)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, &models.AuthError{Message: "invalid token"}
		}
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if token.Expired(time.Now().UTC()) {
		return nil, &models.AuthError{Message: "token expired"}
	}

	return &models.TokenClaims{
		UserID:    token.UserID,
		Scopes:    token.Scopes,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// EnsureBootstrapUser creates the admin account on first startup. In
// development a missing bootstrap password is generated and logged; in
// production it must be configured.
func (s *Service) EnsureBootstrapUser(ctx context.Context) error {
	username := s.config.BootstrapUsername
	if username == "" {
		return nil
	}

	_, err := s.users.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !models.IsNotFound(err) {
		return fmt.Errorf("failed to check bootstrap user: %w", err)
	}

	password := s.config.BootstrapPassword
	if password == "" {
		generated := make([]byte, 18)
		if _, err := rand.Read(generated); err != nil {
			return fmt.Errorf("failed to generate bootstrap password: %w", err)
		}
		password = hex.EncodeToString(generated)

		s.logger.Warn().
			Str("username", username).
			Str("password", password).
			Msg("Generated bootstrap password - set auth.bootstrap_password to silence this")
	}

	if _, err := s.CreateUser(ctx, username, password, models.AllScopes()); err != nil {
		return fmt.Errorf("failed to create bootstrap user: %w", err)
	}

	s.logger.Info().
		Str("username", username).
		Msg("Bootstrap user created")
	return nil
}
