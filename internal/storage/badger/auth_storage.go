package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ramus/internal/interfaces"
	"github.com/ternarybob/ramus/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// UserStorage implements account persistence for Badger
type UserStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewUserStorage creates a new UserStorage instance
func NewUserStorage(db *BadgerDB, logger arbor.ILogger) interfaces.UserStorage {
	return &UserStorage{
		db:     db,
		logger: logger,
	}
}

// CreateUser inserts the account; the username uniqueness check and the
// insert share one transaction.
func (s *UserStorage) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return models.NewValidationError("user is required")
	}
	if user.ID == "" || user.Username == "" {
		return models.NewValidationError("user ID and username are required")
	}

	err := s.db.Update(func(tx *badgerdb.Txn) error {
		var existing []models.User
		query := badgerhold.Where("Username").Eq(user.Username).Limit(1)
		if err := s.db.Store().TxFind(tx, &existing, query); err != nil {
			return err
		}
		if len(existing) > 0 {
			return models.NewValidationError("username %s is already taken", user.Username)
		}
		return s.db.Store().TxInsert(tx, user.ID, *user)
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Debug().
		Str("user_id", user.ID).
		Str("username", user.Username).
		Msg("BadgerDB: User created")
	return nil
}

func (s *UserStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.Store().Get(id, &user); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, &models.NotFoundError{Entity: "user", ID: id}
		}
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return &user, nil
}

func (s *UserStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var users []models.User
	query := badgerhold.Where("Username").Eq(username).Limit(1)
	if err := s.db.Store().Find(&users, query); err != nil {
		return nil, fmt.Errorf("failed to find user %s: %w", username, err)
	}
	if len(users) == 0 {
		return nil, &models.NotFoundError{Entity: "user", ID: username}
	}
	return &users[0], nil
}

// TokenStorage implements bearer token persistence for Badger
type TokenStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTokenStorage creates a new TokenStorage instance
func NewTokenStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TokenStorage {
	return &TokenStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TokenStorage) CreateToken(ctx context.Context, token *models.Token) error {
	if token == nil {
		return models.NewValidationError("token is required")
	}
	if token.ID == "" {
		return models.NewValidationError("token ID is required")
	}

	if err := s.db.Store().Insert(token.ID, *token); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return models.NewValidationError("token %s already exists", token.ID)
		}
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

func (s *TokenStorage) GetToken(ctx context.Context, id string) (*models.Token, error) {
	var token models.Token
	if err := s.db.Store().Get(id, &token); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, &models.NotFoundError{Entity: "token", ID: id}
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &token, nil
}

func (s *TokenStorage) DeleteToken(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.Token{})
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return &models.NotFoundError{Entity: "token", ID: id}
		}
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// DeleteExpiredTokens drops tokens past their expiry and returns how
// many were removed.
func (s *TokenStorage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	count, err := s.db.Store().Count(&models.Token{}, badgerhold.Where("ExpiresAt").Lt(now))
	if err != nil {
		return 0, fmt.Errorf("failed to count expired tokens: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.Token{}, badgerhold.Where("ExpiresAt").Lt(now)); err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	s.logger.Debug().
		Int("count", int(count)).
		Msg("Expired tokens removed")
	return int(count), nil
}
