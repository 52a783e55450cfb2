// Package services contains the backend business logic. This file implements
// UserService: registration, password login and refresh token rotation.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/cryptox"
	"github.com/pixelartvj/officesync/internal/dbx"
	"github.com/pixelartvj/officesync/internal/server/auth"
	"github.com/pixelartvj/officesync/internal/server/config"
	"github.com/pixelartvj/officesync/internal/server/models"
	"github.com/pixelartvj/officesync/internal/server/repositories/repomanager"
	"github.com/pixelartvj/officesync/internal/shared"
)

var ErrInvalidInput = errors.New("invalid input")

// Session is what login and refresh hand back to a client.
type Session struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresAt    time.Time    `json:"expiresAt"`
}

type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	clock                        clockwork.Clock
	tokens                       *auth.Issuer
	refreshTokenValidityDuration time.Duration
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, clock clockwork.Clock) *UserService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &UserService{
		db:                           db,
		repomanager:                  m,
		clock:                        clock,
		tokens:                       auth.NewIssuer([]byte(cfg.SecretKey), cfg.AccessTokenValidityDuration, clock),
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
	}
}

// Register creates an account. The password is stored as an argon2id hash.
func (s *UserService) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return nil, common.ErrorInternal
	}
	u, err := s.repomanager.Users(s.db).Create(ctx, &models.User{Email: email, Name: name, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, common.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return u, nil
}

// Login checks the password and issues a new session. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, common.ErrorInternal
	}
	if !cryptox.VerifyPassword(user.PasswordHash, password) {
		return nil, common.ErrInvalidCredentials
	}
	return s.issueSession(ctx, user, s.db)
}

// Refresh consumes refreshToken and returns a new session with a rotated
// refresh token. Unknown tokens give ErrInvalidToken, expired ones
// ErrTokenExpired.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if token.Expired(s.clock.Now()) {
		_ = repo.Delete(ctx, refreshToken)
		return nil, common.ErrTokenExpired
	}

	var sess *Session
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.RefreshTokens(tx).Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		user, err := s.repomanager.Users(tx).GetByID(ctx, token.UserID)
		if err != nil {
			return fmt.Errorf("error loading user: %w", err)
		}
		sess, err = s.issueSession(ctx, user, tx)
		return err
	}); err != nil {
		return nil, err
	}
	return sess, nil
}

// Logout revokes refreshToken. Unknown tokens are ignored.
func (s *UserService) Logout(ctx context.Context, refreshToken string) error {
	return s.repomanager.RefreshTokens(s.db).Delete(ctx, refreshToken)
}

// Authenticate resolves an access token to its user id.
func (s *UserService) Authenticate(accessToken string) (string, error) {
	return s.tokens.Verify(accessToken)
}

// PurgeExpiredTokens drops refresh tokens that can no longer be used.
func (s *UserService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	return s.repomanager.RefreshTokens(s.db).DeleteExpired(ctx, s.clock.Now())
}

func (s *UserService) issueSession(ctx context.Context, user *models.User, db dbx.DBTX) (*Session, error) {
	access, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := shared.NewToken()
	if err != nil {
		return nil, common.ErrorInternal
	}

	if err := s.repomanager.RefreshTokens(db).Create(ctx, user.ID, refresh, s.clock.Now().Add(s.refreshTokenValidityDuration)); err != nil {
		return nil, common.ErrorInternal
	}
	return &Session{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}
