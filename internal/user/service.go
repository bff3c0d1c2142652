package user

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/auth"
	"github.com/frahmantamala/tagfinder/internal/auth/postgres"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/user"
)

type Repository interface {
	GetByID(ctx context.Context, id int64) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
}

type TokenIssuer interface {
	Issue(userID int64) (string, time.Time, error)
}

type Service struct {
	repo   Repository
	tokens TokenIssuer
	logger *slog.Logger
}

func NewService(repo Repository, tokens TokenIssuer, logger *slog.Logger) *Service {
	return &Service{repo: repo, tokens: tokens, logger: logger}
}

// Login exchanges credentials for an access token. Unknown emails and wrong
// passwords answer the same error.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	u, err := s.repo.GetByEmail(ctx, req.Email)
	if errors.Is(err, postgres.ErrUserNotFound) {
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load user", err)
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		s.logger.Warn("login rejected", "user_id", u.ID, "reason", "password")
		return nil, apperrors.ErrInvalidCredentials
	}
	if !u.IsActive {
		s.logger.Warn("login rejected", "user_id", u.ID, "reason", "inactive")
		return nil, apperrors.ErrUserInactive
	}

	token, expiresAt, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to issue token", err)
	}
	s.logger.Info("user logged in", "user_id", u.ID)

	return &LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		User:        ToProfile(u),
	}, nil
}

func (s *Service) Me(ctx context.Context, userID int64) (*Profile, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if errors.Is(err, postgres.ErrUserNotFound) {
		return nil, apperrors.ErrInvalidToken
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load user", err)
	}
	p := ToProfile(u)
	return &p, nil
}
