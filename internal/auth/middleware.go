package auth

import (
	"errors"
	"net/http"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/transport"
	"github.com/frahmantamala/tagfinder/pkg/logger"
)

type Middleware struct {
	*transport.BaseHandler
	issuer *TokenIssuer
	users  UserStatusChecker
}

func NewMiddleware(base *transport.BaseHandler, issuer *TokenIssuer, users UserStatusChecker) *Middleware {
	return &Middleware{BaseHandler: base, issuer: issuer, users: users}
}

// Authenticate requires a bearer token and stores the user id in the request
// context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := transport.BearerToken(r)
		if token == "" {
			m.HandleError(w, apperrors.NewUnauthorizedError("authentication required", apperrors.ErrCodeInvalidToken))
			return
		}

		userID, err := m.issuer.Validate(token)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, ErrTokenExpired) {
				msg = "Token expired"
			}
			m.HandleError(w, apperrors.NewUnauthorizedError(msg, apperrors.ErrCodeInvalidToken))
			return
		}

		if m.users != nil {
			active, err := m.users.IsActive(r.Context(), userID)
			if err != nil {
				m.Logger.Error("user status lookup failed", "user_id", userID, "error", err)
				m.HandleError(w, apperrors.NewInternalError("internal server error", err))
				return
			}
			if !active {
				m.HandleError(w, apperrors.NewUnauthorizedError(ErrUserInactive.Error(), apperrors.ErrCodeInvalidToken))
				return
			}
		}

		ctx := apperrors.ContextWithUserID(r.Context(), userID)
		ctx = logger.With(ctx, "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

