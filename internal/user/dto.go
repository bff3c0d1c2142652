package user

import (
	"strings"
	"time"

	"github.com/frahmantamala/tagfinder/internal/core/common/validation"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))

	v := validation.NewValidator()
	v.Field("email", r.Email).Required().MaxLength(255)
	v.Field("password", r.Password).Required().MaxLength(72)

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        Profile   `json:"user"`
}
