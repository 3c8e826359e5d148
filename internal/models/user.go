package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name"`
	IsVerified   bool       `json:"is_verified"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

// UserProfile mirrors a row of user_profiles. It is rewritten on every
// sign-in and session check.
type UserProfile struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SignUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpResult struct {
	UserID              uuid.UUID `json:"user_id"`
	PendingConfirmation bool      `json:"pending_confirmation"`
	Message             string    `json:"message"`
}

type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type SignInResponse struct {
	User    *User         `json:"user"`
	Tokens  *AuthTokens   `json:"tokens"`
	Session *SessionState `json:"session,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}
