package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest holds the self-service registration payload.
type RegisterRequest struct {
	Username        string `json:"username" validate:"required,min=3,max=30"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// LoginRequest authenticates by email or username plus password.
type LoginRequest struct {
	Email    string `json:"email" validate:"omitempty,email"`
	Username string `json:"username" validate:"omitempty,min=3,max=30"`
	Password string `json:"password" validate:"required"`
}

// Identifier returns the lookup key the client supplied.
func (r LoginRequest) Identifier() string {
	if r.Email != "" {
		return r.Email
	}
	return r.Username
}

// AuthResult carries the outcome of login and refresh operations.
type AuthResult struct {
	User         PublicUser `json:"user"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"-"`
	ExpiresIn    int64      `json:"expires_in"`
}

// ResetRequest initiates the password reset flow.
type ResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetConfirmRequest completes the password reset flow.
type ResetConfirmRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Code            string `json:"code" validate:"required,len=7"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// UpdateProfileRequest mutates the authenticated user's own record. Changing
// email or password requires the current password.
type UpdateProfileRequest struct {
	Username        *string `json:"username" validate:"omitempty,min=3,max=30"`
	Email           *string `json:"email" validate:"omitempty,email"`
	Password        *string `json:"password" validate:"omitempty,min=8"`
	IsPrivate       *bool   `json:"isPrivate"`
	CurrentPassword string  `json:"currentPassword"`
}

// AccessClaims is the JWT payload for access tokens.
type AccessClaims struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}
