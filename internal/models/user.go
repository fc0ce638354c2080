package models

import "time"

// User represents an account stored in the users table. Credentials and the
// outstanding password-reset challenge live on the same record; a non-nil
// DeletedAt marks the account as soft deleted.
type User struct {
	ID                    string     `db:"id" json:"id"`
	Username              string     `db:"username" json:"username"`
	Email                 string     `db:"email" json:"email"`
	PasswordHash          string     `db:"password_hash" json:"-"`
	IsAdmin               bool       `db:"is_admin" json:"is_admin"`
	IsPrivate             bool       `db:"is_private" json:"is_private"`
	VerificationCode      *string    `db:"verification_code" json:"-"`
	VerificationExpiresAt *time.Time `db:"verification_expires_at" json:"-"`
	DeletedAt             *time.Time `db:"deleted_at" json:"-"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// Deleted reports whether the account has been soft deleted.
func (u *User) Deleted() bool {
	return u.DeletedAt != nil
}

// PublicUser is the sanitized projection returned by the API. Password hash and
// reset-challenge fields never leave the service layer.
type PublicUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	IsPrivate bool      `json:"is_private"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sanitize strips credential and challenge fields from a user record.
func (u *User) Sanitize() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		IsAdmin:   u.IsAdmin,
		IsPrivate: u.IsPrivate,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// SanitizeUsers maps a slice of users to their public projection.
func SanitizeUsers(users []User) []PublicUser {
	out := make([]PublicUser, len(users))
	for i := range users {
		out[i] = users[i].Sanitize()
	}
	return out
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Search     string
	PublicOnly bool
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
