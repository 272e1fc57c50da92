package identity

import (
	"errors"
	"time"
)

var (
	// ErrUserExists indicates the email is already registered.
	ErrUserExists = errors.New("user exists")

	// ErrUserNotFound indicates no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned for a wrong email or password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInactive indicates the account has been disabled.
	ErrInactive = errors.New("account inactive")
)

// User represents a registered wallet owner.
type User struct {
	ID           string
	Email        string
	FullName     string
	CompanyName  string
	PasswordHash []byte
	Active       bool
	CreatedAt    time.Time
}

// DisplayName is the name shown to counterparties.
func (u User) DisplayName() string {
	if u.CompanyName != "" {
		return u.CompanyName
	}
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}

// Registration request structure.
type Registration struct {
	Email       string
	Password    string
	FullName    string
	CompanyName string
	Currency    string
}
