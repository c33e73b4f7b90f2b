package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxNameLength bounds user and API key names.
const MaxNameLength = 100

// User owns documents and issues queries. Every read is scoped to one user.
type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

func NewUser(id, name string, createdAt time.Time) *User {
	return &User{ID: id, Name: name, CreatedAt: createdAt}
}

// APIKey is a bearer credential of a user. Only the SHA-256 of the token is
// kept; the plaintext is shown once at creation.
type APIKey struct {
	ID        string
	UserID    string
	Name      string
	KeyHash   string
	CreatedAt time.Time
	RevokedAt *time.Time
}

func NewAPIKey(id, userID, name, keyHash string, createdAt time.Time, revokedAt *time.Time) *APIKey {
	return &APIKey{
		ID:        id,
		UserID:    userID,
		Name:      name,
		KeyHash:   keyHash,
		CreatedAt: createdAt,
		RevokedAt: revokedAt,
	}
}

func (a *APIKey) IsRevoked() bool {
	return a.RevokedAt != nil
}

func ValidateUser(u *User) error {
	if u == nil {
		return fmt.Errorf("user cannot be nil")
	}
	if u.ID == "" {
		return required("user ID")
	}
	return validateName("user", u.Name)
}

func ValidateAPIKey(a *APIKey) error {
	if a == nil {
		return fmt.Errorf("api key cannot be nil")
	}
	switch {
	case a.ID == "":
		return required("api key ID")
	case a.UserID == "":
		return required("api key UserID")
	case a.KeyHash == "":
		return required("api key KeyHash")
	}
	return validateName("api key", a.Name)
}

func validateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return required(kind + " Name")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("%s Name exceeds %d characters", kind, MaxNameLength))
	}
	return nil
}

func required(field string) error {
	return NewDomainErrorWithCause(ErrCodeValidation, field+" is required", ErrMissingRequiredField)
}
