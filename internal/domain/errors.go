package domain

import (
	"errors"
	"fmt"
)

// DomainError carries a machine-readable code alongside the message. The
// HTTP layer maps codes to status codes; the query pipeline codes are
// returned to clients verbatim.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := "[" + e.Code + "] " + e.Message
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost DomainError in err's chain, or "".
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"

	// Query pipeline codes, stable across releases.
	ErrCodeAuth       = "AUTH_401"
	ErrCodeRateLimit  = "RATE_429"
	ErrCodeBadRequest = "VALIDATION_400"
	ErrCodeEmbed      = "EMBED_500"
	ErrCodeSearch     = "SEARCH_500"
	ErrCodeLLM        = "LLM_500"
	ErrCodeUncaught   = "UNCAUGHT_500"
)

var (
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrEmptyDocumentContent = NewDomainError(ErrCodeValidation, "document content is empty")

	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrUserNotFound     = NewDomainError(ErrCodeNotFound, "user not found")
	ErrAPIKeyNotFound   = NewDomainError(ErrCodeNotFound, "api key not found")
	ErrAttachmentAbsent = NewDomainError(ErrCodeNotFound, "document has no attachment")

	ErrUserAlreadyExists   = NewDomainError(ErrCodeAlreadyExists, "user already exists")
	ErrAPIKeyAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "api key already exists")

	ErrAPIKeyRevoked = NewDomainError(ErrCodeUnauthorized, "api key has been revoked")
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
	ErrNotOwner      = NewDomainError(ErrCodeForbidden, "document belongs to another user")
)
