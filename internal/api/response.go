package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/ragquery/internal/domain"
)

// SuccessResponse is the envelope of every successful non-query response.
type SuccessResponse struct {
	Data any `json:"data"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// QueryErrorResponse is the error body of POST /query. Clients match on
// these exact field names.
type QueryErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

var statusByCode = map[string]int{
	domain.ErrCodeValidation:       http.StatusBadRequest,
	domain.ErrCodeInvalidOperation: http.StatusBadRequest,
	domain.ErrCodeBadRequest:       http.StatusBadRequest,
	domain.ErrCodeNotFound:         http.StatusNotFound,
	domain.ErrCodeAlreadyExists:    http.StatusConflict,
	domain.ErrCodeUnauthorized:     http.StatusUnauthorized,
	domain.ErrCodeAuth:             http.StatusUnauthorized,
	domain.ErrCodeForbidden:        http.StatusForbidden,
	domain.ErrCodeRateLimit:        http.StatusTooManyRequests,
}

func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, SuccessResponse{Data: data})
}

func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// QueryError writes the query error body. A 429 carries Retry-After when
// retryAfter (seconds) is positive.
func QueryError(w http.ResponseWriter, status int, code, message, requestID string, retryAfter int) {
	if status == http.StatusTooManyRequests && retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	JSON(w, status, QueryErrorResponse{ErrorCode: code, Message: message, RequestID: requestID})
}

// DomainErrorToHTTP picks the status for err. Anything without a known
// domain code is a 500.
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if status, ok := statusByCode[domain.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HandleError writes err as an envelope error. Only domain errors expose
// their message; everything else is logged and reported as "internal error".
func HandleError(w http.ResponseWriter, err error) {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		log.Printf("[api] internal error: %v", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	Error(w, DomainErrorToHTTP(err), de.Error())
}
