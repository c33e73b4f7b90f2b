package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/ragquery/internal/api"
	"github.com/cloo-solutions/ragquery/internal/domain"
)

// firstKeyName names the key issued together with a new account.
const firstKeyName = "default"

type AuthService interface {
	CreateUser(ctx context.Context, name string) (*domain.User, error)
	CreateAPIKey(ctx context.Context, userID, name string) (string, error)
	ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID string) error
}

type AuthHandler struct {
	svc AuthService
}

func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// NameRequest is the body of both POST /users and POST /apikeys.
type NameRequest struct {
	Name string `json:"name"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	// Token is the plaintext of the first API key; it is never shown again.
	Token string `json:"token,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Token     string `json:"token,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Revoked   bool   `json:"revoked"`
}

func keyResponse(k *domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt.UTC().Format(time.RFC3339),
		Revoked:   k.IsRevoked(),
	}
}

// decodeName reads a NameRequest and answers 400 itself when the body is
// unusable.
func decodeName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req NameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return "", false
	}
	return name, true
}

// CreateUser signs up a user and returns its first API key.
func (h *AuthHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	name, ok := decodeName(w, r)
	if !ok {
		return
	}

	user, err := h.svc.CreateUser(r.Context(), name)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	token, err := h.svc.CreateAPIKey(r.Context(), user.ID, firstKeyName)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, UserResponse{
		ID:        user.ID,
		Name:      user.Name,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
		Token:     token,
	})
}

func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	name, ok := decodeName(w, r)
	if !ok {
		return
	}

	token, err := h.svc.CreateAPIKey(r.Context(), userID, name)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusCreated, APIKeyResponse{Name: name, Token: token})
}

func (h *AuthHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	keys, err := h.svc.ListAPIKeys(r.Context(), userID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	out := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyResponse(k))
	}
	api.Success(w, http.StatusOK, out)
}

// RevokeAPIKey revokes one of the caller's keys. Keys of other users are
// reported as not found.
func (h *AuthHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	keyID := chi.URLParam(r, "id")
	keys, err := h.svc.ListAPIKeys(r.Context(), userID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if !slices.ContainsFunc(keys, func(k *domain.APIKey) bool { return k.ID == keyID }) {
		api.HandleError(w, domain.ErrAPIKeyNotFound)
		return
	}

	if err := h.svc.RevokeAPIKey(r.Context(), keyID); err != nil {
		api.HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
