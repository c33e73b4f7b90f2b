package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cloo-solutions/ragquery/internal/api"
)

type AuthValidator interface {
	ValidateAPIKey(ctx context.Context, token string) (string, error)
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// APIKeyAuth resolves the bearer token to its owner. Downstream handlers read
// the owner with GetUserID.
func APIKeyAuth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			switch {
			case r.Header.Get("Authorization") == "":
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			case !ok:
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			userID, err := validator.ValidateAPIKey(r.Context(), token)
			if err != nil {
				api.Error(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			recordUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserIDKey, userID)))
		})
	}
}
