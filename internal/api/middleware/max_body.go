package middleware

import (
	"net/http"

	"github.com/cloo-solutions/ragquery/internal/api"
)

// MaxBodyBytes caps request bodies at limit bytes. A declared Content-Length
// over the cap is refused up front; chunked bodies fail on read instead.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
