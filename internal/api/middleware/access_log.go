package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type accessLogEntry struct {
	Timestamp  string `json:"ts"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	Bytes      int    `json:"bytes"`
	DurationMS int64  `json:"duration_ms"`
	RequestID  string `json:"request_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	ClientIP   string `json:"client_ip"`
	UserAgent  string `json:"user_agent,omitempty"`
}

// AccessLog writes one JSON line per request once the response is done.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		r, info := withRequestInfo(r)

		next.ServeHTTP(sw, r)

		line, err := json.Marshal(accessLogEntry{
			Timestamp:  started.UTC().Format(time.RFC3339Nano),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     sw.status(),
			Bytes:      sw.bytes,
			DurationMS: time.Since(started).Milliseconds(),
			RequestID:  GetRequestID(r.Context()),
			UserID:     info.userID,
			ClientIP:   anonymizedClient(r),
			UserAgent:  r.UserAgent(),
		})
		if err != nil {
			log.Printf("access log: %v", err)
			return
		}
		log.Println(string(line))
	})
}
