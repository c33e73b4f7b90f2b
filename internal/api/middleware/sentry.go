package middleware

import (
	"net/http"

	"github.com/getsentry/sentry-go"
)

var spanStatusByCode = map[int]sentry.SpanStatus{
	http.StatusBadRequest:          sentry.SpanStatusInvalidArgument,
	http.StatusUnauthorized:        sentry.SpanStatusUnauthenticated,
	http.StatusForbidden:           sentry.SpanStatusPermissionDenied,
	http.StatusNotFound:            sentry.SpanStatusNotFound,
	http.StatusConflict:            sentry.SpanStatusAlreadyExists,
	http.StatusTooManyRequests:     sentry.SpanStatusResourceExhausted,
	499:                            sentry.SpanStatusCanceled,
	http.StatusServiceUnavailable:  sentry.SpanStatusUnavailable,
	http.StatusGatewayTimeout:      sentry.SpanStatusDeadlineExceeded,
	http.StatusInternalServerError: sentry.SpanStatusInternalError,
}

func spanStatus(code int) sentry.SpanStatus {
	if s, ok := spanStatusByCode[code]; ok {
		return s
	}
	switch code / 100 {
	case 2, 3:
		return sentry.SpanStatusOK
	case 4:
		return sentry.SpanStatusInvalidArgument
	case 5:
		return sentry.SpanStatusInternalError
	}
	return sentry.SpanStatusUnknown
}

// SentryMiddleware opens an http.server transaction for each request. The
// query pipeline hangs its stage spans off it. Panics are reported and
// re-raised; 5xx responses are captured as events. Without a configured
// client the hub discards everything.
func SentryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := sentry.GetHubFromContext(r.Context())
		if hub == nil {
			hub = sentry.CurrentHub().Clone()
		}

		opts := []sentry.SpanOption{
			sentry.WithOpName("http.server"),
			sentry.WithTransactionSource(sentry.SourceURL),
		}
		if trace := r.Header.Get("sentry-trace"); trace != "" {
			opts = append(opts, sentry.ContinueFromHeaders(trace, r.Header.Get("baggage")))
		}
		tx := sentry.StartTransaction(r.Context(), r.Method+" "+r.URL.Path, opts...)
		defer tx.Finish()

		r, info := withRequestInfo(r.WithContext(sentry.SetHubOnContext(tx.Context(), hub)))
		scope := hub.Scope()
		scope.SetContext("request", sentry.Context{
			"method":    r.Method,
			"path":      r.URL.Path,
			"client_ip": anonymizedClient(r),
		})
		if id := GetRequestID(r.Context()); id != "" {
			scope.SetTag("request_id", id)
			tx.SetTag("request_id", id)
		}

		defer func() {
			if p := recover(); p != nil {
				tx.Status = sentry.SpanStatusInternalError
				hub.RecoverWithContext(r.Context(), p)
				panic(p)
			}
		}()

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		code := sw.status()
		tx.Status = spanStatus(code)
		tx.SetData("http.response.status_code", code)
		if info.userID != "" {
			scope.SetUser(sentry.User{ID: info.userID})
			tx.SetTag("user_id", info.userID)
		}
		if code >= http.StatusInternalServerError {
			hub.CaptureMessage(r.Method + " " + r.URL.Path + ": " + http.StatusText(code))
		}
	})
}
