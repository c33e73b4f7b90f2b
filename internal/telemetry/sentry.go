// Package telemetry reports errors and traces of the query pipeline to
// Sentry. Everything here is a no-op until Init is called with a DSN.
package telemetry

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const (
	serverName   = "ragqd"
	flushTimeout = 5 * time.Second
)

type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init configures the global Sentry client and returns a function that
// flushes buffered events. A missing DSN or a failing client leaves
// telemetry disabled rather than failing startup.
func Init(cfg Config) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate <= 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       serverName,
		TracesSampler:    sampler(cfg.TracesSampleRate),
	})
	if err != nil {
		log.Printf("[telemetry] sentry init failed (continuing without tracing): %v", err)
		return func() {}, nil
	}

	log.Printf("[telemetry] sentry ready (environment: %s, sample rate: %.2f)", cfg.Environment, cfg.TracesSampleRate)
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampler drops health probes and keeps child spans with their parent.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		if isProbe(ctx.Span.Name) || isProbe(ctx.Span.Op) {
			return 0
		}
		if ctx.Span.ParentSpanID != (sentry.SpanID{}) {
			if ctx.Span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

func isProbe(name string) bool {
	return strings.HasSuffix(name, "GET /health") || strings.HasSuffix(name, "GET /health/metrics")
}

// SpanAttributes are the tags searched on in Sentry. Empty fields are
// not set.
type SpanAttributes struct {
	UserID     string
	DocumentID string
	RequestID  string
	Operation  string
}

// Span is a nil-safe handle on a Sentry span.
type Span struct {
	inner *sentry.Span
}

func (s *Span) End() {
	if s != nil && s.inner != nil {
		s.inner.Finish()
	}
}

// SetError marks the span failed and reports err on the span's hub.
func (s *Span) SetError(err error) {
	if s == nil || s.inner == nil || err == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	CaptureError(s.inner.Context(), err)
}

func (s *Span) SetData(key string, value any) {
	if s != nil && s.inner != nil {
		s.inner.SetData(key, value)
	}
}

// StartSpan opens a child of the span in ctx, or a new transaction when
// ctx carries none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}

	tag(span, "user_id", attrs.UserID)
	tag(span, "document_id", attrs.DocumentID)
	tag(span, "request_id", attrs.RequestID)
	if attrs.Operation != "" {
		span.SetData("operation", attrs.Operation)
	}
	return span.Context(), &Span{inner: span}
}

// StartStage times one pipeline stage as a child of the span in ctx. It
// returns nil, which is safe to End, when there is no enclosing span.
func StartStage(ctx context.Context, stage string) *Span {
	parent := sentry.SpanFromContext(ctx)
	if parent == nil {
		return nil
	}
	child := parent.StartChild("query." + stage)
	child.Description = stage
	return &Span{inner: child}
}

func tag(span *sentry.Span, key, value string) {
	if value != "" {
		span.SetTag(key, value)
	}
}

// CaptureError reports err on the hub bound to ctx, falling back to the
// global hub.
func CaptureError(ctx context.Context, err error) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}
