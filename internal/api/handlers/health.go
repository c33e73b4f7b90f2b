package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/cloo-solutions/ragquery/internal/api"
	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/cloo-solutions/ragquery/internal/service"
)

type HealthService interface {
	Status(ctx context.Context) (*service.HealthReport, error)
}

type HealthHandler struct {
	svc HealthService
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{svc: svc}
}

type HealthMetricsResponse struct {
	Status         string         `json:"status"`
	WindowSeconds  int64          `json:"window_seconds"`
	RequestCount   int            `json:"request_count"`
	ErrorCount     int            `json:"error_count"`
	ErrorRate      float64        `json:"error_rate"`
	AvgLatencyMs   float64        `json:"avg_latency_ms"`
	AvgSimilarity  float64        `json:"avg_similarity"`
	FailuresByCode map[string]int `json:"failures_by_code"`
	CheckedAt      string         `json:"checked_at"`
}

// Live answers the liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Metrics serves the aggregate health view. A down service answers 503 so
// that plain HTTP probes can alert on it.
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Status(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusDown {
		status = http.StatusServiceUnavailable
	}

	failures := report.FailuresByCode
	if failures == nil {
		failures = map[string]int{}
	}

	api.JSON(w, status, HealthMetricsResponse{
		Status:         string(report.Status),
		WindowSeconds:  int64(report.Window / time.Second),
		RequestCount:   report.RequestCount,
		ErrorCount:     report.ErrorCount,
		ErrorRate:      report.ErrorRate,
		AvgLatencyMs:   report.AvgLatencyMs,
		AvgSimilarity:  report.AvgSimilarity,
		FailuresByCode: failures,
		CheckedAt:      report.CheckedAt.UTC().Format(time.RFC3339),
	})
}
