package api

import (
	"net/http"
	"time"

	"github.com/snarg/rt-trainer/internal/pool"
	"github.com/snarg/rt-trainer/internal/provider"
	"github.com/snarg/rt-trainer/internal/question"
)

// HealthResponse is the GET /api/v1/health body.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Providers     []ProviderStatus  `json:"providers"`
	Questions     int               `json:"questions"`
}

// ProviderStatus reports one adapter's connection state.
type ProviderStatus struct {
	Provider string `json:"provider"`
	State    string `json:"state"`
}

// HealthHandler serves readiness information. The service is degraded with
// zero live providers but still up: the question list and offline scoring
// keep working.
type HealthHandler struct {
	pool      *pool.Pool
	bank      *question.Bank
	version   string
	startTime time.Time
}

// NewHealthHandler creates the health endpoint handler.
func NewHealthHandler(p *pool.Pool, bank *question.Bank, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		pool:      p,
		bank:      bank,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	live := h.pool.Live()

	providers := make([]ProviderStatus, 0, len(live))
	for _, a := range live {
		providers = append(providers, ProviderStatus{
			Provider: string(a.ID()),
			State:    a.State().String(),
		})
	}

	checks := map[string]string{
		"providers": providersCheck(live),
		"questions": questionsCheck(h.bank.Len()),
	}

	status := "ok"
	for _, c := range checks {
		if c != "ok" {
			status = "degraded"
		}
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Providers:     providers,
		Questions:     h.bank.Len(),
	})
}

func providersCheck(live []provider.Adapter) string {
	if len(live) == 0 {
		return "no live providers"
	}
	return "ok"
}

func questionsCheck(n int) string {
	if n == 0 {
		return "question bank empty"
	}
	return "ok"
}
