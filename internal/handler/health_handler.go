package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker is implemented by every backing dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	service string
	checks  map[string]HealthChecker
	timeout time.Duration
}

func NewHealthHandler(service string, checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{service: service, checks: checks, timeout: 2 * time.Second}
}

// Live reports the process is serving.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": h.service})
}

// Ready checks every dependency concurrently and reports 503 if any fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string, check HealthChecker) {
			defer wg.Done()
			status := "ok"
			if err := check.HealthCheck(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, h.checks[name])
	}
	wg.Wait()

	code, overall := http.StatusOK, "ready"
	for _, status := range results {
		if status != "ok" {
			code, overall = http.StatusServiceUnavailable, "not_ready"
			break
		}
	}
	writeJSON(w, code, map[string]interface{}{
		"status":  overall,
		"service": h.service,
		"checks":  results,
	})
}
