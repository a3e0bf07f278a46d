// Package health provides health check and readiness probe HTTP handlers.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/okrause/depshield/internal/breaker"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

const readinessCacheTTL = 1 * time.Second

// Handler provides /health and /ready endpoints. Readiness is derived from
// circuit breaker state: the service reports not-ready while any dependency
// breaker is open.
type Handler struct {
	registry *breaker.Registry

	// Cached readiness result so tight /ready polling does not walk the
	// registry every time. Protected by cacheMu.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a new health check Handler backed by the given registry.
func New(registry *breaker.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	// Serve from cache if fresh.
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body := h.cachedResult
		status := h.cachedStatus
		h.cacheMu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
		return
	}
	h.cacheMu.RUnlock()

	snaps := h.registry.Snapshots()

	deps := make(map[string]string, len(snaps))
	anyOpen := false
	for _, s := range snaps {
		deps[s.Name] = s.State
		if s.State == breaker.StateOpen.String() {
			anyOpen = true
		}
	}

	httpStatus := http.StatusOK
	statusStr := "ready"
	if anyOpen {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status":       statusStr,
		"dependencies": deps,
	})
	body = append(body, '\n')

	// Cache the result.
	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = httpStatus
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body)
}
