package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker backs /healthz (liveness) and /readyz (readiness).
// Readiness flips on once recovery has finished and the engine accepts
// commands; an optional probe adds engine progress to the readiness body.
type HealthChecker struct {
	ready      atomic.Bool
	readySince atomic.Int64
	startTime  time.Time

	mu    sync.RWMutex
	probe func() map[string]any
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{startTime: time.Now()}
}

func (h *HealthChecker) SetReady(ready bool) {
	if ready && !h.ready.Load() {
		h.readySince.Store(time.Now().Unix())
	}
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// SetProbe registers fn, whose fields are merged into the readiness body
// (sequence, state hash).
func (h *HealthChecker) SetProbe(fn func() map[string]any) {
	h.mu.Lock()
	h.probe = fn
	h.mu.Unlock()
}

func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeHealth(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	body := map[string]any{}
	h.mu.RLock()
	probe := h.probe
	h.mu.RUnlock()
	if probe != nil {
		for k, v := range probe() {
			body[k] = v
		}
	}
	body["status"] = "ready"
	body["since"] = h.readySince.Load()
	writeHealth(w, http.StatusOK, body)
}

func writeHealth(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
