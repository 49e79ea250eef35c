package service

import (
	"net/http"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
)

// HealthzServer answers health checks while a run is in flight
type HealthzServer struct {
	log   log.Logger
	ready atomic.Bool
}

// SetReady flips the readiness reported on /readyz
func (h *HealthzServer) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Handle answers liveness checks
func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}

// HandleReady answers readiness checks, 503 until the run has started
func (h *HealthzServer) HandleReady(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("OK")) //nolint:errcheck
}
