package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler serves /healthz (liveness) and /readyz (readiness) from a
// monitor.
type Handler struct {
	monitor    *Monitor
	systemName string
	logger     *slog.Logger
}

// NewHandler creates the health endpoints handler.
func NewHandler(monitor *Monitor, systemName string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{monitor: monitor, systemName: systemName, logger: logger}
}

// RegisterHTTPHandlers registers the endpoints on mux.
func (h *Handler) RegisterHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleLiveness)
	mux.HandleFunc("GET /readyz", h.handleReadiness)
}

// handleLiveness only proves the process serves requests. Dependency
// state is readiness, not liveness; reporting it here turns a NATS blip
// into a restart loop.
func (h *Handler) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	overall := h.monitor.Overall(h.systemName)

	w.Header().Set("Content-Type", "application/json")
	if overall.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(overall); err != nil {
		h.logger.Error("health response encode failed", "error", err)
	}
}
