package ingest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/flowgraph"
	"github.com/atharva20-coder/swoopin-sub002/plan"
)

// APIService exposes automation management over HTTP: CRUD, activation and
// flow editing. Flow saves validate against the owner's plan; a flow with
// errors is rejected, one with warnings is saved and the warnings returned.
type APIService struct {
	store     automation.Store
	gate      *plan.Gate
	validator *flowgraph.Validator
	logger    *slog.Logger
}

// NewAPIService creates the management API.
func NewAPIService(store automation.Store, gate *plan.Gate, validator *flowgraph.Validator, logger *slog.Logger) *APIService {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIService{
		store:     store,
		gate:      gate,
		validator: validator,
		logger:    logger.With("component", "api"),
	}
}

// RegisterHTTPHandlers registers the automation endpoints on mux under
// prefix.
func (s *APIService) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	mux.HandleFunc("POST "+prefix+"automations", s.handleCreate)
	mux.HandleFunc("GET "+prefix+"automations", s.handleList)
	mux.HandleFunc("GET "+prefix+"automations/{id}", s.handleGet)
	mux.HandleFunc("DELETE "+prefix+"automations/{id}", s.handleDelete)
	mux.HandleFunc("PUT "+prefix+"automations/{id}/flow", s.handlePutFlow)
	mux.HandleFunc("POST "+prefix+"automations/{id}/validate", s.handleValidate)
	mux.HandleFunc("POST "+prefix+"automations/{id}/activate", s.handleSetActive(true))
	mux.HandleFunc("POST "+prefix+"automations/{id}/deactivate", s.handleSetActive(false))
}

func (s *APIService) handleCreate(w http.ResponseWriter, r *http.Request) {
	var auto automation.Automation
	if err := json.NewDecoder(r.Body).Decode(&auto); err != nil {
		s.writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if auto.UserID == "" || auto.PageID == "" {
		s.writeJSONError(w, "user_id and page_id are required", http.StatusBadRequest)
		return
	}
	if auto.ID == "" {
		auto.ID = uuid.NewString()
	}

	limits, err := s.gate.Resolve(r.Context(), auto.UserID)
	if err != nil {
		s.writeJSONError(w, "plan lookup failed", http.StatusServiceUnavailable)
		return
	}
	existing, err := s.store.ListByUser(r.Context(), auto.UserID)
	if err != nil {
		s.writeJSONError(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if len(existing) >= limits.MaxAutomations {
		s.writeJSONError(w, "automation limit reached for plan", http.StatusForbidden)
		return
	}

	// New automations start inactive; activation is explicit.
	auto.Active = false
	if err := s.store.Create(r.Context(), &auto); err != nil {
		s.logger.Error("automation create failed", "error", err)
		s.writeJSONError(w, "create failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	s.encode(w, &auto)
}

func (s *APIService) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeJSONError(w, "user_id query parameter is required", http.StatusBadRequest)
		return
	}
	autos, err := s.store.ListByUser(r.Context(), userID)
	if err != nil {
		s.writeJSONError(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, map[string]any{"automations": autos})
}

func (s *APIService) handleGet(w http.ResponseWriter, r *http.Request) {
	auto, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			http.NotFound(w, r)
			return
		}
		s.writeJSONError(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, auto)
}

func (s *APIService) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			http.NotFound(w, r)
			return
		}
		s.writeJSONError(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type flowUpdate struct {
	Nodes []automation.FlowNode `json:"nodes"`
	Edges []automation.FlowEdge `json:"edges"`
}

func (s *APIService) handlePutFlow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	auto, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			http.NotFound(w, r)
			return
		}
		s.writeJSONError(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	var update flowUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	limits, err := s.gate.Resolve(r.Context(), auto.UserID)
	if err != nil {
		s.writeJSONError(w, "plan lookup failed", http.StatusServiceUnavailable)
		return
	}

	result := s.validator.Validate(update.Nodes, update.Edges, limits)
	hash, err := flowgraph.GraphHash(update.Nodes, update.Edges)
	if err != nil {
		s.writeJSONError(w, "unencodable graph", http.StatusBadRequest)
		return
	}
	record := result.Record(hash)

	if !result.Valid() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		s.encode(w, result)
		return
	}

	if err := s.store.PutFlow(r.Context(), id, update.Nodes, update.Edges, record); err != nil {
		s.logger.Error("flow save failed", "automation_id", id, "error", err)
		s.writeJSONError(w, "save failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]any{
		"validation": record,
		"saved":      true,
	})
}

func (s *APIService) handleValidate(w http.ResponseWriter, r *http.Request) {
	auto, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			http.NotFound(w, r)
			return
		}
		s.writeJSONError(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	var update flowUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		// An empty body validates the stored flow.
		update.Nodes, update.Edges = auto.Nodes, auto.Edges
	}

	limits, err := s.gate.Resolve(r.Context(), auto.UserID)
	if err != nil {
		s.writeJSONError(w, "plan lookup failed", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, s.validator.Validate(update.Nodes, update.Edges, limits))
}

func (s *APIService) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if active {
			// Activation re-validates: a flow that passed under an old
			// plan must still pass under the current one.
			auto, err := s.store.Get(r.Context(), id)
			if err != nil {
				if errors.Is(err, errors.ErrKeyNotFound) {
					http.NotFound(w, r)
					return
				}
				s.writeJSONError(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
			limits, err := s.gate.Resolve(r.Context(), auto.UserID)
			if err != nil {
				s.writeJSONError(w, "plan lookup failed", http.StatusServiceUnavailable)
				return
			}
			if len(auto.Nodes) > 0 {
				if result := s.validator.Validate(auto.Nodes, auto.Edges, limits); !result.Valid() {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnprocessableEntity)
					s.encode(w, result)
					return
				}
			}
		}

		if err := s.store.SetActive(r.Context(), id, active); err != nil {
			if errors.Is(err, errors.ErrKeyNotFound) {
				http.NotFound(w, r)
				return
			}
			s.writeJSONError(w, "update failed", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{"id": id, "active": active})
	}
}

func (s *APIService) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	s.encode(w, v)
}

func (s *APIService) writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	s.encode(w, map[string]string{"error": msg})
}

func (s *APIService) encode(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
