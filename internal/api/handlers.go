package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/intertalk/internal/journal"
	"github.com/mattjoyce/intertalk/internal/registry"
)

const maxInvocationLimit = 1000

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.inspector.Snapshot()

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Layers:        snap.Layers,
		Conditions:    len(snap.Conditions),
		InFlight:      snap.InFlight,
		PendingResets: snap.PendingResets,
		EventsDropped: s.events.Dropped(),
	})
}

// handleListConditions handles GET /conditions and GET /conditions/{depth}.
func (s *Server) handleListConditions(w http.ResponseWriter, r *http.Request) {
	conds := s.inspector.Snapshot().Conditions

	if raw := chi.URLParam(r, "depth"); raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil || depth < 0 {
			s.writeError(w, http.StatusBadRequest, "depth must be a non-negative integer")
			return
		}
		filtered := make([]registry.ConditionStats, 0, len(conds))
		for _, c := range conds {
			if c.Depth == depth {
				filtered = append(filtered, c)
			}
		}
		conds = filtered
	}

	if conds == nil {
		conds = []registry.ConditionStats{}
	}
	respondJSON(w, http.StatusOK, ConditionListResponse{Conditions: conds})
}

// handleListInvocations handles GET /invocations?limit=N.
func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxInvocationLimit)
	}

	entries, err := s.journal.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list invocations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list invocations")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, InvocationListResponse{Invocations: entries})
}

// handleGetInvocation handles GET /invocations/{id}.
func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	entry, err := s.journal.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, journal.ErrEntryNotFound) {
			s.writeError(w, http.StatusNotFound, "invocation not found")
			return
		}
		s.logger.Error("failed to retrieve invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve invocation")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(apiRoutes))
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
