package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// getSession handles GET /session/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	summary, err := s.engine.Summary(r.Context(), sessionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"running": s.engine.Running(sessionID),
	})
}

// endSession handles DELETE /session/{sessionID}.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.engine.EndSession(r.Context(), sessionID); err != nil {
		writeEngineError(w, err)
		return
	}

	writeSuccess(w)
}

// abortSession handles POST /session/{sessionID}/abort.
func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.engine.Abort(sessionID); err != nil {
		writeEngineError(w, err)
		return
	}

	writeSuccess(w)
}

// sweepSessions handles POST /session/sweep.
func (s *Server) sweepSessions(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Sweep(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Int("removed", n).Msg("sweep incomplete")
		writeErrorWithDetails(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), map[string]any{"removed": n})
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// health handles GET /health.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
