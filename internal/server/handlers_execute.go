package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/permission"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// HeaderUserID carries the caller's user id when the body omits it.
const HeaderUserID = "X-User-ID"

// SSE event names of POST /execute.
const (
	EventUpdate = "update"
	EventResult = "result"
)

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Prompt           string              `json:"prompt"`
	WorkingDirectory string              `json:"workingDirectory"`
	UserID           string              `json:"userID,omitempty"`
	SessionID        string              `json:"sessionID,omitempty"`
	Policy           *types.ToolPolicy   `json:"policy,omitempty"`
	Timeout          types.Duration      `json:"timeout,omitempty"`
	Model            string              `json:"model,omitempty"`
	Health           types.BackendHealth `json:"health,omitempty"`
}

func (r *ExecuteRequest) validate() map[string]any {
	problems := map[string]any{}
	if strings.TrimSpace(r.Prompt) == "" {
		problems["prompt"] = "required"
	}
	if r.WorkingDirectory == "" {
		problems["workingDirectory"] = "required"
	}
	if r.UserID == "" {
		problems["userID"] = "required"
	}
	if r.Timeout < 0 {
		problems["timeout"] = "must not be negative"
	}
	if r.Policy != nil {
		if err := permission.ValidatePolicy(*r.Policy); err != nil {
			problems["policy"] = err.Error()
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

// execute handles POST /execute. Updates stream as SSE "update" events in
// emission order; the final "result" event carries the BackendResult.
func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get(HeaderUserID)
	}
	if problems := req.validate(); problems != nil {
		writeErrorWithDetails(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid execution request", problems)
		return
	}

	if !s.limiter.Allow(req.UserID) {
		s.metrics.Limited()
		s.logger.Info().Str("user", req.UserID).Msg("execution rate limited")
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many executions, try again later")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// The request context is the execution context: a client that goes away
	// cancels the execution.
	res := s.engine.Execute(r.Context(), types.ExecutionRequest{
		Prompt:           req.Prompt,
		WorkingDirectory: req.WorkingDirectory,
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		Policy:           req.Policy,
		Timeout:          req.Timeout.Std(),
		Model:            req.Model,
		Health:           req.Health,
	}, func(u types.StreamUpdate) {
		if err := sse.writeEvent(EventUpdate, types.Envelope(u)); err != nil {
			s.logger.Debug().Err(err).Msg("update not delivered")
		}
	})

	if err := sse.writeEvent(EventResult, res); err != nil {
		s.logger.Debug().Err(err).Str("session", res.SessionID).Msg("result not delivered")
	}
}
