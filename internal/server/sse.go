package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/event"
)

const (
	// SSEHeartbeatInterval is the interval for SSE heartbeats.
	SSEHeartbeatInterval = 30 * time.Second
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter sets the SSE headers and flushes them.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

// writeEvent writes one SSE event and flushes it.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}

	// ResponseController sees through middleware wrappers.
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}
	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// events handles GET /event. An optional sessionID query parameter narrows
// the stream to one session.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionID")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	events := make(chan event.Event, 16)
	forward := func(e event.Event) {
		if sessionID != "" && eventSessionID(e) != sessionID {
			return
		}
		select {
		case events <- e:
		default:
			s.logger.Warn().Str("eventType", string(e.Type)).Msg("SSE event dropped: channel full")
		}
	}
	var unsub func()
	if s.bus != nil {
		unsub = s.bus.SubscribeAll(forward)
	} else {
		unsub = event.SubscribeAll(forward)
	}
	defer unsub()

	// Sent after subscribing so a client that saw it misses nothing.
	if err := sse.writeEvent("message", event.Event{Type: "server.connected", Data: map[string]any{}}); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent("message", e); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// eventSessionID returns the session an audit event belongs to, or "".
func eventSessionID(e event.Event) string {
	switch data := e.Data.(type) {
	case event.SessionData:
		return data.SessionID
	case event.SessionExpiredData:
		return data.SessionID
	case event.ExecutionData:
		return data.SessionID
	case event.FallbackData:
		return data.SessionID
	case event.ToolDecidedData:
		return data.SessionID
	case event.ToolLoopData:
		return data.SessionID
	}
	return ""
}
