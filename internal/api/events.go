package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleEvents streams the submission's terminal event over SSE, letting
// clients wait for completion instead of polling the status endpoint.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the submission exists and the caller owns it before holding a
	// connection open for it.
	if _, err := s.engine.GetSubmission(r.Context(), sessionFromRequest(r), id, true); err != nil {
		s.writeEngineError(w, err, "events lookup")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable the write timeout for the long-lived connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Safe even if the submission completed between the check above and this
	// call: subscribing to a finished topic delivers the event immediately.
	ch, unsub := s.engine.Notifier().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	select {
	case ev, ok := <-ch:
		if !ok {
			return
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("encode event", "error", err)
			return
		}
		fmt.Fprintf(w, "event: done\ndata: %s\n\n", payload)
		if canFlush {
			flusher.Flush()
		}
	case <-r.Context().Done():
	}
}
