package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleQueueSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.QueueSnapshot())
}

func (s *Server) handleQueuePosition(w http.ResponseWriter, r *http.Request) {
	jobRef := chi.URLParam(r, "jobref")

	pos, ok := s.engine.QueuePosition(jobRef)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not queued")
		return
	}

	s.writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleEnvironments(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.AvailableEnvironments())
}
