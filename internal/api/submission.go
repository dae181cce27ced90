package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tmsylvan/corrigo/internal/engine"
	"github.com/tmsylvan/corrigo/internal/model"
	"github.com/tmsylvan/corrigo/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 8 << 20 // 8 MB, uploaded file answers included
)

// submitRequest is the JSON body for POST .../submissions.
type submitRequest struct {
	Input model.Input `json:"input"`
	Debug bool        `json:"debug"`
}

// submitResponse reports the admitted submission and the ids evicted by
// retention in the same call.
type submitResponse struct {
	SubmissionID string   `json:"submission_id"`
	Evicted      []string `json:"evicted"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	task, ok := s.resolveTask(w, r)
	if !ok {
		return
	}

	var req submitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Input == nil {
		req.Input = model.Input{}
	}

	id, evicted, err := s.engine.Submit(r.Context(), sessionFromRequest(r), task, req.Input, req.Debug)
	if err != nil {
		s.writeEngineError(w, err, "submit")
		return
	}
	if evicted == nil {
		evicted = []string{}
	}

	s.writeJSON(w, http.StatusCreated, submitResponse{SubmissionID: id, Evicted: evicted})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	asCopy := r.URL.Query().Get("copy") == "true"
	debug := r.URL.Query().Get("debug") == "true"

	sess := sessionFromRequest(r)
	if sess == nil {
		s.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sub, err := s.engine.GetSubmission(r.Context(), sess, id, false)
	if err != nil {
		s.writeEngineError(w, err, "replay lookup")
		return
	}

	// Replay is restricted to the submission's owners and course staff.
	// Anyone else sees the same response as an absent id.
	if !sub.Owners.Contains(sess.Username) {
		staff, err := s.dir.HasStaffRights(r.Context(), sub.CourseID, sess.Username)
		if err != nil {
			s.logger.Error("check staff rights", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !staff {
			s.writeError(w, http.StatusNotFound, "submission not found")
			return
		}
	}
	task, err := s.tasks.Task(r.Context(), sub.CourseID, sub.TaskID)
	if err != nil {
		s.writeEngineError(w, err, "replay task")
		return
	}

	newID, err := s.engine.Replay(r.Context(), sess, task, id, asCopy, debug)
	if err != nil {
		s.writeEngineError(w, err, "replay")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"submission_id": newID})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := s.engine.GetSubmission(r.Context(), sessionFromRequest(r), id, true)
	if err != nil {
		s.writeEngineError(w, err, "get submission")
		return
	}

	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleGetInput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	input, err := s.engine.GetInput(r.Context(), sessionFromRequest(r), id)
	if err != nil {
		s.writeEngineError(w, err, "get input")
		return
	}

	s.writeJSON(w, http.StatusOK, input)
}

func (s *Server) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	fb, err := s.engine.GetFeedback(r.Context(), sessionFromRequest(r), id)
	if err != nil {
		s.writeEngineError(w, err, "get feedback")
		return
	}

	s.writeJSON(w, http.StatusOK, fb)
}

// statusResponse answers the is-waiting / is-done poll in one call.
type statusResponse struct {
	Status  string `json:"status"`
	Waiting bool   `json:"waiting"`
	Done    bool   `json:"done"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := s.engine.GetSubmission(r.Context(), sessionFromRequest(r), id, true)
	if err != nil {
		s.writeEngineError(w, err, "get status")
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{
		Status:  sub.Status,
		Waiting: sub.Status == model.StatusWaiting,
		Done:    sub.IsTerminal(),
	})
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	killed, err := s.engine.Kill(r.Context(), sessionFromRequest(r), id)
	if err != nil {
		s.writeEngineError(w, err, "kill")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]bool{"killed": killed})
}

func (s *Server) handleListForTask(w http.ResponseWriter, r *http.Request) {
	course := chi.URLParam(r, "course")
	task := chi.URLParam(r, "task")

	subs, err := s.engine.ListForTask(r.Context(), sessionFromRequest(r), course, task)
	if err != nil {
		s.writeEngineError(w, err, "list for task")
		return
	}
	if subs == nil {
		subs = []*model.Submission{}
	}

	s.writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	course := r.URL.Query().Get("course")
	limit := parseIntQuery(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	subs, err := s.engine.LatestPerTask(r.Context(), sessionFromRequest(r), course, limit)
	if err != nil {
		s.writeEngineError(w, err, "latest per task")
		return
	}
	if subs == nil {
		subs = []*model.Submission{}
	}

	s.writeJSON(w, http.StatusOK, subs)
}

// resolveTask loads the task named in the route, answering the error itself.
func (s *Server) resolveTask(w http.ResponseWriter, r *http.Request) (model.Task, bool) {
	course := chi.URLParam(r, "course")
	taskID := chi.URLParam(r, "task")

	task, err := s.tasks.Task(r.Context(), course, taskID)
	if errors.Is(err, ErrTaskNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return model.Task{}, false
	}
	if err != nil {
		s.logger.Error("resolve task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve task")
		return model.Task{}, false
	}
	return task, true
}

// writeEngineError maps engine and store errors onto HTTP statuses. Absent
// and forbidden submissions answer identically so non-owners cannot probe for
// existence.
func (s *Server) writeEngineError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, engine.ErrNotAuthenticated):
		s.writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, store.ErrAlreadyPending):
		s.writeError(w, http.StatusConflict, "a submission is already pending for this task")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, engine.ErrNotOwner):
		s.writeError(w, http.StatusNotFound, "submission not found")
	case errors.Is(err, ErrTaskNotFound):
		s.writeError(w, http.StatusNotFound, "task not found")
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
