package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tmsylvan/corrigo/internal/archive"
	"github.com/tmsylvan/corrigo/internal/blob"
)

// exportRequest is the JSON body for POST /v1/export. Grouping entries are
// applied in order, outermost directory first.
type exportRequest struct {
	CourseID      string          `json:"course_id"`
	SubmissionIDs []string        `json:"submission_ids"`
	Grouping      []archive.Group `json:"grouping"`
}

// handleExport streams a tar.gz archive of the requested submissions.
// Restricted to course staff.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromRequest(r)
	if sess == nil {
		s.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req exportRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	staff, err := s.dir.HasStaffRights(r.Context(), req.CourseID, sess.Username)
	if err != nil {
		s.logger.Error("check staff rights", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !staff {
		s.writeError(w, http.StatusForbidden, "staff rights required")
		return
	}

	var bundles []archive.Bundle
	for _, id := range req.SubmissionIDs {
		sub, err := s.engine.GetSubmission(r.Context(), sess, id, false)
		if err != nil {
			s.writeEngineError(w, err, "export lookup")
			return
		}
		if sub.CourseID != req.CourseID {
			s.writeError(w, http.StatusNotFound, "submission not found")
			return
		}

		b := archive.Bundle{Submission: sub}
		if input, err := s.engine.InputFor(r.Context(), sub); err == nil {
			b.Input = input
		}
		if sub.ArchiveRef != "" {
			rc, err := s.engine.Blobs().Get(r.Context(), sub.ArchiveRef)
			if err != nil && !errors.Is(err, blob.ErrNotFound) {
				s.logger.Error("open result archive", "submission_id", id, "error", err)
			}
			if err == nil {
				defer rc.Close()
				b.Archive = rc
			}
		}
		bundles = append(bundles, b)
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="submissions.tgz"`)
	w.WriteHeader(http.StatusOK)

	if err := archive.Export(w, bundles, req.Grouping); err != nil {
		// Headers are already sent; the truncated stream is all we can report.
		s.logger.Error("write export archive", "error", err)
	}
}
