// Package stats owns the per-(user, task) progress records. The engine reads
// them through the store for attempt counting and retention pinning; every
// mutation goes through the Recorder here.
package stats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmsylvan/corrigo/internal/model"
	"github.com/tmsylvan/corrigo/internal/store"
)

// Recorder is notified once per owner when a submission reaches a terminal
// state. fresh distinguishes a new graded attempt from an in-place re-run.
type Recorder interface {
	Record(ctx context.Context, username string, task model.Task, sub *model.Submission, outcome string, grade float64, state string, fresh bool) error
}

// Compile-time interface satisfaction checks.
var (
	_ Recorder = (*StoreRecorder)(nil)
	_ Recorder = NopRecorder{}
)

// StoreRecorder persists progress updates to the submission store.
type StoreRecorder struct {
	store  store.Store
	logger *slog.Logger
}

// NewStoreRecorder creates a recorder backed by s.
func NewStoreRecorder(s store.Store, logger *slog.Logger) *StoreRecorder {
	return &StoreRecorder{store: s, logger: logger}
}

// Record updates the user's progress: fresh attempts bump the attempt
// counter, grades improve monotonically, execution state is carried forward,
// and pinned-policy tasks pin their first graded submission.
func (r *StoreRecorder) Record(ctx context.Context, username string, task model.Task, sub *model.Submission, outcome string, grade float64, state string, fresh bool) error {
	p, err := r.store.GetProgress(ctx, username, task.CourseID, task.TaskID)
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}

	if fresh {
		p.Tried++
	}
	if outcome == model.OutcomeSuccess {
		p.Succeeded = true
	}
	if grade > p.Grade {
		p.Grade = grade
	}
	if state != "" {
		p.State = state
	}
	if task.Evaluation == model.RetainPinned && p.PinnedSubID == "" && sub.Status == model.StatusDone {
		p.PinnedSubID = sub.ID
	}

	if err := r.store.UpsertProgress(ctx, p); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	r.logger.Debug("user stats updated",
		"username", username,
		"task", task.Ref(),
		"tried", p.Tried,
		"grade", p.Grade,
	)
	return nil
}

// NopRecorder discards every notification.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, string, model.Task, *model.Submission, string, float64, string, bool) error {
	return nil
}
