package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tmsylvan/corrigo/internal/model"
)

// ErrNotFound is returned when a submission is not found.
var ErrNotFound = errors.New("submission not found")

// ErrAlreadyPending is returned by InsertPending when a member of the owner
// set already has a waiting submission for the same task.
var ErrAlreadyPending = errors.New("a submission is already pending for this task")

// ResultUpdate carries the full result payload applied by Complete. Every
// field is set unconditionally; Complete never merges with prior state.
type ResultUpdate struct {
	Status     string
	Result     string
	Grade      float64
	Feedback   string
	Problems   map[string]model.ProblemFeedback
	Tags       map[string]bool
	ArchiveRef string
	Custom     json.RawMessage
	State      string
	Stdout     string
	Stderr     string
}

// SubmissionStats holds aggregate counts for the stats endpoint.
type SubmissionStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByResult map[string]int `json:"count_by_result"`
	AvgGrade      float64        `json:"avg_grade"`
}

// Store defines the persistence operations for submissions and user task
// progress. Implementations must make each operation atomic: the engine
// relies on these primitives instead of cross-request locking.
type Store interface {
	// InsertPending inserts a new waiting submission, failing with
	// ErrAlreadyPending when any owner already has a waiting submission for
	// the same (course, task). The check and insert are one atomic step.
	InsertPending(ctx context.Context, s *model.Submission) error

	Get(ctx context.Context, id string) (*model.Submission, error)

	// AttachJob records the backend job reference on a still-waiting
	// submission. Affecting zero rows is not an error: an unusually fast
	// completion may already have cleared the in-flight fields.
	AttachJob(ctx context.Context, id, jobRef string) error

	// Complete applies the single authoritative transition out of waiting:
	// sets all result fields and status, unsets job reference and debug
	// hints, and returns the post-update document. Idempotent.
	Complete(ctx context.Context, id string, upd ResultUpdate) (*model.Submission, error)

	// SetDebugHints attaches transient debug-session connection hints to a
	// waiting submission.
	SetDebugHints(ctx context.Context, id, host string, port int, password string) error

	// ResetForReplay returns a submission to waiting with a new job
	// reference, clearing all result fields. Used by in-place replay.
	ResetForReplay(ctx context.Context, id, jobRef string) error

	// ListForOwnerTask returns all submissions owned by username for the
	// task, ascending by submission time with id tiebreak (retention order).
	ListForOwnerTask(ctx context.Context, username, courseID, taskID string) ([]*model.Submission, error)

	// ListForTask is the user-facing variant: descending by submission time.
	ListForTask(ctx context.Context, username, courseID, taskID string) ([]*model.Submission, error)

	// ListAllForTask returns every submission for the task regardless of
	// owner, descending by submission time.
	ListAllForTask(ctx context.Context, courseID, taskID string) ([]*model.Submission, error)

	// DeleteMany removes the given submissions in one batch.
	DeleteMany(ctx context.Context, ids []string) error

	// LatestPerTask returns the most recent submission per distinct
	// (course, task) pair the user has submitted to, descending by that
	// submission's time, bounded to limit when positive. courseID narrows
	// the projection to one course when non-empty.
	LatestPerTask(ctx context.Context, username, courseID string, limit int) ([]*model.Submission, error)

	// RecoverOrphaned force-fails every waiting submission, returning the
	// affected ids. Run at startup before new admissions; safe to rerun.
	RecoverOrphaned(ctx context.Context, feedback string) ([]string, error)

	GetProgress(ctx context.Context, username, courseID, taskID string) (*model.UserTaskProgress, error)
	UpsertProgress(ctx context.Context, p *model.UserTaskProgress) error

	Stats(ctx context.Context) (*SubmissionStats, error)

	Close() error
}
