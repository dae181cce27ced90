package stats

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/tmsylvan/corrigo/internal/model"
	"github.com/tmsylvan/corrigo/internal/store"
)

func newTestRecorder(t *testing.T) (*StoreRecorder, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewStoreRecorder(s, logger), s
}

func makeTask() model.Task {
	return model.Task{CourseID: "course1", TaskID: "task1", Evaluation: model.RetainLast}
}

func doneSub(id string) *model.Submission {
	return &model.Submission{ID: id, Status: model.StatusDone}
}

func TestRecordFreshAttempt(t *testing.T) {
	r, s := newTestRecorder(t)
	ctx := context.Background()

	if err := r.Record(ctx, "alice", makeTask(), doneSub("s1"), model.OutcomeFailed, 40, "step1", true); err != nil {
		t.Fatalf("Record: %v", err)
	}

	p, err := s.GetProgress(ctx, "alice", "course1", "task1")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if p.Tried != 1 {
		t.Errorf("Tried = %d, want 1", p.Tried)
	}
	if p.Succeeded {
		t.Error("Succeeded = true after failed outcome")
	}
	if p.Grade != 40 {
		t.Errorf("Grade = %v, want 40", p.Grade)
	}
	if p.State != "step1" {
		t.Errorf("State = %q, want step1", p.State)
	}
}

func TestRecordReRunDoesNotCountAttempt(t *testing.T) {
	r, s := newTestRecorder(t)
	ctx := context.Background()

	if err := r.Record(ctx, "alice", makeTask(), doneSub("s1"), model.OutcomeFailed, 40, "", true); err != nil {
		t.Fatalf("Record fresh: %v", err)
	}
	if err := r.Record(ctx, "alice", makeTask(), doneSub("s1"), model.OutcomeSuccess, 90, "", false); err != nil {
		t.Fatalf("Record re-run: %v", err)
	}

	p, _ := s.GetProgress(ctx, "alice", "course1", "task1")
	if p.Tried != 1 {
		t.Errorf("Tried = %d, want 1", p.Tried)
	}
	if !p.Succeeded {
		t.Error("Succeeded = false after success")
	}
	if p.Grade != 90 {
		t.Errorf("Grade = %v, want 90", p.Grade)
	}
}

func TestRecordGradeIsMonotone(t *testing.T) {
	r, s := newTestRecorder(t)
	ctx := context.Background()

	if err := r.Record(ctx, "alice", makeTask(), doneSub("s1"), model.OutcomeSuccess, 95, "", true); err != nil {
		t.Fatalf("Record high: %v", err)
	}
	if err := r.Record(ctx, "alice", makeTask(), doneSub("s2"), model.OutcomeFailed, 20, "", true); err != nil {
		t.Fatalf("Record low: %v", err)
	}

	p, _ := s.GetProgress(ctx, "alice", "course1", "task1")
	if p.Grade != 95 {
		t.Errorf("Grade = %v, want 95 retained", p.Grade)
	}
	if p.Tried != 2 {
		t.Errorf("Tried = %d, want 2", p.Tried)
	}
}

func TestRecordPinsFirstGradedUnderPinnedPolicy(t *testing.T) {
	r, s := newTestRecorder(t)
	ctx := context.Background()
	task := makeTask()
	task.Evaluation = model.RetainPinned

	if err := r.Record(ctx, "alice", task, doneSub("first"), model.OutcomeFailed, 30, "", true); err != nil {
		t.Fatalf("Record first: %v", err)
	}
	if err := r.Record(ctx, "alice", task, doneSub("second"), model.OutcomeSuccess, 100, "", true); err != nil {
		t.Fatalf("Record second: %v", err)
	}

	p, _ := s.GetProgress(ctx, "alice", "course1", "task1")
	if p.PinnedSubID != "first" {
		t.Errorf("PinnedSubID = %q, want first", p.PinnedSubID)
	}
}

func TestRecordDoesNotPinErrored(t *testing.T) {
	r, s := newTestRecorder(t)
	ctx := context.Background()
	task := makeTask()
	task.Evaluation = model.RetainPinned

	errored := &model.Submission{ID: "crashed", Status: model.StatusError}
	if err := r.Record(ctx, "alice", task, errored, model.OutcomeCrash, 0, "", true); err != nil {
		t.Fatalf("Record: %v", err)
	}

	p, _ := s.GetProgress(ctx, "alice", "course1", "task1")
	if p.PinnedSubID != "" {
		t.Errorf("PinnedSubID = %q, want empty", p.PinnedSubID)
	}
}
