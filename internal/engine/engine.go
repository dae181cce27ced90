package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tmsylvan/corrigo/internal/backend"
	"github.com/tmsylvan/corrigo/internal/blob"
	"github.com/tmsylvan/corrigo/internal/model"
	"github.com/tmsylvan/corrigo/internal/outcome"
	"github.com/tmsylvan/corrigo/internal/session"
	"github.com/tmsylvan/corrigo/internal/stats"
	"github.com/tmsylvan/corrigo/internal/store"
)

// ErrNotAuthenticated is returned when an operation requires a session.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrNotOwner is returned when the caller does not own the submission.
var ErrNotOwner = errors.New("not the submission owner")

// restartFeedback is recorded on submissions reclaimed by the recovery sweep.
const restartFeedback = "Internal error. The grading platform restarted while this submission was in flight."

// Manager drives the submission lifecycle. Admission, replay and retention
// run synchronously in the calling request context; completion callbacks
// arrive asynchronously from the backend client's execution context.
type Manager struct {
	store    store.Store
	blobs    blob.Store
	client   backend.Client
	dir      session.Directory
	stats    stats.Recorder
	outcomes outcome.Reporter
	logger   *slog.Logger
	notifier *Notifier
}

// NewManager wires the engine to its collaborators.
func NewManager(s store.Store, blobs blob.Store, client backend.Client, dir session.Directory, rec stats.Recorder, rep outcome.Reporter, logger *slog.Logger) *Manager {
	return &Manager{
		store:    s,
		blobs:    blobs,
		client:   client,
		dir:      dir,
		stats:    rec,
		outcomes: rep,
		logger:   logger,
		notifier: NewNotifier(),
	}
}

// Notifier exposes the completion notifier for the HTTP surface.
func (m *Manager) Notifier() *Notifier {
	return m.notifier
}

// Blobs exposes the blob store for the export surface.
func (m *Manager) Blobs() blob.Store {
	return m.blobs
}

// InputFor returns the decoded input payload of a submission already in
// hand. Callers are expected to have performed their own access checks.
func (m *Manager) InputFor(ctx context.Context, sub *model.Submission) (model.Input, error) {
	return m.readInput(ctx, sub.InputRef)
}

// Submit admits a new submission: resolves the owner set, augments and
// persists the input, inserts the waiting record, prunes the owner's history,
// and dispatches the job. Returns the new submission id and the ids evicted
// by retention in the same call.
func (m *Manager) Submit(ctx context.Context, sess *session.Session, task model.Task, input model.Input, debug bool) (string, []string, error) {
	if sess == nil {
		return "", nil, ErrNotAuthenticated
	}
	if input == nil {
		input = model.Input{}
	}

	owners, err := m.resolveOwners(ctx, sess, task)
	if err != nil {
		return "", nil, err
	}

	progress, err := m.store.GetProgress(ctx, sess.Username, task.CourseID, task.TaskID)
	if err != nil {
		return "", nil, fmt.Errorf("load progress: %w", err)
	}
	augmentInput(input, owners, sess.Locale, progress)

	inputRef, err := m.putInput(ctx, input)
	if err != nil {
		return "", nil, err
	}

	sub := &model.Submission{
		ID:          model.NewID(),
		CourseID:    task.CourseID,
		TaskID:      task.TaskID,
		Owners:      owners,
		SubmittedAt: time.Now().UTC(),
		InputRef:    inputRef,
		Status:      model.StatusWaiting,
	}
	if task.ReportsGrades && sess.Outbound != nil {
		if sess.Outbound.ServiceURL == "" || sess.Outbound.ResultID == "" {
			m.logger.Error("session carries incomplete outbound-grade context, ignoring",
				"username", sess.Username, "task", task.Ref())
		} else {
			sub.OutcomeServiceURL = sess.Outbound.ServiceURL
			sub.OutcomeResultID = sess.Outbound.ResultID
			sub.OutcomeConsumerKey = sess.Outbound.ConsumerKey
		}
	}

	if err := m.store.InsertPending(ctx, sub); err != nil {
		if derr := m.blobs.Delete(ctx, inputRef); derr != nil {
			m.logger.Error("delete input blob of rejected submission", "ref", inputRef, "error", derr)
		}
		return "", nil, err
	}
	submissionsAdmitted.Inc()

	// Prune before dispatch so admission is never starved by an unbounded
	// history. A prune failure must not undo the admission.
	evicted, err := m.Prune(ctx, sess.Username, task, 0)
	if err != nil {
		m.logger.Error("retention pruning failed", "task", task.Ref(), "error", err)
		evicted = nil
	}

	if err := m.dispatch(ctx, sub.ID, task, input, 0, true, debug, owners); err != nil {
		return "", nil, err
	}

	m.logger.Info("new submission",
		"submission_id", sub.ID,
		"username", sess.Username,
		"task", task.Ref(),
		"evicted", len(evicted),
	)
	return sub.ID, evicted, nil
}

// Replay re-dispatches a prior submission's stored input. In place, it reuses
// the submission id and input blob; as a copy, it creates a brand-new
// submission owned by the current session.
func (m *Manager) Replay(ctx context.Context, sess *session.Session, task model.Task, submissionID string, asCopy, debug bool) (string, error) {
	if sess == nil {
		return "", ErrNotAuthenticated
	}

	sub, err := m.store.Get(ctx, submissionID)
	if err != nil {
		return "", err
	}
	input, err := m.readInput(ctx, sub.InputRef)
	if err != nil {
		return "", err
	}

	if !asCopy {
		// The result archive will be regenerated by the new run.
		if sub.ArchiveRef != "" {
			if err := m.blobs.Delete(ctx, sub.ArchiveRef); err != nil && !errors.Is(err, blob.ErrNotFound) {
				m.logger.Error("delete replayed archive blob", "ref", sub.ArchiveRef, "error", err)
			}
		}
		m.notifier.Forget(sub.ID)
		if err := m.store.ResetForReplay(ctx, sub.ID, ""); err != nil {
			return "", fmt.Errorf("reset submission: %w", err)
		}
		if err := m.dispatch(ctx, sub.ID, task, input, 1, false, debug, sub.Owners); err != nil {
			return "", err
		}
		submissionsReplayed.WithLabelValues("in_place").Inc()
		m.logger.Info("replaying submission",
			"submission_id", sub.ID, "task", task.Ref(), "owners", strings.Join(sub.Owners, ","))
		return sub.ID, nil
	}

	// Copy replay: the current session becomes the sole owner, attempt count
	// and locale are recomputed for it, and stale feedback tags are dropped
	// with the rest of the result fields.
	progress, err := m.store.GetProgress(ctx, sess.Username, task.CourseID, task.TaskID)
	if err != nil {
		return "", fmt.Errorf("load progress: %w", err)
	}
	owners := model.OwnerSet{sess.Username}
	augmentInput(input, owners, sess.Locale, progress)

	inputRef, err := m.putInput(ctx, input)
	if err != nil {
		return "", err
	}
	copySub := &model.Submission{
		ID:          model.NewID(),
		CourseID:    sub.CourseID,
		TaskID:      sub.TaskID,
		Owners:      owners,
		SubmittedAt: time.Now().UTC(),
		InputRef:    inputRef,
		Status:      model.StatusWaiting,
	}
	if err := m.store.InsertPending(ctx, copySub); err != nil {
		if derr := m.blobs.Delete(ctx, inputRef); derr != nil {
			m.logger.Error("delete input blob of rejected copy", "ref", inputRef, "error", derr)
		}
		return "", err
	}
	if err := m.dispatch(ctx, copySub.ID, task, input, 1, true, debug, owners); err != nil {
		return "", err
	}
	submissionsReplayed.WithLabelValues("copy").Inc()
	m.logger.Info("copying submission",
		"submission_id", sub.ID, "copy_id", copySub.ID, "task", task.Ref(), "username", sess.Username)
	return copySub.ID, nil
}

// dispatch hands the job to the backend client with callbacks bound to the
// submission id, then records the job reference. The record may race a very
// fast completion; AttachJob only touches still-waiting rows, so either order
// leaves the document consistent.
func (m *Manager) dispatch(ctx context.Context, submissionID string, task model.Task, input model.Input, priority int, fresh, debug bool, owners model.OwnerSet) error {
	onComplete := func(res backend.JobResult) {
		m.onJobDone(submissionID, task, res, fresh)
	}
	onDebug := func(host string, port int, password string) {
		m.handleDebugReady(submissionID, host, port, password)
	}

	launcher := "corrigo/" + strings.Join(owners, ",")
	jobRef, err := m.client.Dispatch(priority, task, input, onComplete, onDebug, launcher, debug)
	if err != nil {
		// The submission is already persisted; record the failure so it does
		// not linger as waiting with no job behind it.
		if _, cerr := m.store.Complete(ctx, submissionID, store.ResultUpdate{
			Status:   model.StatusError,
			Result:   model.OutcomeCrash,
			Feedback: fmt.Sprintf("Could not dispatch job: %v", err),
		}); cerr != nil {
			m.logger.Error("record dispatch failure", "submission_id", submissionID, "error", cerr)
		}
		return fmt.Errorf("dispatch job: %w", err)
	}

	if err := m.store.AttachJob(ctx, submissionID, jobRef); err != nil {
		m.logger.Error("attach job reference", "submission_id", submissionID, "error", err)
	}
	return nil
}

// onJobDone is the completion callback: the single authoritative transition
// out of waiting. It archives the result bytes first, applies the atomic
// update, then fans out statistics and grade-report side effects.
func (m *Manager) onJobDone(submissionID string, task model.Task, res backend.JobResult, fresh bool) {
	ctx := context.Background()

	archiveRef := ""
	if len(res.Archive) > 0 {
		ref, err := m.blobs.Put(ctx, bytes.NewReader(res.Archive))
		if err != nil {
			m.logger.Error("store result archive", "submission_id", submissionID, "error", err)
		} else {
			archiveRef = ref
		}
	}

	status := model.StatusForOutcome(res.Outcome)
	sub, err := m.store.Complete(ctx, submissionID, store.ResultUpdate{
		Status:     status,
		Result:     res.Outcome,
		Grade:      res.Grade,
		Feedback:   res.Feedback,
		Problems:   res.Problems,
		Tags:       res.Tags,
		ArchiveRef: archiveRef,
		Custom:     res.Custom,
		State:      res.State,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
	})
	if err != nil {
		// The submission may have been evicted while the job ran. The
		// archive blob written above has no document referencing it.
		m.logger.Warn("completion for unknown submission", "submission_id", submissionID, "error", err)
		if archiveRef != "" {
			if derr := m.blobs.Delete(ctx, archiveRef); derr != nil && !errors.Is(derr, blob.ErrNotFound) {
				m.logger.Error("delete unreferenced result archive", "ref", archiveRef, "error", derr)
			}
		}
		return
	}
	submissionsCompleted.WithLabelValues(status, res.Outcome).Inc()
	m.notifier.Done(submissionID, Event{
		SubmissionID: submissionID,
		Status:       status,
		Result:       res.Outcome,
		Grade:        res.Grade,
	})

	for _, username := range sub.Owners {
		if err := m.stats.Record(ctx, username, task, sub, res.Outcome, res.Grade, res.State, fresh); err != nil {
			m.logger.Error("update user stats", "username", username, "submission_id", submissionID, "error", err)
		}
	}

	if sub.OutcomeServiceURL != "" && sub.OutcomeResultID != "" && sub.OutcomeConsumerKey != "" {
		for _, username := range sub.Owners {
			err := m.outcomes.Enqueue(ctx, outcome.Report{
				Username:    username,
				CourseID:    sub.CourseID,
				TaskID:      sub.TaskID,
				ConsumerKey: sub.OutcomeConsumerKey,
				ServiceURL:  sub.OutcomeServiceURL,
				ResultID:    sub.OutcomeResultID,
				Grade:       res.Grade,
			})
			if err != nil {
				m.logger.Error("enqueue grade report", "username", username, "submission_id", submissionID, "error", err)
			}
		}
	}

	m.logger.Info("submission completed",
		"submission_id", submissionID,
		"status", status,
		"result", res.Outcome,
		"grade", res.Grade,
	)
}

// handleDebugReady attaches debug-session connection hints to the waiting
// submission. A call without a host is a stale teardown notice and is
// discarded.
func (m *Manager) handleDebugReady(submissionID, host string, port int, password string) {
	if host == "" {
		return
	}
	if err := m.store.SetDebugHints(context.Background(), submissionID, host, port, password); err != nil {
		m.logger.Error("attach debug hints", "submission_id", submissionID, "error", err)
	}
}

// RecoverOrphaned reclaims submissions left waiting by a prior process
// incarnation. No backend holds a live callback for them, so each is
// force-failed. Run before accepting new admissions; safe to run again.
func (m *Manager) RecoverOrphaned(ctx context.Context) (int, error) {
	ids, err := m.store.RecoverOrphaned(ctx, restartFeedback)
	if err != nil {
		return 0, fmt.Errorf("recover orphaned submissions: %w", err)
	}
	for _, id := range ids {
		m.notifier.Done(id, Event{SubmissionID: id, Status: model.StatusError})
	}
	submissionsRecovered.Add(float64(len(ids)))
	if len(ids) > 0 {
		m.logger.Warn("reclaimed orphaned submissions", "count", len(ids))
	}
	return len(ids), nil
}

// Kill forwards a cancellation to the backend. It reports false, without
// error, when the submission has no job reference (already completed or never
// dispatched).
func (m *Manager) Kill(ctx context.Context, sess *session.Session, submissionID string) (bool, error) {
	sub, err := m.GetSubmission(ctx, sess, submissionID, true)
	if err != nil {
		return false, err
	}
	if sub.JobRef == "" {
		return false, nil
	}
	return m.client.Cancel(sub.JobRef), nil
}

// GetSubmission fetches a submission, optionally verifying the session owns
// it. Non-owners get ErrNotOwner, which the surface maps to the same "no
// result" as an absent id.
func (m *Manager) GetSubmission(ctx context.Context, sess *session.Session, submissionID string, ownerCheck bool) (*model.Submission, error) {
	if ownerCheck && sess == nil {
		return nil, ErrNotAuthenticated
	}
	sub, err := m.store.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if ownerCheck && !sub.Owners.Contains(sess.Username) {
		return nil, ErrNotOwner
	}
	return sub, nil
}

// GetInput returns the decoded input payload of an owned submission.
func (m *Manager) GetInput(ctx context.Context, sess *session.Session, submissionID string) (model.Input, error) {
	sub, err := m.GetSubmission(ctx, sess, submissionID, true)
	if err != nil {
		return nil, err
	}
	return m.readInput(ctx, sub.InputRef)
}

// Feedback is the result view of a completed submission. Rendering of the
// feedback markup happens in the presentation layer, not here.
type Feedback struct {
	Status   string                           `json:"status"`
	Result   string                           `json:"result,omitempty"`
	Grade    float64                          `json:"grade"`
	Text     string                           `json:"text,omitempty"`
	Problems map[string]model.ProblemFeedback `json:"problems,omitempty"`
	Tags     map[string]bool                  `json:"tags,omitempty"`
}

// GetFeedback returns the result fields of an owned submission.
func (m *Manager) GetFeedback(ctx context.Context, sess *session.Session, submissionID string) (*Feedback, error) {
	sub, err := m.GetSubmission(ctx, sess, submissionID, true)
	if err != nil {
		return nil, err
	}
	return &Feedback{
		Status:   sub.Status,
		Result:   sub.Result,
		Grade:    sub.Grade,
		Text:     sub.Feedback,
		Problems: sub.Problems,
		Tags:     sub.Tags,
	}, nil
}

// IsWaiting reports whether the submission is still in flight.
func (m *Manager) IsWaiting(ctx context.Context, sess *session.Session, submissionID string) (bool, error) {
	sub, err := m.GetSubmission(ctx, sess, submissionID, true)
	if err != nil {
		return false, err
	}
	return sub.Status == model.StatusWaiting, nil
}

// IsDone reports whether the submission reached a terminal state.
func (m *Manager) IsDone(ctx context.Context, sess *session.Session, submissionID string) (bool, error) {
	sub, err := m.GetSubmission(ctx, sess, submissionID, true)
	if err != nil {
		return false, err
	}
	return sub.IsTerminal(), nil
}

// ListForTask returns the session user's submissions for a task, newest
// first.
func (m *Manager) ListForTask(ctx context.Context, sess *session.Session, courseID, taskID string) ([]*model.Submission, error) {
	if sess == nil {
		return nil, ErrNotAuthenticated
	}
	return m.store.ListForTask(ctx, sess.Username, courseID, taskID)
}

// LatestPerTask returns the session user's most recent submission per task,
// newest first, optionally narrowed to one course and bounded to limit.
func (m *Manager) LatestPerTask(ctx context.Context, sess *session.Session, courseID string, limit int) ([]*model.Submission, error) {
	if sess == nil {
		return nil, ErrNotAuthenticated
	}
	return m.store.LatestPerTask(ctx, sess.Username, courseID, limit)
}

// QueueSnapshot returns the backend's current queue view.
func (m *Manager) QueueSnapshot() model.QueueSnapshot {
	return m.client.QueueSnapshot()
}

// QueuePosition locates a job in the backend queue by job reference.
func (m *Manager) QueuePosition(jobRef string) (model.QueuePosition, bool) {
	return m.client.QueuePosition(jobRef)
}

// AvailableEnvironments lists the backend's execution environments.
func (m *Manager) AvailableEnvironments() []string {
	return m.client.AvailableEnvironments()
}

// resolveOwners computes the owner set: the submitter's whole group for group
// tasks (unless the submitter has staff rights), the submitter alone
// otherwise.
func (m *Manager) resolveOwners(ctx context.Context, sess *session.Session, task model.Task) (model.OwnerSet, error) {
	if !task.GroupWork {
		return model.OwnerSet{sess.Username}, nil
	}
	staff, err := m.dir.HasStaffRights(ctx, task.CourseID, sess.Username)
	if err != nil {
		return nil, fmt.Errorf("check staff rights: %w", err)
	}
	if staff {
		return model.OwnerSet{sess.Username}, nil
	}
	members, err := m.dir.GroupMembers(ctx, task.CourseID, sess.Username)
	if err != nil {
		return nil, fmt.Errorf("resolve group: %w", err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("user %q is not in a group for course %q", sess.Username, task.CourseID)
	}
	return model.OwnerSet(members), nil
}

// augmentInput attaches the side-channel metadata the backend needs to
// reproduce randomized task variants across attempts.
func augmentInput(input model.Input, owners model.OwnerSet, locale string, progress *model.UserTaskProgress) {
	input.SetString(model.InputKeyUsername, strings.Join(owners, ","))
	input.SetString(model.InputKeyLang, locale)
	input.SetString(model.InputKeyAttempts, strconv.Itoa(progress.Tried+1))
	input.SetString(model.InputKeyState, progress.State)
	seedVals := progress.RandomSeeds
	if seedVals == nil {
		seedVals = []int64{}
	}
	if seeds, err := json.Marshal(seedVals); err == nil {
		input[model.InputKeyRandom] = seeds
	}
}

func (m *Manager) putInput(ctx context.Context, input model.Input) (string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode input: %w", err)
	}
	ref, err := m.blobs.Put(ctx, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("store input: %w", err)
	}
	return ref, nil
}

func (m *Manager) readInput(ctx context.Context, ref string) (model.Input, error) {
	rc, err := m.blobs.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load input: %w", err)
	}
	defer rc.Close()

	payload, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	var input model.Input
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return input, nil
}
