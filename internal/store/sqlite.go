package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmsylvan/corrigo/internal/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
    id                   TEXT PRIMARY KEY,
    course_id            TEXT NOT NULL,
    task_id              TEXT NOT NULL,
    status               TEXT NOT NULL,
    submitted_at         DATETIME NOT NULL,
    input_ref            TEXT NOT NULL,
    job_ref              TEXT,
    ssh_host             TEXT,
    ssh_port             INTEGER,
    ssh_password         TEXT,
    result               TEXT,
    grade                REAL NOT NULL DEFAULT 0,
    feedback             TEXT,
    problems             TEXT,
    tags                 TEXT,
    archive_ref          TEXT,
    custom               TEXT,
    state                TEXT,
    stdout               TEXT,
    stderr               TEXT,
    outcome_service_url  TEXT,
    outcome_result_id    TEXT,
    outcome_consumer_key TEXT
);
CREATE INDEX IF NOT EXISTS idx_submissions_task
    ON submissions (course_id, task_id, status);
CREATE TABLE IF NOT EXISTS submission_owners (
    submission_id TEXT NOT NULL,
    username      TEXT NOT NULL,
    PRIMARY KEY (submission_id, username)
);
CREATE INDEX IF NOT EXISTS idx_owners_username
    ON submission_owners (username);
CREATE TABLE IF NOT EXISTS user_tasks (
    username             TEXT NOT NULL,
    course_id            TEXT NOT NULL,
    task_id              TEXT NOT NULL,
    tried                INTEGER NOT NULL DEFAULT 0,
    succeeded            INTEGER NOT NULL DEFAULT 0,
    grade                REAL NOT NULL DEFAULT 0,
    state                TEXT NOT NULL DEFAULT '',
    random_seeds         TEXT NOT NULL DEFAULT '[]',
    pinned_submission_id TEXT,
    PRIMARY KEY (username, course_id, task_id)
)`

const submissionColumns = `id, course_id, task_id, status, submitted_at, input_ref,
	job_ref, ssh_host, ssh_port, ssh_password,
	result, grade, feedback, problems, tags, archive_ref, custom, state, stdout, stderr,
	outcome_service_url, outcome_result_id, outcome_consumer_key`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite. The connection pool is capped at
// one connection, so every transaction observes SQLite's single-writer
// serialization; that is what makes InsertPending's check-then-insert atomic.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertPending inserts a waiting submission after verifying no owner already
// has one pending for the same task. Both steps run in one transaction.
func (s *SQLiteStore) InsertPending(ctx context.Context, sub *model.Submission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sub.Owners)), ",")
	args := []any{sub.CourseID, sub.TaskID}
	for _, u := range sub.Owners {
		args = append(args, u)
	}

	var pending int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions s
		 JOIN submission_owners o ON o.submission_id = s.id
		 WHERE s.course_id = ? AND s.task_id = ? AND s.status = 'waiting'
		   AND o.username IN (`+placeholders+`)`, args...,
	).Scan(&pending)
	if err != nil {
		return fmt.Errorf("check pending: %w", err)
	}
	if pending > 0 {
		return ErrAlreadyPending
	}

	if err := insertSubmission(ctx, tx, sub); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error {
	problems, tags, err := encodeResultMaps(sub.Problems, sub.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (`+submissionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.CourseID, sub.TaskID, sub.Status, sub.SubmittedAt, sub.InputRef,
		nullStr(sub.JobRef), nullStr(sub.SSHHost), nullInt(sub.SSHPort), nullStr(sub.SSHPassword),
		nullStr(sub.Result), sub.Grade, nullStr(sub.Feedback), problems, tags,
		nullStr(sub.ArchiveRef), nullRaw(sub.Custom), nullStr(sub.State),
		nullStr(sub.Stdout), nullStr(sub.Stderr),
		nullStr(sub.OutcomeServiceURL), nullStr(sub.OutcomeResultID), nullStr(sub.OutcomeConsumerKey),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	for _, u := range sub.Owners {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO submission_owners (submission_id, username) VALUES (?, ?)",
			sub.ID, u,
		); err != nil {
			return fmt.Errorf("insert owner: %w", err)
		}
	}
	return nil
}

// Get retrieves a submission by id, including its owner set.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if err := s.loadOwners(ctx, []*model.Submission{sub}); err != nil {
		return nil, err
	}
	return sub, nil
}

// AttachJob records the job reference while the submission is still waiting.
func (s *SQLiteStore) AttachJob(ctx context.Context, id, jobRef string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE submissions SET job_ref = ? WHERE id = ? AND status = 'waiting'",
		jobRef, id,
	)
	if err != nil {
		return fmt.Errorf("attach job: %w", err)
	}
	return nil
}

// Complete applies the terminal transition and returns the updated document.
func (s *SQLiteStore) Complete(ctx context.Context, id string, upd ResultUpdate) (*model.Submission, error) {
	problems, tags, err := encodeResultMaps(upd.Problems, upd.Tags)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE submissions SET
			status = ?, result = ?, grade = ?, feedback = ?, problems = ?, tags = ?,
			archive_ref = ?, custom = ?, state = ?, stdout = ?, stderr = ?,
			job_ref = NULL, ssh_host = NULL, ssh_port = NULL, ssh_password = NULL
		 WHERE id = ?`,
		upd.Status, nullStr(upd.Result), upd.Grade, nullStr(upd.Feedback), problems, tags,
		nullStr(upd.ArchiveRef), nullRaw(upd.Custom), nullStr(upd.State),
		nullStr(upd.Stdout), nullStr(upd.Stderr), id,
	)
	if err != nil {
		return nil, fmt.Errorf("complete submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err != nil {
		return nil, fmt.Errorf("reload submission: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if err := s.loadOwners(ctx, []*model.Submission{sub}); err != nil {
		return nil, err
	}
	return sub, nil
}

// SetDebugHints attaches debug-session connection hints to a waiting
// submission. A completed submission is left untouched.
func (s *SQLiteStore) SetDebugHints(ctx context.Context, id, host string, port int, password string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET ssh_host = ?, ssh_port = ?, ssh_password = ?
		 WHERE id = ? AND status = 'waiting'`,
		host, port, password, id,
	)
	if err != nil {
		return fmt.Errorf("set debug hints: %w", err)
	}
	return nil
}

// ResetForReplay returns the submission to waiting with a fresh job reference
// and all result fields cleared.
func (s *SQLiteStore) ResetForReplay(ctx context.Context, id, jobRef string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET
			status = 'waiting', job_ref = ?,
			result = NULL, grade = 0, feedback = NULL, problems = NULL, tags = NULL,
			archive_ref = NULL, custom = NULL, state = NULL, stdout = NULL, stderr = NULL
		 WHERE id = ?`,
		jobRef, id,
	)
	if err != nil {
		return fmt.Errorf("reset for replay: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForOwnerTask returns the owner's submissions in retention order:
// ascending by submission time, id as tiebreak.
func (s *SQLiteStore) ListForOwnerTask(ctx context.Context, username, courseID, taskID string) ([]*model.Submission, error) {
	return s.listOwnerTask(ctx, username, courseID, taskID, "ASC")
}

// ListForTask returns the owner's submissions newest first.
func (s *SQLiteStore) ListForTask(ctx context.Context, username, courseID, taskID string) ([]*model.Submission, error) {
	return s.listOwnerTask(ctx, username, courseID, taskID, "DESC")
}

func (s *SQLiteStore) ListAllForTask(ctx context.Context, courseID, taskID string) ([]*model.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions s
		 WHERE s.course_id = ? AND s.task_id = ?
		 ORDER BY s.submitted_at DESC, s.id DESC`,
		courseID, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	subs, err := scanSubmissions(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadOwners(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *SQLiteStore) listOwnerTask(ctx context.Context, username, courseID, taskID, dir string) ([]*model.Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions s
		 JOIN submission_owners o ON o.submission_id = s.id
		 WHERE o.username = ? AND s.course_id = ? AND s.task_id = ?
		 ORDER BY s.submitted_at `+dir+`, s.id `+dir,
		username, courseID, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	subs, err := scanSubmissions(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadOwners(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// DeleteMany removes the given submissions and their owner rows in one batch.
func (s *SQLiteStore) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM submission_owners WHERE submission_id IN ("+placeholders+")", args...,
	); err != nil {
		return fmt.Errorf("delete owners: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM submissions WHERE id IN ("+placeholders+")", args...,
	); err != nil {
		return fmt.Errorf("delete submissions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LatestPerTask returns the newest submission per (course, task) pair the
// user has submitted to, newest pair first. The id tiebreak keeps the
// projection deterministic when two submissions share a timestamp.
func (s *SQLiteStore) LatestPerTask(ctx context.Context, username, courseID string, limit int) ([]*model.Submission, error) {
	q := `SELECT ` + submissionColumns + ` FROM submissions s
		 JOIN submission_owners o ON o.submission_id = s.id
		 WHERE o.username = ?
		   AND (? = '' OR s.course_id = ?)
		   AND NOT EXISTS (
			SELECT 1 FROM submissions s2
			JOIN submission_owners o2 ON o2.submission_id = s2.id
			WHERE o2.username = ? AND s2.course_id = s.course_id AND s2.task_id = s.task_id
			  AND (s2.submitted_at > s.submitted_at
			       OR (s2.submitted_at = s.submitted_at AND s2.id > s.id))
		   )
		 ORDER BY s.submitted_at DESC, s.id DESC`
	args := []any{username, courseID, courseID, username}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("latest per task: %w", err)
	}
	defer rows.Close()

	subs, err := scanSubmissions(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadOwners(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// RecoverOrphaned force-fails every waiting submission left over from a
// prior process incarnation.
func (s *SQLiteStore) RecoverOrphaned(ctx context.Context, feedback string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT id FROM submissions WHERE status = 'waiting'")
	if err != nil {
		return nil, fmt.Errorf("find orphans: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphans: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE submissions SET
			status = 'error', grade = 0, feedback = ?,
			job_ref = NULL, ssh_host = NULL, ssh_port = NULL, ssh_password = NULL
		 WHERE status = 'waiting'`, feedback,
	); err != nil {
		return nil, fmt.Errorf("recover orphans: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// GetProgress returns the user's progress record for the task, or a zero
// record when none exists yet.
func (s *SQLiteStore) GetProgress(ctx context.Context, username, courseID, taskID string) (*model.UserTaskProgress, error) {
	p := &model.UserTaskProgress{Username: username, CourseID: courseID, TaskID: taskID}
	var seeds string
	var pinned sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT tried, succeeded, grade, state, random_seeds, pinned_submission_id
		 FROM user_tasks WHERE username = ? AND course_id = ? AND task_id = ?`,
		username, courseID, taskID,
	).Scan(&p.Tried, &p.Succeeded, &p.Grade, &p.State, &seeds, &pinned)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if err := json.Unmarshal([]byte(seeds), &p.RandomSeeds); err != nil {
		return nil, fmt.Errorf("decode random seeds: %w", err)
	}
	p.PinnedSubID = pinned.String
	return p, nil
}

// UpsertProgress writes the full progress record.
func (s *SQLiteStore) UpsertProgress(ctx context.Context, p *model.UserTaskProgress) error {
	seeds, err := json.Marshal(p.RandomSeeds)
	if err != nil {
		return fmt.Errorf("encode random seeds: %w", err)
	}
	if p.RandomSeeds == nil {
		seeds = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_tasks (username, course_id, task_id, tried, succeeded, grade, state, random_seeds, pinned_submission_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (username, course_id, task_id) DO UPDATE SET
			tried = excluded.tried, succeeded = excluded.succeeded, grade = excluded.grade,
			state = excluded.state, random_seeds = excluded.random_seeds,
			pinned_submission_id = excluded.pinned_submission_id`,
		p.Username, p.CourseID, p.TaskID, p.Tried, p.Succeeded, p.Grade, p.State,
		string(seeds), nullStr(p.PinnedSubID),
	)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

// Stats computes aggregate submission statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*SubmissionStats, error) {
	st := &SubmissionStats{
		CountByStatus: make(map[string]int),
		CountByResult: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM submissions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		st.CountByStatus[status] = n
		st.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT result, COUNT(*) FROM submissions WHERE result IS NOT NULL GROUP BY result")
	if err != nil {
		return nil, fmt.Errorf("count by result: %w", err)
	}
	for rows.Next() {
		var result string
		var n int
		if err := rows.Scan(&result, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan result count: %w", err)
		}
		st.CountByResult[result] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(grade) FROM submissions WHERE status = 'done'").Scan(&avg); err != nil {
		return nil, fmt.Errorf("average grade: %w", err)
	}
	st.AvgGrade = avg.Float64

	return st, nil
}

// loadOwners fills the Owners field for each submission, preserving the
// order the owners were recorded in.
func (s *SQLiteStore) loadOwners(ctx context.Context, subs []*model.Submission) error {
	if len(subs) == 0 {
		return nil
	}
	byID := make(map[string]*model.Submission, len(subs))
	placeholders := make([]string, 0, len(subs))
	args := make([]any, 0, len(subs))
	for _, sub := range subs {
		byID[sub.ID] = sub
		sub.Owners = nil
		placeholders = append(placeholders, "?")
		args = append(args, sub.ID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT submission_id, username FROM submission_owners
		 WHERE submission_id IN (`+strings.Join(placeholders, ",")+`) ORDER BY rowid`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("load owners: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, username string
		if err := rows.Scan(&id, &username); err != nil {
			return fmt.Errorf("scan owner: %w", err)
		}
		if sub := byID[id]; sub != nil {
			sub.Owners = append(sub.Owners, username)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate owners: %w", err)
	}
	return nil
}
