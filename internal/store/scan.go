package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tmsylvan/corrigo/internal/model"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	sub := &model.Submission{}
	var (
		jobRef, sshHost, sshPassword        sql.NullString
		sshPort                             sql.NullInt64
		result, feedback, problems, tags    sql.NullString
		archiveRef, custom, state           sql.NullString
		stdout, stderr                      sql.NullString
		outURL, outResultID, outConsumerKey sql.NullString
	)

	err := row.Scan(
		&sub.ID, &sub.CourseID, &sub.TaskID, &sub.Status, &sub.SubmittedAt, &sub.InputRef,
		&jobRef, &sshHost, &sshPort, &sshPassword,
		&result, &sub.Grade, &feedback, &problems, &tags, &archiveRef, &custom, &state,
		&stdout, &stderr,
		&outURL, &outResultID, &outConsumerKey,
	)
	if err != nil {
		return nil, err
	}

	sub.JobRef = jobRef.String
	sub.SSHHost = sshHost.String
	sub.SSHPort = int(sshPort.Int64)
	sub.SSHPassword = sshPassword.String
	sub.Result = result.String
	sub.Feedback = feedback.String
	sub.ArchiveRef = archiveRef.String
	sub.State = state.String
	sub.Stdout = stdout.String
	sub.Stderr = stderr.String
	sub.OutcomeServiceURL = outURL.String
	sub.OutcomeResultID = outResultID.String
	sub.OutcomeConsumerKey = outConsumerKey.String

	if problems.Valid {
		if err := json.Unmarshal([]byte(problems.String), &sub.Problems); err != nil {
			return nil, fmt.Errorf("decode problems: %w", err)
		}
	}
	if tags.Valid {
		if err := json.Unmarshal([]byte(tags.String), &sub.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if custom.Valid {
		sub.Custom = json.RawMessage(custom.String)
	}
	return sub, nil
}

func scanSubmissions(rows *sql.Rows) ([]*model.Submission, error) {
	var subs []*model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return subs, nil
}

func encodeResultMaps(problems map[string]model.ProblemFeedback, tags map[string]bool) (any, any, error) {
	var problemsVal, tagsVal any
	if problems != nil {
		b, err := json.Marshal(problems)
		if err != nil {
			return nil, nil, fmt.Errorf("encode problems: %w", err)
		}
		problemsVal = string(b)
	}
	if tags != nil {
		b, err := json.Marshal(tags)
		if err != nil {
			return nil, nil, fmt.Errorf("encode tags: %w", err)
		}
		tagsVal = string(b)
	}
	return problemsVal, tagsVal, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
