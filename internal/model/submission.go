package model

import (
	"encoding/json"
	"time"
)

// Submission status constants. A submission is "waiting" from the moment it is
// admitted until its job completes (or the recovery sweep reclaims it).
const (
	StatusWaiting = "waiting"
	StatusDone    = "done"
	StatusError   = "error"
)

// Backend outcome codes. "success" and "failed" are grading verdicts; every
// other code is an infrastructural failure attributable to the platform.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeCrash    = "crash"
	OutcomeTimeout  = "timeout"
	OutcomeOverflow = "overflow"
	OutcomeKilled   = "killed"
)

// StatusForOutcome maps a backend outcome code to the submission status it
// produces: "done" when a grading verdict was reached, "error" otherwise.
func StatusForOutcome(outcome string) string {
	if outcome == OutcomeSuccess || outcome == OutcomeFailed {
		return StatusDone
	}
	return StatusError
}

// ProblemFeedback holds the per-subproblem verdict and feedback text.
type ProblemFeedback struct {
	Result string `json:"result"`
	Text   string `json:"text"`
}

// Submission represents one graded attempt at a task. The struct mixes three
// field groups with disjoint lifetimes: immutable creation fields, in-flight
// fields present only while Status is "waiting", and result fields present
// only after completion.
type Submission struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	TaskID      string    `json:"task_id"`
	Owners      OwnerSet  `json:"owners"`
	SubmittedAt time.Time `json:"submitted_at"`
	InputRef    string    `json:"input_ref"`

	Status string `json:"status"`

	// In-flight fields, set while waiting and unset on completion.
	JobRef      string `json:"job_ref,omitempty"`
	SSHHost     string `json:"ssh_host,omitempty"`
	SSHPort     int    `json:"ssh_port,omitempty"`
	SSHPassword string `json:"ssh_password,omitempty"`

	// Result fields, absent while waiting.
	Result     string                     `json:"result,omitempty"`
	Grade      float64                    `json:"grade"`
	Feedback   string                     `json:"feedback,omitempty"`
	Problems   map[string]ProblemFeedback `json:"problems,omitempty"`
	Tags       map[string]bool            `json:"tags,omitempty"`
	ArchiveRef string                     `json:"archive_ref,omitempty"`
	Custom     json.RawMessage            `json:"custom,omitempty"`
	State      string                     `json:"state,omitempty"`
	Stdout     string                     `json:"stdout,omitempty"`
	Stderr     string                     `json:"stderr,omitempty"`

	// Outbound grade-reporting context, set at creation when the session
	// carries it and consumed by the outcome reporter on completion.
	OutcomeServiceURL  string `json:"outcome_service_url,omitempty"`
	OutcomeResultID    string `json:"outcome_result_id,omitempty"`
	OutcomeConsumerKey string `json:"outcome_consumer_key,omitempty"`
}

// IsTerminal reports whether the submission has left the waiting state.
func (s *Submission) IsTerminal() bool {
	return s.Status == StatusDone || s.Status == StatusError
}

// OwnerSet is the non-empty set of identities owning a submission. A solo
// submission carries one identity; a group-task submission carries the full
// member list of the submitter's group. Order is preserved as resolved.
type OwnerSet []string

// Contains reports whether username is a member of the set.
func (o OwnerSet) Contains(username string) bool {
	for _, u := range o {
		if u == username {
			return true
		}
	}
	return false
}

// Primary returns the first identity in the set, or "" when empty.
func (o OwnerSet) Primary() string {
	if len(o) == 0 {
		return ""
	}
	return o[0]
}

// UserTaskProgress is the per-(owner, task) progress record. The stats
// recorder owns its mutation; the engine only reads it for attempt counting,
// seed material, and the pinned-submission retention rule.
type UserTaskProgress struct {
	Username     string  `json:"username"`
	CourseID     string  `json:"course_id"`
	TaskID       string  `json:"task_id"`
	Tried        int     `json:"tried"`
	Succeeded    bool    `json:"succeeded"`
	Grade        float64 `json:"grade"`
	State        string  `json:"state"`
	RandomSeeds  []int64 `json:"random_seeds"`
	PinnedSubID  string  `json:"pinned_submission_id,omitempty"`
}
