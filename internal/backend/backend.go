// Package backend defines the job-execution client consumed by the
// submission engine. The engine hands a job to a Client and receives the
// result later through a completion callback, from an execution context
// independent of the dispatching request.
package backend

import (
	"context"
	"encoding/json"

	"github.com/tmsylvan/corrigo/internal/model"
)

// JobResult is the payload delivered to the completion callback.
type JobResult struct {
	Outcome  string
	Feedback string
	Grade    float64
	Problems map[string]model.ProblemFeedback
	Tags     map[string]bool
	Custom   json.RawMessage
	State    string
	Archive  []byte
	Stdout   string
	Stderr   string
}

// CompletionFunc is invoked at most once per dispatched job, when the job
// finishes (successfully or not).
type CompletionFunc func(result JobResult)

// DebugFunc is invoked zero or more times before completion to announce an
// interactive debug session. A nil-host call is a teardown notice.
type DebugFunc func(host string, port int, password string)

// Client is the interface to the job-execution backend.
type Client interface {
	// Dispatch queues a job and returns its job reference immediately.
	// Lower priority values run first. onComplete is delivered exactly once
	// from the client's own execution context.
	Dispatch(priority int, task model.Task, input model.Input, onComplete CompletionFunc, onDebugReady DebugFunc, launcher string, debug bool) (string, error)

	// Cancel requests termination of the job. It reports false when the job
	// reference is unknown (already completed or never dispatched).
	Cancel(jobRef string) bool

	// QueueSnapshot returns a point-in-time view of running and waiting jobs.
	QueueSnapshot() model.QueueSnapshot

	// QueuePosition locates a job in the queue. The second return is false
	// when the job is not queued or running.
	QueuePosition(jobRef string) (model.QueuePosition, bool)

	// AvailableEnvironments lists the execution environments the backend can
	// currently serve.
	AvailableEnvironments() []string
}

// RunRequest describes one job handed to a Runner.
type RunRequest struct {
	JobRef string
	Task   model.Task
	Input  model.Input
	Debug  bool

	// DebugNotify, when non-nil, lets the runner announce an interactive
	// debug session before returning.
	DebugNotify DebugFunc
}

// Runner executes jobs for one family of environments. It is the seam
// between the in-process client and the actual grading machinery.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (JobResult, error)
	Environments() []string
}
