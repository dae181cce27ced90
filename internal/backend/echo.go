package backend

import (
	"context"
	"encoding/json"

	"github.com/tmsylvan/corrigo/internal/model"
)

// Compile-time interface satisfaction check.
var _ Runner = (*EchoRunner)(nil)

// EchoRunner is a development runner: it accepts every job, reports a
// successful outcome and echoes the input back as stdout. It stands in for a
// real grading agent in local setups and smoke tests.
type EchoRunner struct {
	// Envs are the environment identifiers this runner claims. Defaults to
	// ["default"] when empty.
	Envs []string
}

// Run implements Runner.
func (e *EchoRunner) Run(ctx context.Context, req RunRequest) (JobResult, error) {
	if err := ctx.Err(); err != nil {
		return JobResult{}, err
	}
	echoed, err := json.Marshal(req.Input)
	if err != nil {
		return JobResult{}, err
	}
	return JobResult{
		Outcome:  model.OutcomeSuccess,
		Grade:    100,
		Feedback: "Input received.",
		Stdout:   string(echoed),
	}, nil
}

// Environments implements Runner.
func (e *EchoRunner) Environments() []string {
	if len(e.Envs) == 0 {
		return []string{"default"}
	}
	return e.Envs
}
