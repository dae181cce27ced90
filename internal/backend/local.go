package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tmsylvan/corrigo/internal/model"
)

// DefaultJobTimeout bounds a single job's execution.
const DefaultJobTimeout = 5 * time.Minute

// Compile-time interface satisfaction check.
var _ Client = (*LocalClient)(nil)

const localAgentName = "local"

type localJob struct {
	ref        string
	task       model.Task
	input      model.Input
	launcher   string
	debug      bool
	priority   int
	enqueued   time.Time
	startedAt  time.Time
	cancel     context.CancelFunc
	onComplete CompletionFunc
	onDebug    DebugFunc
	delivered  bool
}

// LocalClient is an in-process Client. Jobs run on a bounded worker pool;
// each completion callback is delivered exactly once, from the worker
// goroutine that ran the job.
type LocalClient struct {
	mu      sync.Mutex
	cond    *sync.Cond
	runners map[string]Runner
	waiting []*localJob
	running map[string]*localJob
	closed  bool

	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewLocalClient creates a client running at most concurrency jobs in
// parallel, each bounded by timeout.
func NewLocalClient(concurrency int, timeout time.Duration, logger *slog.Logger) *LocalClient {
	if concurrency <= 0 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	c := &LocalClient{
		runners: make(map[string]Runner),
		running: make(map[string]*localJob),
		timeout: timeout,
		logger:  logger,
	}
	c.cond = sync.NewCond(&c.mu)
	for i := 0; i < concurrency; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

// Register makes runner serve every environment it reports.
func (c *LocalClient) Register(runner Runner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, env := range runner.Environments() {
		c.runners[env] = runner
	}
}

// Dispatch queues a job and returns its reference immediately.
func (c *LocalClient) Dispatch(priority int, task model.Task, input model.Input, onComplete CompletionFunc, onDebugReady DebugFunc, launcher string, debug bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", errors.New("backend client is closed")
	}

	j := &localJob{
		ref:        uuid.NewString(),
		task:       task,
		input:      input,
		launcher:   launcher,
		debug:      debug,
		priority:   priority,
		enqueued:   time.Now().UTC(),
		onComplete: onComplete,
		onDebug:    onDebugReady,
	}
	c.waiting = append(c.waiting, j)
	sort.SliceStable(c.waiting, func(a, b int) bool {
		return c.waiting[a].priority < c.waiting[b].priority
	})
	c.cond.Signal()
	return j.ref, nil
}

// Cancel terminates the job. Waiting jobs are removed and completed with a
// "killed" outcome; running jobs have their context canceled and finish
// through the normal completion path.
func (c *LocalClient) Cancel(jobRef string) bool {
	c.mu.Lock()
	for i, j := range c.waiting {
		if j.ref == jobRef {
			c.waiting = append(c.waiting[:i], c.waiting[i+1:]...)
			c.mu.Unlock()
			c.deliver(j, JobResult{
				Outcome:  model.OutcomeKilled,
				Feedback: "Job was killed before it started",
			})
			return true
		}
	}
	if j, ok := c.running[jobRef]; ok {
		j.cancel()
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()
	return false
}

// QueueSnapshot returns the current running and waiting jobs.
func (c *LocalClient) QueueSnapshot() model.QueueSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := model.QueueSnapshot{
		Running: make([]model.RunningJob, 0, len(c.running)),
		Waiting: make([]model.WaitingJob, 0, len(c.waiting)),
	}
	for _, j := range c.running {
		deadline := j.startedAt.Add(c.timeout)
		snap.Running = append(snap.Running, model.RunningJob{
			JobRef:    j.ref,
			IsMine:    true,
			Agent:     localAgentName,
			Info:      j.task.Ref(),
			Launcher:  j.launcher,
			StartedAt: j.startedAt,
			Deadline:  &deadline,
		})
	}
	sort.Slice(snap.Running, func(a, b int) bool {
		return snap.Running[a].StartedAt.Before(snap.Running[b].StartedAt)
	})
	maxS := int(c.timeout.Seconds())
	for _, j := range c.waiting {
		snap.Waiting = append(snap.Waiting, model.WaitingJob{
			JobRef:      j.ref,
			IsMine:      true,
			Info:        j.task.Ref(),
			Launcher:    j.launcher,
			MaxDuration: &maxS,
		})
	}
	return snap
}

// QueuePosition locates a job: position -1 when running, otherwise its index
// in the waiting queue.
func (c *LocalClient) QueuePosition(jobRef string) (model.QueuePosition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.running[jobRef]; ok {
		return model.QueuePosition{Position: -1}, true
	}
	for i, j := range c.waiting {
		if j.ref == jobRef {
			return model.QueuePosition{
				Position:      i,
				EstimatedWait: (i + 1) * int(c.timeout.Seconds()),
			}, true
		}
	}
	return model.QueuePosition{}, false
}

// AvailableEnvironments lists the environments with a registered runner.
func (c *LocalClient) AvailableEnvironments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	envs := make([]string, 0, len(c.runners))
	for env := range c.runners {
		envs = append(envs, env)
	}
	sort.Strings(envs)
	return envs
}

// Close stops the worker pool after in-flight jobs finish. Queued jobs that
// never started are abandoned without a callback; the recovery sweep of the
// next process incarnation reclaims their submissions.
func (c *LocalClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.waiting = nil
	for _, j := range c.running {
		j.cancel()
	}
	c.cond.Broadcast()
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *LocalClient) worker() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for len(c.waiting) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		j := c.waiting[0]
		c.waiting = c.waiting[1:]

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		j.cancel = cancel
		j.startedAt = time.Now().UTC()
		c.running[j.ref] = j
		c.mu.Unlock()

		c.run(ctx, j)
		cancel()
	}
}

func (c *LocalClient) run(ctx context.Context, j *localJob) {
	c.mu.Lock()
	runner, ok := c.runners[j.task.Environment]
	c.mu.Unlock()
	if !ok {
		c.deliver(j, JobResult{
			Outcome:  model.OutcomeCrash,
			Feedback: fmt.Sprintf("No runner available for environment %q", j.task.Environment),
		})
		return
	}

	result, err := runner.Run(ctx, RunRequest{
		JobRef:      j.ref,
		Task:        j.task,
		Input:       j.input,
		Debug:       j.debug,
		DebugNotify: j.onDebug,
	})
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			result = JobResult{Outcome: model.OutcomeKilled, Feedback: "Job was killed"}
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result = JobResult{
				Outcome:  model.OutcomeTimeout,
				Feedback: fmt.Sprintf("Job timed out after %s", c.timeout),
			}
		default:
			result = JobResult{
				Outcome:  model.OutcomeCrash,
				Feedback: fmt.Sprintf("Job crashed: %v", err),
			}
		}
	}
	c.deliver(j, result)
}

// deliver invokes the completion callback at most once and drops the job
// from the tracking maps.
func (c *LocalClient) deliver(j *localJob, result JobResult) {
	c.mu.Lock()
	if j.delivered {
		c.mu.Unlock()
		return
	}
	j.delivered = true
	delete(c.running, j.ref)
	c.mu.Unlock()

	if j.onComplete != nil {
		j.onComplete(result)
	}
	if c.logger != nil {
		c.logger.Debug("job completed", "job_ref", j.ref, "outcome", result.Outcome)
	}
}
