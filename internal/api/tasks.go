package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tmsylvan/corrigo/internal/model"
)

// ErrTaskNotFound is returned when no task exists under the given ids.
var ErrTaskNotFound = errors.New("task not found")

// TaskSource resolves task configuration. Course content management lives
// outside this service; the surface only needs enough of a task to admit
// submissions against it.
type TaskSource interface {
	Task(ctx context.Context, courseID, taskID string) (model.Task, error)
}

// Compile-time interface satisfaction check.
var _ TaskSource = (*StaticTasks)(nil)

// StaticTasks is an in-memory TaskSource, loaded from a JSON file or
// populated by tests.
type StaticTasks struct {
	mu    sync.RWMutex
	tasks map[string]model.Task
}

// NewStaticTasks creates an empty task source.
func NewStaticTasks() *StaticTasks {
	return &StaticTasks{tasks: make(map[string]model.Task)}
}

// LoadTasksFile reads a JSON array of tasks from path.
func LoadTasksFile(path string) (*StaticTasks, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	var tasks []model.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks file: %w", err)
	}
	st := NewStaticTasks()
	for _, t := range tasks {
		st.Add(t)
	}
	return st, nil
}

// Add registers a task.
func (s *StaticTasks) Add(t model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.CourseID+"/"+t.TaskID] = t
}

// Task resolves a task by course and task id.
func (s *StaticTasks) Task(_ context.Context, courseID, taskID string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[courseID+"/"+taskID]
	if !ok {
		return model.Task{}, ErrTaskNotFound
	}
	return t, nil
}
