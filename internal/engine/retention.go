package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmsylvan/corrigo/internal/blob"
	"github.com/tmsylvan/corrigo/internal/model"
)

// Prune evicts the owner's historical submissions for the task beyond the
// effective keep-count, protecting in-flight work, the best submission under
// the "best" policy, and the pinned submission under the "pinned" policy.
// Evicted submissions have their input and archive blobs deleted as well;
// the returned ids let callers cascade further.
func (m *Manager) Prune(ctx context.Context, username string, task model.Task, overrideBound int) ([]string, error) {
	bound := effectiveBound(task.StoredSubmissions, overrideBound)
	if bound <= 0 {
		return nil, nil
	}

	subs, err := m.store.ListForOwnerTask(ctx, username, task.CourseID, task.TaskID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	pinnedID := ""
	if task.Evaluation == model.RetainPinned {
		progress, err := m.store.GetProgress(ctx, username, task.CourseID, task.TaskID)
		if err != nil {
			return nil, fmt.Errorf("load progress: %w", err)
		}
		pinnedID = progress.PinnedSubID
	}

	keep := keepSet(task.Evaluation, subs, pinnedID, bound)

	var evicted []string
	var blobRefs []string
	for _, sub := range subs {
		if keep[sub.ID] {
			continue
		}
		evicted = append(evicted, sub.ID)
		if sub.InputRef != "" {
			blobRefs = append(blobRefs, sub.InputRef)
		}
		if sub.ArchiveRef != "" {
			blobRefs = append(blobRefs, sub.ArchiveRef)
		}
	}
	if len(evicted) == 0 {
		return nil, nil
	}

	if err := m.store.DeleteMany(ctx, evicted); err != nil {
		return nil, fmt.Errorf("delete submissions: %w", err)
	}
	for _, ref := range blobRefs {
		if err := m.blobs.Delete(ctx, ref); err != nil && !errors.Is(err, blob.ErrNotFound) {
			m.logger.Error("delete evicted blob", "ref", ref, "error", err)
		}
	}
	for _, id := range evicted {
		m.notifier.Forget(id)
	}

	submissionsEvicted.Add(float64(len(evicted)))
	m.logger.Info("pruned submissions",
		"username", username,
		"task", task.Ref(),
		"evicted", len(evicted),
	)
	return evicted, nil
}

// effectiveBound combines the task-configured bound with a caller override:
// the smaller of the two wins when both are positive; a non-positive value
// means "no limit" for that source.
func effectiveBound(taskBound, override int) int {
	switch {
	case override <= 0:
		return taskBound
	case taskBound <= 0:
		return override
	case override < taskBound:
		return override
	default:
		return taskBound
	}
}

// keepSet computes which submissions survive pruning. subs must be ordered
// ascending by submission time. The protected set (in-flight work, the best
// done submission under the best policy with earlier-wins ties, the pinned
// submission under the pinned policy) is kept regardless of the bound;
// remaining keep-slots are filled newest first.
func keepSet(policy model.RetentionPolicy, subs []*model.Submission, pinnedID string, bound int) map[string]bool {
	keep := make(map[string]bool)

	switch policy {
	case model.RetainBest:
		best := -1
		for i, sub := range subs {
			if sub.Status != model.StatusDone {
				continue
			}
			if best == -1 || subs[best].Grade < sub.Grade {
				best = i
			}
		}
		if best != -1 {
			keep[subs[best].ID] = true
		}
	case model.RetainPinned:
		if pinnedID != "" {
			keep[pinnedID] = true
		}
	}

	for _, sub := range subs {
		if sub.Status == model.StatusWaiting {
			keep[sub.ID] = true
		}
	}

	for i := len(subs) - 1; i >= 0 && len(keep) < bound; i-- {
		keep[subs[i].ID] = true
	}

	return keep
}
