package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/executor"
	"github.com/taskdeck/taskdeck/engine/task"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

// Terminate stops a running task. Tasks that are not running are left as is.
func (s *Service) Terminate(ctx context.Context, taskID core.ID, orgID string) (*task.Task, error) {
	t, err := s.tasks.GetByOrg(ctx, taskID, orgID)
	if err != nil {
		return nil, err
	}
	if !t.Status.IsActive() {
		return t, nil
	}
	log := logger.FromContext(ctx).With("task_id", t.ID)
	err = s.executor.TerminateTask(ctx, t.CompositeID())
	switch {
	case errors.Is(err, executor.ErrTaskNotFound):
		log.Info("Executor no longer knows task, treating as terminated")
	case err != nil:
		return nil, err
	}
	applied, err := s.tasks.UpdateStatus(ctx, t.ID, task.StatusTerminated)
	if err != nil {
		return nil, fmt.Errorf("marking task %s terminated: %w", t.ID, err)
	}
	if applied {
		t.Status = task.StatusTerminated
	}
	return t, nil
}

// Share opens the task to public reads until expiresAtMs (epoch milliseconds).
func (s *Service) Share(ctx context.Context, taskID core.ID, orgID string, expiresAtMs int64) (*task.Task, error) {
	t, err := s.tasks.GetByOrg(ctx, taskID, orgID)
	if err != nil {
		return nil, err
	}
	expiresAt := time.UnixMilli(expiresAtMs).UTC()
	if err := s.tasks.SetShareExpiry(ctx, t.ID, orgID, expiresAt); err != nil {
		return nil, err
	}
	t.ShareExpiresAt = &expiresAt
	return t, nil
}

type SharedTask struct {
	Task     *task.Task       `json:"task"`
	Progress []*task.Progress `json:"progress"`
}

// FetchShared is the public read path; it is not scoped to an organization.
func (s *Service) FetchShared(ctx context.Context, taskID core.ID) (*SharedTask, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.ShareExpired(s.now()) {
		return nil, fmt.Errorf("task %s: %w", t.ID, task.ErrExpired)
	}
	progress, err := s.progress.ListByTask(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("loading progress for task %s: %w", t.ID, err)
	}
	return &SharedTask{Task: t, Progress: progress}, nil
}

func (s *Service) Get(ctx context.Context, taskID core.ID, orgID string) (*task.Task, error) {
	return s.tasks.GetByOrg(ctx, taskID, orgID)
}

// ListProgress returns the task's progress rows with an index above afterIndex.
func (s *Service) ListProgress(
	ctx context.Context,
	taskID core.ID,
	orgID string,
	afterIndex int,
) ([]*task.Progress, error) {
	if _, err := s.tasks.GetByOrg(ctx, taskID, orgID); err != nil {
		return nil, err
	}
	return s.progress.ListAfter(ctx, taskID, afterIndex)
}
