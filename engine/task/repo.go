package task

import (
	"context"
	"time"

	"github.com/taskdeck/taskdeck/engine/core"
)

type Repository interface {
	Create(ctx context.Context, t *Task) error
	// Get loads a task without organization scoping.
	Get(ctx context.Context, id core.ID) (*Task, error)
	GetByOrg(ctx context.Context, id core.ID, orgID string) (*Task, error)
	// UpdateStatus applies to only when the current status allows it and
	// reports whether a row changed.
	UpdateStatus(ctx context.Context, id core.ID, to Status) (bool, error)
	// UpdateStatusFrom applies to only while the current status is one of from.
	UpdateStatusFrom(ctx context.Context, id core.ID, to Status, from []Status) (bool, error)
	// MarkProcessing moves the task to processing, opens the next round and
	// records outID unless an external id is already stored. It returns the
	// updated task, or nil when the current status does not allow the move.
	MarkProcessing(ctx context.Context, id core.ID, outID string) (*Task, error)
	SetShareExpiry(ctx context.Context, id core.ID, orgID string, expiresAt time.Time) error
	// ListRecoverable returns tasks the executor may still be running.
	ListRecoverable(ctx context.Context) ([]*Task, error)
}

type ProgressRepository interface {
	Append(ctx context.Context, p *Progress) error
	ListByTask(ctx context.Context, taskID core.ID) ([]*Progress, error)
	ListAfter(ctx context.Context, taskID core.ID, afterIndex int) ([]*Progress, error)
	Stats(ctx context.Context, taskID core.ID, round int) (ProgressStats, error)
}
