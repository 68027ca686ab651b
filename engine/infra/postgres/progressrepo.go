package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/task"
)

const uniqueViolation = "23505"

var progressColumns = []string{
	"id",
	"task_id",
	"organization_id",
	"index",
	"step",
	"round",
	"type",
	"content",
	"created_at",
}

const progressStatsSQL = `
        SELECT COUNT(*) AS count,
               COALESCE(MAX(round), 0) AS max_round,
               COUNT(*) FILTER (WHERE round = $2) AS round_events
        FROM task_progresses
        WHERE task_id = $1
    `

var ErrDuplicateProgress = errors.New("progress index already stored")

// ProgressRepo implements task.ProgressRepository.
type ProgressRepo struct {
	db DB
}

func NewProgressRepo(db DB) *ProgressRepo {
	return &ProgressRepo{db: db}
}

func (r *ProgressRepo) Append(ctx context.Context, p *task.Progress) error {
	content := []byte(p.Content)
	if len(content) == 0 {
		content = []byte("{}")
	}
	query, args, err := psql().Insert("task_progresses").
		Columns("id", "task_id", "organization_id", "index", "step", "round", "type", "content").
		Values(p.ID.String(), p.TaskID.String(), p.OrganizationID, p.Index, p.Step, p.Round, p.Type, content).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("task %s index %d: %w", p.TaskID, p.Index, ErrDuplicateProgress)
		}
		return fmt.Errorf("inserting progress: %w", err)
	}
	return nil
}

func (r *ProgressRepo) ListByTask(ctx context.Context, taskID core.ID) ([]*task.Progress, error) {
	return r.list(ctx, squirrel.Eq{"task_id": taskID.String()})
}

func (r *ProgressRepo) ListAfter(ctx context.Context, taskID core.ID, afterIndex int) ([]*task.Progress, error) {
	return r.list(ctx, squirrel.And{
		squirrel.Eq{"task_id": taskID.String()},
		squirrel.Gt{"index": afterIndex},
	})
}

func (r *ProgressRepo) list(ctx context.Context, where squirrel.Sqlizer) ([]*task.Progress, error) {
	query, args, err := psql().Select(progressColumns...).From("task_progresses").
		Where(where).
		OrderBy("index ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows := make([]*task.Progress, 0)
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("scanning progress: %w", err)
	}
	return rows, nil
}

func (r *ProgressRepo) Stats(ctx context.Context, taskID core.ID, round int) (task.ProgressStats, error) {
	var stats task.ProgressStats
	if err := pgxscan.Get(ctx, r.db, &stats, progressStatsSQL, taskID.String(), round); err != nil {
		return task.ProgressStats{}, fmt.Errorf("loading progress stats: %w", err)
	}
	return stats, nil
}
