package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/task"
)

var taskColumns = []string{
	"id",
	"out_id",
	"organization_id",
	"user_id",
	"status",
	"prompt",
	"llm_id",
	"tools",
	"round",
	"share_expires_at",
	"created_at",
	"updated_at",
}

var taskColumnsSQL = strings.Join(taskColumns, ", ")

// DB is the minimal database interface the repositories depend on (pgxpool or pgxmock).
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

func psql() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func statusStrings(statuses []task.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// TaskRepo implements task.Repository.
type TaskRepo struct {
	db DB
}

func NewTaskRepo(db DB) *TaskRepo {
	return &TaskRepo{db: db}
}

func (r *TaskRepo) Create(ctx context.Context, t *task.Task) error {
	tools := t.Tools
	if tools == nil {
		tools = []string{}
	}
	query, args, err := psql().Insert("tasks").
		Columns("id", "organization_id", "user_id", "status", "prompt", "llm_id", "tools", "round").
		Values(t.ID.String(), t.OrganizationID, t.UserID, string(t.Status), t.Prompt, t.LLMID, tools, t.Round).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if err := r.db.QueryRow(ctx, query, args...).Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

func (r *TaskRepo) get(ctx context.Context, id core.ID, where squirrel.Sqlizer) (*task.Task, error) {
	query, args, err := psql().Select(taskColumns...).From("tasks").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var t task.Task
	if err := pgxscan.Get(ctx, r.db, &t, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, task.NotFound("task", id)
		}
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	return &t, nil
}

func (r *TaskRepo) Get(ctx context.Context, id core.ID) (*task.Task, error) {
	return r.get(ctx, id, squirrel.Eq{"id": id.String()})
}

func (r *TaskRepo) GetByOrg(ctx context.Context, id core.ID, orgID string) (*task.Task, error) {
	return r.get(ctx, id, squirrel.Eq{"id": id.String(), "organization_id": orgID})
}

// UpdateStatus only touches the row while its current status may move to to.
func (r *TaskRepo) UpdateStatus(ctx context.Context, id core.ID, to task.Status) (bool, error) {
	return r.UpdateStatusFrom(ctx, id, to, task.AllowedFrom(to))
}

// UpdateStatusFrom narrows the guard to from, intersected with the state machine.
func (r *TaskRepo) UpdateStatusFrom(ctx context.Context, id core.ID, to task.Status, from []task.Status) (bool, error) {
	guard := make([]task.Status, 0, len(from))
	for _, s := range from {
		if task.CanTransition(s, to) {
			guard = append(guard, s)
		}
	}
	if len(guard) == 0 {
		return false, nil
	}
	query, args, err := psql().Update("tasks").
		Set("status", string(to)).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id.String()}).
		Where(squirrel.Eq{"status": statusStrings(guard)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building query: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("updating task status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TaskRepo) MarkProcessing(ctx context.Context, id core.ID, outID string) (*task.Task, error) {
	query, args, err := psql().Update("tasks").
		Set("status", string(task.StatusProcessing)).
		Set("out_id", squirrel.Expr("COALESCE(out_id, ?)", outID)).
		Set("round", squirrel.Expr("round + 1")).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id.String()}).
		Where(squirrel.Eq{"status": statusStrings(task.AllowedFrom(task.StatusProcessing))}).
		Suffix("RETURNING " + taskColumnsSQL).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var t task.Task
	if err := pgxscan.Get(ctx, r.db, &t, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("marking task processing: %w", err)
	}
	return &t, nil
}

func (r *TaskRepo) SetShareExpiry(ctx context.Context, id core.ID, orgID string, expiresAt time.Time) error {
	query, args, err := psql().Update("tasks").
		Set("share_expires_at", expiresAt).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id.String(), "organization_id": orgID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating share expiry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return task.NotFound("task", id)
	}
	return nil
}

func (r *TaskRepo) ListRecoverable(ctx context.Context) ([]*task.Task, error) {
	query, args, err := psql().Select(taskColumns...).From("tasks").
		Where(squirrel.Eq{"status": []string{string(task.StatusProcessing), string(task.StatusTerminating)}}).
		Where(squirrel.NotEq{"out_id": nil}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var tasks []*task.Task
	if err := pgxscan.Select(ctx, r.db, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("scanning tasks: %w", err)
	}
	return tasks, nil
}
