package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/infra/postgres"
	"github.com/taskdeck/taskdeck/engine/llm"
	"github.com/taskdeck/taskdeck/engine/task"
	"github.com/taskdeck/taskdeck/engine/tool"
)

var taskRowColumns = []string{
	"id", "out_id", "organization_id", "user_id", "status", "prompt", "llm_id",
	"tools", "round", "share_expires_at", "created_at", "updated_at",
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestTaskRepo_Create(t *testing.T) {
	t.Run("Should insert the task and fill timestamps", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewTaskRepo(mock)
		now := time.Now()
		tk := &task.Task{
			ID:             core.ID("t1"),
			OrganizationID: "org1",
			UserID:         "u1",
			Status:         task.StatusPending,
			Prompt:         "hello",
			LLMID:          "llm1",
		}
		mock.ExpectQuery("INSERT INTO tasks").
			WithArgs("t1", "org1", "u1", "pending", "hello", "llm1", []string{}, 0).
			WillReturnRows(mock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		require.NoError(t, repo.Create(context.Background(), tk))
		assert.Equal(t, now, tk.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTaskRepo_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("Should scope lookups to the organization", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewTaskRepo(mock)
		now := time.Now()
		out := "org1/t1"
		var noExpiry *time.Time
		rows := mock.NewRows(taskRowColumns).AddRow(
			core.ID("t1"), &out, "org1", "u1", task.StatusProcessing, "hello", "llm1",
			[]string{"web"}, 1, noExpiry, now, now,
		)
		mock.ExpectQuery(`SELECT (.+) FROM tasks WHERE id = \$1 AND organization_id = \$2`).
			WithArgs("t1", "org1").
			WillReturnRows(rows)
		got, err := repo.GetByOrg(ctx, core.ID("t1"), "org1")
		require.NoError(t, err)
		assert.Equal(t, task.StatusProcessing, got.Status)
		assert.Equal(t, []string{"web"}, got.Tools)
		require.NotNil(t, got.OutID)
		assert.Equal(t, out, *got.OutID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should map missing rows to not found", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewTaskRepo(mock)
		mock.ExpectQuery(`SELECT (.+) FROM tasks WHERE id = \$1`).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)
		_, err := repo.Get(ctx, core.ID("missing"))
		assert.ErrorIs(t, err, task.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTaskRepo_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("Should guard the update with the allowed source statuses", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewTaskRepo(mock)
		mock.ExpectExec(`UPDATE tasks SET status = \$1, updated_at = now\(\) WHERE id = \$2 AND status IN \(\$3,\$4\)`).
			WithArgs("completed", "t1", "processing", "terminating").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		applied, err := repo.UpdateStatus(ctx, core.ID("t1"), task.StatusCompleted)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should report when the guard rejects the transition", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewTaskRepo(mock)
		mock.ExpectExec("UPDATE tasks SET status").
			WithArgs("terminating", "t1", "processing").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		applied, err := repo.UpdateStatus(ctx, core.ID("t1"), task.StatusTerminating)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTaskRepo_UpdateStatusFrom(t *testing.T) {
	ctx := context.Background()

	t.Run("Should restrict the guard to the given sources", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewTaskRepo(mock)
		mock.ExpectExec(`UPDATE tasks SET status = \$1, updated_at = now\(\) WHERE id = \$2 AND status IN \(\$3,\$4\)`).
			WithArgs("failed", "t1", "processing", "terminating").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		applied, err := repo.UpdateStatusFrom(ctx, core.ID("t1"), task.StatusFailed, task.ActiveStatuses())
		require.NoError(t, err)
		assert.False(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should skip the query when no source may reach the target", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewTaskRepo(mock)
		applied, err := repo.UpdateStatusFrom(ctx, core.ID("t1"), task.StatusTerminating, []task.Status{task.StatusCompleted})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTaskRepo_MarkProcessing(t *testing.T) {
	ctx := context.Background()

	t.Run("Should open a new round and keep the first external id", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewTaskRepo(mock)
		now := time.Now()
		out := "org1/t1"
		var noExpiry *time.Time
		mock.ExpectQuery(`UPDATE tasks SET status = \$1, out_id = COALESCE\(out_id, \$2\), round = round \+ 1`).
			WithArgs("processing", "org1/t1", "t1", "pending", "completed", "terminated", "failed").
			WillReturnRows(mock.NewRows(taskRowColumns).AddRow(
				core.ID("t1"), &out, "org1", "u1", task.StatusProcessing, "p", "llm1",
				[]string{}, 2, noExpiry, now, now,
			))
		got, err := repo.MarkProcessing(ctx, core.ID("t1"), "org1/t1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 2, got.Round)
		assert.Equal(t, task.StatusProcessing, got.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should return nil when the task cannot move to processing", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewTaskRepo(mock)
		mock.ExpectQuery("UPDATE tasks SET status").
			WithArgs("processing", "x", "t1", "pending", "completed", "terminated", "failed").
			WillReturnError(pgx.ErrNoRows)
		got, err := repo.MarkProcessing(ctx, core.ID("t1"), "x")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTaskRepo_SetShareExpiry(t *testing.T) {
	t.Run("Should return not found when no row matches", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewTaskRepo(mock)
		expires := time.UnixMilli(1_700_000_000_000).UTC()
		mock.ExpectExec("UPDATE tasks SET share_expires_at").
			WithArgs(expires, "t1", "org1").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		err := repo.SetShareExpiry(context.Background(), core.ID("t1"), "org1", expires)
		assert.ErrorIs(t, err, task.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTaskRepo_ListRecoverable(t *testing.T) {
	t.Run("Should select active tasks that were acknowledged", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewTaskRepo(mock)
		now := time.Now()
		out := "org1/t1"
		var noExpiry *time.Time
		mock.ExpectQuery(`SELECT (.+) FROM tasks WHERE status IN \(\$1,\$2\) AND out_id IS NOT NULL ORDER BY created_at ASC`).
			WithArgs("processing", "terminating").
			WillReturnRows(mock.NewRows(taskRowColumns).AddRow(
				core.ID("t1"), &out, "org1", "u1", task.StatusTerminating, "p", "llm1",
				[]string{}, 3, noExpiry, now, now,
			))
		tasks, err := repo.ListRecoverable(context.Background())
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, 3, tasks[0].Round)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestProgressRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("Should append a progress row", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewProgressRepo(mock)
		p := &task.Progress{
			ID:             core.ID("p1"),
			TaskID:         core.ID("t1"),
			OrganizationID: "org1",
			Index:          4,
			Step:           2,
			Round:          1,
			Type:           "agent:lifecycle:step",
			Content:        json.RawMessage(`{"a":1}`),
		}
		mock.ExpectExec("INSERT INTO task_progresses").
			WithArgs("p1", "t1", "org1", 4, 2, 1, "agent:lifecycle:step", []byte(`{"a":1}`)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		require.NoError(t, repo.Append(ctx, p))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should report duplicate indices", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewProgressRepo(mock)
		mock.ExpectExec("INSERT INTO task_progresses").
			WithArgs("p1", "t1", "org1", 0, 0, 1, "x", []byte(`{}`)).
			WillReturnError(&pgconn.PgError{Code: "23505"})
		err := repo.Append(ctx, &task.Progress{ID: "p1", TaskID: "t1", OrganizationID: "org1", Round: 1, Type: "x"})
		assert.ErrorIs(t, err, postgres.ErrDuplicateProgress)
	})

	t.Run("Should list rows after an index in order", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewProgressRepo(mock)
		now := time.Now()
		cols := []string{"id", "task_id", "organization_id", "index", "step", "round", "type", "content", "created_at"}
		mock.ExpectQuery(`SELECT (.+) FROM task_progresses WHERE \(task_id = \$1 AND index > \$2\) ORDER BY index ASC`).
			WithArgs("t1", 1).
			WillReturnRows(mock.NewRows(cols).
				AddRow(core.ID("p2"), core.ID("t1"), "org1", 2, 0, 1, "a", json.RawMessage(`{}`), now).
				AddRow(core.ID("p3"), core.ID("t1"), "org1", 3, 0, 1, "b", json.RawMessage(`{}`), now))
		rows, err := repo.ListAfter(ctx, core.ID("t1"), 1)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, 3, rows[1].Index)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should load count and round statistics", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewProgressRepo(mock)
		mock.ExpectQuery(`SELECT COUNT\(\*\) AS count`).
			WithArgs("t1", 2).
			WillReturnRows(mock.NewRows([]string{"count", "max_round", "round_events"}).AddRow(7, 2, 3))
		stats, err := repo.Stats(ctx, core.ID("t1"), 2)
		require.NoError(t, err)
		assert.Equal(t, task.ProgressStats{Count: 7, MaxRound: 2, RoundEvents: 3}, stats)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestConfigRepos(t *testing.T) {
	ctx := context.Background()

	t.Run("Should map a missing llm config to llm.ErrNotFound", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewLLMConfigRepo(mock)
		mock.ExpectQuery(`SELECT (.+) FROM llm_configs WHERE id = \$1 AND organization_id = \$2`).
			WithArgs("llm1", "org1").
			WillReturnError(pgx.ErrNoRows)
		_, err := repo.Get(ctx, "llm1", "org1")
		assert.ErrorIs(t, err, llm.ErrNotFound)
	})

	t.Run("Should map a missing agent tool to tool.ErrNotFound", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewToolRepo(mock)
		mock.ExpectQuery(`SELECT (.+) FROM agent_tools WHERE id = \$1 AND organization_id = \$2`).
			WithArgs("web_search", "org1").
			WillReturnError(pgx.ErrNoRows)
		_, err := repo.GetAgentTool(ctx, "org1", "web_search")
		assert.ErrorIs(t, err, tool.ErrNotFound)
	})

	t.Run("Should load a tool schema", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewToolRepo(mock)
		mock.ExpectQuery(`SELECT (.+) FROM tool_schemas WHERE id = \$1`).
			WithArgs("s1").
			WillReturnRows(mock.NewRows([]string{"id", "name", "description", "command", "args", "url", "env_schema"}).
				AddRow("s1", "fs", "files", "npx", []string{"-y", "fs"}, "", json.RawMessage(`{"type":"object"}`)))
		s, err := repo.GetSchema(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []string{"-y", "fs"}, s.Args)
		assert.JSONEq(t, `{"type":"object"}`, string(s.EnvSchema))
	})

	t.Run("Should return nil preferences when none are stored", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewPreferenceRepo(mock)
		mock.ExpectQuery(`SELECT language FROM user_preferences`).
			WithArgs("org1", "u1").
			WillReturnError(pgx.ErrNoRows)
		prefs, err := repo.Get(ctx, "org1", "u1")
		require.NoError(t, err)
		assert.Nil(t, prefs)
	})

	t.Run("Should wrap unexpected database errors", func(t *testing.T) {
		mock := newMock(t)
		repo := postgres.NewLLMConfigRepo(mock)
		mock.ExpectQuery("SELECT").WithArgs("llm1", "org1").WillReturnError(errors.New("conn reset"))
		_, err := repo.Get(ctx, "llm1", "org1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, llm.ErrNotFound)
	})
}
