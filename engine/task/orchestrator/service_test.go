package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/executor"
	"github.com/taskdeck/taskdeck/engine/llm"
	"github.com/taskdeck/taskdeck/engine/preference"
	"github.com/taskdeck/taskdeck/engine/task"
	"github.com/taskdeck/taskdeck/engine/task/orchestrator"
	"github.com/taskdeck/taskdeck/engine/task/stream"
	"github.com/taskdeck/taskdeck/engine/task/tasktest"
	"github.com/taskdeck/taskdeck/engine/tool"
)

type fakeLLMRepo struct {
	configs map[string]*llm.Config
}

func (f *fakeLLMRepo) Get(_ context.Context, id string, orgID string) (*llm.Config, error) {
	cfg, ok := f.configs[id]
	if !ok || cfg.OrganizationID != orgID {
		return nil, llm.ErrNotFound
	}
	return cfg, nil
}

type fakePreferenceRepo struct {
	prefs *preference.Preferences
}

func (f *fakePreferenceRepo) Get(context.Context, string, string) (*preference.Preferences, error) {
	return f.prefs, nil
}

type fakeStarter struct {
	mu   sync.Mutex
	jobs []stream.Job
}

func (f *fakeStarter) Start(_ context.Context, job stream.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeResolver struct {
	refs []tool.Ref
	err  error
}

func (f *fakeResolver) Resolve(context.Context, string, []string) ([]tool.Ref, error) {
	return f.refs, f.err
}

type fakeExecutor struct {
	submitted  []*executor.Submission
	terminated []string
	submitErr  error
	termErr    error
}

func (f *fakeExecutor) SubmitTask(_ context.Context, s *executor.Submission) (*executor.SubmitResponse, error) {
	f.submitted = append(f.submitted, s)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &executor.SubmitResponse{TaskID: s.TaskID}, nil
}

func (f *fakeExecutor) TerminateTask(_ context.Context, compositeID string) error {
	f.terminated = append(f.terminated, compositeID)
	return f.termErr
}

type countingRecorder struct {
	outcomes []string
}

func (r *countingRecorder) SubmissionFinished(outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

type fixture struct {
	store    *tasktest.Store
	starter  *fakeStarter
	recorder *countingRecorder
	svc      *orchestrator.Service
}

func newFixture(t *testing.T, exec orchestrator.Executor, resolver orchestrator.ToolResolver) *fixture {
	t.Helper()
	store := tasktest.NewStore()
	starter := &fakeStarter{}
	recorder := &countingRecorder{}
	if resolver == nil {
		resolver = &fakeResolver{}
	}
	svc := orchestrator.NewService(orchestrator.Deps{
		Tasks:    store,
		Progress: store,
		LLMConfigs: &fakeLLMRepo{configs: map[string]*llm.Config{
			"llm1": {ID: "llm1", OrganizationID: "org1", Model: "gpt-4o", BaseURL: "https://api.example.com", APIKey: "sk-1"},
		}},
		Preferences: &fakePreferenceRepo{prefs: &preference.Preferences{Language: "ko"}},
		Tools:       resolver,
		Executor:    exec,
		Consumers:   starter,
		Recorder:    recorder,
	})
	return &fixture{store: store, starter: starter, recorder: recorder, svc: svc}
}

func executorServer(t *testing.T, handler http.HandlerFunc) *executor.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return executor.NewClient(executor.Config{BaseURL: srv.URL, RequestTimeout: 5 * time.Second})
}

func TestService_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("Should create a pending task and move it to processing on executor ack", func(t *testing.T) {
		var form map[string][]string
		client := executorServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			form = r.MultipartForm.Value
			_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "abc"})
		})
		f := newFixture(t, client, &fakeResolver{refs: []tool.Ref{{Name: "web_search"}}})
		res, err := f.svc.Run(ctx, &orchestrator.RunInput{CreateInput: orchestrator.CreateInput{
			OrganizationID: "org1",
			UserID:         "u1",
			Prompt:         "hello",
			LLMID:          "llm1",
			Tools:          []string{"web_search"},
		}})
		require.NoError(t, err)
		assert.Equal(t, "abc", res.OutID)
		assert.Equal(t, 1, f.store.Count())
		stored := f.store.Task(res.TaskID)
		require.NotNil(t, stored)
		assert.Equal(t, task.StatusProcessing, stored.Status)
		require.NotNil(t, stored.OutID)
		assert.Equal(t, "abc", *stored.OutID)
		assert.Equal(t, 1, stored.Round)
		assert.Equal(t, []string{"org1/" + res.TaskID.String()}, form["task_id"])
		assert.Equal(t, []string{"web_search"}, form["tools"])
		assert.JSONEq(t, `{"language":"ko"}`, form["preferences"][0])
		assert.JSONEq(t, `[]`, form["history"][0])
		require.Len(t, f.starter.jobs, 1)
		assert.Equal(t, stream.Job{TaskID: res.TaskID, OrganizationID: "org1", OutID: "abc", Round: 1}, f.starter.jobs[0])
		assert.Equal(t, []string{orchestrator.SubmissionAccepted}, f.recorder.outcomes)
	})

	t.Run("Should mark the task failed when the executor rejects it", func(t *testing.T) {
		client := executorServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		})
		f := newFixture(t, client, nil)
		_, err := f.svc.Run(ctx, &orchestrator.RunInput{CreateInput: orchestrator.CreateInput{
			OrganizationID: "org1",
			Prompt:         "hello",
			LLMID:          "llm1",
		}})
		var submitErr *task.SubmissionError
		require.ErrorAs(t, err, &submitErr)
		assert.Equal(t, http.StatusInternalServerError, submitErr.StatusCode)
		assert.Equal(t, "boom", submitErr.Body)
		all := f.store.All()
		require.Len(t, all, 1)
		assert.Equal(t, task.StatusFailed, all[0].Status)
		assert.Nil(t, all[0].OutID)
		assert.Empty(t, f.starter.jobs)
		assert.Equal(t, []string{orchestrator.SubmissionRejected}, f.recorder.outcomes)
	})

	t.Run("Should propagate tool validation errors", func(t *testing.T) {
		exec := &fakeExecutor{}
		f := newFixture(t, exec, &fakeResolver{err: &tool.ValidationError{ToolID: "x", Reason: "bad"}})
		_, err := f.svc.Run(ctx, &orchestrator.RunInput{CreateInput: orchestrator.CreateInput{
			OrganizationID: "org1",
			LLMID:          "llm1",
			Tools:          []string{"x"},
		}})
		var verr *tool.ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Empty(t, exec.submitted)
	})
}

func TestService_CreateOrResume(t *testing.T) {
	ctx := context.Background()

	t.Run("Should reject resuming a task that is still running", func(t *testing.T) {
		f := newFixture(t, &fakeExecutor{}, nil)
		for _, status := range []task.Status{task.StatusPending, task.StatusProcessing, task.StatusTerminating} {
			id := core.ID("t-" + string(status))
			f.store.Put(&task.Task{ID: id, OrganizationID: "org1", Status: status})
			_, err := f.svc.CreateOrResume(ctx, &orchestrator.CreateInput{OrganizationID: "org1", TaskID: &id})
			assert.ErrorIs(t, err, task.ErrConflict, status)
		}
	})

	t.Run("Should return not found for another organization's task", func(t *testing.T) {
		f := newFixture(t, &fakeExecutor{}, nil)
		id := core.ID("t1")
		f.store.Put(&task.Task{ID: id, OrganizationID: "org2", Status: task.StatusCompleted})
		_, err := f.svc.CreateOrResume(ctx, &orchestrator.CreateInput{OrganizationID: "org1", TaskID: &id})
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("Should rebuild history when resuming a finished task", func(t *testing.T) {
		f := newFixture(t, &fakeExecutor{}, nil)
		id := core.ID("t1")
		f.store.Put(&task.Task{ID: id, OrganizationID: "org1", Status: task.StatusCompleted})
		f.store.AddProgress(
			&task.Progress{TaskID: id, Index: 0, Round: 1, Type: task.EventLifecycleStart, Content: json.RawMessage(`{"request":"hi"}`)},
			&task.Progress{TaskID: id, Index: 1, Round: 1, Type: "agent:step", Content: json.RawMessage(`{}`)},
			&task.Progress{TaskID: id, Index: 2, Round: 1, Type: task.EventLifecycleComplete, Content: json.RawMessage(`{"results":["a","b"]}`)},
		)
		for range 2 {
			res, err := f.svc.CreateOrResume(ctx, &orchestrator.CreateInput{OrganizationID: "org1", TaskID: &id})
			require.NoError(t, err)
			assert.Equal(t, []task.HistoryMessage{
				{Role: task.RoleUser, Message: "hi"},
				{Role: task.RoleAssistant, Message: "a\nb"},
			}, res.History)
		}
	})

	t.Run("Should open a new round when a finished task is resubmitted", func(t *testing.T) {
		exec := &fakeExecutor{}
		f := newFixture(t, exec, nil)
		id := core.ID("t1")
		out := "org1/t1"
		f.store.Put(&task.Task{ID: id, OrganizationID: "org1", Status: task.StatusCompleted, OutID: &out, Round: 1})
		res, err := f.svc.Run(ctx, &orchestrator.RunInput{CreateInput: orchestrator.CreateInput{
			OrganizationID: "org1",
			TaskID:         &id,
			Prompt:         "again",
			LLMID:          "llm1",
		}})
		require.NoError(t, err)
		assert.Equal(t, out, res.OutID)
		require.Len(t, f.starter.jobs, 1)
		assert.Equal(t, 2, f.starter.jobs[0].Round)
		assert.Equal(t, task.StatusProcessing, f.store.Task(id).Status)
		require.Len(t, exec.submitted, 1)
		assert.Equal(t, "again", exec.submitted[0].Prompt)
	})
}

func TestService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return not found when the llm config is missing", func(t *testing.T) {
		exec := &fakeExecutor{}
		f := newFixture(t, exec, nil)
		tk := &task.Task{ID: core.ID("t1"), OrganizationID: "org1", Status: task.StatusPending}
		f.store.Put(tk)
		_, err := f.svc.Submit(ctx, &orchestrator.SubmitInput{Task: tk, LLMID: "missing"})
		assert.ErrorIs(t, err, task.ErrNotFound)
		assert.Empty(t, exec.submitted)
		assert.Equal(t, task.StatusPending, f.store.Task(tk.ID).Status)
	})

	t.Run("Should mark the task failed on transport errors", func(t *testing.T) {
		exec := &fakeExecutor{submitErr: &executor.TransportError{Op: "submit", Err: errors.New("refused")}}
		f := newFixture(t, exec, nil)
		tk := &task.Task{ID: core.ID("t1"), OrganizationID: "org1", Status: task.StatusPending}
		f.store.Put(tk)
		_, err := f.svc.Submit(ctx, &orchestrator.SubmitInput{Task: tk, LLMID: "llm1"})
		var terr *executor.TransportError
		assert.ErrorAs(t, err, &terr)
		assert.Equal(t, task.StatusFailed, f.store.Task(tk.ID).Status)
		assert.Nil(t, f.store.Task(tk.ID).OutID)
		assert.Equal(t, []string{orchestrator.SubmissionFailed}, f.recorder.outcomes)
	})

	t.Run("Should forward encoded tools, connection and explicit preferences", func(t *testing.T) {
		exec := &fakeExecutor{}
		f := newFixture(t, exec, nil)
		tk := &task.Task{ID: core.ID("t1"), OrganizationID: "org1", Status: task.StatusPending}
		f.store.Put(tk)
		_, err := f.svc.Submit(ctx, &orchestrator.SubmitInput{
			Task:        tk,
			Prompt:      "p",
			LLMID:       "llm1",
			ShouldPlan:  true,
			Preferences: &preference.Preferences{Language: "fr"},
			Tools: []tool.Ref{
				{Name: "browser"},
				{Name: "fs", Descriptor: &tool.Descriptor{ID: "fs", Name: "fs", Command: "npx"}},
			},
		})
		require.NoError(t, err)
		require.Len(t, exec.submitted, 1)
		sub := exec.submitted[0]
		assert.Equal(t, "org1/t1", sub.TaskID)
		assert.True(t, sub.ShouldPlan)
		require.Len(t, sub.Tools, 2)
		assert.Equal(t, "browser", sub.Tools[0])
		assert.Contains(t, sub.Tools[1], `"command":"npx"`)
		assert.Equal(t, &preference.Preferences{Language: "fr"}, sub.Preferences)
		conn, ok := sub.LLMConfig.(*llm.Connection)
		require.True(t, ok)
		assert.Equal(t, "sk-1", conn.APIKey)
		assert.Equal(t, "gpt-4o", conn.Model)
	})
}

func TestService_Terminate(t *testing.T) {
	ctx := context.Background()

	t.Run("Should do nothing for a completed task", func(t *testing.T) {
		exec := &fakeExecutor{}
		f := newFixture(t, exec, nil)
		f.store.Put(&task.Task{ID: core.ID("t1"), OrganizationID: "org1", Status: task.StatusCompleted})
		got, err := f.svc.Terminate(ctx, core.ID("t1"), "org1")
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, got.Status)
		assert.Empty(t, exec.terminated)
	})

	t.Run("Should terminate a processing task", func(t *testing.T) {
		exec := &fakeExecutor{}
		f := newFixture(t, exec, nil)
		f.store.Put(&task.Task{ID: core.ID("t1"), OrganizationID: "org1", Status: task.StatusProcessing})
		got, err := f.svc.Terminate(ctx, core.ID("t1"), "org1")
		require.NoError(t, err)
		assert.Equal(t, []string{"org1/t1"}, exec.terminated)
		assert.Equal(t, task.StatusTerminated, got.Status)
		assert.Equal(t, task.StatusTerminated, f.store.Task(core.ID("t1")).Status)
	})

	t.Run("Should treat an unknown executor task as terminated", func(t *testing.T) {
		exec := &fakeExecutor{termErr: executor.ErrTaskNotFound}
		f := newFixture(t, exec, nil)
		f.store.Put(&task.Task{ID: core.ID("t1"), OrganizationID: "org1", Status: task.StatusTerminating})
		_, err := f.svc.Terminate(ctx, core.ID("t1"), "org1")
		require.NoError(t, err)
		assert.Equal(t, task.StatusTerminated, f.store.Task(core.ID("t1")).Status)
	})

	t.Run("Should propagate other executor errors", func(t *testing.T) {
		exec := &fakeExecutor{termErr: errors.New("executor down")}
		f := newFixture(t, exec, nil)
		f.store.Put(&task.Task{ID: core.ID("t1"), OrganizationID: "org1", Status: task.StatusProcessing})
		_, err := f.svc.Terminate(ctx, core.ID("t1"), "org1")
		assert.Error(t, err)
		assert.Equal(t, task.StatusProcessing, f.store.Task(core.ID("t1")).Status)
	})

	t.Run("Should return not found for unknown tasks", func(t *testing.T) {
		f := newFixture(t, &fakeExecutor{}, nil)
		_, err := f.svc.Terminate(ctx, core.ID("missing"), "org1")
		assert.ErrorIs(t, err, task.ErrNotFound)
	})
}

func TestService_Share(t *testing.T) {
	ctx := context.Background()

	t.Run("Should fail with expired once the share link lapses", func(t *testing.T) {
		f := newFixture(t, &fakeExecutor{}, nil)
		f.store.Put(&task.Task{ID: core.ID("t1"), OrganizationID: "org1", Status: task.StatusCompleted})
		past := time.Now().Add(-time.Millisecond).UnixMilli()
		_, err := f.svc.Share(ctx, core.ID("t1"), "org1", past)
		require.NoError(t, err)
		_, err = f.svc.FetchShared(ctx, core.ID("t1"))
		assert.ErrorIs(t, err, task.ErrExpired)
	})

	t.Run("Should return the task with its progress before expiry", func(t *testing.T) {
		f := newFixture(t, &fakeExecutor{}, nil)
		f.store.Put(&task.Task{ID: core.ID("t1"), OrganizationID: "org1", Status: task.StatusProcessing})
		f.store.AddProgress(
			&task.Progress{TaskID: core.ID("t1"), Index: 1, Type: "b"},
			&task.Progress{TaskID: core.ID("t1"), Index: 0, Type: "a"},
		)
		future := time.Now().Add(time.Hour).UnixMilli()
		shared, err := f.svc.Share(ctx, core.ID("t1"), "org1", future)
		require.NoError(t, err)
		require.NotNil(t, shared.ShareExpiresAt)
		assert.Equal(t, future, shared.ShareExpiresAt.UnixMilli())
		got, err := f.svc.FetchShared(ctx, core.ID("t1"))
		require.NoError(t, err)
		require.Len(t, got.Progress, 2)
		assert.Equal(t, "a", got.Progress[0].Type)
	})

	t.Run("Should reject sharing another organization's task", func(t *testing.T) {
		f := newFixture(t, &fakeExecutor{}, nil)
		f.store.Put(&task.Task{ID: core.ID("t1"), OrganizationID: "org2"})
		_, err := f.svc.Share(ctx, core.ID("t1"), "org1", time.Now().UnixMilli())
		assert.ErrorIs(t, err, task.ErrNotFound)
		_, err = f.svc.FetchShared(ctx, core.ID("missing"))
		assert.ErrorIs(t, err, task.ErrNotFound)
	})

	t.Run("Should list progress after an index", func(t *testing.T) {
		f := newFixture(t, &fakeExecutor{}, nil)
		f.store.Put(&task.Task{ID: core.ID("t1"), OrganizationID: "org1"})
		f.store.AddProgress(
			&task.Progress{TaskID: core.ID("t1"), Index: 0},
			&task.Progress{TaskID: core.ID("t1"), Index: 1},
			&task.Progress{TaskID: core.ID("t1"), Index: 2},
		)
		rows, err := f.svc.ListProgress(ctx, core.ID("t1"), "org1", 0)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
		_, err = f.svc.ListProgress(ctx, core.ID("t1"), "org2", 0)
		assert.ErrorIs(t, err, task.ErrNotFound)
	})
}
