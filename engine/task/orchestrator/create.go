package orchestrator

import (
	"context"
	"fmt"
	"slices"

	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/executor"
	"github.com/taskdeck/taskdeck/engine/task"
)

type CreateInput struct {
	OrganizationID string
	UserID         string
	// TaskID resumes an existing task when set.
	TaskID *core.ID
	Prompt string
	LLMID  string
	Tools  []string
}

type CreateResult struct {
	Task    *task.Task
	History []task.HistoryMessage
}

// CreateOrResume creates a pending task, or loads a finished one together
// with the conversation history reconstructed from its progress.
func (s *Service) CreateOrResume(ctx context.Context, in *CreateInput) (*CreateResult, error) {
	if in.TaskID == nil || in.TaskID.IsZero() {
		return s.create(ctx, in)
	}
	t, err := s.tasks.GetByOrg(ctx, *in.TaskID, in.OrganizationID)
	if err != nil {
		return nil, err
	}
	if !t.Status.IsTerminal() {
		return nil, fmt.Errorf("task %s is %s: %w", t.ID, t.Status, task.ErrConflict)
	}
	progress, err := s.progress.ListByTask(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("loading progress for task %s: %w", t.ID, err)
	}
	return &CreateResult{Task: t, History: task.BuildHistory(progress)}, nil
}

func (s *Service) create(ctx context.Context, in *CreateInput) (*CreateResult, error) {
	id, err := core.NewID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate task ID: %w", err)
	}
	t := &task.Task{
		ID:             id,
		OrganizationID: in.OrganizationID,
		UserID:         in.UserID,
		Status:         task.StatusPending,
		Prompt:         in.Prompt,
		LLMID:          in.LLMID,
		Tools:          slices.Clone(in.Tools),
	}
	if t.Tools == nil {
		t.Tools = []string{}
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	return &CreateResult{Task: t, History: []task.HistoryMessage{}}, nil
}

type RunInput struct {
	CreateInput
	ShouldPlan bool
	Files      []executor.File
}

// Run creates or resumes a task, resolves its tools and submits it.
func (s *Service) Run(ctx context.Context, in *RunInput) (*SubmitResult, error) {
	created, err := s.CreateOrResume(ctx, &in.CreateInput)
	if err != nil {
		return nil, err
	}
	refs, err := s.tools.Resolve(ctx, in.OrganizationID, in.Tools)
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, &SubmitInput{
		Task:       created.Task,
		UserID:     in.UserID,
		Prompt:     in.Prompt,
		LLMID:      in.LLMID,
		Tools:      refs,
		History:    created.History,
		ShouldPlan: in.ShouldPlan,
		Files:      in.Files,
	})
}
