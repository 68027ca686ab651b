package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/executor"
	"github.com/taskdeck/taskdeck/engine/llm"
	"github.com/taskdeck/taskdeck/engine/preference"
	"github.com/taskdeck/taskdeck/engine/task"
	"github.com/taskdeck/taskdeck/engine/task/stream"
	"github.com/taskdeck/taskdeck/engine/tool"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

type SubmitInput struct {
	Task       *task.Task
	UserID     string
	Prompt     string
	LLMID      string
	Tools      []tool.Ref
	History    []task.HistoryMessage
	ShouldPlan bool
	Files      []executor.File
	// Preferences overrides the stored preferences of UserID when set.
	Preferences *preference.Preferences
}

type SubmitResult struct {
	TaskID core.ID `json:"task_id"`
	OutID  string  `json:"out_id"`
}

// Submit hands the task to the executor and starts consuming its event
// stream in the background. It returns once the executor acknowledges.
func (s *Service) Submit(ctx context.Context, in *SubmitInput) (*SubmitResult, error) {
	t := in.Task
	log := logger.FromContext(ctx).With("task_id", t.ID)
	submission, err := s.buildSubmission(ctx, in)
	if err != nil {
		return nil, err
	}
	resp, err := s.executor.SubmitTask(ctx, submission)
	if err != nil {
		var submitErr *task.SubmissionError
		if errors.As(err, &submitErr) {
			s.record(SubmissionRejected)
		} else {
			s.record(SubmissionFailed)
		}
		log.Error("Executor submission failed", "error", err)
		s.markFailed(ctx, t)
		return nil, err
	}
	s.record(SubmissionAccepted)
	updated, err := s.tasks.MarkProcessing(ctx, t.ID, resp.TaskID)
	if err != nil {
		return nil, fmt.Errorf("marking task %s processing: %w", t.ID, err)
	}
	if updated == nil {
		return nil, fmt.Errorf("task %s changed during submission: %w", t.ID, task.ErrConflict)
	}
	job := stream.Job{
		TaskID:         updated.ID,
		OrganizationID: updated.OrganizationID,
		OutID:          *updated.OutID,
		Round:          updated.Round,
	}
	if err := s.consumers.Start(ctx, job); err != nil {
		// the task stays processing; startup recovery attaches a consumer
		log.Error("Failed to start stream consumer", "error", err)
	}
	log.Info("Task submitted", "out_id", job.OutID, "round", job.Round)
	return &SubmitResult{TaskID: updated.ID, OutID: job.OutID}, nil
}

func (s *Service) buildSubmission(ctx context.Context, in *SubmitInput) (*executor.Submission, error) {
	t := in.Task
	cfg, err := s.llmConfigs.Get(ctx, in.LLMID, t.OrganizationID)
	if errors.Is(err, llm.ErrNotFound) {
		return nil, task.NotFound("llm config", in.LLMID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading llm config %s: %w", in.LLMID, err)
	}
	conn, err := cfg.Connection(s.cipher)
	if err != nil {
		return nil, err
	}
	prefs := in.Preferences
	if prefs == nil {
		prefs, err = preference.Resolve(ctx, s.preferences, t.OrganizationID, in.UserID)
		if err != nil {
			return nil, fmt.Errorf("loading preferences: %w", err)
		}
	}
	tools := make([]string, 0, len(in.Tools))
	for _, ref := range in.Tools {
		encoded, err := ref.Encode()
		if err != nil {
			return nil, err
		}
		tools = append(tools, encoded)
	}
	history := in.History
	if history == nil {
		history = []task.HistoryMessage{}
	}
	return &executor.Submission{
		TaskID:      t.CompositeID(),
		Prompt:      in.Prompt,
		ShouldPlan:  in.ShouldPlan,
		Tools:       tools,
		Preferences: prefs,
		LLMConfig:   conn,
		History:     history,
		Files:       in.Files,
	}, nil
}
