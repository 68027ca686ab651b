// Package orchestrator owns the task lifecycle: creation and resumption,
// submission to the executor, termination and public sharing.
package orchestrator

import (
	"context"
	"time"

	"github.com/taskdeck/taskdeck/engine/executor"
	"github.com/taskdeck/taskdeck/engine/llm"
	"github.com/taskdeck/taskdeck/engine/preference"
	"github.com/taskdeck/taskdeck/engine/secret"
	"github.com/taskdeck/taskdeck/engine/task"
	"github.com/taskdeck/taskdeck/engine/task/stream"
	"github.com/taskdeck/taskdeck/engine/tool"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

const (
	SubmissionAccepted = "accepted"
	SubmissionRejected = "rejected"
	SubmissionFailed   = "transport_error"

	statusWriteTimeout = 10 * time.Second
)

// Executor is the subset of the executor client the orchestrator drives.
type Executor interface {
	SubmitTask(ctx context.Context, s *executor.Submission) (*executor.SubmitResponse, error)
	TerminateTask(ctx context.Context, compositeID string) error
}

type ToolResolver interface {
	Resolve(ctx context.Context, orgID string, refs []string) ([]tool.Ref, error)
}

// ConsumerStarter runs stream consumers in the background.
type ConsumerStarter interface {
	Start(ctx context.Context, job stream.Job) error
}

type SubmissionRecorder interface {
	SubmissionFinished(outcome string)
}

type Deps struct {
	Tasks       task.Repository
	Progress    task.ProgressRepository
	LLMConfigs  llm.Repository
	Preferences preference.Repository
	Tools       ToolResolver
	Executor    Executor
	Consumers   ConsumerStarter
	Cipher      secret.Cipher
	Recorder    SubmissionRecorder
	Now         func() time.Time
}

type Service struct {
	tasks       task.Repository
	progress    task.ProgressRepository
	llmConfigs  llm.Repository
	preferences preference.Repository
	tools       ToolResolver
	executor    Executor
	consumers   ConsumerStarter
	cipher      secret.Cipher
	recorder    SubmissionRecorder
	now         func() time.Time
}

func NewService(deps Deps) *Service {
	s := &Service{
		tasks:       deps.Tasks,
		progress:    deps.Progress,
		llmConfigs:  deps.LLMConfigs,
		preferences: deps.Preferences,
		tools:       deps.Tools,
		executor:    deps.Executor,
		consumers:   deps.Consumers,
		cipher:      deps.Cipher,
		recorder:    deps.Recorder,
		now:         deps.Now,
	}
	if s.cipher == nil {
		s.cipher = secret.Plaintext{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) record(outcome string) {
	if s.recorder != nil {
		s.recorder.SubmissionFinished(outcome)
	}
}

// markFailed writes the failed status even when the request context is gone.
func (s *Service) markFailed(ctx context.Context, t *task.Task) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if _, err := s.tasks.UpdateStatus(wctx, t.ID, task.StatusFailed); err != nil {
		logger.FromContext(ctx).Error("Failed to mark task failed", "task_id", t.ID, "error", err)
	}
}
