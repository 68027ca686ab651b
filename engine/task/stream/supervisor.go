package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/task"
	"github.com/taskdeck/taskdeck/pkg/logger"
	"golang.org/x/sync/semaphore"
)

const defaultMaxConsumers = 256

var ErrSupervisorClosed = errors.New("stream supervisor is shut down")

// Runner consumes one job to completion.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

type consumerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns every background consumer. Consumers run under a root
// context that Shutdown cancels, at most one per task, and at most
// maxConsumers concurrently.
type Supervisor struct {
	runner Runner
	root   context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[core.ID]*consumerHandle
	closed bool
}

func NewSupervisor(runner Runner, maxConsumers int64) *Supervisor {
	if maxConsumers <= 0 {
		maxConsumers = defaultMaxConsumers
	}
	root, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		runner: runner,
		root:   root,
		cancel: cancel,
		sem:    semaphore.NewWeighted(maxConsumers),
		active: make(map[core.ID]*consumerHandle),
	}
}

// Start launches a consumer for job. A consumer already running for the same
// task is canceled and awaited before the new one begins.
func (s *Supervisor) Start(ctx context.Context, job Job) error {
	return s.launch(ctx, job, true)
}

// Attach launches a consumer only when none is running for the task.
func (s *Supervisor) Attach(ctx context.Context, job Job) error {
	return s.launch(ctx, job, false)
}

func (s *Supervisor) launch(ctx context.Context, job Job, replace bool) error {
	log := logger.FromContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSupervisorClosed
	}
	previous, running := s.active[job.TaskID]
	if running && !replace {
		log.Debug("Consumer already attached", "task_id", job.TaskID)
		return nil
	}
	if running {
		previous.cancel()
	}
	runCtx, cancel := context.WithCancel(logger.ContextWithLogger(s.root, log))
	handle := &consumerHandle{cancel: cancel, done: make(chan struct{})}
	s.active[job.TaskID] = handle
	s.wg.Add(1)
	go s.run(runCtx, job, handle, previous)
	return nil
}

func (s *Supervisor) run(ctx context.Context, job Job, handle *consumerHandle, previous *consumerHandle) {
	defer s.wg.Done()
	defer close(handle.done)
	defer s.release(job.TaskID, handle)
	defer handle.cancel()
	log := logger.FromContext(ctx).With("task_id", job.TaskID, "out_id", job.OutID)
	if previous != nil {
		select {
		case <-previous.done:
		case <-ctx.Done():
			return
		}
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Stream consumer panicked", "panic", fmt.Sprint(r))
		}
	}()
	if err := s.runner.Run(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Stream consumer exited with error", "error", err)
	}
}

func (s *Supervisor) release(taskID core.ID, handle *consumerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[taskID] == handle {
		delete(s.active, taskID)
	}
}

// Active returns the number of tasks with a consumer.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// IsActive reports whether a consumer is running for the task.
func (s *Supervisor) IsActive(taskID core.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[taskID]
	return ok
}

// Recover attaches consumers to every task the executor may still be running.
func (s *Supervisor) Recover(ctx context.Context, tasks task.Repository) (int, error) {
	log := logger.FromContext(ctx)
	pending, err := tasks.ListRecoverable(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing recoverable tasks: %w", err)
	}
	attached := 0
	for _, t := range pending {
		if !t.HasOutID() {
			continue
		}
		job := Job{TaskID: t.ID, OrganizationID: t.OrganizationID, OutID: *t.OutID, Round: t.Round}
		if err := s.Attach(ctx, job); err != nil {
			return attached, err
		}
		attached++
	}
	log.Info("Recovered stream consumers", "count", attached)
	return attached, nil
}

// Shutdown cancels every consumer and waits for them to exit or ctx to end.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for stream consumers: %w", ctx.Err())
	}
}
