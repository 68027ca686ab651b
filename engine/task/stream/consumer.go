package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/task"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

const (
	OutcomeCompleted  = "completed"
	OutcomeTerminated = "terminated"
	OutcomeEnded      = "ended"
	OutcomeCanceled   = "canceled"
	OutcomeFailed     = "failed"

	readBufferSize     = 32 * 1024
	statusWriteTimeout = 10 * time.Second
)

var (
	ErrIdleTimeout    = errors.New("event stream idle timeout")
	ErrMaxDuration    = errors.New("event stream exceeded max duration")
	errStreamBroken   = errors.New("event stream broken")
	errNotRetryable   = errors.New("not retryable")
	defaultReconnects = uint64(3)
)

// EventSource opens the executor's per-task event stream.
type EventSource interface {
	OpenEventStream(ctx context.Context, outID string) (io.ReadCloser, error)
}

// Job identifies the task whose stream should be consumed.
type Job struct {
	TaskID         core.ID
	OrganizationID string
	OutID          string
	// Round is the task's current round. Zero falls back to the latest
	// stored round.
	Round int
}

type Options struct {
	IdleTimeout        time.Duration
	MaxDuration        time.Duration
	ReconnectAttempts  uint64
	ReconnectBaseDelay time.Duration
}

// Consumer persists the executor's progress events for one task at a time.
type Consumer struct {
	tasks     task.Repository
	progress  task.ProgressRepository
	source    EventSource
	publisher Publisher
	recorder  Recorder
	opts      Options
}

func NewConsumer(
	tasks task.Repository,
	progress task.ProgressRepository,
	source EventSource,
	opts Options,
) *Consumer {
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = time.Second
	}
	return &Consumer{
		tasks:    tasks,
		progress: progress,
		source:   source,
		recorder: nopRecorder{},
		opts:     opts,
	}
}

// WithPublisher fans every persisted row out through p.
func (c *Consumer) WithPublisher(p Publisher) *Consumer {
	c.publisher = p
	return c
}

func (c *Consumer) WithRecorder(r Recorder) *Consumer {
	if r != nil {
		c.recorder = r
	}
	return c
}

// cursor tracks where the consumer is within the task's progress sequence.
type cursor struct {
	nextIndex   int
	round       int
	roundEvents int
	// skip counts replayed frames that are already persisted for this round.
	skip int
}

// Run consumes the stream until a terminal lifecycle event, a clean end of
// stream, or cancellation of ctx.
func (c *Consumer) Run(ctx context.Context, job Job) error {
	log := logger.FromContext(ctx).With("task_id", job.TaskID, "out_id", job.OutID)
	ctx = logger.ContextWithLogger(ctx, log)
	c.recorder.ConsumerStarted()
	cur, err := c.resume(ctx, job)
	if err != nil {
		c.recorder.ConsumerStopped(OutcomeFailed)
		return err
	}
	runCtx := ctx
	if c.opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, c.opts.MaxDuration, ErrMaxDuration)
		defer cancel()
	}
	outcome, err := c.consume(runCtx, job, cur)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		outcome, err = OutcomeCanceled, ctx.Err()
		log.Info("Stream consumption canceled", "index", cur.nextIndex)
	default:
		if errors.Is(context.Cause(runCtx), ErrMaxDuration) {
			err = ErrMaxDuration
		}
		outcome = OutcomeFailed
		log.Error("Stream consumption failed", "error", err, "index", cur.nextIndex)
		c.fail(ctx, job)
	}
	c.recorder.ConsumerStopped(outcome)
	log.Debug("Stream consumer stopped", "outcome", outcome, "index", cur.nextIndex)
	return err
}

func (c *Consumer) resume(ctx context.Context, job Job) (*cursor, error) {
	round := job.Round
	if round <= 0 {
		latest, err := c.progress.Stats(ctx, job.TaskID, 0)
		if err != nil {
			return nil, fmt.Errorf("loading progress stats: %w", err)
		}
		round = max(latest.MaxRound, 1)
	}
	stats, err := c.progress.Stats(ctx, job.TaskID, round)
	if err != nil {
		return nil, fmt.Errorf("loading progress stats: %w", err)
	}
	// rows already stored for this round will be replayed by the executor
	return &cursor{
		nextIndex:   stats.Count,
		round:       round,
		roundEvents: stats.RoundEvents,
		skip:        stats.RoundEvents,
	}, nil
}

func (c *Consumer) consume(ctx context.Context, job Job, cur *cursor) (string, error) {
	attempts := c.opts.ReconnectAttempts
	if attempts == 0 {
		attempts = defaultReconnects
	}
	backoff := retry.WithMaxRetries(attempts, retry.NewExponential(c.opts.ReconnectBaseDelay))
	outcome := OutcomeEnded
	first := true
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if !first {
			c.recorder.Reconnected()
			// the executor replays the current run from its first event
			cur.skip = cur.roundEvents
			logger.FromContext(ctx).Warn("Reconnecting to event stream", "index", cur.nextIndex)
		}
		first = false
		result, err := c.consumeOnce(ctx, job, cur)
		if err == nil {
			outcome = result
			return nil
		}
		if errors.Is(err, errNotRetryable) || errors.Is(err, ErrIdleTimeout) || ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	})
	return outcome, err
}

func (c *Consumer) consumeOnce(ctx context.Context, job Job, cur *cursor) (string, error) {
	body, err := c.source.OpenEventStream(ctx, job.OutID)
	if err != nil {
		return "", err
	}
	defer body.Close()
	var idle atomic.Bool
	var watchdog *time.Timer
	if c.opts.IdleTimeout > 0 {
		watchdog = time.AfterFunc(c.opts.IdleTimeout, func() {
			idle.Store(true)
			body.Close()
		})
		defer watchdog.Stop()
	}
	splitter := &Splitter{}
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if watchdog != nil {
				watchdog.Reset(c.opts.IdleTimeout)
			}
			if outcome, done, err := c.handleLines(ctx, job, cur, splitter.Push(buf[:n])); done || err != nil {
				return outcome, err
			}
		}
		if readErr == nil {
			continue
		}
		if idle.Load() {
			return "", ErrIdleTimeout
		}
		if errors.Is(readErr, io.EOF) {
			outcome, _, err := c.handleLines(ctx, job, cur, splitter.Flush())
			if outcome == "" {
				outcome = OutcomeEnded
			}
			return outcome, err
		}
		return "", fmt.Errorf("%w: %w", errStreamBroken, readErr)
	}
}

func (c *Consumer) handleLines(ctx context.Context, job Job, cur *cursor, lines []string) (string, bool, error) {
	for _, line := range lines {
		outcome, err := c.handleLine(ctx, job, cur, line)
		if err != nil {
			return "", true, err
		}
		if outcome != "" {
			return outcome, true, nil
		}
	}
	return "", false, nil
}

// handleLine returns a non-empty outcome when the line ends consumption.
func (c *Consumer) handleLine(ctx context.Context, job Job, cur *cursor, line string) (string, error) {
	log := logger.FromContext(ctx)
	frame, ok, err := ParseFrame(line)
	if err != nil {
		c.recorder.MalformedFrame()
		log.Warn("Skipping malformed stream frame", "index", cur.nextIndex, "error", err, "line", truncate(line, 256))
		return "", nil
	}
	if !ok {
		return "", nil
	}
	if cur.skip > 0 {
		cur.skip--
		return c.applyTransition(ctx, job, frame.EventName), nil
	}
	if err := c.persist(ctx, job, cur, frame); err != nil {
		return "", fmt.Errorf("%w: %w", errNotRetryable, err)
	}
	return c.applyTransition(ctx, job, frame.EventName), nil
}

func (c *Consumer) persist(ctx context.Context, job Job, cur *cursor, frame Frame) error {
	id, err := core.NewID()
	if err != nil {
		return err
	}
	p := &task.Progress{
		ID:             id,
		TaskID:         job.TaskID,
		OrganizationID: job.OrganizationID,
		Index:          cur.nextIndex,
		Step:           frame.Step,
		Round:          cur.round,
		Type:           frame.EventName,
		Content:        frame.Content,
	}
	if err := c.progress.Append(ctx, p); err != nil {
		return fmt.Errorf("persisting progress %d: %w", p.Index, err)
	}
	cur.nextIndex++
	cur.roundEvents++
	c.recorder.EventPersisted(p.Type)
	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, p); err != nil {
			logger.FromContext(ctx).Warn("Failed to publish progress", "index", p.Index, "error", err)
		}
	}
	return nil
}

func (c *Consumer) applyTransition(ctx context.Context, job Job, eventName string) string {
	switch eventName {
	case task.EventLifecycleComplete:
		c.transition(ctx, job, task.StatusCompleted)
		return OutcomeCompleted
	case task.EventLifecycleTerminating:
		c.transition(ctx, job, task.StatusTerminating)
	case task.EventLifecycleTerminated:
		c.transition(ctx, job, task.StatusTerminated)
		return OutcomeTerminated
	}
	return ""
}

// transition writes a status change; failures are logged, never returned.
func (c *Consumer) transition(ctx context.Context, job Job, to task.Status) {
	log := logger.FromContext(ctx)
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	applied, err := c.tasks.UpdateStatus(wctx, job.TaskID, to)
	if err != nil {
		log.Error("Failed to update task status", "status", to, "error", err)
		return
	}
	if !applied {
		log.Debug("Status transition not applicable", "status", to)
	}
}

// fail marks the task failed unless it already reached an outcome, such as a
// local terminate that landed while the stream was still open.
func (c *Consumer) fail(ctx context.Context, job Job) {
	log := logger.FromContext(ctx)
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	applied, err := c.tasks.UpdateStatusFrom(wctx, job.TaskID, task.StatusFailed, task.ActiveStatuses())
	if err != nil {
		log.Error("Failed to mark task failed", "error", err)
		return
	}
	if !applied {
		log.Info("Task already finished; keeping its status")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
