package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/infra/server/router"
	"github.com/taskdeck/taskdeck/engine/streaming"
	"github.com/taskdeck/taskdeck/engine/task"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

const (
	eventProgress = "progress"
	eventEnd      = "end"

	defaultStreamPoll      = 2 * time.Second
	defaultStreamHeartbeat = 15 * time.Second
)

// LiveFeed follows rows published for a task and replays its recent backlog.
type LiveFeed interface {
	Subscribe(ctx context.Context, taskID core.ID) (*streaming.Subscription, error)
	Replay(ctx context.Context, taskID core.ID, afterIndex int) ([]*task.Progress, error)
}

// ConnectionRecorder tracks live progress connections.
type ConnectionRecorder interface {
	RecordConnect()
	RecordDisconnect(duration time.Duration)
}

type nopConnectionRecorder struct{}

func (nopConnectionRecorder) RecordConnect()                 {}
func (nopConnectionRecorder) RecordDisconnect(time.Duration) {}

type progressStream struct {
	tasks     TaskService
	live      LiveFeed
	recorder  ConnectionRecorder
	poll      time.Duration
	heartbeat time.Duration
}

// streamProgress replays stored progress after the client's cursor, then
// follows new rows until the task stops running or the client goes away.
// Gaps in the live feed are filled from storage.
func (p *progressStream) streamProgress(c *gin.Context) {
	id, taskID, ok := identityAndTask(c)
	if !ok {
		return
	}
	after, err := streamCursor(c)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	ctx := c.Request.Context()
	log := logger.FromContext(ctx).With("task_id", taskID)
	current, err := p.tasks.Get(ctx, taskID, id.OrganizationID)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	var rows <-chan *task.Progress
	// subscribe before replaying so rows published in between reach one or the other
	if p.live != nil {
		sub, err := p.live.Subscribe(ctx, taskID)
		if err != nil {
			log.Warn("Live progress unavailable, falling back to polling", "error", err)
		} else {
			defer sub.Close()
			rows = sub.Rows()
		}
	}
	sse := router.StartSSE(c.Writer)
	if sse == nil {
		router.RespondProblemWithCode(c, http.StatusInternalServerError, router.ErrInternalCode, "streaming unsupported")
		return
	}
	started := time.Now()
	p.recorder.RecordConnect()
	defer func() { p.recorder.RecordDisconnect(time.Since(started)) }()

	w := &progressWriter{sse: sse, last: after}
	if err := p.fill(ctx, w, taskID, id.OrganizationID, rows != nil && current.Status.IsActive()); err != nil {
		log.Warn("Progress replay failed", "error", err)
		return
	}
	if !current.Status.IsActive() {
		w.end(current.Status)
		return
	}
	if err := sse.WriteComment("live"); err != nil {
		return
	}
	poll := time.NewTicker(p.poll)
	defer poll.Stop()
	heartbeat := time.NewTicker(p.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case row, ok := <-rows:
			if !ok {
				rows = nil
				continue
			}
			if row.Index <= w.last {
				continue
			}
			if row.Index > w.last+1 {
				if err := p.fill(ctx, w, taskID, id.OrganizationID, true); err != nil {
					return
				}
			}
			if err := w.write(row); err != nil {
				return
			}
			if isFinalEvent(row.Type) {
				p.finish(ctx, w, taskID, id.OrganizationID)
				return
			}
		case <-poll.C:
			// status first: rows are stored before the transition that ends a run
			t, err := p.tasks.Get(ctx, taskID, id.OrganizationID)
			if err != nil {
				log.Warn("Task lookup failed during stream", "error", err)
				return
			}
			if err := p.catchUp(ctx, w, taskID, id.OrganizationID); err != nil {
				return
			}
			if !t.Status.IsActive() {
				w.end(t.Status)
				return
			}
		case <-heartbeat.C:
			if err := sse.WriteComment("heartbeat"); err != nil {
				return
			}
		}
	}
}

// fill writes the rows after the cursor, from the Redis backlog when allowed
// and it covers the whole range, otherwise from storage.
func (p *progressStream) fill(ctx context.Context, w *progressWriter, taskID core.ID, orgID string, useBacklog bool) error {
	if useBacklog {
		rows, err := p.live.Replay(ctx, taskID, w.last)
		if err != nil {
			logger.FromContext(ctx).Debug("Progress backlog unavailable", "task_id", taskID, "error", err)
		} else if contiguousFrom(rows, w.last+1) {
			for _, row := range rows {
				if err := w.write(row); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return p.catchUp(ctx, w, taskID, orgID)
}

// contiguousFrom reports whether rows is non-empty and numbered first, first+1, ...
func contiguousFrom(rows []*task.Progress, first int) bool {
	if len(rows) == 0 {
		return false
	}
	for i, row := range rows {
		if row.Index != first+i {
			return false
		}
	}
	return true
}

func (p *progressStream) catchUp(ctx context.Context, w *progressWriter, taskID core.ID, orgID string) error {
	stored, err := p.tasks.ListProgress(ctx, taskID, orgID, w.last)
	if err != nil {
		return err
	}
	for _, row := range stored {
		if err := w.write(row); err != nil {
			return err
		}
	}
	return nil
}

// finish flushes anything persisted alongside the final event and reports
// the status the task settled in.
func (p *progressStream) finish(ctx context.Context, w *progressWriter, taskID core.ID, orgID string) {
	if err := p.catchUp(ctx, w, taskID, orgID); err != nil {
		return
	}
	t, err := p.tasks.Get(ctx, taskID, orgID)
	if err != nil {
		w.end("")
		return
	}
	w.end(t.Status)
}

type progressWriter struct {
	sse  *router.SSEStream
	last int
}

func (w *progressWriter) write(row *task.Progress) error {
	if row.Index <= w.last {
		return nil
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}
	if err := w.sse.WriteEvent(strconv.Itoa(row.Index), eventProgress, payload); err != nil {
		return err
	}
	w.last = row.Index
	return nil
}

func (w *progressWriter) end(status task.Status) {
	payload, err := json.Marshal(map[string]any{"status": status})
	if err != nil {
		return
	}
	_ = w.sse.WriteEvent("", eventEnd, payload)
}

func isFinalEvent(eventType string) bool {
	return eventType == task.EventLifecycleComplete || eventType == task.EventLifecycleTerminated
}

// streamCursor prefers Last-Event-ID over the after query parameter. The
// default of -1 replays every row.
func streamCursor(c *gin.Context) (int, error) {
	if n, ok, err := router.LastEventID(c.Request); err != nil || ok {
		return n, err
	}
	raw := c.Query("after")
	if raw == "" {
		return -1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, router.BadRequest("invalid after %q", raw)
	}
	return n, nil
}
