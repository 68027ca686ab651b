// Package tasktest provides in-memory task repositories for tests.
package tasktest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/task"
)

// Store implements task.Repository and task.ProgressRepository in memory,
// including the guarded status transitions and the unique (task, index) key.
type Store struct {
	mu       sync.Mutex
	tasks    map[core.ID]*task.Task
	progress map[core.ID][]*task.Progress
	// AppendErr, when set, is returned by Append.
	AppendErr error
}

func NewStore() *Store {
	return &Store{
		tasks:    make(map[core.ID]*task.Task),
		progress: make(map[core.ID][]*task.Progress),
	}
}

func clone(t *task.Task) *task.Task {
	c := *t
	c.Tools = slices.Clone(t.Tools)
	if t.OutID != nil {
		out := *t.OutID
		c.OutID = &out
	}
	if t.ShareExpiresAt != nil {
		at := *t.ShareExpiresAt
		c.ShareExpiresAt = &at
	}
	return &c
}

// Put stores t as-is, bypassing transition guards.
func (s *Store) Put(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = clone(t)
}

// Task returns a snapshot of the stored task or nil.
func (s *Store) Task(id core.ID) *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return clone(t)
	}
	return nil
}

// Count returns the number of stored tasks.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// All returns snapshots of every stored task ordered by id.
func (s *Store) All() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Create(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.tasks[t.ID] = clone(t)
	return nil
}

func (s *Store) Get(_ context.Context, id core.ID) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, task.NotFound("task", id)
	}
	return clone(t), nil
}

func (s *Store) GetByOrg(ctx context.Context, id core.ID, orgID string) (*task.Task, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OrganizationID != orgID {
		return nil, task.NotFound("task", id)
	}
	return t, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id core.ID, to task.Status) (bool, error) {
	return s.UpdateStatusFrom(ctx, id, to, task.AllowedFrom(to))
}

func (s *Store) UpdateStatusFrom(_ context.Context, id core.ID, to task.Status, from []task.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || !slices.Contains(from, t.Status) || !task.CanTransition(t.Status, to) {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) MarkProcessing(_ context.Context, id core.ID, outID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || !task.CanTransition(t.Status, task.StatusProcessing) {
		return nil, nil
	}
	t.Status = task.StatusProcessing
	if t.OutID == nil {
		t.OutID = &outID
	}
	t.Round++
	t.UpdatedAt = time.Now()
	return clone(t), nil
}

func (s *Store) SetShareExpiry(_ context.Context, id core.ID, orgID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.OrganizationID != orgID {
		return task.NotFound("task", id)
	}
	t.ShareExpiresAt = &expiresAt
	return nil
}

func (s *Store) ListRecoverable(_ context.Context) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status.IsActive() {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Append(_ context.Context, p *task.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	for _, existing := range s.progress[p.TaskID] {
		if existing.Index == p.Index {
			return fmt.Errorf("duplicate progress index %d for task %s", p.Index, p.TaskID)
		}
	}
	row := *p
	row.CreatedAt = time.Now()
	s.progress[p.TaskID] = append(s.progress[p.TaskID], &row)
	return nil
}

// AddProgress stores rows directly.
func (s *Store) AddProgress(rows ...*task.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range rows {
		row := *p
		s.progress[p.TaskID] = append(s.progress[p.TaskID], &row)
	}
}

func (s *Store) ListByTask(ctx context.Context, taskID core.ID) ([]*task.Progress, error) {
	return s.ListAfter(ctx, taskID, -1)
}

func (s *Store) ListAfter(_ context.Context, taskID core.ID, afterIndex int) ([]*task.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*task.Progress, 0)
	for _, p := range s.progress[taskID] {
		if p.Index > afterIndex {
			row := *p
			out = append(out, &row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *Store) Stats(_ context.Context, taskID core.ID, round int) (task.ProgressStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats task.ProgressStats
	for _, p := range s.progress[taskID] {
		stats.Count++
		stats.MaxRound = max(stats.MaxRound, p.Round)
		if p.Round == round {
			stats.RoundEvents++
		}
	}
	return stats, nil
}
