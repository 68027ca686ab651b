package task

import (
	"encoding/json"
	"time"

	"github.com/taskdeck/taskdeck/engine/core"
)

// -----------------------------------------------------------------------------
// Event names emitted by the executor
// -----------------------------------------------------------------------------

const (
	EventLifecycleStart       = "agent:lifecycle:start"
	EventLifecycleComplete    = "agent:lifecycle:complete"
	EventLifecycleTerminating = "agent:lifecycle:terminating"
	EventLifecycleTerminated  = "agent:lifecycle:terminated"
)

// -----------------------------------------------------------------------------
// Task
// -----------------------------------------------------------------------------

// Task is one unit of work submitted to the executor.
type Task struct {
	ID             core.ID    `json:"id"                         db:"id"`
	OutID          *string    `json:"out_id,omitempty"           db:"out_id"`
	OrganizationID string     `json:"organization_id"            db:"organization_id"`
	UserID         string     `json:"user_id"                    db:"user_id"`
	Status         Status     `json:"status"                     db:"status"`
	Prompt         string     `json:"prompt"                     db:"prompt"`
	LLMID          string     `json:"llm_id"                     db:"llm_id"`
	Tools          []string   `json:"tools"                      db:"tools"`
	Round          int        `json:"round"                      db:"round"`
	ShareExpiresAt *time.Time `json:"share_expires_at,omitempty" db:"share_expires_at"`
	CreatedAt      time.Time  `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"                 db:"updated_at"`
}

// CompositeID is the identifier the executor knows this task by.
func (t *Task) CompositeID() string {
	return CompositeID(t.OrganizationID, t.ID)
}

// HasOutID reports whether the executor acknowledged the task.
func (t *Task) HasOutID() bool {
	return t.OutID != nil && *t.OutID != ""
}

// ShareExpired reports whether the share link has lapsed at now.
func (t *Task) ShareExpired(now time.Time) bool {
	return t.ShareExpiresAt != nil && t.ShareExpiresAt.Before(now)
}

// CompositeID joins organization and task ids as "org/task".
func CompositeID(orgID string, taskID core.ID) string {
	return orgID + "/" + taskID.String()
}

// -----------------------------------------------------------------------------
// Progress
// -----------------------------------------------------------------------------

// Progress is one persisted event reported by the executor for a task.
type Progress struct {
	ID             core.ID         `json:"id"              db:"id"`
	TaskID         core.ID         `json:"task_id"         db:"task_id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	Index          int             `json:"index"           db:"index"`
	Step           int             `json:"step"            db:"step"`
	Round          int             `json:"round"           db:"round"`
	Type           string          `json:"type"            db:"type"`
	Content        json.RawMessage `json:"content"         db:"content"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
}

// ProgressStats summarizes the stored progress of a task. RoundEvents counts
// the rows of the round the stats were requested for.
type ProgressStats struct {
	Count       int `db:"count"`
	MaxRound    int `db:"max_round"`
	RoundEvents int `db:"round_events"`
}

// HistoryMessage is a single conversation turn replayed to the executor.
type HistoryMessage struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}
