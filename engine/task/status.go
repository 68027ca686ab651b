package task

import "slices"

type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusTerminating Status = "terminating"
	StatusCompleted   Status = "completed"
	StatusTerminated  Status = "terminated"
	StatusFailed      Status = "failed"
)

// allowedFrom lists, per target status, the statuses a task may leave to reach it.
// Restarting a finished task goes back through processing.
var allowedFrom = map[Status][]Status{
	StatusProcessing:  {StatusPending, StatusCompleted, StatusTerminated, StatusFailed},
	StatusTerminating: {StatusProcessing},
	StatusCompleted:   {StatusProcessing, StatusTerminating},
	StatusTerminated:  {StatusProcessing, StatusTerminating},
	StatusFailed:      {StatusPending, StatusProcessing, StatusTerminating, StatusCompleted, StatusTerminated},
}

func (s Status) String() string {
	return string(s)
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusTerminating, StatusCompleted, StatusTerminated, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether a task in this status may be resumed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusTerminated || s == StatusFailed
}

// IsActive reports whether the executor is expected to still be running the task.
func (s Status) IsActive() bool {
	return s == StatusProcessing || s == StatusTerminating
}

// ActiveStatuses are the statuses a running stream consumer may still move.
func ActiveStatuses() []Status {
	return []Status{StatusProcessing, StatusTerminating}
}

// AllowedFrom returns the statuses from which target can be reached.
func AllowedFrom(target Status) []Status {
	return slices.Clone(allowedFrom[target])
}

// CanTransition reports whether from → to is permitted.
func CanTransition(from, to Status) bool {
	return slices.Contains(allowedFrom[to], from)
}
