package task

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("task is processing")
	ErrExpired  = errors.New("share link expired")
)

// SubmissionError reports that the executor rejected a submission or
// acknowledged it without an external id.
type SubmissionError struct {
	StatusCode int
	Body       string
}

func (e *SubmissionError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("executor submission failed: %s", e.Body)
	}
	return fmt.Sprintf("executor submission failed with status %d: %s", e.StatusCode, e.Body)
}

// NotFound wraps ErrNotFound with the missing resource.
func NotFound(resource string, id any) error {
	return fmt.Errorf("%s %v: %w", resource, id, ErrNotFound)
}
