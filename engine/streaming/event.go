// Package streaming fans persisted task progress out to live subscribers.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/task"
)

// Feed publishes progress rows and lets readers catch up and follow them.
type Feed interface {
	Publish(ctx context.Context, row *task.Progress) error
	Replay(ctx context.Context, taskID core.ID, afterIndex int) ([]*task.Progress, error)
	Subscribe(ctx context.Context, taskID core.ID) (*Subscription, error)
}

func encodeProgress(row *task.Progress) ([]byte, error) {
	if row == nil || row.TaskID.IsZero() {
		return nil, fmt.Errorf("streaming: task id is required")
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("streaming: marshal progress: %w", err)
	}
	return payload, nil
}

func decodeProgress(payload string) (*task.Progress, error) {
	var row task.Progress
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		return nil, fmt.Errorf("streaming: decode progress: %w", err)
	}
	return &row, nil
}
