package stream

import (
	"context"

	"github.com/taskdeck/taskdeck/engine/task"
)

// Recorder receives consumption metrics.
type Recorder interface {
	ConsumerStarted()
	ConsumerStopped(outcome string)
	EventPersisted(eventType string)
	MalformedFrame()
	Reconnected()
}

// Publisher fans persisted progress out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, p *task.Progress) error
}

type nopRecorder struct{}

func (nopRecorder) ConsumerStarted()       {}
func (nopRecorder) ConsumerStopped(string) {}
func (nopRecorder) EventPersisted(string)  {}
func (nopRecorder) MalformedFrame()        {}
func (nopRecorder) Reconnected()           {}
