package streaming

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/task"
)

func newTestPublisher(t *testing.T, opts *RedisOptions) (*RedisPublisher, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	p, err := NewRedisPublisher(client, opts)
	require.NoError(t, err)
	return p, s
}

func row(taskID core.ID, index int) *task.Progress {
	return &task.Progress{
		ID:      core.ID("p" + string(rune('a'+index))),
		TaskID:  taskID,
		Index:   index,
		Round:   1,
		Type:    "agent:lifecycle:step",
		Content: json.RawMessage(`{"n":1}`),
	}
}

func TestRedisPublisher_PublishReplay(t *testing.T) {
	ctx := context.Background()

	t.Run("Should replay rows after an index in ascending order", func(t *testing.T) {
		p, _ := newTestPublisher(t, nil)
		for i := range 4 {
			require.NoError(t, p.Publish(ctx, row("t1", i)))
		}
		rows, err := p.Replay(ctx, "t1", 1)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, 2, rows[0].Index)
		assert.Equal(t, 3, rows[1].Index)
		assert.JSONEq(t, `{"n":1}`, string(rows[0].Content))
	})

	t.Run("Should trim the backlog and set its expiry", func(t *testing.T) {
		p, s := newTestPublisher(t, &RedisOptions{Prefix: "test:", MaxEntries: 2, TTL: time.Minute})
		for i := range 5 {
			require.NoError(t, p.Publish(ctx, row("t1", i)))
		}
		rows, err := p.Replay(ctx, "t1", -1)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, 3, rows[0].Index)
		assert.Equal(t, time.Minute, s.TTL("test:log:t1"))
	})

	t.Run("Should return nothing for unknown tasks", func(t *testing.T) {
		p, _ := newTestPublisher(t, nil)
		rows, err := p.Replay(ctx, "missing", -1)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("Should reject rows without a task id", func(t *testing.T) {
		p, _ := newTestPublisher(t, nil)
		assert.Error(t, p.Publish(ctx, &task.Progress{}))
	})

	t.Run("Should reject a nil client and negative backlog", func(t *testing.T) {
		_, err := NewRedisPublisher(nil, nil)
		assert.Error(t, err)
		s := miniredis.RunT(t)
		_, err = NewRedisPublisher(redis.NewClient(&redis.Options{Addr: s.Addr()}), &RedisOptions{MaxEntries: -1})
		assert.Error(t, err)
	})
}

func TestRedisPublisher_Subscribe(t *testing.T) {
	t.Run("Should deliver published rows to subscribers", func(t *testing.T) {
		p, _ := newTestPublisher(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sub, err := p.Subscribe(ctx, "t1")
		require.NoError(t, err)
		defer sub.Close()
		require.NoError(t, p.Publish(ctx, row("t2", 0)))
		require.NoError(t, p.Publish(ctx, row("t1", 7)))
		select {
		case got := <-sub.Rows():
			require.NotNil(t, got)
			assert.Equal(t, core.ID("t1"), got.TaskID)
			assert.Equal(t, 7, got.Index)
		case <-time.After(2 * time.Second):
			t.Fatal("no row delivered")
		}
	})

	t.Run("Should close the row channel when the context ends", func(t *testing.T) {
		p, _ := newTestPublisher(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		sub, err := p.Subscribe(ctx, "t1")
		require.NoError(t, err)
		cancel()
		select {
		case _, ok := <-sub.Rows():
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("subscription did not close")
		}
	})
}
