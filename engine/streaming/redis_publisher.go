package streaming

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/task"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

const (
	defaultPrefix     = "taskdeck:progress:"
	defaultMaxEntries = 500
	defaultTTL        = 24 * time.Hour
	subscriptionBuf   = 64
)

// RedisOptions controls Redis publisher behavior.
type RedisOptions struct {
	Prefix     string
	MaxEntries int64
	TTL        time.Duration
}

// RedisPublisher keeps a bounded backlog of progress rows per task in a Redis
// list and broadcasts each row on a per-task channel.
type RedisPublisher struct {
	client     redis.UniversalClient
	prefix     string
	maxEntries int64
	ttl        time.Duration
}

func NewRedisPublisher(client redis.UniversalClient, opts *RedisOptions) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("streaming: redis client is required")
	}
	p := &RedisPublisher{client: client, prefix: defaultPrefix, maxEntries: defaultMaxEntries, ttl: defaultTTL}
	if opts != nil {
		if opts.Prefix != "" {
			p.prefix = opts.Prefix
		}
		if opts.MaxEntries < 0 {
			return nil, fmt.Errorf("streaming: max entries must be >= 0 (got %d)", opts.MaxEntries)
		}
		if opts.MaxEntries > 0 {
			p.maxEntries = opts.MaxEntries
		}
		if opts.TTL > 0 {
			p.ttl = opts.TTL
		}
	}
	return p, nil
}

// Publish appends the row to the task backlog and broadcasts it.
func (p *RedisPublisher) Publish(ctx context.Context, row *task.Progress) error {
	payload, err := encodeProgress(row)
	if err != nil {
		return err
	}
	logKey := p.logKey(row.TaskID)
	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, logKey, payload)
	pipe.LTrim(ctx, logKey, 0, p.maxEntries-1)
	pipe.Expire(ctx, logKey, p.ttl)
	pipe.Publish(ctx, p.Channel(row.TaskID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("streaming: persist progress: %w", err)
	}
	return nil
}

// Replay returns backlog rows with an index above afterIndex in ascending order.
func (p *RedisPublisher) Replay(ctx context.Context, taskID core.ID, afterIndex int) ([]*task.Progress, error) {
	values, err := p.client.LRange(ctx, p.logKey(taskID), 0, p.maxEntries-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("streaming: fetch backlog: %w", err)
	}
	rows := make([]*task.Progress, 0, len(values))
	for _, value := range slices.Backward(values) {
		row, err := decodeProgress(value)
		if err != nil || row.Index <= afterIndex {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Channel returns the pub/sub channel for the task.
func (p *RedisPublisher) Channel(taskID core.ID) string {
	return p.prefix + "ch:" + taskID.String()
}

func (p *RedisPublisher) logKey(taskID core.ID) string {
	return p.prefix + "log:" + taskID.String()
}

// Subscription delivers rows published for one task until closed.
type Subscription struct {
	pubsub *redis.PubSub
	rows   chan *task.Progress
}

// Rows is closed when the subscription ends.
func (s *Subscription) Rows() <-chan *task.Progress {
	return s.rows
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

// Subscribe follows rows published for taskID. Cancel ctx or call Close to stop.
func (p *RedisPublisher) Subscribe(ctx context.Context, taskID core.ID) (*Subscription, error) {
	pubsub := p.client.Subscribe(ctx, p.Channel(taskID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("streaming: subscribe: %w", err)
	}
	sub := &Subscription{pubsub: pubsub, rows: make(chan *task.Progress, subscriptionBuf)}
	go sub.pump(ctx)
	return sub, nil
}

func (s *Subscription) pump(ctx context.Context) {
	defer close(s.rows)
	log := logger.FromContext(ctx)
	messages := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.pubsub.Close()
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			row, err := decodeProgress(msg.Payload)
			if err != nil {
				log.Warn("Dropping undecodable progress message", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case s.rows <- row:
			case <-ctx.Done():
				s.pubsub.Close()
				return
			}
		}
	}
}
