package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNoMessage is returned by ReceiveOnce when no message is visible.
var ErrNoMessage = errors.New("redis: no message") //nolint:gochecknoglobals // sentinel error

// Message is one queued job reference.
type Message struct {
	// Handle identifies the in-flight delivery for Delete/ChangeVisibility.
	Handle string
	Body   string
}

// Queue is an at-least-once delivery queue with visibility timeouts, built
// on a sorted set scored by visible-at time plus a body hash. A received
// message becomes invisible until its visibility deadline; unacked messages
// reappear and are redelivered. Duplicate execution is prevented downstream
// by the job store's conditional queued->running claim, so standard
// (non-FIFO) semantics are sufficient.
type Queue struct {
	client *Client
	key    string
}

// NewQueue creates a queue named name on the shared client.
func NewQueue(client *Client, name string) *Queue {
	return &Queue{client: client, key: "queue:" + name}
}

func (q *Queue) zsetKey() string { return q.key }
func (q *Queue) bodyKey() string { return q.key + ":body" }

//nolint:gochecknoglobals // compiled once, shared across queue instances
var receiveScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call('ZADD', KEYS[1], ARGV[2], id)
local body = redis.call('HGET', KEYS[2], id)
return {id, body}
`)

// Send enqueues body, visible after delay.
func (q *Queue) Send(ctx context.Context, body string, delay time.Duration) error {
	id := uuid.NewString()
	visibleAt := float64(time.Now().Add(delay).UnixMilli())

	pipe := q.client.rdb.TxPipeline()
	pipe.HSet(ctx, q.bodyKey(), id, body)
	pipe.ZAdd(ctx, q.zsetKey(), redis.Z{Score: visibleAt, Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis.Queue.Send: %w", err)
	}
	return nil
}

// ReceiveOnce claims the oldest visible message, hiding it for the
// visibility window. Returns ErrNoMessage when the queue has nothing
// visible.
func (q *Queue) ReceiveOnce(ctx context.Context, visibility time.Duration) (*Message, error) {
	now := time.Now()
	res, err := receiveScript.Run(ctx, q.client.rdb,
		[]string{q.zsetKey(), q.bodyKey()},
		now.UnixMilli(), now.Add(visibility).UnixMilli(),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoMessage
	}
	if err != nil {
		return nil, fmt.Errorf("redis.Queue.ReceiveOnce: %w", err)
	}

	pair, ok := res.([]any)
	if !ok || len(pair) != 2 {
		return nil, fmt.Errorf("redis.Queue.ReceiveOnce: unexpected script reply %T", res)
	}

	id, _ := pair[0].(string)
	body, _ := pair[1].(string)
	return &Message{Handle: id, Body: body}, nil
}

// Receive blocks until a message is visible or ctx is done, polling with a
// short interval. Redis pub/sub is not used here so that delayed
// (backoff_until) messages surface on schedule.
func (q *Queue) Receive(ctx context.Context, visibility time.Duration) (*Message, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		msg, err := q.ReceiveOnce(ctx, visibility)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, ErrNoMessage) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Delete acks a delivered message so it is never redelivered.
func (q *Queue) Delete(ctx context.Context, handle string) error {
	pipe := q.client.rdb.TxPipeline()
	pipe.ZRem(ctx, q.zsetKey(), handle)
	pipe.HDel(ctx, q.bodyKey(), handle)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis.Queue.Delete: %w", err)
	}
	return nil
}

// ChangeVisibility reschedules an in-flight message to become visible after
// delay, e.g. to release a backed-off job without executing it.
func (q *Queue) ChangeVisibility(ctx context.Context, handle string, delay time.Duration) error {
	visibleAt := float64(time.Now().Add(delay).UnixMilli())
	err := q.client.rdb.ZAddXX(ctx, q.zsetKey(), redis.Z{Score: visibleAt, Member: handle}).Err()
	if err != nil {
		return fmt.Errorf("redis.Queue.ChangeVisibility: %w", err)
	}
	return nil
}

// Depth returns the number of messages in the queue, visible or not.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.rdb.ZCard(ctx, q.zsetKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis.Queue.Depth: %w", err)
	}
	return n, nil
}
