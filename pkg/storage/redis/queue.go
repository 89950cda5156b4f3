package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
)

// claimScript leases the first visible message.
// KEYS[1] queue, ARGV: now ms, lease-until ms, message key prefix, worker id.
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id, score = ids[1], ids[2]
redis.call('ZADD', KEYS[1], ARGV[2], id)
local mk = ARGV[3] .. id
redis.call('HSET', mk, 'locked_by', ARGV[4])
local n = redis.call('HINCRBY', mk, 'deliveries', 1)
local payload = redis.call('HGET', mk, 'payload') or ''
return {id, payload, n, score}
`)

// ackScript removes a message held by ARGV[1].
// KEYS[1] queue, KEYS[2] message hash, ARGV: worker id, message id.
var ackScript = goredis.NewScript(`
if redis.call('HGET', KEYS[2], 'locked_by') ~= ARGV[1] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('DEL', KEYS[2])
return 1
`)

// retryScript reschedules a message held by ARGV[1].
// KEYS[1] queue, KEYS[2] message hash, ARGV: worker id, message id, ready ms.
var retryScript = goredis.NewScript(`
if redis.call('HGET', KEYS[2], 'locked_by') ~= ARGV[1] then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[2])
redis.call('HSET', KEYS[2], 'locked_by', '')
return 1
`)

// extendScript moves the score of a message held by ARGV[1].
// KEYS[1] queue, KEYS[2] message hash, ARGV: worker id, message id, lease-until ms.
var extendScript = goredis.NewScript(`
if redis.call('HGET', KEYS[2], 'locked_by') ~= ARGV[1] then
	return 0
end
if not redis.call('ZSCORE', KEYS[1], ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[2])
return 1
`)

// DequeueMessage leases the next visible message, or returns nil.
func (s *Store) DequeueMessage(ctx context.Context, workerID string, lease time.Duration) (*core.Message, error) {
	now := s.now()
	res, err := claimScript.Run(ctx, s.client, []string{s.queueKey()},
		now.UnixMilli(), now.Add(lease).UnixMilli(), s.messagePrefix(), workerID,
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, core.StorageFailure("dequeue", err)
	}
	if len(res) != 4 {
		return nil, core.StorageFailure("dequeue", fmt.Errorf("unexpected claim reply of %d elements", len(res)))
	}

	id, _ := res[0].(string)
	payload, _ := res[1].(string)
	deliveries, _ := res[2].(int64)
	rawScore, _ := res[3].(string)
	readyMs, _ := strconv.ParseFloat(rawScore, 64)

	return &core.Message{
		ID:         id,
		Payload:    []byte(payload),
		ReadyAt:    time.UnixMilli(int64(readyMs)),
		Deliveries: int(deliveries),
	}, nil
}

// AckMessage removes a delivered message.
func (s *Store) AckMessage(ctx context.Context, id, workerID string) error {
	n, err := ackScript.Run(ctx, s.client, []string{s.queueKey(), s.messageKey(id)}, workerID, id).Int()
	if err != nil {
		return core.StorageFailure("ack", err)
	}
	if n == 0 {
		return core.ErrMessageNotOwned
	}
	return nil
}

// RetryMessage releases the lease and makes the message visible at readyAt.
func (s *Store) RetryMessage(ctx context.Context, id, workerID string, readyAt time.Time) error {
	n, err := retryScript.Run(ctx, s.client, []string{s.queueKey(), s.messageKey(id)},
		workerID, id, readyAt.UnixMilli(),
	).Int()
	if err != nil {
		return core.StorageFailure("retry", err)
	}
	if n == 0 {
		return core.ErrMessageNotOwned
	}
	return nil
}

// ExtendLease keeps a held message invisible until now+lease.
func (s *Store) ExtendLease(ctx context.Context, id, workerID string, lease time.Duration) error {
	n, err := extendScript.Run(ctx, s.client, []string{s.queueKey(), s.messageKey(id)},
		workerID, id, s.now().Add(lease).UnixMilli(),
	).Int()
	if err != nil {
		return core.StorageFailure("extend lease", err)
	}
	if n == 0 {
		return core.ErrMessageNotOwned
	}
	return nil
}

// PendingMessages counts messages not yet acknowledged.
func (s *Store) PendingMessages(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.queueKey()).Result()
	return n, core.StorageFailure("count", err)
}
