package intake

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	"github.com/NikhilSetiya/smart-bug-triage/internal/store"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

// DefaultBlockTimeout bounds each BLPOP so workers notice shutdown promptly
const DefaultBlockTimeout = 2 * time.Second

// RedisQueue reads payloads from a Redis list. The classifier RPUSHes and
// workers BLPOP, so bugs are handled in arrival order. Failed payloads are
// RPUSHed to a separate dead letter list.
type RedisQueue struct {
	redis        *store.RedisClient
	key          string
	deadKey      string
	blockTimeout time.Duration
}

// NewRedisQueue creates a queue over the list at key
func NewRedisQueue(client *store.RedisClient, key, deadKey string) *RedisQueue {
	return &RedisQueue{
		redis:        client,
		key:          key,
		deadKey:      deadKey,
		blockTimeout: DefaultBlockTimeout,
	}
}

// Enqueue appends a payload to the tail of the list
func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte) error {
	if err := q.redis.Client().RPush(ctx, q.key, payload).Err(); err != nil {
		return errors.NewExternalError("redis", "failed to enqueue bug").WithCause(err)
	}
	return nil
}

// Dequeue blocks up to the block timeout for the next decodable bug
func (q *RedisQueue) Dequeue(ctx context.Context) (assignment.Bug, error) {
	for {
		result, err := q.redis.Client().BLPop(ctx, q.blockTimeout, q.key).Result()
		if err != nil {
			if stderrors.Is(err, redis.Nil) {
				return assignment.Bug{}, ErrEmpty
			}
			if ctx.Err() != nil {
				return assignment.Bug{}, ctx.Err()
			}
			return assignment.Bug{}, errors.NewExternalError("redis", "failed to dequeue bug").WithCause(err)
		}

		// BLPOP returns [key, value]
		data := []byte(result[1])
		bug, err := Decode(data)
		if err != nil {
			if dlErr := q.DeadLetter(ctx, data, err.Error()); dlErr != nil {
				return assignment.Bug{}, dlErr
			}
			continue
		}
		return bug, nil
	}
}

// DeadLetter parks a payload with the reason it failed
func (q *RedisQueue) DeadLetter(ctx context.Context, payload []byte, reason string) error {
	entry, err := json.Marshal(DeadLetter{
		Payload:  string(payload),
		Reason:   reason,
		FailedAt: time.Now(),
	})
	if err != nil {
		return errors.NewInternalError("failed to encode dead letter").WithCause(err)
	}
	if err := q.redis.Client().RPush(ctx, q.deadKey, entry).Err(); err != nil {
		return errors.NewExternalError("redis", "failed to store dead letter").WithCause(err)
	}
	return nil
}

// DeadLetters returns up to limit parked payloads, oldest first
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	raw, err := q.redis.Client().LRange(ctx, q.deadKey, 0, limit-1).Result()
	if err != nil {
		return nil, errors.NewExternalError("redis", "failed to read dead letters").WithCause(err)
	}

	letters := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			dl = DeadLetter{Payload: r, Reason: "unreadable dead letter"}
		}
		letters = append(letters, dl)
	}
	return letters, nil
}

// PurgeDeadLetters deletes the dead letter list and returns its length
func (q *RedisQueue) PurgeDeadLetters(ctx context.Context) (int64, error) {
	client := q.redis.Client()
	n, err := client.LLen(ctx, q.deadKey).Result()
	if err != nil {
		return 0, errors.NewExternalError("redis", "failed to measure dead letters").WithCause(err)
	}
	if err := client.Del(ctx, q.deadKey).Err(); err != nil {
		return 0, errors.NewExternalError("redis", "failed to purge dead letters").WithCause(err)
	}
	return n, nil
}

// Depth returns the number of pending payloads
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.redis.Client().LLen(ctx, q.key).Result()
	if err != nil {
		return 0, errors.NewExternalError("redis", "failed to get queue depth").WithCause(err)
	}
	return n, nil
}

// DeadLetterDepth returns the number of parked payloads
func (q *RedisQueue) DeadLetterDepth(ctx context.Context) (int64, error) {
	n, err := q.redis.Client().LLen(ctx, q.deadKey).Result()
	if err != nil {
		return 0, errors.NewExternalError("redis", "failed to get dead letter depth").WithCause(err)
	}
	return n, nil
}

// Health checks the underlying connection
func (q *RedisQueue) Health(ctx context.Context) error {
	return q.redis.Health(ctx)
}

// Reconnect resets the underlying connection
func (q *RedisQueue) Reconnect(ctx context.Context) error {
	return q.redis.Reconnect(ctx)
}
