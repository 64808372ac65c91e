package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/config"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

// RedisClient wraps the Redis client so it can be reconnected in place by a
// recovery procedure while other goroutines hold the wrapper.
type RedisClient struct {
	mutex  sync.RWMutex
	client *redis.Client
	config *config.RedisConfig
}

func redisOptions(cfg *config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		// Connection timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		// Pool timeouts
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		// Retry configuration
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}
}

// NewRedisClient creates a new Redis client and verifies the connection
func NewRedisClient(cfg *config.RedisConfig) (*RedisClient, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	client := redis.NewClient(redisOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewExternalError("redis", "failed to connect to Redis").WithCause(err)
	}

	return &RedisClient{
		client: client,
		config: cfg,
	}, nil
}

// Client returns the current underlying client
func (r *RedisClient) Client() *redis.Client {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.client
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *RedisClient) Health(ctx context.Context) error {
	client := r.Client()
	if client == nil {
		return errors.NewInternalError("Redis client is nil")
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return errors.NewExternalError("redis", "Redis health check failed").WithCause(err)
	}
	return nil
}

// HealthMetadata exposes pool statistics on the health endpoint
func (r *RedisClient) HealthMetadata() map[string]string {
	client := r.Client()
	if client == nil {
		return nil
	}
	stats := client.PoolStats()
	return map[string]string{
		"total_conns": strconv.FormatUint(uint64(stats.TotalConns), 10),
		"idle_conns":  strconv.FormatUint(uint64(stats.IdleConns), 10),
		"timeouts":    strconv.FormatUint(uint64(stats.Timeouts), 10),
	}
}

// Reconnect replaces the client with a fresh one and closes the old pool
func (r *RedisClient) Reconnect(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.config == nil {
		return errors.NewInternalError("Redis client has no configuration")
	}

	fresh := redis.NewClient(redisOptions(r.config))
	if err := fresh.Ping(ctx).Err(); err != nil {
		fresh.Close()
		return errors.NewExternalError("redis", "failed to reconnect to Redis").WithCause(err)
	}

	old := r.client
	r.client = fresh
	if old != nil {
		old.Close()
	}
	return nil
}

// RedisStatusStore reads live developer status from a Redis hash. Each field
// is a developer id and each value a JSON encoded status.
type RedisStatusStore struct {
	redis *RedisClient
	key   string
}

// NewRedisStatusStore creates a status store over the hash at key
func NewRedisStatusStore(client *RedisClient, key string) *RedisStatusStore {
	return &RedisStatusStore{redis: client, key: key}
}

// Statuses loads every status with one HGETALL. Entries that fail to decode
// are skipped, which leaves that developer out of the candidate set.
func (s *RedisStatusStore) Statuses(ctx context.Context) (map[string]assignment.Status, error) {
	raw, err := s.redis.Client().HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, errors.NewExternalError("redis", "failed to load developer statuses").WithCause(err)
	}

	statuses := make(map[string]assignment.Status, len(raw))
	for id, value := range raw {
		var status assignment.Status
		if err := json.Unmarshal([]byte(value), &status); err != nil {
			continue
		}
		status.DeveloperID = id
		status.Availability = assignment.ParseAvailability(string(status.Availability))
		statuses[id] = status
	}
	return statuses, nil
}

// SetStatus writes one developer's status
func (s *RedisStatusStore) SetStatus(ctx context.Context, status assignment.Status) error {
	if err := ValidateStatus(status); err != nil {
		return err
	}
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(status)
	if err != nil {
		return errors.NewInternalError("failed to encode developer status").WithCause(err)
	}
	if err := s.redis.Client().HSet(ctx, s.key, status.DeveloperID, data).Err(); err != nil {
		return errors.NewExternalError("redis", "failed to store developer status").WithCause(err)
	}
	return nil
}

// ClearStatus removes one developer's status
func (s *RedisStatusStore) ClearStatus(ctx context.Context, developerID string) error {
	if err := s.redis.Client().HDel(ctx, s.key, developerID).Err(); err != nil {
		return errors.NewExternalError("redis", "failed to clear developer status").WithCause(err)
	}
	return nil
}

// Health checks the underlying connection
func (s *RedisStatusStore) Health(ctx context.Context) error {
	return s.redis.Health(ctx)
}
