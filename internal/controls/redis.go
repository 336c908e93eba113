package controls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quantjunkie/niftywing/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis key layout. The pause key holds the JSON pause record; the emergency
// key is presence-only, mirroring the file marker.
const (
	redisPauseKey     = "niftywing:pause"
	redisEmergencyKey = "niftywing:emergency"
)

// RedisStore implements the control gate over Redis keys, for deployments
// where the operator CLI and the bot do not share a filesystem.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis and verifies connectivity before returning.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

var _ Store = (*RedisStore)(nil)

// Poll reads the current control state from Redis.
func (r *RedisStore) Poll(ctx context.Context) (models.ControlState, error) {
	var state models.ControlState

	data, err := r.rdb.Get(ctx, redisPauseKey).Bytes()
	switch {
	case err == nil:
		state.Paused = true
		var rec pauseRecord
		if jsonErr := json.Unmarshal(data, &rec); jsonErr == nil {
			state.Reason = rec.Reason
			state.PausedAt = rec.Timestamp
		}
	case errors.Is(err, redis.Nil):
		// not paused
	default:
		return models.ControlState{}, fmt.Errorf("reading pause signal: %w", err)
	}

	if err := r.rdb.Get(ctx, redisEmergencyKey).Err(); err == nil {
		state.Emergency = true
	} else if !errors.Is(err, redis.Nil) {
		return models.ControlState{}, fmt.Errorf("reading emergency signal: %w", err)
	}

	return state, nil
}

// Pause writes the pause record.
func (r *RedisStore) Pause(ctx context.Context, reason string) error {
	rec := pauseRecord{Timestamp: time.Now(), Reason: reason, PausedBy: "manual"}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, redisPauseKey, data, 0).Err(); err != nil {
		return fmt.Errorf("writing pause signal: %w", err)
	}
	return nil
}

// Resume clears the pause key. Idempotent.
func (r *RedisStore) Resume(ctx context.Context) error {
	if err := r.rdb.Del(ctx, redisPauseKey).Err(); err != nil {
		return fmt.Errorf("clearing pause signal: %w", err)
	}
	return nil
}

// EmergencyStop sets the emergency key.
func (r *RedisStore) EmergencyStop(ctx context.Context) error {
	if err := r.rdb.Set(ctx, redisEmergencyKey, time.Now().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("writing emergency signal: %w", err)
	}
	return nil
}

// ClearEmergency clears the emergency key. Idempotent.
func (r *RedisStore) ClearEmergency(ctx context.Context) error {
	if err := r.rdb.Del(ctx, redisEmergencyKey).Err(); err != nil {
		return fmt.Errorf("clearing emergency signal: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
