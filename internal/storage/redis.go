package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store keeping each document in a hash with value, version and
// updated_at fields.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedis returns a Redis store. Documents expire ttl after their last write;
// a zero ttl keeps them forever.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, now: time.Now}
}

func redisKey(sessionID, key string) string {
	return "epackage:session:" + sessionID + ":" + key
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, sessionID, key string) (Entry, error) {
	fields, err := r.client.HGetAll(ctx, redisKey(sessionID, key)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("read redis session storage: %w", err)
	}
	if len(fields) == 0 {
		return Entry{}, ErrNotFound
	}

	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse stored version: %w", err)
	}
	updatedAt, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse stored timestamp: %w", err)
	}

	return Entry{
		Value:     []byte(fields["value"]),
		Version:   version,
		UpdatedAt: time.UnixMilli(updatedAt),
	}, nil
}

// Put implements Store using WATCH/MULTI so concurrent writers conflict.
func (r *Redis) Put(ctx context.Context, sessionID, key string, value []byte, expectedVersion int64) (int64, error) {
	k := redisKey(sessionID, key)
	var next int64

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, k, "version").Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read stored version: %w", err)
		}
		if expectedVersion != AnyVersion && expectedVersion != current {
			return ErrVersionConflict
		}

		next = current + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, "value", value, "version", next, "updated_at", r.now().UnixMilli())
			if r.ttl > 0 {
				pipe.Expire(ctx, k, r.ttl)
			}
			return nil
		})
		return err
	}, k)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return 0, ErrVersionConflict
	case errors.Is(err, ErrVersionConflict):
		return 0, err
	case err != nil:
		return 0, fmt.Errorf("write redis session storage: %w", err)
	}
	return next, nil
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, sessionID, key string) error {
	if err := r.client.Del(ctx, redisKey(sessionID, key)).Err(); err != nil {
		return fmt.Errorf("delete redis session storage: %w", err)
	}
	return nil
}
