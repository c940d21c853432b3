package kv

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Redis implements Store on a redis keyspace.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the redis instance at url and pings it.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "kv: parse redis url")
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "kv: connect to redis")
	}
	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "kv: redis get %s", key)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return eris.Wrapf(r.client.Set(ctx, key, value, 0).Err(), "kv: redis set %s", key)
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return eris.Wrapf(r.client.Del(ctx, key).Err(), "kv: redis delete %s", key)
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "kv: redis scan")
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
