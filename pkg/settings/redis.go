package settings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cyclopcam/logs"
	"github.com/redis/go-redis/v9"
)

// RedisConfig locates the shared settings hash
type RedisConfig struct {
	Addr     string `json:"addr"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix,omitempty"`
}

// RedisStore keeps settings in a hash and announces writes on a pub/sub
// channel, so several annotators share one set of settings.
type RedisStore struct {
	client  *redis.Client
	hash    string
	channel string
	log     logs.Log
}

// NewRedisStore connects and pings the server
func NewRedisStore(ctx context.Context, cfg RedisConfig, log logs.Log) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "annotator:settings"
	}
	return &RedisStore{
		client:  client,
		hash:    prefix,
		channel: prefix + ":changes",
		log:     log,
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := map[string]string{}
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := s.client.HMGet(ctx, s.hash, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

func (s *RedisStore) Set(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	cs := ChangeSet{}
	fields := make([]any, 0, len(values)*2)
	for k, v := range values {
		fields = append(fields, k, v)
		cs[k] = Change{NewValue: v}
	}
	return s.write(ctx, cs, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, s.hash, fields...)
	})
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cs := ChangeSet{}
	for _, k := range keys {
		cs[k] = Change{Deleted: true}
	}
	return s.write(ctx, cs, func(pipe redis.Pipeliner) {
		pipe.HDel(ctx, s.hash, keys...)
	})
}

func (s *RedisStore) write(ctx context.Context, cs ChangeSet, op func(redis.Pipeliner)) error {
	payload, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		op(pipe)
		pipe.Publish(ctx, s.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context) (<-chan ChangeSet, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	// wait for the subscription to be confirmed so no later write is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to settings changes: %w", err)
	}

	out := make(chan ChangeSet)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var cs ChangeSet
				if err := json.Unmarshal([]byte(msg.Payload), &cs); err != nil {
					s.log.Warnf("Ignoring malformed settings change: %v", err)
					continue
				}
				select {
				case out <- cs:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
