package memory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentpipe/core"
)

// RedisOptions configures the Redis connection of a RedisStore.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379/0").
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	// KeyPrefix namespaces the session keys. Default "agentpipe:conversation:".
	KeyPrefix string

	// TTL expires idle sessions. Zero keeps records forever.
	TTL time.Duration

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration
}

// RedisStore persists conversations as JSON strings in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	opts   Options
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(ropts RedisOptions, optFns ...func(o *Options)) (*RedisStore, error) {
	if ropts.URL == "" {
		ropts.URL = "redis://localhost:6379"
	}
	if ropts.ConnectTimeout == 0 {
		ropts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(ropts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if ropts.TLS != nil {
		redisOpts.TLSConfig = ropts.TLS
	}
	redisOpts.DialTimeout = ropts.ConnectTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), ropts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreFromClient(client, ropts.KeyPrefix, ropts.TTL, optFns...), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration, optFns ...func(o *Options)) *RedisStore {
	if prefix == "" {
		prefix = "agentpipe:conversation:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, opts: newOptions(optFns)}
}

func (s *RedisStore) key(sessionID string) string { return s.prefix + sessionID }

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*core.Conversation, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return emptyConversation(sessionID), nil
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return decode(sessionID, data)
}

// Save implements Store. The TTL is refreshed on every save.
func (s *RedisStore) Save(ctx context.Context, sessionID string, conv *core.Conversation) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	data, n, err := encode(conv, s.opts.HistoryCap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}
	s.opts.Logger.Debug("memory.save", "store", "redis", "session_id", sessionID, "messages", n)
	return nil
}

// Delete removes the record of a session.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
