package sessioncost

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"costtrace/internal/cost"
)

const (
	// DefaultKeyPrefix namespaces session hashes.
	DefaultKeyPrefix = "costtrace:session:"

	// DefaultTTL expires idle sessions.
	DefaultTTL = 24 * time.Hour
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// URL is a redis:// connection URL.
	URL string

	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string

	// TTL is refreshed on every Add; defaults to DefaultTTL.
	TTL time.Duration
}

// Redis keeps totals in one hash per session so several processes share them.
// Increments are atomic on the server.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	r := NewRedisWithClient(client, cfg)
	slog.Info("redis session totals connected", "prefix", r.prefix, "ttl", r.ttl)
	return r, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, cfg RedisConfig) *Redis {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(sessionID string) string {
	return r.prefix + sessionID
}

// Add implements Totals.
func (r *Redis) Add(ctx context.Context, sessionID string, rec *cost.Record) error {
	key := r.key(sessionID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "calls", 1)
		if rec != nil {
			pipe.HIncrBy(ctx, key, "priced", 1)
			if rec.Input != nil {
				pipe.HIncrByFloat(ctx, key, "input", *rec.Input)
			}
			if rec.Output != nil {
				pipe.HIncrByFloat(ctx, key, "output", *rec.Output)
			}
			pipe.HIncrByFloat(ctx, key, "total", rec.TotalOrZero())
		}
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update session totals: %w", err)
	}
	return nil
}

// Get implements Totals.
func (r *Redis) Get(ctx context.Context, sessionID string) (Summary, error) {
	fields, err := r.client.HGetAll(ctx, r.key(sessionID)).Result()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read session totals: %w", err)
	}
	return parseHash(sessionID, fields)
}

func parseHash(sessionID string, fields map[string]string) (Summary, error) {
	s := Summary{SessionID: sessionID}
	ints := map[string]*int64{"calls": &s.Calls, "priced": &s.Priced}
	floats := map[string]*float64{"input": &s.Input, "output": &s.Output, "total": &s.Total}

	for name, dst := range ints {
		if v, ok := fields[name]; ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Summary{}, fmt.Errorf("invalid %s in session totals: %w", name, err)
			}
			*dst = n
		}
	}
	for name, dst := range floats {
		if v, ok := fields[name]; ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return Summary{}, fmt.Errorf("invalid %s in session totals: %w", name, err)
			}
			*dst = f
		}
	}
	return s, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
