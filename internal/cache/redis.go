// Package cache provides Redis caching utilities for the application.
package cache

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"campus/internal/observability"

	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// keyspace returns the namespace of the command's first key ("ws_ticket", "moderator",
// "rl", "realtime"), or "none" for keyless commands.
func keyspace(cmd redis.Cmder) string {
	args := cmd.Args()
	if len(args) < 2 {
		return "none"
	}
	key, ok := args[1].(string)
	if !ok || key == "" {
		return "none"
	}
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

// errorHook counts failed commands; redis.Nil is a cache miss, not an error.
type errorHook struct{}

func (errorHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (errorHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.RedisErrorRate.WithLabelValues(cmd.Name(), keyspace(cmd)).Inc()
		}
		return err
	}
}

func (errorHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.RedisErrorRate.WithLabelValues("pipeline", "mixed").Inc()
		}
		return err
	}
}

// NewClient builds a client from a URL ("redis://...") or a bare host:port address.
// Commands here are small (tickets, counters, cache entries, publishes), so timeouts
// are kept short.
func NewClient(addr string) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		opts = parsed
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 2 * time.Second
	}

	c := redis.NewClient(opts)
	c.AddHook(errorHook{})
	return c, nil
}

// InitRedis initializes the shared client. The comment service runs without Redis
// (local fan-out only, no tickets or moderator cache); GetClient returns nil then.
func InitRedis(addr string) {
	client = nil

	c, err := NewClient(addr)
	if err != nil {
		log.Printf("Redis disabled: invalid REDIS_URL %q: %v", addr, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		log.Printf("Redis disabled: %v (realtime fan-out stays on this instance)", err)
		_ = c.Close()
		return
	}

	log.Println("Redis connected")
	client = c
}

// GetClient returns the shared client, or nil when Redis is unavailable.
func GetClient() *redis.Client {
	return client
}
