package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"campus/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	moderatorKeyPrefix = "moderator:%s:%d"
	wsTicketKeyPrefix  = "ws_ticket:%s"
)

// ModeratorKey is the cache key for the moderator of a comment thread.
func ModeratorKey(entityType models.EntityType, entityID uint) string {
	return fmt.Sprintf(moderatorKeyPrefix, entityType, entityID)
}

// WSTicketKey is the key under which a single-use websocket ticket is stored.
func WSTicketKey(ticket string) string {
	return fmt.Sprintf(wsTicketKeyPrefix, ticket)
}

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func GetJSON(ctx context.Context, rdb *redis.Client, key string, dest any) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	s, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func SetJSON(ctx context.Context, rdb *redis.Client, key string, v any, ttl time.Duration) error {
	if rdb == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, b, ttl).Err()
}

// Aside tries Redis first; on a miss it calls fetch, which must populate dest, then stores
// the result with ttl. Redis failures fall through to fetch so the cache never blocks a read.
// An entry that no longer decodes into dest is dropped before fetching.
func Aside(ctx context.Context, rdb *redis.Client, key string, dest any, ttl time.Duration, fetch func() error) error {
	found, err := GetJSON(ctx, rdb, key, dest)
	if err == nil && found {
		return nil
	}
	if isDecodeError(err) {
		Invalidate(ctx, rdb, key)
	}

	if err := fetch(); err != nil {
		return err
	}

	_ = SetJSON(ctx, rdb, key, dest, ttl)
	return nil
}

// Invalidate removes key from the cache.
func Invalidate(ctx context.Context, rdb *redis.Client, key string) {
	if rdb != nil {
		rdb.Del(ctx, key)
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
